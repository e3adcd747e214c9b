package types

import "time"

// Operation is a batch operation applied to an instance.
type Operation string

const (
	OpDeploy   Operation = "deploy"
	OpRedeploy Operation = "redeploy"
	OpStart    Operation = "start"
	OpStop     Operation = "stop"
	OpRestart  Operation = "restart"
	OpUndeploy Operation = "undeploy"
	OpEnable   Operation = "enable"
	OpDisable  Operation = "disable"
)

// Operations lists every operation.
var Operations = []Operation{OpDeploy, OpRedeploy, OpStart, OpStop, OpRestart, OpUndeploy, OpEnable, OpDisable}

// ParseOperation validates an operation name.
func ParseOperation(s string) (Operation, bool) {
	for _, op := range Operations {
		if string(op) == s {
			return op, true
		}
	}
	return "", false
}

// Outcome is the result of one operation on one instance.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// TimelineEntry is one append-only record of the deployment timeline.
type TimelineEntry struct {
	ID        int64       `json:"id"`
	BatchID   string      `json:"batch_id"`
	Instance  InstanceRef `json:"instance"`
	Operation Operation   `json:"operation"`
	Outcome   Outcome     `json:"outcome"`
	Detail    string      `json:"detail,omitempty"`
	Image     string      `json:"image,omitempty"`
	Tag       string      `json:"tag,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
