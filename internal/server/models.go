package server

import (
	"hostfleet/internal/types"
)

// InstancesResponse lists discovered instances with their live state.
type InstancesResponse struct {
	Instances []types.Instance `json:"instances"`
	Total     int              `json:"total"`
}

// TimelineResponse lists timeline entries, newest first.
type TimelineResponse struct {
	Entries []types.TimelineEntry `json:"entries"`
	Total   int                   `json:"total"`
}

// LastKnownResponse lists the instances whose latest operation left them deployed.
type LastKnownResponse struct {
	Instances []types.InstanceRef `json:"instances"`
	Total     int                 `json:"total"`
}

// HealthResponse reports API liveness.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Uptime   string `json:"uptime"`
}
