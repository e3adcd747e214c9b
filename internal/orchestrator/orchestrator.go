// Package orchestrator applies one operation to an ordered set of instances,
// one at a time, isolating per-instance failures and recording every
// outcome in the deployment timeline.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"hostfleet/internal/config"
	"hostfleet/internal/discovery"
	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/lock"
	"hostfleet/internal/logger"
	"hostfleet/internal/materialize"
	"hostfleet/internal/metrics"
	"hostfleet/internal/podman"
	"hostfleet/internal/systemd"
	"hostfleet/internal/types"
)

// Recorder appends timeline entries.
type Recorder interface {
	Append(ctx context.Context, entry types.TimelineEntry) (types.TimelineEntry, error)
}

// ImageResolver maps alias tags such as "current" to a concrete image.
type ImageResolver interface {
	ResolveTag(ctx context.Context, image, tag string) (string, string, error)
}

// Prober checks a service instance after it starts.
type Prober func(ctx context.Context, addr, password string) error

// Options control one batch.
type Options struct {
	// Delay is slept between targets, never after the last one.
	Delay time.Duration
	// Force makes redeploy stop and start instead of restarting.
	Force bool
	// Exclusive makes deploy fail with DUPLICATE_INSTANCE for targets that
	// are already defined.
	Exclusive bool
	// DryRun reports the planned steps without acting.
	DryRun bool
	// Image and Tag override the configured image for container deploys.
	Image string
	Tag   string
	// Materialize configures service-package deploys.
	Materialize materialize.InitOptions
	// HealthCheck pings Redis-protocol packages after start.
	HealthCheck bool
	// SkipAssets disables static asset sync for web deploys.
	SkipAssets bool
}

// Orchestrator runs batches against one host.
type Orchestrator struct {
	cfg          *config.Config
	systemd      *systemd.Client
	discovery    *discovery.Discoverer
	podman       *podman.Client
	materializer *materialize.Materializer
	registry     *materialize.Registry
	recorder     Recorder
	images       ImageResolver
	metrics      *metrics.Metrics
	probe        Prober
	sleep        func(context.Context, time.Duration) error
	lockPath     string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithImageResolver resolves alias tags through r.
func WithImageResolver(r ImageResolver) Option {
	return func(o *Orchestrator) { o.images = r }
}

// WithProber replaces the service health probe.
func WithProber(p Prober) Option {
	return func(o *Orchestrator) { o.probe = p }
}

// WithSleep replaces the inter-target delay.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithLockPath sets the host lock file. An empty path disables locking.
func WithLockPath(path string) Option {
	return func(o *Orchestrator) { o.lockPath = path }
}

// New creates an Orchestrator from resolved configuration.
func New(cfg *config.Config, sd *systemd.Client, pm *podman.Client, registry *materialize.Registry,
	recorder Recorder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:          cfg,
		systemd:      sd,
		discovery:    discovery.New(sd, append(cfg.UnitTemplates(), registry.Templates()...)),
		podman:       pm,
		materializer: materialize.New(),
		registry:     registry,
		recorder:     recorder,
		probe:        redisProbe,
		sleep:        sleepContext,
		lockPath:     cfg.LockPath(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// batch is the state shared by the targets of one Apply call.
type batch struct {
	id       string
	op       types.Operation
	opts     Options
	image    string
	tag      string
	prepared map[types.Family]error
}

func (b *batch) imageRef() string {
	return b.image + ":" + b.tag
}

// Apply runs op on every target in order. Precondition failures are
// returned as an error before any target is touched. Otherwise the report
// holds exactly one outcome per target.
func (o *Orchestrator) Apply(ctx context.Context, op types.Operation, targets []types.InstanceRef, opts Options) (*Report, error) {
	if _, ok := types.ParseOperation(string(op)); !ok {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown operation %q", op))
	}
	if err := o.checkTargets(targets); err != nil {
		return nil, err
	}
	if err := o.checkPrerequisites(op, targets); err != nil {
		return nil, err
	}

	b := &batch{
		id:       logger.NewBatchID(),
		op:       op,
		opts:     opts,
		prepared: make(map[types.Family]error),
	}
	ctx = logger.ContextWithBatch(ctx, b.id)
	log := logger.WithContext(ctx).WithField("operation", op)

	if needsImage(op, targets) {
		if err := o.resolveImage(ctx, b); err != nil {
			return nil, err
		}
	}

	report := &Report{BatchID: b.id, Operation: op, Outcomes: make([]Outcome, 0, len(targets))}
	if b.image != "" {
		report.Image = b.imageRef()
	}

	if opts.DryRun {
		for _, t := range targets {
			report.Outcomes = append(report.Outcomes, Outcome{
				Instance: t,
				Status:   StatusPlanned,
				Steps:    o.handlerFor(t.Family).plan(op, t, b),
			})
		}
		return report, nil
	}

	if o.lockPath != "" {
		wait, cancel := context.WithTimeout(ctx, o.cfg.LockWait())
		held, err := lock.Lock(wait, o.lockPath, 0)
		cancel()
		if err != nil {
			return nil, err
		}
		defer held.Unlock()
	}

	log.WithField("targets", len(targets)).Info("Batch started")

	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			report.Aborted = apperrors.Wrap(apperrors.ErrCancelled, "Batch interrupted", err)
			skipRemaining(report, targets[i:])
			break
		}

		outcome := o.applyOne(ctx, b, target)
		outcome.TimelineID = o.record(ctx, b, report, outcome)
		report.Outcomes = append(report.Outcomes, outcome)
		o.metrics.ObserveOperation(target.Family, op, timelineOutcome(outcome.Status), outcome.Duration)

		if outcome.Err != nil && apperrors.IsFatal(outcome.Err) {
			report.Aborted = outcome.Err
			skipRemaining(report, targets[i+1:])
			break
		}

		if i < len(targets)-1 && opts.Delay > 0 {
			if err := o.sleep(ctx, opts.Delay); err != nil {
				report.Aborted = apperrors.Wrap(apperrors.ErrCancelled, "Batch interrupted", err)
				skipRemaining(report, targets[i+1:])
				break
			}
		}
	}

	o.metrics.ObserveBatch(op, report.ExitCode())
	log.WithFields(logger.Fields{
		"succeeded": report.Succeeded(),
		"failed":    report.Failed(),
		"skipped":   report.Skipped(),
	}).Info("Batch finished")

	return report, nil
}

func (o *Orchestrator) applyOne(ctx context.Context, b *batch, target types.InstanceRef) Outcome {
	start := time.Now()
	log := logger.WithContext(ctx).WithFields(logger.Fields{
		"operation": b.op,
		"instance":  target.String(),
	})

	steps, err := o.handlerFor(target.Family).apply(ctx, b, target)
	outcome := Outcome{
		Instance: target,
		Steps:    steps,
		Duration: time.Since(start),
	}
	if err != nil {
		outcome.Status = StatusFailure
		outcome.Err = err
		outcome.Detail = err.Error()
		log.WithError(err).Warn("Instance operation failed")
		return outcome
	}

	outcome.Status = StatusSuccess
	outcome.Detail = joinSteps(steps)
	log.WithField("steps", outcome.Detail).Info("Instance operation succeeded")
	return outcome
}

// record appends the outcome to the timeline. A failed write is kept in the
// report but does not change the outcome.
func (o *Orchestrator) record(ctx context.Context, b *batch, report *Report, outcome Outcome) int64 {
	if o.recorder == nil {
		return 0
	}
	entry := types.TimelineEntry{
		BatchID:   b.id,
		Instance:  outcome.Instance,
		Operation: b.op,
		Outcome:   timelineOutcome(outcome.Status),
		Detail:    outcome.Detail,
	}
	if outcome.Instance.Family.IsContainer() && b.image != "" {
		entry.Image, entry.Tag = b.image, b.tag
	}

	saved, err := o.recorder.Append(context.WithoutCancel(ctx), entry)
	if err != nil {
		logger.WithContext(ctx).WithError(err).WithField("instance", outcome.Instance.String()).
			Error("Failed to record timeline entry")
		report.RecordErrors = append(report.RecordErrors, err)
		return 0
	}
	return saved.ID
}

func (o *Orchestrator) checkTargets(targets []types.InstanceRef) error {
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if err := t.Validate(); err != nil {
			return apperrors.InvalidInput(err.Error())
		}
		if t.Family == types.FamilyService {
			if _, err := o.registry.Get(t.Package); err != nil {
				return apperrors.InvalidInput(err.Error())
			}
		}
		if seen[t.Key()] {
			return apperrors.InvalidInput("target listed twice: " + t.String())
		}
		seen[t.Key()] = true
	}
	return nil
}

// checkPrerequisites verifies the host layout once per batch.
func (o *Orchestrator) checkPrerequisites(op types.Operation, targets []types.InstanceRef) error {
	if op != types.OpDeploy && op != types.OpRedeploy {
		return nil
	}
	if !hasContainerTarget(targets) {
		return nil
	}
	if info, err := os.Stat(o.cfg.QuadletDir); err != nil || !info.IsDir() {
		return apperrors.MissingPrerequisite(o.cfg.QuadletDir)
	}
	for _, path := range o.cfg.RequiredPaths() {
		if _, err := os.Stat(path); err != nil {
			return apperrors.MissingPrerequisite(path)
		}
	}
	return nil
}

func (o *Orchestrator) resolveImage(ctx context.Context, b *batch) error {
	image, tag := b.opts.Image, b.opts.Tag
	if image == "" {
		image = o.cfg.Image.Name
	}
	if tag == "" {
		tag = o.cfg.Image.Tag
	}

	if o.images != nil {
		resolvedImage, resolvedTag, err := o.images.ResolveTag(ctx, image, tag)
		switch {
		case err == nil:
			image, tag = resolvedImage, resolvedTag
		case apperrors.HasCode(err, apperrors.ErrNotFound):
			logger.WithContext(ctx).WithField("tag", tag).Warn("Image alias is not set, using the tag literally")
		default:
			return err
		}
	}

	b.image, b.tag = image, tag
	return nil
}

func needsImage(op types.Operation, targets []types.InstanceRef) bool {
	return (op == types.OpDeploy || op == types.OpRedeploy) && hasContainerTarget(targets)
}

func hasContainerTarget(targets []types.InstanceRef) bool {
	for _, t := range targets {
		if t.Family.IsContainer() {
			return true
		}
	}
	return false
}

func skipRemaining(report *Report, rest []types.InstanceRef) {
	for _, t := range rest {
		report.Outcomes = append(report.Outcomes, Outcome{Instance: t, Status: StatusSkipped, Detail: "not attempted"})
	}
}

func timelineOutcome(s Status) types.Outcome {
	if s == StatusSuccess {
		return types.OutcomeSuccess
	}
	return types.OutcomeFailure
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
