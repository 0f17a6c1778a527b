package delivery

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/luminabi/lumina/errors"
	"github.com/luminabi/lumina/schedule"
)

// Artifact is the rendered output a job delivers: an image or CSV
// produced from a chart or dashboard.
type Artifact struct {
	Title       string
	Description string
	Filename    string
	ContentType string
	Data        []byte
	// URL links back to the source chart or dashboard.
	URL string
}

// Sender delivers an artifact to targets of one kind.
type Sender interface {
	Kind() schedule.TargetKind
	Send(ctx context.Context, target schedule.Target, artifact *Artifact) error
}

// Orchestrator fans one artifact out to all of a schedule's targets
// concurrently and aggregates the outcomes under the schedule's success
// policy. Every target is always attempted and every outcome is always
// recorded, regardless of other targets' failures.
type Orchestrator struct {
	senders map[schedule.TargetKind]Sender
	results *Store
	logger  *zap.SugaredLogger
}

// NewOrchestrator creates an orchestrator over the given senders.
func NewOrchestrator(results *Store, log *zap.SugaredLogger, senders ...Sender) *Orchestrator {
	m := make(map[schedule.TargetKind]Sender, len(senders))
	for _, s := range senders {
		m[s.Kind()] = s
	}
	return &Orchestrator{senders: m, results: results, logger: log}
}

// Deliver sends the artifact to every target and returns the per-target
// results. The returned error is nil when the success policy is met:
// under "all" every target must succeed, under "any" at least one must.
func (o *Orchestrator) Deliver(ctx context.Context, jobID string, policy schedule.SuccessPolicy, targets []schedule.Target, artifact *Artifact) ([]*Result, error) {
	if len(targets) == 0 {
		return nil, nil
	}

	results := make([]*Result, len(targets))
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.deliverOne(ctx, jobID, targets[i], artifact)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, r := range results {
		if err := o.results.Record(r); err != nil {
			o.logger.Errorw("Failed to record delivery result",
				"job_id", jobID,
				"target_id", r.TargetID,
				"error", err,
			)
		}
		if r.Success {
			succeeded++
		}
	}

	switch policy {
	case schedule.PolicyAny:
		if succeeded == 0 {
			return results, errors.Wrapf(errors.ErrDelivery, "all %d targets failed", len(targets))
		}
	default: // PolicyAll
		if succeeded < len(targets) {
			return results, errors.Wrapf(errors.ErrDelivery, "%d of %d targets failed", len(targets)-succeeded, len(targets))
		}
	}
	return results, nil
}

// deliverOne sends to a single target. Sender panics are contained here
// so one misbehaving integration cannot void the other targets' results.
func (o *Orchestrator) deliverOne(ctx context.Context, jobID string, target schedule.Target, artifact *Artifact) (result *Result) {
	result = &Result{
		JobID:      jobID,
		TargetID:   target.ID,
		TargetKind: target.Kind,
	}
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("sender panicked: %v", r)
		}
		if result.Success {
			o.logger.Infow("Delivered to target",
				"job_id", jobID, "target_id", target.ID, "target_kind", target.Kind)
		} else {
			o.logger.Warnw("Delivery to target failed",
				"job_id", jobID, "target_id", target.ID, "target_kind", target.Kind,
				"error", result.Error)
		}
	}()

	sender, ok := o.senders[target.Kind]
	if !ok {
		result.Error = fmt.Sprintf("no sender configured for target kind %q", target.Kind)
		return result
	}

	if err := sender.Send(ctx, target, artifact); err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	return result
}
