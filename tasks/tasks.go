// Package tasks implements the job handlers behind each task type:
// rendering and delivering charts, exporting CSV, spreadsheet uploads,
// and project validation.
package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/luminabi/lumina/delivery"
	"github.com/luminabi/lumina/errors"
	"github.com/luminabi/lumina/queue"
	"github.com/luminabi/lumina/schedule"
)

// DeliveryPayload is the schedule snapshot a scheduled job carries.
// Jobs keep working from this snapshot even if the schedule is edited or
// deleted after enqueue.
type DeliveryPayload struct {
	ScheduleID    string                 `json:"schedule_id"`
	Name          string                 `json:"name"`
	ResourceKind  string                 `json:"resource_kind"`
	ResourceID    string                 `json:"resource_id"`
	Format        schedule.Format        `json:"format"`
	SuccessPolicy schedule.SuccessPolicy `json:"success_policy"`
	Targets       []schedule.Target      `json:"targets"`
	CreatedBy     string                 `json:"created_by"`
	DueAt         time.Time              `json:"due_at"`
}

// UploadPayload is carried by ad-hoc spreadsheet upload jobs.
type UploadPayload struct {
	ResourceKind string `json:"resource_kind"`
	ResourceID   string `json:"resource_id"`
	SheetID      string `json:"sheet_id"`
	TabName      string `json:"tab_name,omitempty"`
}

// ValidatePayload is carried by ad-hoc project validation jobs.
type ValidatePayload struct {
	ProjectID string `json:"project_id"`
}

// BuildPayload snapshots a schedule into a job payload and picks the task
// type from the schedule's format. It satisfies dispatch.PayloadBuilder.
func BuildPayload(s *schedule.Schedule, dueAt time.Time) (queue.TaskType, []byte, error) {
	payload := DeliveryPayload{
		ScheduleID:    s.ID,
		Name:          s.Name,
		ResourceKind:  s.ResourceKind,
		ResourceID:    s.ResourceID,
		Format:        s.Format,
		SuccessPolicy: s.SuccessPolicy,
		Targets:       s.Targets,
		CreatedBy:     s.CreatedBy,
		DueAt:         dueAt.UTC(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", nil, errors.Wrapf(err, "failed to marshal payload for schedule %s", s.ID)
	}

	taskType := queue.TaskRenderAndDeliver
	if s.Format == schedule.FormatCSV {
		taskType = queue.TaskExportCSVAndDeliver
	}
	return taskType, raw, nil
}

// Renderer produces an image artifact from a chart or dashboard.
// Implementations drive a headless browser against the app's view of the
// resource.
type Renderer interface {
	RenderImage(ctx context.Context, resourceKind, resourceID string) (*delivery.Artifact, error)
}

// Exporter runs a resource's underlying query and produces a CSV artifact.
type Exporter interface {
	ExportCSV(ctx context.Context, resourceKind, resourceID string) (*delivery.Artifact, error)
}

// ValidationIssue is one problem found while validating a project.
type ValidationIssue struct {
	ResourceKind string `json:"resource_kind"`
	ResourceID   string `json:"resource_id"`
	Field        string `json:"field,omitempty"`
	Message      string `json:"message"`
}

// Validator checks a project's charts and dashboards for broken
// references against the current warehouse schema.
type Validator interface {
	ValidateProject(ctx context.Context, projectID string) ([]ValidationIssue, error)
}

// Deliverer fans an artifact out to targets. Implemented by
// delivery.Orchestrator.
type Deliverer interface {
	Deliver(ctx context.Context, jobID string, policy schedule.SuccessPolicy, targets []schedule.Target, artifact *delivery.Artifact) ([]*delivery.Result, error)
}

// Uploader sends an artifact to a single spreadsheet target. Implemented
// by clients.SheetsClient.
type Uploader interface {
	Send(ctx context.Context, target schedule.Target, artifact *delivery.Artifact) error
}

// deliverySummary is what delivery-backed handlers store as the job
// result.
type deliverySummary struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

func summarize(results []*delivery.Result) json.RawMessage {
	var s deliverySummary
	for _, r := range results {
		if r.Success {
			s.Delivered++
		} else {
			s.Failed++
		}
	}
	raw, _ := json.Marshal(s)
	return raw
}
