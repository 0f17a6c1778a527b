package tasks

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/luminabi/lumina/errors"
	"github.com/luminabi/lumina/queue"
	"github.com/luminabi/lumina/schedule"
	"github.com/luminabi/lumina/worker"
)

// RenderAndDeliverHandler renders a chart or dashboard to an image and
// fans it out to the schedule's targets.
type RenderAndDeliverHandler struct {
	renderer  Renderer
	deliverer Deliverer
	logger    *zap.SugaredLogger
}

// NewRenderAndDeliverHandler creates the image delivery handler.
func NewRenderAndDeliverHandler(renderer Renderer, deliverer Deliverer, log *zap.SugaredLogger) *RenderAndDeliverHandler {
	return &RenderAndDeliverHandler{renderer: renderer, deliverer: deliverer, logger: log}
}

func (h *RenderAndDeliverHandler) Type() queue.TaskType { return queue.TaskRenderAndDeliver }

func (h *RenderAndDeliverHandler) Execute(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	var payload DeliveryPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, errors.Permanent(err, "malformed delivery payload")
	}

	artifact, err := h.renderer.RenderImage(ctx, payload.ResourceKind, payload.ResourceID)
	if err != nil {
		return nil, err
	}
	if artifact.Title == "" {
		artifact.Title = payload.Name
	}

	results, err := h.deliverer.Deliver(ctx, job.ID, payload.SuccessPolicy, payload.Targets, artifact)
	if err != nil {
		return nil, err
	}
	return summarize(results), nil
}

// ExportCSVAndDeliverHandler exports a resource's results to CSV and fans
// the file out to the schedule's targets.
type ExportCSVAndDeliverHandler struct {
	exporter  Exporter
	deliverer Deliverer
	logger    *zap.SugaredLogger
}

// NewExportCSVAndDeliverHandler creates the CSV delivery handler.
func NewExportCSVAndDeliverHandler(exporter Exporter, deliverer Deliverer, log *zap.SugaredLogger) *ExportCSVAndDeliverHandler {
	return &ExportCSVAndDeliverHandler{exporter: exporter, deliverer: deliverer, logger: log}
}

func (h *ExportCSVAndDeliverHandler) Type() queue.TaskType { return queue.TaskExportCSVAndDeliver }

func (h *ExportCSVAndDeliverHandler) Execute(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	var payload DeliveryPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, errors.Permanent(err, "malformed delivery payload")
	}

	artifact, err := h.exporter.ExportCSV(ctx, payload.ResourceKind, payload.ResourceID)
	if err != nil {
		return nil, err
	}
	if artifact.Title == "" {
		artifact.Title = payload.Name
	}

	results, err := h.deliverer.Deliver(ctx, job.ID, payload.SuccessPolicy, payload.Targets, artifact)
	if err != nil {
		return nil, err
	}
	return summarize(results), nil
}

// UploadToSpreadsheetHandler exports a resource to CSV and uploads it into
// one spreadsheet tab. Used by ad-hoc jobs rather than schedules.
type UploadToSpreadsheetHandler struct {
	exporter Exporter
	uploader Uploader
	logger   *zap.SugaredLogger
}

// NewUploadToSpreadsheetHandler creates the spreadsheet upload handler.
func NewUploadToSpreadsheetHandler(exporter Exporter, uploader Uploader, log *zap.SugaredLogger) *UploadToSpreadsheetHandler {
	return &UploadToSpreadsheetHandler{exporter: exporter, uploader: uploader, logger: log}
}

func (h *UploadToSpreadsheetHandler) Type() queue.TaskType { return queue.TaskUploadToSpreadsheet }

func (h *UploadToSpreadsheetHandler) Execute(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	var payload UploadPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, errors.Permanent(err, "malformed upload payload")
	}
	if payload.SheetID == "" {
		return nil, errors.NewConfiguration("upload job %s has no sheet id", job.ID)
	}

	artifact, err := h.exporter.ExportCSV(ctx, payload.ResourceKind, payload.ResourceID)
	if err != nil {
		return nil, err
	}

	target := schedule.Target{
		ID:   "adhoc-" + job.ID,
		Kind: schedule.TargetSpreadsheet,
		Spreadsheet: &schedule.SpreadsheetOptions{
			SheetID: payload.SheetID,
			TabName: payload.TabName,
		},
	}
	if err := h.uploader.Send(ctx, target, artifact); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]string{
		"sheet_id": payload.SheetID,
		"tab_name": payload.TabName,
	})
}

// ValidateProjectHandler checks a project's content for broken references
// and stores the issues as the job result.
type ValidateProjectHandler struct {
	validator Validator
	logger    *zap.SugaredLogger
}

// NewValidateProjectHandler creates the validation handler.
func NewValidateProjectHandler(validator Validator, log *zap.SugaredLogger) *ValidateProjectHandler {
	return &ValidateProjectHandler{validator: validator, logger: log}
}

func (h *ValidateProjectHandler) Type() queue.TaskType { return queue.TaskValidateProject }

func (h *ValidateProjectHandler) Execute(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	var payload ValidatePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, errors.Permanent(err, "malformed validation payload")
	}
	if payload.ProjectID == "" {
		return nil, errors.NewConfiguration("validation job %s has no project id", job.ID)
	}

	issues, err := h.validator.ValidateProject(ctx, payload.ProjectID)
	if err != nil {
		return nil, err
	}

	h.logger.Infow("Project validated",
		"job_id", job.ID,
		"project_id", payload.ProjectID,
		"issues", len(issues),
	)
	return json.Marshal(map[string]interface{}{
		"project_id": payload.ProjectID,
		"issues":     issues,
	})
}

// RegisterAll wires every handler into the registry. Nil collaborators
// skip their handler, so a deployment without a spreadsheet service
// simply rejects those jobs as unconfigured.
func RegisterAll(registry *worker.HandlerRegistry, renderer Renderer, exporter Exporter, validator Validator, deliverer Deliverer, uploader Uploader, log *zap.SugaredLogger) {
	if renderer != nil && deliverer != nil {
		registry.Register(NewRenderAndDeliverHandler(renderer, deliverer, log))
	}
	if exporter != nil && deliverer != nil {
		registry.Register(NewExportCSVAndDeliverHandler(exporter, deliverer, log))
	}
	if exporter != nil && uploader != nil {
		registry.Register(NewUploadToSpreadsheetHandler(exporter, uploader, log))
	}
	if validator != nil {
		registry.Register(NewValidateProjectHandler(validator, log))
	}
}
