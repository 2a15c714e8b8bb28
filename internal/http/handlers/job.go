package handlers

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/repository"
	"github.com/dan246/mtx-toolkit/internal/scheduler"
)

// JobHandler handles scheduler job API endpoints.
type JobHandler struct {
	store     *repository.Store
	scheduler JobScheduler
	runner    *scheduler.Runner
}

// NewJobHandler creates a new job handler.
func NewJobHandler(store *repository.Store, sched JobScheduler, runner *scheduler.Runner) *JobHandler {
	return &JobHandler{store: store, scheduler: sched, runner: runner}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      "GET",
		Path:        "/api/v1/jobs",
		Summary:     "List jobs",
		Description: "Returns all jobs, optionally filtered by type",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      "GET",
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get job",
		Description: "Returns a job by ID",
		Tags:        []string{"Jobs"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "triggerJob",
		Method:      "POST",
		Path:        "/api/v1/jobs/trigger",
		Summary:     "Trigger job",
		Description: "Queues an immediate run of a job type",
		Tags:        []string{"Jobs"},
	}, h.Trigger)

	huma.Register(api, huma.Operation{
		OperationID: "listJobHistory",
		Method:      "GET",
		Path:        "/api/v1/jobs/history",
		Summary:     "List job history",
		Description: "Returns one page of finished job runs, newest first",
		Tags:        []string{"Jobs"},
	}, h.History)

	huma.Register(api, huma.Operation{
		OperationID: "getRunnerStatus",
		Method:      "GET",
		Path:        "/api/v1/jobs/runner",
		Summary:     "Runner status",
		Description: "Returns the worker pool's current state",
		Tags:        []string{"Jobs"},
	}, h.RunnerStatus)
}

// ListJobsInput is the input for listing jobs.
type ListJobsInput struct {
	Type string `query:"type" doc:"Only jobs of this type" enum:"fast_health,deep_health,fleet_sync,retention_cleanup,archive_sweep,blocklist_sweep,remediation,rolling_update,"`
}

// ListJobsOutput is the output for listing jobs.
type ListJobsOutput struct {
	Body struct {
		Jobs []JobResponse `json:"jobs"`
	}
}

// List returns jobs, optionally filtered by type.
func (h *JobHandler) List(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	var (
		jobs []*models.Job
		err  error
	)
	if input.Type != "" {
		jobs, err = h.store.Jobs.GetByType(ctx, models.JobType(input.Type))
	} else {
		jobs, err = h.store.Jobs.GetAll(ctx)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list jobs", err)
	}

	resp := &ListJobsOutput{}
	resp.Body.Jobs = make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp.Body.Jobs = append(resp.Body.Jobs, JobFromModel(job))
	}
	return resp, nil
}

// GetJobInput is the input for getting a job.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// GetJobOutput is the output for getting a job.
type GetJobOutput struct {
	Body JobResponse
}

// GetByID returns a job by ID.
func (h *JobHandler) GetByID(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	job, err := h.store.Jobs.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get job", err)
	}
	if job == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("job %s not found", input.ID))
	}
	return &GetJobOutput{Body: JobFromModel(job)}, nil
}

// TriggerJobRequest is the request body for triggering a job.
type TriggerJobRequest struct {
	Type    string `json:"type" doc:"Job type to run" enum:"fast_health,deep_health,fleet_sync,retention_cleanup,archive_sweep,blocklist_sweep"`
	Payload string `json:"payload,omitempty" doc:"Optional JSON payload passed to the handler"`
}

// TriggerJobInput is the input for triggering a job.
type TriggerJobInput struct {
	Body TriggerJobRequest
}

// TriggerJobOutput is the output for triggering a job.
type TriggerJobOutput struct {
	Body JobQueuedResponse
}

// Trigger queues an immediate run of a fleet-wide job type. Stream and config
// scoped types go through their own endpoints, which resolve the target.
func (h *JobHandler) Trigger(ctx context.Context, input *TriggerJobInput) (*TriggerJobOutput, error) {
	jobType := models.JobType(input.Body.Type)

	var (
		job *models.Job
		err error
	)
	if input.Body.Payload != "" {
		job, err = h.scheduler.ScheduleImmediateWithPayload(ctx, jobType, models.ULID{}, "fleet", input.Body.Payload)
	} else {
		job, err = h.scheduler.ScheduleImmediate(ctx, jobType, models.ULID{}, "fleet")
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to queue job", err)
	}

	return &TriggerJobOutput{Body: JobQueuedResponse{
		JobID:   job.ID.String(),
		Message: fmt.Sprintf("%s queued", jobType),
	}}, nil
}

// JobHistoryInput is the input for listing job history.
type JobHistoryInput struct {
	Type   string `query:"type" doc:"Only runs of this job type" enum:"fast_health,deep_health,fleet_sync,retention_cleanup,archive_sweep,blocklist_sweep,remediation,rolling_update,"`
	Offset int    `query:"offset" minimum:"0" doc:"Pagination offset"`
	Limit  int    `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Page size"`
}

// JobHistoryOutput is the output for listing job history.
type JobHistoryOutput struct {
	Body struct {
		History []JobHistoryResponse `json:"history"`
		Total   int64                `json:"total"`
	}
}

// History returns one page of finished job runs.
func (h *JobHandler) History(ctx context.Context, input *JobHistoryInput) (*JobHistoryOutput, error) {
	var jobType *models.JobType
	if input.Type != "" {
		t := models.JobType(input.Type)
		jobType = &t
	}

	history, total, err := h.store.Jobs.GetHistory(ctx, jobType, input.Offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list job history", err)
	}

	resp := &JobHistoryOutput{}
	resp.Body.Total = total
	resp.Body.History = make([]JobHistoryResponse, 0, len(history))
	for _, entry := range history {
		resp.Body.History = append(resp.Body.History, JobHistoryFromModel(entry))
	}
	return resp, nil
}

// RunnerStatusInput is the input for the runner status.
type RunnerStatusInput struct{}

// RunnerStatusOutput is the output for the runner status.
type RunnerStatusOutput struct {
	Body scheduler.RunnerStatus
}

// RunnerStatus returns the worker pool's current state.
func (h *JobHandler) RunnerStatus(ctx context.Context, input *RunnerStatusInput) (*RunnerStatusOutput, error) {
	if h.runner == nil {
		return nil, huma.Error500InternalServerError("job runner is not configured")
	}
	return &RunnerStatusOutput{Body: h.runner.Status()}, nil
}
