package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docpipe/internal/api"
	"github.com/jackzampolin/docpipe/internal/store"
	"github.com/jackzampolin/docpipe/internal/svcctx"
)

// RetryResponse is the response for a manual retry.
type RetryResponse struct {
	JobID string `json:"job_id"`
	Stage string `json:"stage"`
}

// RetryEndpoint handles POST /process/retry/{id}.
type RetryEndpoint struct{}

func (e *RetryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/process/retry/{id}", e.handler
}

func (e *RetryEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Retry a failed job
//	@Description	Requeues a permanently failed job at the stage where it stopped
//	@Tags			process
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	RetryResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Router			/process/retry/{id} [post]
func (e *RetryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return
	}

	orch := svcctx.OrchestratorFrom(r.Context())
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	job, err := orch.Retry(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, store.ErrStageConflict):
			writeError(w, http.StatusConflict, "job is not in a failed state")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, RetryResponse{JobID: job.ID, Stage: string(job.Stage)})
}

func (e *RetryEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Retry a failed job",
		Long:  `Requeue a failed job. Processing resumes at the stage that failed.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp RetryResponse
			if err := client.Post(cmd.Context(), "/process/retry/"+args[0], nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
