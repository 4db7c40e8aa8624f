package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docpipe/internal/api"
	"github.com/jackzampolin/docpipe/internal/store"
	"github.com/jackzampolin/docpipe/internal/svcctx"
)

// CancelResponse acknowledges a cancellation request.
type CancelResponse struct {
	JobID     string `json:"job_id"`
	Cancelled bool   `json:"cancelled"`
}

// CancelEndpoint handles POST /process/cancel/{id}.
type CancelEndpoint struct{}

func (e *CancelEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/process/cancel/{id}", e.handler
}

func (e *CancelEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Cancel a job
//	@Description	Requests cancellation; the job stops at the next stage boundary
//	@Tags			process
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	CancelResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Router			/process/cancel/{id} [post]
func (e *CancelEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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

	if err := orch.RequestCancel(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, store.ErrStageConflict):
			writeError(w, http.StatusConflict, "job already finished")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, CancelResponse{JobID: id, Cancelled: true})
}

func (e *CancelEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a job",
		Long: `Request cancellation of a job.

Cancellation takes effect at the next stage boundary; a stage already
in flight runs to completion first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp CancelResponse
			if err := client.Post(cmd.Context(), "/process/cancel/"+args[0], nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
