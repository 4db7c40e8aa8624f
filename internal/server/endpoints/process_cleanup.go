package endpoints

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docpipe/internal/api"
	"github.com/jackzampolin/docpipe/internal/store"
	"github.com/jackzampolin/docpipe/internal/svcctx"
)

// CleanupEndpoint handles POST /process/cleanup.
type CleanupEndpoint struct{}

func (e *CleanupEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/process/cleanup", e.handler
}

func (e *CleanupEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Remove old terminal jobs
//	@Description	Deletes completed and failed jobs older than days_old, along with their events and chunks
//	@Tags			process
//	@Produce		json
//	@Param			days_old	query		int	false	"Age threshold in days (default from config)"
//	@Success		200			{object}	store.CleanupResult
//	@Failure		400			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/process/cleanup [post]
func (e *CleanupEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	days := 30
	if cm := svcctx.ConfigManagerFrom(r.Context()); cm != nil {
		days = cm.Get().Retention.CleanupDays
	}
	if v := r.URL.Query().Get("days_old"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "days_old must be a non-negative integer")
			return
		}
		days = parsed
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	result, err := st.CleanupTerminal(r.Context(), cutoff)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if logger := svcctx.LoggerFrom(r.Context()); logger != nil {
		logger.Info("cleanup completed",
			"days_old", days,
			"completed_removed", result.CompletedRemoved,
			"failed_removed", result.FailedRemoved)
	}

	writeJSON(w, http.StatusOK, result)
}

func (e *CleanupEndpoint) Command(getServerURL func() string) *cobra.Command {
	var daysOld int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove old completed and failed jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp store.CleanupResult
			path := fmt.Sprintf("/process/cleanup?days_old=%d", daysOld)
			if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&daysOld, "days-old", 30, "Remove terminal jobs older than this many days")
	return cmd
}
