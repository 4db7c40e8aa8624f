package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docpipe/internal/api"
	"github.com/jackzampolin/docpipe/internal/store"
	"github.com/jackzampolin/docpipe/internal/svcctx"
)

// MetricsEndpoint handles GET /process/metrics.
type MetricsEndpoint struct{}

func (e *MetricsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/process/metrics", e.handler
}

func (e *MetricsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Storage optimization metrics
//	@Description	Aggregate counts of documents processed, chunks stored, chunks deduplicated, and bytes stored
//	@Tags			process
//	@Produce		json
//	@Success		200	{object}	store.StorageMetrics
//	@Failure		500	{object}	ErrorResponse
//	@Router			/process/metrics [get]
func (e *MetricsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	metrics, err := st.GetStorageMetrics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, metrics)
}

func (e *MetricsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show storage optimization metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp store.StorageMetrics
			if err := client.Get(cmd.Context(), "/process/metrics", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
