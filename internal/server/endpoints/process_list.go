package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docpipe/internal/api"
	"github.com/jackzampolin/docpipe/internal/store"
	"github.com/jackzampolin/docpipe/internal/svcctx"
)

// ListJobsResponse is a paginated list of jobs.
type ListJobsResponse struct {
	Jobs     []*store.Job `json:"jobs"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

// ListJobsEndpoint handles GET /process/jobs.
type ListJobsEndpoint struct{}

func (e *ListJobsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/process/jobs", e.handler
}

func (e *ListJobsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List jobs
//	@Description	List jobs with optional stage filter and pagination
//	@Tags			process
//	@Produce		json
//	@Param			stage		query		string	false	"Filter by stage"
//	@Param			page		query		int		false	"Page number (1-based)"
//	@Param			page_size	query		int		false	"Page size (default 20, max 100)"
//	@Success		200			{object}	ListJobsResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/process/jobs [get]
func (e *ListJobsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	filter := store.ListFilter{Page: 1, PageSize: 20}

	if v := r.URL.Query().Get("stage"); v != "" {
		stage := store.Stage(v)
		if !stage.Valid() {
			writeError(w, http.StatusBadRequest, "unknown stage: "+v)
			return
		}
		filter.Stage = stage
	}
	if v := r.URL.Query().Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		filter.Page = page
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1 || size > 100 {
			writeError(w, http.StatusBadRequest, "page_size must be between 1 and 100")
			return
		}
		filter.PageSize = size
	}

	jobs, total, err := st.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ListJobsResponse{
		Jobs:     jobs,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	})
}

func (e *ListJobsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		stage    string
		page     int
		pageSize int
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List processing jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if stage != "" {
				q.Set("stage", stage)
			}
			q.Set("page", strconv.Itoa(page))
			q.Set("page_size", strconv.Itoa(pageSize))

			client := api.NewClient(getServerURL())
			var resp ListJobsResponse
			if err := client.Get(cmd.Context(), "/process/jobs?"+q.Encode(), &resp); err != nil {
				return err
			}
			if err := api.Output(resp); err != nil {
				return err
			}
			if resp.Total > len(resp.Jobs) {
				fmt.Printf("# showing %d of %d jobs\n", len(resp.Jobs), resp.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "Filter by stage (queued, extracting, chunking, embedding, storing, completed, failed)")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "Jobs per page")
	return cmd
}
