package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docpipe/internal/api"
	"github.com/jackzampolin/docpipe/internal/pipeline"
	"github.com/jackzampolin/docpipe/internal/store"
	"github.com/jackzampolin/docpipe/internal/svcctx"
)

// SubmitRequest is the body for POST /process/document.
type SubmitRequest struct {
	FilePath   string         `json:"file_path"`
	Filename   string         `json:"filename,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	WebhookURL string         `json:"webhook_url,omitempty"`
}

// SubmitResponse is the response for a successful submission.
type SubmitResponse struct {
	JobID     string    `json:"job_id"`
	Filename  string    `json:"filename"`
	Stage     string    `json:"stage"`
	Progress  int       `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
}

// SubmitEndpoint handles POST /process/document.
type SubmitEndpoint struct{}

func (e *SubmitEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/process/document", e.handler
}

func (e *SubmitEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Submit a document for processing
//	@Description	Queues a document for the extract/chunk/embed/store pipeline
//	@Tags			process
//	@Accept			json
//	@Produce		json
//	@Param			request	body		SubmitRequest	true	"Submission"
//	@Success		202		{object}	SubmitResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/process/document [post]
func (e *SubmitEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.FilePath == "" {
		writeError(w, http.StatusBadRequest, "file_path is required")
		return
	}
	if req.Filename == "" {
		req.Filename = filepath.Base(req.FilePath)
	}

	if schema := svcctx.MetadataSchemaFrom(r.Context()); schema != nil {
		var meta any = map[string]any{}
		if req.Metadata != nil {
			meta = req.Metadata
		}
		if err := schema.Validate(meta); err != nil {
			writeError(w, http.StatusBadRequest, "metadata validation failed: "+err.Error())
			return
		}
	}

	orch := svcctx.OrchestratorFrom(r.Context())
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	job, err := orch.Submit(r.Context(), pipeline.SubmitRequest{
		FilePath:   req.FilePath,
		Filename:   req.Filename,
		Metadata:   req.Metadata,
		WebhookURL: req.WebhookURL,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{
		JobID:     job.ID,
		Filename:  job.Filename,
		Stage:     string(store.StageQueued),
		Progress:  job.Progress,
		CreatedAt: job.CreatedAt,
	})
}

func (e *SubmitEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		webhookURL string
		metaJSON   string
	)
	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Submit a document for processing",
		Long: `Submit a document to the processing pipeline.

The file path must be readable by the server. Metadata is an optional
JSON object attached to the job; a webhook URL receives lifecycle
notifications.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			req := SubmitRequest{
				FilePath:   path,
				Filename:   filepath.Base(path),
				WebhookURL: webhookURL,
			}
			if metaJSON != "" {
				if err := json.Unmarshal([]byte(metaJSON), &req.Metadata); err != nil {
					return fmt.Errorf("invalid --metadata JSON: %w", err)
				}
			}

			client := api.NewClient(getServerURL())
			var resp SubmitResponse
			if err := client.Post(cmd.Context(), "/process/document", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&webhookURL, "webhook", "", "Webhook URL for lifecycle notifications")
	cmd.Flags().StringVar(&metaJSON, "metadata", "", "Job metadata as a JSON object")
	return cmd
}
