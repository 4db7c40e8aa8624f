package endpoints

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/docpipe/internal/svcctx"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The server binds to localhost; cross-origin browser access is not a
	// supported deployment.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WatchEndpoint handles GET /process/watch, a websocket stream of job updates.
type WatchEndpoint struct{}

func (e *WatchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/process/watch", e.handler
}

func (e *WatchEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Stream job updates
//	@Description	Upgrades to a websocket; every job stage or progress change is pushed as a JSON message
//	@Tags			process
//	@Success		101
//	@Failure		503	{object}	ErrorResponse
//	@Router			/process/watch [get]
func (e *WatchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	hub := svcctx.HubFrom(r.Context())
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "watch hub not initialized")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error.
		return
	}
	hub.AddClient(conn)
}

func (e *WatchEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream live job updates",
		Long:  `Connect to the server's websocket and print job updates as they happen.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			wsURL := strings.Replace(getServerURL(), "http", "ws", 1) + "/process/watch"
			conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), wsURL, nil)
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer conn.Close()

			go func() {
				<-cmd.Context().Done()
				conn.Close()
			}()

			for {
				var update map[string]any
				if err := conn.ReadJSON(&update); err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				fmt.Printf("%v %v %v%%\n", update["job_id"], update["stage"], update["progress"])
			}
		},
	}
}
