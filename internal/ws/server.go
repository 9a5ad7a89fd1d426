package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/webdoc/webdoc/internal/job"
)

const (
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 5 * time.Second
)

// JobGetter reads the current state of a job.
type JobGetter interface {
	Get(ctx context.Context, id string) (*job.Job, error)
}

// Server streams job snapshots over websockets until the job is terminal.
type Server struct {
	hub            *Hub
	jobs           JobGetter
	originPatterns []string
}

func NewServer(hub *Hub, jobs JobGetter, originPatterns []string) *Server {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return &Server{hub: hub, jobs: jobs, originPatterns: originPatterns}
}

// HandleWatch serves GET /jobs/{id}/watch.
func (s *Server) HandleWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Subscribe before the first read so no update slips between the two.
	updates, unsubscribe := s.hub.Subscribe(id)
	defer unsubscribe()

	current, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "internal error"
		if errors.Is(err, job.ErrNotFound) {
			status, msg = http.StatusNotFound, "job not found"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"message": msg})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		log.Warn().Err(err).Str("job_id", id).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	// The client never sends anything; CloseRead handles its close frame.
	ctx := conn.CloseRead(r.Context())

	if err := s.stream(ctx, conn, current, updates); err != nil {
		if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
			log.Debug().Err(err).Str("job_id", id).Msg("watch stream ended")
		}
		return
	}
	conn.Close(websocket.StatusNormalClosure, "job finished")
}

func (s *Server) stream(ctx context.Context, conn *websocket.Conn, current *job.Job, updates <-chan *job.Job) error {
	if err := s.write(ctx, conn, JobMessage{Type: "job", Job: current}); err != nil {
		return err
	}
	if current.Status.Terminal() {
		return nil
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.write(ctx, conn, HeartbeatMessage{Type: "heartbeat", Timestamp: time.Now().UTC()}); err != nil {
				return err
			}
		case j := <-updates:
			if j.Progress < current.Progress {
				continue
			}
			current = j
			if err := s.write(ctx, conn, JobMessage{Type: "job", Job: j}); err != nil {
				return err
			}
			if j.Status.Terminal() {
				return nil
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
