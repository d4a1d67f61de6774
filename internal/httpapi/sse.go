package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cifixd/internal/store"
)

// handleStreamJob streams snapshot events for a job as Server-Sent Events.
//
// The subscription has latest-value semantics: a slow client coalesces
// intermediate snapshots but always receives the terminal one, after which
// the stream ends exactly once. A client disconnect detaches the
// subscriber without affecting the job.
func (s *Server) handleStreamJob(c echo.Context) error {
	id := c.Param("id")
	ch, cancel, err := s.svc.Subscribe(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to subscribe")
	}
	defer cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case snapshot, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(snapshot)
			if err != nil {
				s.logger.Error("failed to marshal snapshot", zap.String("job_id", id), zap.Error(err))
				return nil
			}
			if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", data); err != nil {
				return nil
			}
			w.Flush()
			if snapshot.Status.Terminal() {
				return nil
			}
		}
	}
}
