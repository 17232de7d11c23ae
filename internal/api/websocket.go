package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tracelens/tracelens/internal/report"
	"github.com/tracelens/tracelens/internal/rowfilter"
)

const wsWriteTimeout = 10 * time.Second

// newUpgrader creates a WebSocket upgrader. When allowAllOrigins is false,
// only same-origin requests are accepted (Origin header must match Host).
func newUpgrader(allowAllOrigins bool) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if allowAllOrigins {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients don't send Origin
			}
			return strings.Contains(origin, r.Host)
		},
	}
}

type wsMessage struct {
	Type       string         `json:"type"`
	Invocation string         `json:"invocation,omitempty"`
	Headers    []string       `json:"headers,omitempty"`
	Row        map[string]any `json:"row,omitempty"`
	Rows       int            `json:"rows,omitempty"`
	Error      string         `json:"error,omitempty"`
	ExitCode   int            `json:"exit_code,omitempty"`
}

// handleReportSocket runs a report and streams one JSON message per
// row over a websocket. A read pump watches for client disconnect and
// cancels the query; the configured stream timeout bounds the whole
// run.
func (s *Server) handleReportSocket(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	tokens := r.URL.Query()["arg"]

	upgrader := newUpgrader(s.config.CORS)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	if s.config.StreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.StreamTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg wsMessage) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(msg)
	}

	res, err := s.runner.Run(ctx, s.dbPath, name, tokens)
	if err != nil {
		send(wsMessage{Type: "error", Error: err.Error(), ExitCode: int(report.ExitCodeFor(err))})
		return
	}
	defer res.Close()

	var src rowfilter.RowSource = res
	if expr := r.URL.Query().Get("filter"); expr != "" {
		pred, err := rowfilter.Compile(expr, res.Headers())
		if err != nil {
			send(wsMessage{Type: "error", Error: err.Error(), ExitCode: int(report.ExitInvalidArg)})
			return
		}
		src = pred.Apply(src)
	}

	if err := send(wsMessage{Type: "start", Invocation: res.ID, Headers: res.Headers()}); err != nil {
		return
	}

	count := 0
	for {
		if ctx.Err() != nil {
			s.logger.Debug("websocket stream cancelled", "report", name, "invocation", res.ID, "rows", count)
			return
		}
		row, err := src.Next()
		if err != nil {
			send(wsMessage{Type: "error", Error: err.Error(), ExitCode: int(report.ExitCodeFor(err))})
			return
		}
		if row == nil {
			break
		}
		msg := wsMessage{Type: "row", Row: make(map[string]any, len(row))}
		for i, h := range res.Headers() {
			if i < len(row) {
				v := row[i]
				if b, ok := v.([]byte); ok {
					v = string(b)
				}
				msg.Row[h] = v
			}
		}
		if err := send(msg); err != nil {
			s.logger.Debug("websocket client gone", "report", name, "invocation", res.ID, "rows", count)
			return
		}
		count++
	}

	send(wsMessage{Type: "done", Invocation: res.ID, Rows: count})
}
