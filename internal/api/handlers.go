package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tracelens/tracelens/internal/render"
	"github.com/tracelens/tracelens/internal/report"
	"github.com/tracelens/tracelens/internal/rowfilter"
	"github.com/tracelens/tracelens/internal/store"
)

// --- Reports ---

type reportInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Summary     string `json:"summary"`
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	defs := s.catalog.List()
	infos := make([]reportInfo, 0, len(defs))
	for _, def := range defs {
		infos = append(infos, reportInfo{
			Name:        def.Name,
			DisplayName: def.DisplayName,
			Summary:     def.UsageSummary(),
		})
	}
	writeJSON(w, map[string]any{"reports": infos})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	def := s.catalog.Get(name)
	if def == nil {
		writeError(w, http.StatusNotFound, "report '"+name+"' could not be found")
		return
	}
	writeJSON(w, map[string]any{
		"name":         def.Name,
		"display_name": def.DisplayName,
		"usage":        def.UsageText(),
	})
}

// handleRunReport executes a report and streams its rows as CSV.
// Option tokens come in as repeated "arg" query parameters, an
// optional CEL row filter as "filter". The run is bounded by the
// configured stream timeout and cancelled when the client goes away.
func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	tokens := r.URL.Query()["arg"]

	ctx := r.Context()
	if s.config.StreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.StreamTimeout)
		defer cancel()
	}

	res, err := s.runner.Run(ctx, s.dbPath, name, tokens)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	defer res.Close()

	var src rowfilter.RowSource = res
	if expr := r.URL.Query().Get("filter"); expr != "" {
		pred, err := rowfilter.Compile(expr, res.Headers())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		src = pred.Apply(src)
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("X-Invocation-Id", res.ID)
	n, err := render.WriteCSV(w, src)
	if err != nil {
		// Headers are gone; all we can do is log and drop the stream.
		s.logger.Error("report stream aborted", "report", name, "invocation", res.ID, "rows", n, "error", err)
		return
	}
	if n == 0 {
		s.logger.Debug("report returned no rows", "report", name, "invocation", res.ID)
	}
}

// --- System ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "db": s.dbPath})
}

// --- Helpers ---

// statusFor maps engine errors onto HTTP statuses the way exit codes
// partition them on the CLI.
func statusFor(err error) int {
	switch err.(type) {
	case *report.ArgumentError:
		return http.StatusBadRequest
	case *report.NoDataError, *report.NotFoundError:
		return http.StatusNotFound
	case *store.MissingDatabaseFileError, *store.InvalidDatabaseFileError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
