package api

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tracelens/tracelens/internal/config"
	"github.com/tracelens/tracelens/internal/report"
	_ "github.com/tracelens/tracelens/internal/reports"
)

func newTestServer(t *testing.T, statements ...string) *httptest.Server {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "trace.sqlite")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer db.Close()
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("fixture statement %q: %v", stmt, err)
		}
	}

	s := NewServer(config.DefaultConfig().Server, dbPath, report.DefaultCatalog(), nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestListReports(t *testing.T) {
	ts := newTestServer(t, "CREATE TABLE t (x INT)")

	resp, err := http.Get(ts.URL + "/api/reports")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Reports []struct {
			Name        string `json:"name"`
			DisplayName string `json:"display_name"`
		} `json:"reports"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	names := map[string]bool{}
	for _, r := range body.Reports {
		names[r.Name] = true
	}
	if !names["gpusum"] || !names["osrtsum"] {
		t.Errorf("missing expected reports in %v", names)
	}
	if names["_sqlstmt"] {
		t.Error("hidden report exposed in listing")
	}
}

func TestGetReportUsage(t *testing.T) {
	ts := newTestServer(t, "CREATE TABLE t (x INT)")

	resp, err := http.Get(ts.URL + "/api/reports/gpukernsum")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(body["usage"], "gpukernsum") {
		t.Errorf("usage does not mention report name: %q", body["usage"])
	}

	resp2, err := http.Get(ts.URL + "/api/reports/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("unknown report status = %d, want 404", resp2.StatusCode)
	}
}

func TestRunReportCSV(t *testing.T) {
	ts := newTestServer(t,
		"CREATE TABLE widgets (id INT, name TEXT)",
		"INSERT INTO widgets VALUES (1, 'a'), (2, 'b'), (3, 'c')",
	)

	resp, err := http.Get(ts.URL + "/api/reports/_table/run?arg=table%3Dwidgets")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q", ct)
	}
	if resp.Header.Get("X-Invocation-Id") == "" {
		t.Error("missing invocation id header")
	}

	records, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("got %d records, want header + 3 rows", len(records))
	}
	if records[0][0] != "id" || records[0][1] != "name" {
		t.Errorf("unexpected header: %v", records[0])
	}
}

func TestRunReportRowFilter(t *testing.T) {
	ts := newTestServer(t,
		"CREATE TABLE widgets (id INT, name TEXT)",
		"INSERT INTO widgets VALUES (1, 'a'), (2, 'b'), (3, 'c')",
	)

	resp, err := http.Get(ts.URL + "/api/reports/_table/run?arg=table%3Dwidgets&filter=" +
		"row.id%20%3E%3D%202")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	records, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want header + 2 rows", len(records))
	}

	bad, err := http.Get(ts.URL + "/api/reports/_table/run?arg=table%3Dwidgets&filter=row.id")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("non-bool filter status = %d, want 400", bad.StatusCode)
	}
}

func TestRunReportErrorStatuses(t *testing.T) {
	ts := newTestServer(t, "CREATE TABLE t (x INT)")

	cases := []struct {
		url  string
		want int
	}{
		{"/api/reports/gpusum/run", http.StatusNotFound},
		{"/api/reports/nope/run", http.StatusBadRequest},
		{"/api/reports/_table/run?arg=bogus%3D1", http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp, err := http.Get(ts.URL + tc.url)
		if err != nil {
			t.Fatalf("get %s: %v", tc.url, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("%s status = %d, want %d", tc.url, resp.StatusCode, tc.want)
		}
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "CREATE TABLE t (x INT)")

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}
