package watch

import (
	"database/sql"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tracelens/tracelens/internal/config"
	"github.com/tracelens/tracelens/internal/report"
	_ "github.com/tracelens/tracelens/internal/reports"
)

func TestWatcherRunsReportOnNewDatabase(t *testing.T) {
	dir := t.TempDir()

	results := make(chan error, 1)
	w, err := NewWatcher(config.WatchConfig{
		Dir:     dir,
		Pattern: "*.sqlite",
		Report:  "_sqlstmt",
		Args:    []string{"sql=SELECT 42 AS answer"},
	}, report.DefaultCatalog(), nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.OnResult = func(dbPath, outPath string, err error) {
		results <- err
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	dbPath := filepath.Join(dir, "trace.sqlite")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	if _, err := db.Exec("CREATE TABLE t (x INT)"); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	db.Close()

	select {
	case err := <-results:
		if err != nil {
			t.Fatalf("watched run failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("watcher never processed the database")
	}

	f, err := os.Open(dbPath + "._sqlstmt.csv")
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if len(records) != 2 || records[0][0] != "answer" || records[1][0] != "42" {
		t.Errorf("unexpected output: %v", records)
	}
}

func TestWatcherIgnoresNonMatchingFiles(t *testing.T) {
	dir := t.TempDir()

	results := make(chan error, 1)
	w, err := NewWatcher(config.WatchConfig{
		Dir:     dir,
		Pattern: "*.sqlite",
		Report:  "_sqlstmt",
	}, report.DefaultCatalog(), nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.OnResult = func(dbPath, outPath string, err error) {
		results <- err
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-results:
		t.Fatal("watcher processed a non-matching file")
	case <-time.After(2 * settleDelay):
	}
}

func TestNewWatcherValidation(t *testing.T) {
	if _, err := NewWatcher(config.WatchConfig{Report: "gpusum"}, report.DefaultCatalog(), nil); err == nil {
		t.Error("expected error for missing directory")
	}
	if _, err := NewWatcher(config.WatchConfig{Dir: t.TempDir(), Report: "nope"}, report.DefaultCatalog(), nil); err == nil {
		t.Error("expected error for unknown report")
	}
}
