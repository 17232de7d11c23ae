// Package watch runs a configured report against every trace database
// that appears in a watched directory, writing the result next to the
// database as a CSV file.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tracelens/tracelens/internal/config"
	"github.com/tracelens/tracelens/internal/render"
	"github.com/tracelens/tracelens/internal/report"
)

// settleDelay is how long a file must go without write events before
// it is treated as fully exported. Trace databases are written in
// bursts, so reacting to the first event would read a partial file.
const settleDelay = 500 * time.Millisecond

// Watcher watches one directory for new trace databases.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	cfg       config.WatchConfig
	runner    *report.Runner
	done      chan struct{}
	logger    *slog.Logger

	mu     sync.Mutex // protects timers
	timers map[string]*time.Timer

	// OnResult, if set, is called after each processed database with
	// the output path and the run error, if any.
	OnResult func(dbPath, outPath string, err error)
}

// NewWatcher creates a Watcher over the configured directory. Call
// Start() to begin processing events.
func NewWatcher(cfg config.WatchConfig, catalog *report.Catalog, logger *slog.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("watch directory not configured")
	}
	if catalog.Get(cfg.Report) == nil {
		return nil, fmt.Errorf("watch report '%s' could not be found", cfg.Report)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(cfg.Dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", cfg.Dir, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		fsWatcher: fsw,
		cfg:       cfg,
		runner:    report.NewRunner(catalog, logger),
		done:      make(chan struct{}),
		timers:    make(map[string]*time.Timer),
		logger:    logger.With("component", "watch.Watcher"),
	}, nil
}

// Start begins watching in a background goroutine. It returns
// immediately. Call Stop() to shut down.
func (w *Watcher) Start() error {
	w.logger.Info("watching for trace databases",
		"dir", w.cfg.Dir,
		"pattern", w.cfg.Pattern,
		"report", w.cfg.Report,
	)
	go w.loop()
	return nil
}

// Stop shuts down the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

// handleEvent debounces create/write bursts per file and schedules
// processing once the file settles.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
		return
	}
	path := event.Name
	matched, err := filepath.Match(w.cfg.Pattern, filepath.Base(path))
	if err != nil || !matched {
		return
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.timers[path]; ok {
		timer.Reset(settleDelay)
		return
	}
	w.timers[path] = time.AfterFunc(settleDelay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}
		w.process(path)
	})
}

// process runs the configured report against the database and writes
// the rows to a CSV sibling named after the report.
func (w *Watcher) process(dbPath string) {
	outPath := fmt.Sprintf("%s.%s.csv", dbPath, w.cfg.Report)
	err := w.runOnce(dbPath, outPath)
	if err != nil {
		w.logger.Error("report run failed",
			"db", dbPath,
			"report", w.cfg.Report,
			"error", err,
		)
	} else {
		w.logger.Info("report written", "db", dbPath, "out", outPath)
	}
	if w.OnResult != nil {
		w.OnResult(dbPath, outPath, err)
	}
}

func (w *Watcher) runOnce(dbPath, outPath string) error {
	res, err := w.runner.Run(context.Background(), dbPath, w.cfg.Report, w.cfg.Args)
	if err != nil {
		return err
	}
	defer res.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := render.WriteCSV(out, res); err != nil {
		return err
	}
	return out.Close()
}
