package report

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/tracelens/tracelens/internal/store"
)

func createFixture(t *testing.T, statements ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "trace.sqlite")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer db.Close()

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("fixture statement %q: %v", stmt, err)
		}
	}
	return path
}

func openFixture(t *testing.T, statements ...string) *store.Store {
	t.Helper()

	s, err := store.Open(context.Background(), createFixture(t, statements...))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func queryStarts(t *testing.T, s *store.Store, table string) []int64 {
	t.Helper()

	rows, err := s.Query(context.Background(), "SELECT start FROM "+table+" ORDER BY start")
	if err != nil {
		t.Fatalf("query %s: %v", table, err)
	}
	defer rows.Close()

	var starts []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			t.Fatal(err)
		}
		starts = append(starts, v)
	}
	return starts
}

func int64p(v int64) *int64 { return &v }

func TestApplyTimeFilter_OverlapPredicate(t *testing.T) {
	s := openFixture(t,
		`CREATE TABLE events (start INT, end INT)`,
		`INSERT INTO events VALUES (0, 100), (150, 200), (90, 160)`,
	)

	err := ApplyTimeFilter(context.Background(), s, int64p(100), int64p(150), "")
	if err != nil {
		t.Fatalf("ApplyTimeFilter: %v", err)
	}

	// (0,100) is kept by the end>=S AND end<E arm since end touches S
	// exactly; (90,160) spans the window; (150,200) starts at E, which
	// the predicate excludes.
	starts := queryStarts(t, s, "events")
	if len(starts) != 2 || starts[0] != 0 || starts[1] != 90 {
		t.Errorf("filtered starts = %v, want [0 90]", starts)
	}
}

// Each OR-branch of the overlap predicate, exercised in isolation.
func TestApplyTimeFilter_PredicateBranches(t *testing.T) {
	tests := []struct {
		name       string
		start, end int64
		keep       bool
	}{
		{"start inside window", 110, 300, true},
		{"end inside window", 50, 120, true},
		{"spans whole window", 50, 300, true},
		{"ends at window start", 10, 90, false},
		{"ends exactly at S", 10, 100, true}, // end>=S AND end<E
		{"starts at window end", 150, 300, false},
		{"entirely after", 200, 300, false},
		{"ends exactly at E spans left", 50, 150, true}, // start<S AND end>=E
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openFixture(t,
				`CREATE TABLE events (start INT, end INT)`,
				fmt.Sprintf(`INSERT INTO events VALUES (%d, %d)`, tt.start, tt.end),
			)

			if err := ApplyTimeFilter(context.Background(), s, int64p(100), int64p(150), ""); err != nil {
				t.Fatalf("ApplyTimeFilter: %v", err)
			}

			starts := queryStarts(t, s, "events")
			if kept := len(starts) == 1; kept != tt.keep {
				t.Errorf("row [%d,%d) kept=%v, want %v", tt.start, tt.end, kept, tt.keep)
			}
		})
	}
}

func TestApplyTimeFilter_NoBoundsIsNoop(t *testing.T) {
	s := openFixture(t,
		`CREATE TABLE events (start INT, end INT)`,
		`INSERT INTO events VALUES (0, 10), (20, 30)`,
	)

	if err := ApplyTimeFilter(context.Background(), s, nil, nil, ""); err != nil {
		t.Fatalf("ApplyTimeFilter: %v", err)
	}
	if starts := queryStarts(t, s, "events"); len(starts) != 2 {
		t.Errorf("no-op filter changed visible rows: %v", starts)
	}
}

func TestApplyTimeFilter_StartAfterEnd(t *testing.T) {
	s := openFixture(t, `CREATE TABLE events (start INT, end INT)`)

	err := ApplyTimeFilter(context.Background(), s, int64p(200), int64p(100), "")
	if _, ok := err.(*NoDataError); !ok {
		t.Fatalf("error = %v, want NoDataError", err)
	}
}

func TestApplyTimeFilter_TablesWithoutTimeColumnsUntouched(t *testing.T) {
	s := openFixture(t,
		`CREATE TABLE events (start INT, end INT)`,
		`INSERT INTO events VALUES (0, 10)`,
		`CREATE TABLE StringIds (id INT, value TEXT)`,
		`INSERT INTO StringIds VALUES (1, 'a'), (2, 'b')`,
	)

	if err := ApplyTimeFilter(context.Background(), s, int64p(100), int64p(200), ""); err != nil {
		t.Fatalf("ApplyTimeFilter: %v", err)
	}

	rows, err := s.Query(context.Background(), `SELECT count(*) FROM StringIds`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	rows.Next()
	var n int
	if err := rows.Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("StringIds rows = %d, want 2 (unfiltered)", n)
	}
}

func TestApplyTimeFilter_Idempotent(t *testing.T) {
	s := openFixture(t,
		`CREATE TABLE events (start INT, end INT)`,
		`INSERT INTO events VALUES (0, 10), (100, 110)`,
	)
	ctx := context.Background()

	if err := ApplyTimeFilter(ctx, s, int64p(0), int64p(50), ""); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	// Re-applying must drop and recreate the views, not collide.
	if err := ApplyTimeFilter(ctx, s, int64p(90), int64p(200), ""); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if starts := queryStarts(t, s, "events"); len(starts) != 1 || starts[0] != 100 {
		t.Errorf("after refilter starts = %v, want [100]", starts)
	}
}

func TestApplyTimeFilter_NVTXNotFound(t *testing.T) {
	s := openFixture(t,
		`CREATE TABLE NVTX_EVENTS (start INT, end INT, eventType INT,
			text TEXT, textId INT, domainId INT, globalTid INT)`,
		`CREATE TABLE StringIds (id INT, value TEXT)`,
	)

	err := ApplyTimeFilter(context.Background(), s, nil, nil, "no-such-range")
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
}

func TestApplyTimeFilter_NVTXMissingTable(t *testing.T) {
	s := openFixture(t, `CREATE TABLE events (start INT, end INT)`)

	err := ApplyTimeFilter(context.Background(), s, nil, nil, "anything")
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
}

const nvtxFixtureSchema = `CREATE TABLE NVTX_EVENTS (start INT, end INT, eventType INT,
	text TEXT, textId INT, domainId INT, globalTid INT)`

func TestApplyTimeFilter_NVTXPushPopThreadScope(t *testing.T) {
	// globalTid encodes pid in the upper 24 bits: pid=42, tid=99.
	gtid := int64(42)<<24 | 99
	other := int64(42)<<24 | 7

	s := openFixture(t,
		nvtxFixtureSchema,
		`CREATE TABLE StringIds (id INT, value TEXT)`,
		`CREATE TABLE events (start INT, end INT, globalTid INT)`,
		// Push/pop range 'compute' on thread gtid covering [100,200).
		fmt.Sprintf(`INSERT INTO NVTX_EVENTS VALUES (100, 200, 59, 'compute', NULL, 0, %d)`, gtid),
		fmt.Sprintf(`INSERT INTO events VALUES
			(110, 120, %d),
			(130, 140, %d),
			(300, 310, %d)`, gtid, other, gtid),
	)

	if err := ApplyTimeFilter(context.Background(), s, nil, nil, "compute"); err != nil {
		t.Fatalf("ApplyTimeFilter: %v", err)
	}

	// Push/pop ranges restrict to the exact thread; same-pid rows on
	// other threads and rows outside the window are gone.
	starts := queryStarts(t, s, "events")
	if len(starts) != 1 || starts[0] != 110 {
		t.Errorf("filtered starts = %v, want [110]", starts)
	}
}

func TestApplyTimeFilter_NVTXStartEndProcessScope(t *testing.T) {
	// A start/end range has pid == tid, widening the filter to the
	// whole process.
	gtid := int64(42)<<24 | 42
	sameProc := int64(42)<<24 | 7
	otherProc := int64(43)<<24 | 42

	s := openFixture(t,
		nvtxFixtureSchema,
		`CREATE TABLE StringIds (id INT, value TEXT)`,
		`CREATE TABLE events (start INT, end INT, globalTid INT)`,
		fmt.Sprintf(`INSERT INTO NVTX_EVENTS VALUES (100, 200, 60, 'phase', NULL, 0, %d)`, gtid),
		fmt.Sprintf(`INSERT INTO events VALUES
			(110, 120, %d),
			(130, 140, %d),
			(150, 160, %d)`, gtid, sameProc, otherProc),
	)

	if err := ApplyTimeFilter(context.Background(), s, nil, nil, "phase"); err != nil {
		t.Fatalf("ApplyTimeFilter: %v", err)
	}

	starts := queryStarts(t, s, "events")
	if len(starts) != 2 || starts[0] != 110 || starts[1] != 130 {
		t.Errorf("filtered starts = %v, want [110 130]", starts)
	}
}

func TestApplyTimeFilter_ExplicitBoundsOverrideNVTX(t *testing.T) {
	gtid := int64(1)<<24 | 1

	s := openFixture(t,
		nvtxFixtureSchema,
		`CREATE TABLE StringIds (id INT, value TEXT)`,
		`CREATE TABLE events (start INT, end INT, globalTid INT)`,
		fmt.Sprintf(`INSERT INTO NVTX_EVENTS VALUES (100, 200, 60, 'win', NULL, 0, %d)`, gtid),
		fmt.Sprintf(`INSERT INTO events VALUES (110, 120, %d), (180, 190, %d)`, gtid, gtid),
	)

	// Explicit end narrows the NVTX-derived window.
	if err := ApplyTimeFilter(context.Background(), s, nil, int64p(150), "win"); err != nil {
		t.Fatalf("ApplyTimeFilter: %v", err)
	}

	starts := queryStarts(t, s, "events")
	if len(starts) != 1 || starts[0] != 110 {
		t.Errorf("filtered starts = %v, want [110]", starts)
	}
}

func TestApplyTimeFilter_NVTXDomainQualifiedName(t *testing.T) {
	gtid := int64(9)<<24 | 9

	s := openFixture(t,
		nvtxFixtureSchema,
		`CREATE TABLE StringIds (id INT, value TEXT)`,
		// Domain-create event (type 75) named 'render' for this process.
		fmt.Sprintf(`INSERT INTO NVTX_EVENTS VALUES (0, NULL, 75, 'render', NULL, 3, %d)`, gtid),
		fmt.Sprintf(`INSERT INTO NVTX_EVENTS VALUES (100, 200, 60, 'frame', NULL, 3, %d)`, gtid),
		`CREATE TABLE events (start INT, end INT, globalTid INT)`,
		fmt.Sprintf(`INSERT INTO events VALUES (110, 120, %d), (500, 510, %d)`, gtid, gtid),
	)

	if err := ApplyTimeFilter(context.Background(), s, nil, nil, "frame@render"); err != nil {
		t.Fatalf("ApplyTimeFilter: %v", err)
	}
	starts := queryStarts(t, s, "events")
	if len(starts) != 1 || starts[0] != 110 {
		t.Errorf("filtered starts = %v, want [110]", starts)
	}

	// The bare name must not match once the domain qualifies it.
	s2, err := store.Open(context.Background(), s.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	err = ApplyTimeFilter(context.Background(), s2, nil, nil, "frame")
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("bare-name error = %v, want NotFoundError", err)
	}
}
