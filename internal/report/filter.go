package report

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/tracelens/tracelens/internal/store"
)

// createFilteredViewQuery builds the temp view that shadows a table
// with its time-restricted subset. Downstream reports depend on the
// boundary semantics of the three-branch overlap predicate; it is not
// a plain interval intersection.
const createFilteredViewQuery = `
	CREATE TEMP VIEW %[1]s AS
		SELECT rowid, *
		FROM main.%[1]s
		WHERE ((start >= %[2]d AND start < %[3]d)
			OR (end >= %[2]d AND end < %[3]d)
			OR (start < %[2]d AND end >= %[3]d))`

// findNVTXRangeQuery locates the first NVTX range event, by ascending
// start time, whose domain-qualified name equals the selector string.
// Event types: 59/70 push/pop, 60/71 start/end, 75 domain create.
const findNVTXRangeQuery = `
	WITH
		domain AS (
			SELECT
				domainId,
				globalTid,
				text
			FROM
				NVTX_EVENTS
			WHERE
				eventType == 75
		)
	SELECT
		nvtx.start,
		nvtx.end,
		nvtx.globalTid
	FROM
		NVTX_EVENTS AS nvtx
	LEFT JOIN
		domain
		ON      nvtx.domainId == domain.domainId
			AND nvtx.globalTid >> 24 == domain.globalTid >> 24
	LEFT JOIN
		StringIds AS sid
		ON nvtx.textId == sid.id
	WHERE
			nvtx.eventType IN (59, 60, 70, 71)
		AND coalesce(nvtx.text, sid.value) || coalesce('@' || domain.text, '') == ?
	ORDER BY 1
	LIMIT 1
`

// findNVTXRange resolves an NVTX selector (rangeText[@domain]) to its
// first matching event's bounds and owning global thread id.
func findNVTXRange(ctx context.Context, st *store.Store, nvtx string) (start, end, globalTid int64, err error) {
	if !st.TableExists("NVTX_EVENTS") {
		return 0, 0, 0, &NotFoundError{
			Message: fmt.Sprintf("NVTX range '%s' could not be found.", nvtx),
		}
	}

	rows, err := st.Query(ctx, findNVTXRangeQuery, nvtx)
	if err != nil {
		return 0, 0, 0, &ScriptError{Message: err.Error()}
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, 0, 0, &ScriptError{Message: err.Error()}
		}
		return 0, 0, 0, &NotFoundError{
			Message: fmt.Sprintf("NVTX range '%s' could not be found.", nvtx),
		}
	}
	if err := rows.Scan(&start, &end, &globalTid); err != nil {
		return 0, 0, 0, &ScriptError{Message: err.Error()}
	}
	return start, end, globalTid, nil
}

// ApplyTimeFilter materializes temp views shadowing every table that
// has both start and end columns, restricted to the requested window.
// A nil bound means unset. An NVTX selector supplies default bounds and
// a thread filter; explicit bounds override the NVTX-derived ones. With
// nothing requested the call is a no-op.
func ApplyTimeFilter(ctx context.Context, st *store.Store, start, end *int64, nvtx string) error {
	if start == nil && end == nil && nvtx == "" {
		return nil
	}

	var globalTid *int64
	var pid, tid int64

	if nvtx != "" {
		nvtxStart, nvtxEnd, gtid, err := findNVTXRange(ctx, st, nvtx)
		if err != nil {
			return err
		}
		if start == nil {
			start = &nvtxStart
		}
		if end == nil {
			end = &nvtxEnd
		}
		globalTid = &gtid
		pid = (gtid >> 24) & 0x00FFFFFF
		tid = gtid & 0x00FFFFFF
	} else {
		var s, e int64 = 0, math.MaxInt64
		if start == nil {
			start = &s
		}
		if end == nil {
			end = &e
		}
	}

	if *start > *end {
		return &NoDataError{Message: "The start time cannot be greater than the end time."}
	}

	// Map iteration order is random; keep view creation deterministic.
	tables := st.Tables()
	sort.Strings(tables)

	for _, table := range tables {
		hasStart, err := st.ColumnExists(ctx, table, "start")
		if err != nil {
			return &ScriptError{Message: err.Error()}
		}
		hasEnd, err := st.ColumnExists(ctx, table, "end")
		if err != nil {
			return &ScriptError{Message: err.Error()}
		}
		if !hasStart || !hasEnd {
			continue
		}

		stmt := fmt.Sprintf(createFilteredViewQuery, table, *start, *end)

		if globalTid != nil {
			hasTid, err := st.ColumnExists(ctx, table, "globalTid")
			if err != nil {
				return &ScriptError{Message: err.Error()}
			}
			hasPid, err := st.ColumnExists(ctx, table, "globalPid")
			if err != nil {
				return &ScriptError{Message: err.Error()}
			}
			switch {
			case hasTid && pid != tid:
				// Push/pop range: scoped to one thread.
				stmt += fmt.Sprintf(" AND globalTid == %d", *globalTid)
			case hasTid:
				// Start/end range: spans the process.
				stmt += fmt.Sprintf(" AND globalTid >> 24 == %d >> 24", *globalTid)
			case hasPid:
				stmt += fmt.Sprintf(" AND globalPid >> 24 == %d >> 24", *globalTid)
			default:
				continue
			}
		}

		if err := st.Execute(ctx, fmt.Sprintf("DROP VIEW IF EXISTS temp.%s", table)); err != nil {
			return &ScriptError{Message: err.Error()}
		}
		if err := st.Execute(ctx, stmt); err != nil {
			return &ScriptError{Message: err.Error()}
		}
	}

	return nil
}
