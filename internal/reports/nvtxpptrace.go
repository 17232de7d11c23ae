package reports

import (
	"context"
	"fmt"

	"github.com/tracelens/tracelens/internal/interval"
	"github.com/tracelens/tracelens/internal/report"
)

var nvtxPPTraceParentStatements = []string{
	`
    DROP TABLE IF EXISTS temp.NVTX_PARENT
`,
	`
    CREATE TEMP TABLE NVTX_PARENT (
        rangeId         INTEGER PRIMARY KEY   NOT NULL,
        parentId        INTEGER,
        duration        INTEGER,
        childDuration   INTEGER,
        childNumb       INTEGER,
        fullname        TEXT
    );
`,
	// Root ranges have no parent, so all rows go in with a NULL
	// parentId first and the parent links are filled in afterwards.
	fmt.Sprintf(`
    INSERT INTO temp.NVTX_PARENT
        WITH
            domains AS (
                SELECT
                    min(start),
                    domainId AS id,
                    globalTid AS globalTid,
                    text AS name
                FROM
                    NVTX_EVENTS
                WHERE
                    eventType == %[1]d
                GROUP BY 2, 3
            ),
            maxts AS(
                SELECT max(max(start), max(end)) AS m
                FROM   NVTX_EVENTS
            )
        SELECT
            e.rowid AS rangeId,
            NULL AS parentId,
            ifnull(e.end, (SELECT m FROM maxts)) - e.start AS duration,
            0 AS childDuration,
            0 AS childNumb,
            CASE
                WHEN d.name NOT NULL AND sid.value IS NOT NULL
                    THEN d.name || ':' || sid.value
                WHEN d.name NOT NULL AND sid.value IS NULL
                    THEN d.name || ':' || e.text
                WHEN d.name IS NULL AND sid.value NOT NULL
                    THEN sid.value
                ELSE e.text
            END AS fullname
        FROM
            NVTX_EVENTS AS e
        LEFT JOIN
            domains AS d
            ON e.domainId == d.id
                AND (e.globalTid & 0x0000FFFFFF000000) == (d.globalTid & 0x0000FFFFFF000000)
        LEFT JOIN
            StringIds AS sid
            ON e.textId == sid.id
        WHERE
            e.eventType == %[2]d
            OR
            e.eventType == %[3]d
    ;
`,
		eventTypeNVTXDomainCreate,
		eventTypeNVTXPushPopRange,
		eventTypeNVTXTPushPopRange),
}

const nvtxPPTraceRangesQuery = `
    WITH
        maxts AS(
            SELECT max(max(start), max(end)) AS m
            FROM   NVTX_EVENTS
        )
    SELECT
        e.rowid AS rangeId,
        e.start AS startNS,
        ifnull(e.end, (SELECT m FROM maxts)) AS endNS,
        e.globalTid AS tid
    FROM
        NVTX_EVENTS AS e
    WHERE
        e.eventType == %d
        OR
        e.eventType == %d
`

const nvtxPPTraceChildTotalsStatement = `
    WITH
        totals AS (
            SELECT
                parentId AS parentId,
                total(duration) AS childDuration,
                count(*) AS childNumb
            FROM
                NVTX_PARENT
            GROUP BY 1
        )
    UPDATE temp.NVTX_PARENT
        SET (childDuration, childNumb) == (
            SELECT
                childDuration AS childDuration,
                childNumb AS childNumb
            FROM totals
            WHERE totals.parentId == rangeId
        )
    ;
`

const nvtxPPTraceParentIndexStatement = `
    CREATE INDEX IF NOT EXISTS temp.NVTX_PARENT__PARENTID
        ON NVTX_PARENT (parentId)
    ;
`

const nvtxPPTraceQuery = `
WITH RECURSIVE
    tree AS (
        SELECT
            p.rangeId AS rangeId,
            ':' || CAST(p.rangeId AS TEXT) AS rangeIdHier,
            p.parentId AS parentId,
            0 AS level,
            '' AS tab
        FROM
            temp.NVTX_PARENT AS p
        WHERE p.parentId IS NULL

        UNION ALL
        SELECT
            p.rangeId AS rangeId,
            tree.rangeIdHier || ':' || CAST(p.rangeId AS TEXT) AS rangeIdHier,
            p.parentId AS parentId,
            tree.level + 1 AS level,
            tree.tab || '--' AS tab
        FROM
            tree
        JOIN
            temp.NVTX_PARENT AS p
            ON p.parentId == tree.rangeId

        ORDER BY level DESC
    )
SELECT
    ne.start AS "Start:ts_ns",
    ne.start + p.duration AS "End:ts_ns",
    p.duration AS "Duration:dur_ns",
    ifnull(p.childDuration, 0) AS "DurChild:dur_ns",
    p.duration - ifnull(p.childDuration, 0) AS "DurNonChild:dur_ns",
    p.fullname AS "Name",
    (ne.globalTid >> 24) & 0x00FFFFFF AS "PID",
    ne.globalTid & 0x00FFFFFF AS "TID",
    t.level AS "Lvl",
    ifnull(p.childNumb, 0) AS "NumChild",
    ne.rowid AS "RangeId",
    t.parentId AS "ParentId",
    t.rangeIdHier AS "RangeStack",
    t.tab || p.fullname AS "NameTree"
FROM
    NVTX_EVENTS AS ne
JOIN
    temp.NVTX_PARENT AS p
    ON p.rangeId == ne.rowid
JOIN
    tree AS t
    ON t.rangeId == ne.rowid
;
`

// nvtxPPTraceSetup builds temp.NVTX_PARENT and links each push/pop
// range to its tightest enclosing range on the same thread. Candidate
// parents are found with an in-memory interval index keyed by thread,
// then the links are written back before the child totals run.
func nvtxPPTraceSetup(ctx context.Context, r *report.Run) error {
	for _, stmt := range nvtxPPTraceParentStatements {
		if err := r.Store.Execute(ctx, stmt); err != nil {
			return &report.ScriptError{Message: err.Error()}
		}
	}

	rows, err := r.Store.Query(ctx, fmt.Sprintf(nvtxPPTraceRangesQuery,
		eventTypeNVTXPushPopRange, eventTypeNVTXTPushPopRange))
	if err != nil {
		return &report.ScriptError{Message: err.Error()}
	}
	byThread := make(map[int64][]interval.Interval)
	for rows.Next() {
		var id, start, end, tid int64
		if err := rows.Scan(&id, &start, &end, &tid); err != nil {
			rows.Close()
			return &report.ScriptError{Message: err.Error()}
		}
		byThread[tid] = append(byThread[tid], interval.Interval{Start: start, End: end, ID: id})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return &report.ScriptError{Message: err.Error()}
	}
	rows.Close()

	for _, ranges := range byThread {
		tree := interval.New(ranges)
		for _, rng := range ranges {
			parent, ok := tree.TightestEnclosing(rng.Start, rng.End, rng.ID)
			if !ok {
				continue
			}
			err := r.Store.Execute(ctx,
				"UPDATE temp.NVTX_PARENT SET parentId = ? WHERE rangeId = ?",
				parent.ID, rng.ID)
			if err != nil {
				return &report.ScriptError{Message: err.Error()}
			}
		}
	}

	for _, stmt := range []string{nvtxPPTraceChildTotalsStatement, nvtxPPTraceParentIndexStatement} {
		if err := r.Store.Execute(ctx, stmt); err != nil {
			return &report.ScriptError{Message: err.Error()}
		}
	}
	return nil
}

func init() {
	report.MustRegister(&report.Definition{
		Name:        "nvtxpptrace",
		DisplayName: "NVTX Push/Pop Range Trace",
		Usage: `{SCRIPT} -- NVTX Push/Pop Range Trace

    No arguments.

    Output: All time values default to nanoseconds
        Start : Range start timestamp
        End : Range end timestamp
        Duration : Range duration
        DurChild : Duration of all child ranges
        DurNonChild : Duration of this range minus child ranges
        Name : Name of the NVTX range
        PID : Process ID
        TID : Thread ID
        Lvl : Stack level, starts at 0
        NumChild : Number of children ranges
        RangeId : Arbitrary ID for range
        ParentId : Range ID of the enclosing range
        RangeStack : Range IDs that make up the push/pop stack
        NameTree : Range name prefixed with level indicator

    This report provides a trace of NV Tools Extensions Push/Pop Ranges,
    their execution time, stack state, and relationship to other push/pop
    ranges.
`,
		TableChecks: []report.TableCheck{
			{Table: "NVTX_EVENTS", Message: "{DBFILE} does not contain NV Tools Extension (NVTX) data."},
		},
		Setup: nvtxPPTraceSetup,
		Query: nvtxPPTraceQuery,
	})
}
