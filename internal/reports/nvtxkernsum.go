package reports

import (
	"context"
	"fmt"
	"strings"

	"github.com/tracelens/tracelens/internal/report"
)

// The range table is rebuilt on every invocation so that a refined time
// filter is reflected in the index.
var nvtxKernStatements = []string{
	`
DROP TABLE IF EXISTS temp.NVTX_EVENTS_RIDX
`,
	`
CREATE TABLE temp.NVTX_EVENTS_RIDX (
    rangeId  INTEGER PRIMARY KEY,
    startNS  INTEGER,
    endNS    INTEGER,
    tid      INTEGER,
    name     TEXT,
    style    TEXT
)
`,
	fmt.Sprintf(`
INSERT INTO temp.NVTX_EVENTS_RIDX
    WITH
        maxts AS(
            SELECT max(max(start), max(end)) AS m
            FROM   NVTX_EVENTS
        ),
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
        )
    SELECT
        e.rowid AS rangeId,
        e.start AS startNS,
        ifnull(e.end, (SELECT m FROM maxts)) AS endNS,
        e.globalTid AS tid,
        CASE
            WHEN d.name NOT NULL AND sid.value IS NOT NULL
                THEN d.name || ':' || sid.value
            WHEN d.name NOT NULL AND sid.value IS NULL
                THEN d.name || ':' || e.text
            WHEN d.name IS NULL AND sid.value NOT NULL
                THEN sid.value
            ELSE e.text
        END AS name,
        CASE e.eventType
            WHEN %[2]d
                THEN 'PushPop'
            WHEN %[3]d
                THEN 'StartEnd'
            WHEN %[4]d
                THEN 'PushPop'
            WHEN %[5]d
                THEN 'StartEnd'
            ELSE 'Unknown'
        END AS style
    FROM
        NVTX_EVENTS AS e
    LEFT JOIN
        Domains AS d
        ON e.domainId == d.id
            AND (e.globalTid & 0x0000FFFFFF000000) == (d.globalTid & 0x0000FFFFFF000000)
    LEFT JOIN
        StringIds AS sid
        ON e.textId == sid.id
    WHERE (
           e.eventType == %[2]d
        OR e.eventType == %[3]d
        OR e.eventType == %[4]d
        OR e.eventType == %[5]d)
        AND e.endGlobalTid IS NULL
`,
		eventTypeNVTXDomainCreate,
		eventTypeNVTXPushPopRange,
		eventTypeNVTXStartEndRange,
		eventTypeNVTXTPushPopRange,
		eventTypeNVTXTStartEndRange),
	`
CREATE INDEX temp.NVTX_EVENTS_RIDX_LOOKUP
    ON NVTX_EVENTS_RIDX (tid, startNS, endNS)
`,
}

const nvtxKernQueryStub = `
WITH
    combo AS (
        SELECT
            rt.name AS name,
            rt.style AS style,
            rt.rangeId AS nvtxid,
            k.rowid AS kernid,
            k.end - k.start AS kduration,
            (r.globalTid >> 24) & 0x00FFFFFF AS pid,
            r.globalTid & 0x00FFFFFF AS tid,
            namestr.value AS kernName
        FROM
            CUPTI_ACTIVITY_KIND_KERNEL AS k
        LEFT JOIN
            StringIds AS namestr
            ON namestr.id == coalesce(k.{NAME_COL_NAME}, k.demangledName)
        LEFT JOIN
            CUPTI_ACTIVITY_KIND_RUNTIME AS r
            ON      k.correlationId == r.correlationId
                AND k.globalPid == (r.globalTid & 0xFFFFFFFFFF000000)
        LEFT JOIN
            temp.NVTX_EVENTS_RIDX AS rt
            ON      rt.startNS <= r.start
                AND rt.endNS >= r.end
                AND rt.tid == r.globalTid
    )
SELECT
    c.name AS "NVTX Range",     -- 1
    c.style AS "Style",         -- 2
    c.pid AS "PID",             -- 3
    c.tid AS "TID",             -- 4
    count(DISTINCT c.nvtxid) AS "NVTX Inst",            -- 5
    count(DISTINCT c.kernid) AS "Kern Inst",            -- 6
    sum(c.kduration) AS "Total Time:dur_ns",            -- 7
    round(avg(c.kduration), 1) AS "Avg:dur_ns",         -- 8
    round(median(c.kduration), 1) AS "Med:dur_ns",      -- 9
    min(c.kduration) AS "Min:dur_ns",                   -- 10
    max(c.kduration) AS "Max:dur_ns",                   -- 11
    round(stdev(c.kduration), 1) AS "StdDev:dur_ns",    -- 12
    c.kernName AS "Kernel Name"                         -- 13
FROM
    combo AS c
-- GROUP BY "PID", "TID", "NVTX Range", "Style", "Kernel Name"
GROUP BY 3, 4, 1, 2, 13
-- ORDER BY "NVTX Range", "PID", "TID", "Total Time" DESC
ORDER BY 1, 3, 4, 7 DESC
`

func init() {
	report.MustRegister(&report.Definition{
		Name:        "nvtxkernsum",
		DisplayName: "NVTX Range Kernel Summary",
		Usage: `{SCRIPT}[:base|:mangled] -- NVTX Range Kernel Summary

    base - Optional argument, if given, will cause summary to be over the
        base name of the CUDA kernel, rather than the templated name.

    mangled - Optional argument, if given, will cause summary to be over the
        raw mangled name of the kernel, rather than the templated name.
` + mangledNameNote + `
    Output: All time values default to nanoseconds
        NVTX Range : Name of the range
        Style : Range style; Start/End or Push/Pop
        PID : Process ID for this set of ranges and kernels
        TID : Thread ID for this set of ranges and kernels
        NVTX Inst : Number of NVTX range instances
        Kern Inst : Number of CUDA kernel instances
        Total Time : Total time used by all kernel instances of this range
        Avg : Average execution time of the kernel
        Med : Median execution time of the kernel
        Min : Smallest execution time of the kernel
        Max : Largest execution time of the kernel
        StdDev : Standard deviation of the execution time of the kernel
        Kernel Name : Name of the kernel

    This report provides a summary of CUDA kernels, grouped by NVTX ranges. To
    compute this summary, each kernel is matched to one or more containing NVTX
    range in the same process and thread ID. A kernel is considered to be
    "contained" by an NVTX range if the CUDA API call used to launch the kernel
    is within the NVTX range.  The actual execution of the kernel may last
    longer than the NVTX range.  A specific kernel instance may be associated
    with more than one NVTX range if the ranges overlap.  For example, if a
    kernel is launched inside a stack of push/pop ranges, the kernel is
    considered to be "contained" by all of the ranges on the stack, not just
    the deepest range.  This becomes very confusing if NVTX ranges appear
    inside other NVTX ranges of the same name.

    Once each kernel is associated to one or more NVTX range(s), the list of
    ranges and kernels grouped by range name, kernel name, and PID/TID.  A
    summary of the kernel instances and their execution times is then computed.
    The "NVTX Inst" column indicates how many NVTX range instances contained
    this kernel, while the "Kern Inst" column indicates the number of kernel
    instances in the summary line.
`,
		Options: kernelNameOptions,
		TableChecks: []report.TableCheck{
			{Table: "NVTX_EVENTS", Message: "{DBFILE} does not contain NV Tools Extension (NVTX) data."},
			{Table: "CUPTI_ACTIVITY_KIND_KERNEL", Message: "{DBFILE} does not contain CUDA kernel data."},
			{Table: "CUPTI_ACTIVITY_KIND_RUNTIME", Message: "{DBFILE} does not contain CUDA API data."},
		},
		Statements: nvtxKernStatements,
		Setup: func(ctx context.Context, r *report.Run) error {
			col, err := kernelNameColumn(ctx, r)
			if err != nil {
				return err
			}
			r.SetQuery(strings.ReplaceAll(nvtxKernQueryStub, "{NAME_COL_NAME}", col))
			return nil
		},
	})
}
