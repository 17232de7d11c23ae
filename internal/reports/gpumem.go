package reports

import (
	"context"
	"strings"

	"github.com/tracelens/tracelens/internal/report"
)

const gpuMemTimeQueryStub = `
WITH
    {MEM_OPER_STRS_CTE}
    memops AS (
        {MEM_SUB_QUERY}
    ),
    summary AS (
        SELECT
            name AS name,
            sum(duration) AS total,
            count(*) AS num,
            avg(duration) AS avg,
            median(duration) AS med,
            min(duration) AS min,
            max(duration) AS max,
            stdev(duration)AS stddev
        FROM
            memops
        GROUP BY 1
    ),
    totals AS (
        SELECT sum(total) AS total
        FROM summary
    )
SELECT
    round(summary.total * 100.0 / (SELECT total FROM totals), 1) AS "Time:ratio_%",
    summary.total AS "Total Time:dur_ns",
    summary.num AS "Count",
    round(summary.avg, 1) AS "Avg:dur_ns",
    round(summary.med, 1) AS "Med:dur_ns",
    summary.min AS "Min:dur_ns",
    summary.max AS "Max:dur_ns",
    round(summary.stddev, 1) AS "StdDev:dur_ns",
    summary.name AS "Operation"
FROM
    summary
ORDER BY 2 DESC
;
`

const gpuMemTimeMemcpyQuery = `
        SELECT
            mos.name AS name,
            mcpy.end - mcpy.start AS duration
        FROM
            CUPTI_ACTIVITY_KIND_MEMCPY as mcpy
        INNER JOIN
            MemcpyOperStrs AS mos
            ON mos.id == mcpy.copyKind
`

const gpuMemTimeMemsetQuery = `
        SELECT
            '[CUDA memset]' AS name,
            end - start AS duration
        FROM
            CUPTI_ACTIVITY_KIND_MEMSET
`

const gpuMemSizeQueryStub = `
WITH
    {MEM_OPER_STRS_CTE}
    memops AS (
        {MEM_SUB_QUERY}
    ),
    summary AS (
        SELECT
            name AS name,
            sum(size) AS total,
            count(*) AS num,
            avg(size) AS avg,
            median(size) AS med,
            min(size) AS min,
            max(size) AS max,
            stdev(size) AS stddev
        FROM memops
        GROUP BY 1
    )
SELECT
    summary.total AS "Total:mem_B",
    summary.num AS "Count",
    summary.avg AS "Avg:mem_B",
    summary.med AS "Med:mem_B",
    summary.min AS "Min:mem_B",
    summary.max AS "Max:mem_B",
    summary.stddev AS "StdDev:mem_B",
    summary.name AS "Operation"
FROM
    summary
ORDER BY 1 DESC
;
`

const gpuMemSizeMemcpyQuery = `
        SELECT
            mos.name AS name,
            mcpy.bytes AS size
        FROM
            CUPTI_ACTIVITY_KIND_MEMCPY as mcpy
        INNER JOIN
            MemcpyOperStrs AS mos
            ON mos.id == mcpy.copyKind
`

const gpuMemSizeMemsetQuery = `
        SELECT
            '[CUDA memset]' AS name,
            bytes AS size
        FROM
            CUPTI_ACTIVITY_KIND_MEMSET
`

// memOpsSetup builds the memcpy/memset union the two memory summaries
// share, differing only in the per-table sub-queries.
func memOpsSetup(stub, memcpyQuery, memsetQuery string) func(context.Context, *report.Run) error {
	return func(ctx context.Context, r *report.Run) error {
		var subQueries []string

		if r.Store.TableExists("CUPTI_ACTIVITY_KIND_MEMCPY") {
			subQueries = append(subQueries, memcpyQuery)
		}
		if r.Store.TableExists("CUPTI_ACTIVITY_KIND_MEMSET") {
			subQueries = append(subQueries, memsetQuery)
		}
		if len(subQueries) == 0 {
			return &report.NoDataError{Message: "{DBFILE} does not contain GPU memory data."}
		}

		query := strings.ReplaceAll(stub, "{MEM_OPER_STRS_CTE}", memOperStrsCTE)
		query = strings.ReplaceAll(query, "{MEM_SUB_QUERY}",
			strings.Join(subQueries, queryUnionAll))
		r.SetQuery(query)
		return nil
	}
}

func init() {
	report.MustRegister(&report.Definition{
		Name:        "gpumemtimesum",
		DisplayName: "GPU MemOps Summary (by Time)",
		Usage: `{SCRIPT} -- GPU Memory Operations Summary (by Time)

    No arguments.

    Output: All time values default to nanoseconds
        Time : Percentage of "Total Time"
        Total Time : Total time used by all executions of this operation
        Count : Number of operations to this type
        Avg : Average execution time of this operation
        Med : Median execution time of this operation
        Min : Smallest execution time of this operation
        Max : Largest execution time of this operation
        StdDev : Standard deviation of execution time of this operation
        Operation : Name of the memory operation

    This report provides a summary of GPU memory operations and
    their execution times. Note that the "Time" column is calculated
    using a summation of the "Total Time" column, and represents that
    operation's percent of the execution time of the operations listed,
    and not a percentage of the application wall or CPU execution time.
`,
		Setup: memOpsSetup(gpuMemTimeQueryStub, gpuMemTimeMemcpyQuery, gpuMemTimeMemsetQuery),
	})

	report.MustRegister(&report.Definition{
		Name:        "gpumemsizesum",
		DisplayName: "GPU MemOps Summary (by Size)",
		Usage: `{SCRIPT} -- GPU Memory Operations Summary (by Size)

    No arguments.

    Output:
        Total : Total memory utilized by this operation
        Count : Number of executions of this operation
        Avg : Average memory size of this operation
        Med : Median memory size of this operation
        Min : Smallest memory size of this operation
        Max : Largest memory size of this operation
        StdDev : Standard deviation of the memory size of this operation
        Name : Name of the operation

    This report provides a summary of GPU memory operations and
    the amount of memory they utilize.
`,
		Setup: memOpsSetup(gpuMemSizeQueryStub, gpuMemSizeMemcpyQuery, gpuMemSizeMemsetQuery),
	})
}
