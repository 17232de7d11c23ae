package reports

import (
	"context"
	"strings"

	"github.com/tracelens/tracelens/internal/report"
)

const gpuSumQueryStub = `
WITH
    {MEM_OPER_STRS_CTE}
    gpuops AS (
        {GPU_SUB_QUERY}
    ),
    summary AS (
        SELECT
            name AS name,
            category AS category,
            sum(duration) AS total,
            count(*) AS num,
            avg(duration) AS avg,
            median(duration) AS med,
            min(duration) AS min,
            max(duration) AS max,
            stdev(duration) AS stddev
        FROM
            gpuops
        GROUP BY 1
    ),
    totals AS (
        SELECT sum(total) AS total
        FROM summary
    )
SELECT
    round(summary.total * 100.0 / (SELECT total FROM totals), 1) AS "Time:ratio_%",
    summary.total AS "Total Time:dur_ns",
    summary.num AS "Instances",
    round(summary.avg, 1) AS "Avg:dur_ns",
    round(summary.med, 1) AS "Med:dur_ns",
    summary.min AS "Min:dur_ns",
    summary.max AS "Max:dur_ns",
    round(summary.stddev, 1) AS "StdDev:dur_ns",
    summary.category AS "Category",
    summary.name AS "Operation"
FROM
    summary
ORDER BY 2 DESC
;
`

const gpuSumKernelQuery = `
        SELECT
            str.value AS name,
            kern.end - kern.start AS duration,
            'CUDA_KERNEL' AS category
        FROM
            CUPTI_ACTIVITY_KIND_KERNEL AS kern
        LEFT OUTER JOIN
            StringIds AS str
            ON str.id == coalesce(kern.{NAME_COL_NAME}, kern.demangledName)
`

const gpuSumMemcpyQuery = `
        SELECT
            mos.name AS name,
            mcpy.end - mcpy.start AS duration,
            'MEMORY_OPER' AS category
        FROM
            CUPTI_ACTIVITY_KIND_MEMCPY as mcpy
        JOIN
            MemcpyOperStrs AS mos
            ON mos.id == mcpy.copyKind
`

const gpuSumMemsetQuery = `
        SELECT
            '[CUDA memset]' AS name,
            end - start AS duration,
            'MEMORY_OPER' AS category
        FROM
            CUPTI_ACTIVITY_KIND_MEMSET
`

const queryUnionAll = `
        UNION ALL
`

func init() {
	report.MustRegister(&report.Definition{
		Name:        "gpusum",
		DisplayName: "GPU Summary (kernels + memory operations)",
		Usage: `{SCRIPT}[:base|:mangled] -- GPU Summary (kernels + mem ops)

    base - Optional argument, if given, will cause summary to be over the
        base name of the kernel, rather than the templated name.

    mangled - Optional argument, if given, will cause summary to be over the
        raw mangled name of the kernel, rather than the templated name.
` + mangledNameNote + `

    Output: All time values default to nanoseconds
        Time : Percentage of "Total Time"
        Total Time : Total time used by all executions of this object
        Instances: Number of executions of this object
        Avg : Average execution time of this object
        Med : Median execution time of this object
        Min : Smallest execution time of this object
        Max : Largest execution time of this object
        StdDev : Standard deviation of execution time of this object
        Category : Category of the operation
        Operation : Name of the kernel or memory operation

    This report provides a summary of CUDA kernels and memory operations,
    and their execution times. Note that the "Time" column is calculated
    using a summation of the "Total Time" column, and represents that
    object's percent of the execution time of the objects listed, and not
    a percentage of the application wall or CPU execution time.
`,
		Options: kernelNameOptions,
		Setup: func(ctx context.Context, r *report.Run) error {
			var subQueries []string

			if r.Store.TableExists("CUPTI_ACTIVITY_KIND_KERNEL") {
				nameCol, err := kernelNameColumn(ctx, r)
				if err != nil {
					return err
				}
				subQueries = append(subQueries,
					strings.ReplaceAll(gpuSumKernelQuery, "{NAME_COL_NAME}", nameCol))
			}
			if r.Store.TableExists("CUPTI_ACTIVITY_KIND_MEMCPY") {
				subQueries = append(subQueries, gpuSumMemcpyQuery)
			}
			if r.Store.TableExists("CUPTI_ACTIVITY_KIND_MEMSET") {
				subQueries = append(subQueries, gpuSumMemsetQuery)
			}
			if len(subQueries) == 0 {
				return &report.NoDataError{Message: "{DBFILE} does not contain GPU trace data."}
			}

			query := strings.ReplaceAll(gpuSumQueryStub, "{MEM_OPER_STRS_CTE}", memOperStrsCTE)
			query = strings.ReplaceAll(query, "{GPU_SUB_QUERY}",
				strings.Join(subQueries, queryUnionAll))
			r.SetQuery(query)
			return nil
		},
	})
}
