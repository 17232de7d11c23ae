package reports

import (
	"context"
	"fmt"
	"strings"

	"github.com/tracelens/tracelens/internal/report"
)

// filterOptionsUsage documents the options FilterBase gives every rule.
const filterOptionsUsage = `
    Options:
        rows=<limit> - Maximum number of rows returned by the query.
            Default is {ROW_LIMIT}.

        start=<time> - Start time used for filtering in nanoseconds.

        end=<time> - End time used for filtering in nanoseconds.

        nvtx=<range[@domain]> - NVTX range text and domain used for filtering.
            Do not specify the domain for ranges in the default domain.
            Note that only the first matching record will be considered. If
            this option is used along with the 'start' and/or 'end' options,
            the explicit start/end times will override the NVTX range times.
`

const syncAPIQueryStub = `
    WITH
        sid AS (
            SELECT
                *
            FROM
                StringIds
            WHERE
                   value like 'cudaDeviceSynchronize%'
                OR value like 'cudaStreamSynchronize%'
        )
    SELECT
        runtime.end - runtime.start AS "Duration:dur_ns",
        runtime.start AS "Start:ts_ns",
        (runtime.globalTid >> 24) & 0x00FFFFFF AS "PID",
        runtime.globalTid & 0xFFFFFF AS "TID",
        sid.value AS "API Name",
        runtime.globalTid AS "_Global ID",
        'cuda' AS "_API"
    FROM
        CUPTI_ACTIVITY_KIND_RUNTIME AS runtime
    JOIN
        sid
        ON sid.id == runtime.nameId
    ORDER BY
        1 DESC
    LIMIT {ROW_LIMIT}
`

const syncMemcpyQueryStub = `
    WITH
        {MEM_KIND_STRS_CTE}
        sid AS (
            SELECT
                *
            FROM
                StringIds
            WHERE
                value LIKE 'cudaMemcpy%'
                AND value NOT LIKE '%Async%'
        ),
        memcpy AS (
            SELECT
                *
            FROM
                CUPTI_ACTIVITY_KIND_MEMCPY
            WHERE
                    NOT (bytes <= 64000 AND copyKind == 1)
                AND NOT (srcDeviceId IS NOT NULL AND srcDeviceId == dstDeviceId)
        )
    SELECT
        memcpy.end - memcpy.start AS "Duration:dur_ns",
        memcpy.start AS "Start:ts_ns",
        msrck.name AS "Src Kind",
        mdstk.name AS "Dst Kind",
        memcpy.bytes AS "Bytes:mem_B",
        (memcpy.globalPid >> 24) & 0x00FFFFFF AS "PID",
        memcpy.deviceId AS "Device ID",
        memcpy.contextId AS "Context ID",
        memcpy.streamId AS "Stream ID",
        sid.value AS "API Name",
        memcpy.globalPid AS "_Global ID",
        memcpy.copyKind AS "_Copy Kind",
        'cuda' AS "_API"
    FROM
        memcpy
    JOIN
        sid
        ON sid.id == runtime.nameId
    JOIN
        main.CUPTI_ACTIVITY_KIND_RUNTIME AS runtime
        ON runtime.correlationId == memcpy.correlationId
    LEFT JOIN
        MemKindStrs AS msrck
        ON srcKind == msrck.id
    LEFT JOIN
        MemKindStrs AS mdstk
        ON dstKind == mdstk.id
    ORDER BY
        1 DESC
    LIMIT {ROW_LIMIT}
`

const syncMemsetQueryStub = `
    WITH
        {MEM_KIND_STRS_CTE}
        sid AS (
            SELECT
                *
            FROM
                StringIds
            WHERE
                    value LIKE 'cudaMemset%'
                AND value NOT LIKE '%async%'
        ),
        memset AS (
            SELECT
                *
            FROM
                CUPTI_ACTIVITY_KIND_MEMSET
            WHERE
                   memKind == 1
                OR memKind == 4
        )
    SELECT
        memset.end - memset.start AS "Duration:dur_ns",
        memset.start AS "Start:ts_ns",
        mk.name AS "Memory Kind",
        memset.bytes AS "Bytes:mem_B",
        (memset.globalPid >> 24) & 0x00FFFFFF AS "PID",
        memset.deviceId AS "Device ID",
        memset.contextId AS "Context ID",
        memset.streamId AS "Stream ID",
        sid.value AS "API Name",
        memset.globalPid AS "_Global ID",
        'cuda' AS "_API"
    FROM
        memset
    JOIN
        sid
        ON sid.id == runtime.nameId
    JOIN
        main.CUPTI_ACTIVITY_KIND_RUNTIME AS runtime
        ON runtime.correlationId == memset.correlationId
    LEFT JOIN
        MemKindStrs AS mk
        ON memKind == mk.id
    ORDER BY
        1 DESC
    LIMIT {ROW_LIMIT}
`

// rowLimitSetup substitutes the memory kind CTE and the effective row
// limit into a rule query stub.
func rowLimitSetup(stub string) func(context.Context, *report.Run) error {
	return func(ctx context.Context, r *report.Run) error {
		query := strings.ReplaceAll(stub, "{MEM_KIND_STRS_CTE}", memKindStrsCTE)
		query = strings.ReplaceAll(query, "{ROW_LIMIT}", fmt.Sprint(r.RowLimit))
		r.SetQuery(query)
		return nil
	}
}

const missingCUDARuntimeMsg = "{DBFILE} could not be analyzed because it does not contain the required CUDA data." +
	" Does the application use CUDA runtime APIs?"

func init() {
	report.MustRegister(&report.Definition{
		Name:        "cudasyncapi",
		DisplayName: "CUDA Synchronization APIs",
		Base:        report.FilterBase,
		Usage: `{SCRIPT}[:options...] -- Synchronous APIs
` + filterOptionsUsage + `
    Output: All time values default to nanoseconds
        Duration : Duration of the synchronization event
        Start : Start time of the synchronization event
        PID : Process identifier
        TID : Thread identifier
        API Name : Runtime API function name

    This rule identifies the following synchronization APIs that block the
    host until the issued CUDA calls are complete:
    - cudaDeviceSynchronize()
    - cudaStreamSynchronize()
`,
		Advice: "The following are synchronization APIs that block the" +
			" host until all issued CUDA calls are complete.\n\n" +
			"Suggestions:\n" +
			"   1. Avoid excessive use of synchronization.\n" +
			"   2. Use asynchronous CUDA event calls, such as cudaStreamWaitEvent()" +
			" and cudaEventSynchronize(), to prevent host synchronization.",
		NoResult: "There were no problems detected related to" +
			" synchronization APIs.",
		TableChecks: []report.TableCheck{
			{Table: "CUPTI_ACTIVITY_KIND_RUNTIME", Message: missingCUDARuntimeMsg},
		},
		Setup: rowLimitSetup(syncAPIQueryStub),
	})

	report.MustRegister(&report.Definition{
		Name:        "cudasyncmemcpy",
		DisplayName: "CUDA Synchronous Memcpy",
		Base:        report.FilterBase,
		Usage: `{SCRIPT}[:options...] -- Synchronous Memcpy
` + filterOptionsUsage + `
    Output: All time values default to nanoseconds
        Duration : Duration of memcpy on GPU
        Start : Start time of memcpy on GPU
        Src Kind : Memcpy source memory kind
        Dst Kind : Memcpy destination memory kind
        Bytes : Number of bytes transferred
        PID : Process identifier
        Device ID : GPU device identifier
        Context ID : Context identifier
        Stream ID : Stream identifier
        API Name : Runtime API function name

    This rule identifies memory transfers that are synchronous. It does not
    include cudaMemcpy*() (no Async suffix) occurred within the same device as
    well as H2D copy kind with a memory block of 64 KB or less.
`,
		Advice: "The following are synchronous memory transfers that" +
			" block the host. This does not include host to device transfers of a" +
			" memory block of 64 KB or less.\n\n" +
			"Suggestion: Use cudaMemcpy*Async() APIs instead.",
		NoResult: "There were no problems detected related to" +
			" synchronous memcpy operations.",
		TableChecks: []report.TableCheck{
			{Table: "CUPTI_ACTIVITY_KIND_RUNTIME", Message: missingCUDARuntimeMsg},
			{Table: "CUPTI_ACTIVITY_KIND_MEMCPY", Message: "{DBFILE} could not be analyzed because it does not contain the required CUDA data." +
				" Does the application use CUDA memcpy APIs?"},
		},
		Setup: rowLimitSetup(syncMemcpyQueryStub),
	})

	report.MustRegister(&report.Definition{
		Name:        "cudasyncmemset",
		DisplayName: "CUDA Synchronous Memset",
		Base:        report.FilterBase,
		Usage: `{SCRIPT}[:options...] -- Synchronous Memset
` + filterOptionsUsage + `
    Output: All time values default to nanoseconds
        Duration : Duration of memset on GPU
        Start : Start time of memset on GPU
        Memory Kind : Type of memory being set
        Bytes : Number of bytes set
        PID : Process identifier
        Device ID : GPU device identifier
        Context ID : Context identifier
        Stream ID : Stream identifier
        API Name : Runtime API function name

    This rule identifies synchronous memset operations with pinned host memory
    or Unified Memory region.
`,
		Advice: "The following are synchronization APIs that block the" +
			" host until all issued CUDA calls are complete.\n\n" +
			"Suggestions:\n" +
			"   1. Avoid excessive use of synchronization.\n" +
			"   2. Use asynchronous CUDA event calls, such as cudaStreamWaitEvent()" +
			" and cudaEventSynchronize(), to prevent host synchronization.",
		NoResult: "There were no problems detected related to" +
			" synchronization APIs.",
		TableChecks: []report.TableCheck{
			{Table: "CUPTI_ACTIVITY_KIND_RUNTIME", Message: missingCUDARuntimeMsg},
			{Table: "CUPTI_ACTIVITY_KIND_MEMSET", Message: "{DBFILE} could not be analyzed because it does not contain the required CUDA data." +
				" Does the application use CUDA memset APIs?"},
		},
		Setup: rowLimitSetup(syncMemsetQueryStub),
	})
}
