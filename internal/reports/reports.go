// Package reports holds the built-in report catalog: pluggable
// definitions registered with the engine at init time. Each definition
// carries the SQL text, schema requirements, and options of one
// report; the engine in internal/report stays generic over them.
package reports

import (
	"context"

	"github.com/tracelens/tracelens/internal/report"
)

// NVTX event type discriminators used across the NVTX reports.
const (
	eventTypeNVTXPushPopRange   = 59
	eventTypeNVTXStartEndRange  = 60
	eventTypeNVTXTPushPopRange  = 70
	eventTypeNVTXTStartEndRange = 71
	eventTypeNVTXDomainCreate   = 75
)

const memKindStrsCTE = `
	MemKindStrs (id, name) AS (
	VALUES
		(0,     'Pageable'),
		(1,     'Pinned'),
		(2,     'Device'),
		(3,     'Array'),
		(4,     'Managed'),
		(5,     'Device Static'),
		(6,     'Managed Static'),
		(7,     'Unknown')
	),
`

const memOperStrsCTE = `
	MemcpyOperStrs (id, name) AS (
	VALUES
		(0,     '[CUDA memcpy Unknown]'),
		(1,     '[CUDA memcpy HtoD]'),
		(2,     '[CUDA memcpy DtoH]'),
		(3,     '[CUDA memcpy HtoA]'),
		(4,     '[CUDA memcpy AtoH]'),
		(5,     '[CUDA memcpy AtoA]'),
		(6,     '[CUDA memcpy AtoD]'),
		(7,     '[CUDA memcpy DtoA]'),
		(8,     '[CUDA memcpy DtoD]'),
		(9,     '[CUDA memcpy HtoH]'),
		(10,    '[CUDA memcpy PtoP]'),
		(11,    '[CUDA Unified Memory memcpy HtoD]'),
		(12,    '[CUDA Unified Memory memcpy DtoH]'),
		(13,    '[CUDA Unified Memory memcpy DtoD]')
	),
`

// kernelNameOptions is the base/mangled option pair shared by the
// kernel summary reports.
var kernelNameOptions = []report.Option{
	report.FlagOption("base", "summarize by kernel base name"),
	report.FlagOption("mangled", "summarize by raw mangled kernel name"),
}

// kernelNameColumn picks the kernel name column per the base/mangled
// options. Mangled names only exist in recent trace files, so the
// option silently degrades to demangled names when the column is
// absent.
func kernelNameColumn(ctx context.Context, r *report.Run) (string, error) {
	if r.Args.Bool("base") {
		return "shortName", nil
	}
	if r.Args.Bool("mangled") {
		ok, err := r.Store.ColumnExists(ctx, "CUPTI_ACTIVITY_KIND_KERNEL", "mangledName")
		if err != nil {
			return "", err
		}
		if ok {
			return "mangledName", nil
		}
	}
	return "demangledName", nil
}

const mangledNameNote = `
        Note: the ability to display mangled names is a recent addition to the
        report file format, and requires that the profile data be captured with
        a recent version of the exporter. Re-exporting an existing report file
        is not sufficient. If the raw, mangled kernel name data is not
        available, the default demangled names will be used.`
