package store

import (
	"math"
	"sort"

	"github.com/mattn/go-sqlite3"
)

// registerFunctions installs the SQL functions the report catalog
// depends on. The trace exporter's own shell ships median/stdev as an
// extension, so queries ported from it assume all three exist.
func registerFunctions(conn *sqlite3.SQLiteConn) error {
	if err := conn.RegisterAggregator("unique_duration", newUniqueDuration, true); err != nil {
		return err
	}
	if err := conn.RegisterAggregator("median", newMedian, true); err != nil {
		return err
	}
	return conn.RegisterAggregator("stdev", newStdev, true)
}

type segment struct {
	start, end int64
}

// uniqueDuration is an aggregate over (start, end) pairs that computes
// the total time covered by at least one interval, counting overlapping
// spans only once. Intervals may arrive in any order.
type uniqueDuration struct {
	segments []segment
}

func newUniqueDuration() *uniqueDuration {
	return &uniqueDuration{}
}

// Step merges one interval into the running set of disjoint segments.
// Degenerate or inverted intervals are ignored. Every existing segment
// that overlaps or touches the new interval is absorbed into it.
func (u *uniqueDuration) Step(start, end int64) {
	if start >= end {
		return
	}

	newStart, newEnd := start, end
	kept := u.segments[:0]
	for _, s := range u.segments {
		if start <= s.end && end >= s.start {
			if s.start < newStart {
				newStart = s.start
			}
			if s.end > newEnd {
				newEnd = s.end
			}
		} else {
			kept = append(kept, s)
		}
	}
	u.segments = append(kept, segment{start: newStart, end: newEnd})
}

// Done returns the summed length of the disjoint segments and resets
// the aggregate for reuse.
func (u *uniqueDuration) Done() int64 {
	var dur int64
	for _, s := range u.segments {
		dur += s.end - s.start
	}
	u.segments = nil
	return dur
}

type median struct {
	values []float64
}

func newMedian() *median {
	return &median{}
}

func (m *median) Step(v float64) {
	m.values = append(m.values, v)
}

func (m *median) Done() float64 {
	n := len(m.values)
	if n == 0 {
		return 0
	}
	sort.Float64s(m.values)
	if n%2 == 1 {
		return m.values[n/2]
	}
	return (m.values[n/2-1] + m.values[n/2]) / 2
}

// stdev computes the sample standard deviation with Welford's online
// update, matching the exporter's extension function.
type stdev struct {
	n    int64
	mean float64
	m2   float64
}

func newStdev() *stdev {
	return &stdev{}
}

func (s *stdev) Step(v float64) {
	s.n++
	delta := v - s.mean
	s.mean += delta / float64(s.n)
	s.m2 += delta * (v - s.mean)
}

func (s *stdev) Done() float64 {
	if s.n < 2 {
		return 0
	}
	return math.Sqrt(s.m2 / float64(s.n-1))
}
