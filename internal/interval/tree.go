// Package interval provides a static interval-containment index used to
// resolve nesting relationships between trace ranges. Given a set of
// [start,end] intervals it answers "which intervals enclose this one,
// and which of those is the tightest" queries, where tightness is the
// total margin (queryStart-start) + (end-queryEnd).
package interval

import "sort"

// Interval is one indexed range. ID is an opaque caller identifier,
// typically the database rowid of the range event.
type Interval struct {
	Start int64
	End   int64
	ID    int64
}

// Tree is a centered interval tree built once over a fixed set of
// intervals. The zero value is an empty tree. Queries are read-only and
// safe for concurrent use after Build.
type Tree struct {
	root *node
}

type node struct {
	center  int64
	byStart []Interval // intervals crossing center, ascending Start
	byEnd   []Interval // same intervals, descending End
	left    *node
	right   *node
}

// New builds a tree over the given intervals. Intervals with
// Start > End are dropped. The input slice is not retained.
func New(intervals []Interval) *Tree {
	valid := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.Start <= iv.End {
			valid = append(valid, iv)
		}
	}
	return &Tree{root: build(valid)}
}

func build(intervals []Interval) *node {
	if len(intervals) == 0 {
		return nil
	}

	// Median endpoint keeps the tree balanced for clustered traces.
	endpoints := make([]int64, 0, len(intervals)*2)
	for _, iv := range intervals {
		endpoints = append(endpoints, iv.Start, iv.End)
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i] < endpoints[j] })
	center := endpoints[len(endpoints)/2]

	var crossing, left, right []Interval
	for _, iv := range intervals {
		switch {
		case iv.End < center:
			left = append(left, iv)
		case iv.Start > center:
			right = append(right, iv)
		default:
			crossing = append(crossing, iv)
		}
	}

	n := &node{center: center}
	n.byStart = append(n.byStart, crossing...)
	sort.Slice(n.byStart, func(i, j int) bool { return n.byStart[i].Start < n.byStart[j].Start })
	n.byEnd = append(n.byEnd, crossing...)
	sort.Slice(n.byEnd, func(i, j int) bool { return n.byEnd[i].End > n.byEnd[j].End })
	n.left = build(left)
	n.right = build(right)
	return n
}

// Enclosing returns every indexed interval iv with
// iv.Start <= start && iv.End >= end. Order is unspecified.
func (t *Tree) Enclosing(start, end int64) []Interval {
	var out []Interval
	t.root.enclosing(start, end, &out)
	return out
}

func (n *node) enclosing(start, end int64, out *[]Interval) {
	if n == nil {
		return
	}

	// An enclosing interval must contain start, so only the subtree on
	// start's side of the center can hold non-crossing candidates.
	if start <= n.center {
		// Crossing intervals sorted by Start ascending: stop at the
		// first that begins after the query.
		for _, iv := range n.byStart {
			if iv.Start > start {
				break
			}
			if iv.End >= end {
				*out = append(*out, iv)
			}
		}
		n.left.enclosing(start, end, out)
	} else {
		// Query lies right of center: sorted by End descending, stop
		// at the first that ends before the query.
		for _, iv := range n.byEnd {
			if iv.End < end {
				break
			}
			if iv.Start <= start {
				*out = append(*out, iv)
			}
		}
		n.right.enclosing(start, end, out)
	}
}

// TightestEnclosing returns the enclosing interval with the smallest
// total margin, skipping the interval whose ID equals exclude. Ties are
// broken by lower ID to keep results deterministic. The second return
// is false when no enclosing interval exists.
func (t *Tree) TightestEnclosing(start, end, exclude int64) (Interval, bool) {
	var best Interval
	var bestMargin int64
	found := false

	for _, iv := range t.Enclosing(start, end) {
		if iv.ID == exclude {
			continue
		}
		margin := (start - iv.Start) + (iv.End - end)
		if !found || margin < bestMargin || (margin == bestMargin && iv.ID < best.ID) {
			best, bestMargin, found = iv, margin, true
		}
	}
	return best, found
}
