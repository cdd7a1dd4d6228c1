// Package sequence tags outbound requests so that only the response to the
// most recently issued request of a kind is applied.
package sequence

import "sync/atomic"

// Guard is a monotonic request counter for one kind of call. Each request
// takes a tag from Next before it is sent; when the response arrives the
// caller applies it only if Latest still reports that tag.
//
// Guard is safe for concurrent use.
type Guard struct {
	seq atomic.Int64
}

// Next issues a new tag. Tags are strictly increasing.
func (g *Guard) Next() int64 {
	return g.seq.Add(1)
}

// Current returns the most recently issued tag, 0 if none.
func (g *Guard) Current() int64 {
	return g.seq.Load()
}

// Latest reports whether tag is still the most recently issued one.
func (g *Guard) Latest(tag int64) bool {
	return g.seq.Load() == tag
}
