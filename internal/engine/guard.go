package engine

import "sync/atomic"

// generation tags tasks with the engine incarnation that created them.
//
// Dispose advances the generation; a task whose tag no longer matches is a
// leftover callback from a disposed engine and is dropped without running.
type generation struct {
	n atomic.Int64
}

// Current returns the live generation.
func (g *generation) Current() int64 {
	return g.n.Load()
}

// Advance invalidates every task tagged with the current generation.
func (g *generation) Advance() int64 {
	return g.n.Add(1)
}

// Live reports whether a task tagged with tag may still run.
func (g *generation) Live(tag int64) bool {
	return g.n.Load() == tag
}
