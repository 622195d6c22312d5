package job

import "sync/atomic"

// IDGenerator hands out upload identifiers. Values start at 1 and are never
// reused by the same generator.
type IDGenerator struct {
	last atomic.Uint64
}

func (g *IDGenerator) Next() uint64 {
	return g.last.Add(1)
}
