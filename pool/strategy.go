package pool

import "sync/atomic"

// --------------------------------------------------------------------------
// Selection Strategy
// --------------------------------------------------------------------------

// ISelectionStrategy decides which idle pool member to hand out next. The
// member list passed to Select is never empty.
type ISelectionStrategy interface {
	// Select returns the index of the member to hand out
	Select(members []*Endpoint) int
}

// roundRobinStrategy advances a cursor modulo the member count, wrapping
type roundRobinStrategy struct {
	cursor uint64
}

// NewRoundRobinStrategy creates the default selection strategy
func NewRoundRobinStrategy() ISelectionStrategy {
	return &roundRobinStrategy{}
}

func (s *roundRobinStrategy) Select(members []*Endpoint) int {
	if len(members) == 1 {
		// optimize for single member
		return 0
	}
	return int(atomic.AddUint64(&s.cursor, 1) % uint64(len(members)))
}
