// Package trafficrouter is the external traffic router contract (§6): a
// single operation to move the live traffic split between the old and new
// data planes. Monotonicity is not required — rollback sets it back to 0.
package trafficrouter

import (
	"context"
	"fmt"
)

// Router is the capability the Phase Engine drives during traffic_switching
// and during emergency rollback.
type Router interface {
	SetTrafficPercentage(ctx context.Context, percent int) error
}

// InMemory is a Router for tests and dry runs; it just records the last
// value set and every value it has ever seen, in order.
type InMemory struct {
	Current int
	History []int
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (r *InMemory) SetTrafficPercentage(_ context.Context, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("traffic percentage out of range: %d", percent)
	}
	r.Current = percent
	r.History = append(r.History, percent)
	return nil
}
