package harvest

import (
	"time"

	"docharvest/lib/timezone"
)

// Budget is the shared wall-clock allowance of a harvesting run. Each
// unit (one account-level folder of bills) gets an equal share of
// whatever time remains; the share is recomputed before every unit so
// a slow unit shrinks the shares of the ones after it. The budget is
// advisory only: it is handed to the store as a per-call deadline, it
// never cancels in-flight work.
type Budget struct {
	Deadline  time.Time
	remaining int
	now       func() time.Time
}

func NewBudget(deadline time.Time, units int) *Budget {
	return &Budget{
		Deadline:  deadline,
		remaining: units,
		now:       timezone.Now,
	}
}

// Reset sets the remaining-unit counter once the real unit count is
// known, without moving the absolute deadline.
func (b *Budget) Reset(units int) {
	b.remaining = units
}

func (b *Budget) Remaining() int {
	return b.remaining
}

// PerUnit returns the next unit's share of the remaining time. Never
// negative: once the deadline has passed every share is zero and units
// still proceed.
func (b *Budget) PerUnit() time.Duration {
	if b.remaining <= 0 {
		return 0
	}
	left := b.Deadline.Sub(b.now())
	if left < 0 {
		left = 0
	}
	return left / time.Duration(b.remaining)
}

// UnitDeadline converts the next unit's share into an absolute
// advisory deadline.
func (b *Budget) UnitDeadline() time.Time {
	return b.now().Add(b.PerUnit())
}

// Consume marks one unit processed. The counter never goes negative.
func (b *Budget) Consume() {
	if b.remaining > 0 {
		b.remaining--
	}
}
