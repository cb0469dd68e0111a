package harvest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBudgetPerUnitShare(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(time.Minute * 10)
	budget := &Budget{
		Deadline:  deadline,
		remaining: 5,
		now:       func() time.Time { return now },
	}

	require.Equal(t, time.Minute*2, budget.PerUnit())
	require.Equal(t, now.Add(time.Minute*2), budget.UnitDeadline())

	budget.Consume()
	require.Equal(t, 4, budget.Remaining())
	require.Equal(t, deadline, budget.Deadline, "consuming a unit never moves the absolute deadline")
	require.Equal(t, time.Second*150, budget.PerUnit())
}

func TestBudgetOverrunYieldsZeroShare(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	budget := &Budget{
		Deadline:  now.Add(-time.Minute),
		remaining: 3,
		now:       func() time.Time { return now },
	}

	require.Equal(t, time.Duration(0), budget.PerUnit())
	require.Equal(t, now, budget.UnitDeadline())
}

func TestBudgetCounterNeverNegative(t *testing.T) {
	budget := &Budget{
		Deadline:  time.Now().Add(time.Minute),
		remaining: 1,
		now:       time.Now,
	}
	budget.Consume()
	budget.Consume()
	require.Equal(t, 0, budget.Remaining())
	require.Equal(t, time.Duration(0), budget.PerUnit())
}
