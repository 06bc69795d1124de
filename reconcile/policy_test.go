package reconcile_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ahinestrog/openlibrary/reconcile"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func Test_Policy_DueDate(t *testing.T) {
	due := reconcile.DefaultPolicy.DueDate(ts("2024-01-01T00:00:00Z"))
	assert.Equal(t, ts("2024-01-15T00:00:00Z"), due)
}

func Test_Policy_OverdueDays(t *testing.T) {
	due := ts("2024-01-15T00:00:00Z")

	tests := []struct {
		name         string
		effectiveEnd time.Time
		expected     int
	}{
		{"well_before_due", ts("2024-01-10T00:00:00Z"), 0},
		{"exactly_at_due", ts("2024-01-15T00:00:00Z"), 0},
		{"partial_day_does_not_count", ts("2024-01-15T23:59:59Z"), 0},
		{"one_full_day", ts("2024-01-16T00:00:00Z"), 1},
		{"one_day_and_partial", ts("2024-01-16T12:00:00Z"), 1},
		{"five_days", ts("2024-01-20T00:00:00Z"), 5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, reconcile.DefaultPolicy.OverdueDays(due, tc.effectiveEnd))
		})
	}
}

func Test_Policy_Penalty_Uncapped(t *testing.T) {
	p := reconcile.DefaultPolicy

	assert.Equal(t, int64(0), p.Penalty(0))
	assert.Equal(t, int64(0), p.Penalty(-3))
	assert.Equal(t, int64(5000), p.Penalty(1))
	assert.Equal(t, int64(25000), p.Penalty(5))
	// No maximum ceiling: the fine keeps growing with the days.
	assert.Equal(t, int64(5000*10000), p.Penalty(10000))
}

func Test_Policy_Overridable(t *testing.T) {
	p := reconcile.Policy{LoanWindowDays: 7, PenaltyPerDay: 100}

	assert.Equal(t, ts("2024-01-08T00:00:00Z"), p.DueDate(ts("2024-01-01T00:00:00Z")))
	assert.Equal(t, int64(300), p.Penalty(3))
}
