package subscription

import (
	"testing"
	"time"

	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvancePeriod(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	tests := []struct {
		name       string
		start      time.Time
		cycleDays  int
		wantStart  time.Time
		wantCycles int
	}{
		{
			name:       "current cycle is untouched",
			start:      now.Add(-10 * day),
			cycleDays:  30,
			wantStart:  now.Add(-10 * day),
			wantCycles: 0,
		},
		{
			name:       "one missed cycle",
			start:      now.Add(-35 * day),
			cycleDays:  30,
			wantStart:  now.Add(-5 * day),
			wantCycles: 1,
		},
		{
			name:       "long dormancy advances whole multiples",
			start:      now.Add(-200 * day),
			cycleDays:  30,
			wantStart:  now.Add(-20 * day),
			wantCycles: 6,
		},
		{
			name:       "boundary instant is stale",
			start:      now.Add(-30 * day),
			cycleDays:  30,
			wantStart:  now,
			wantCycles: 1,
		},
		{
			name:       "start in the future",
			start:      now.Add(day),
			cycleDays:  30,
			wantStart:  now.Add(day),
			wantCycles: 0,
		},
		{
			name:       "non positive cycle never advances",
			start:      now.Add(-100 * day),
			cycleDays:  0,
			wantStart:  now.Add(-100 * day),
			wantCycles: 0,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			gotStart, gotCycles := AdvancePeriod(tt.start, tt.cycleDays, now)
			assert.True(t, tt.wantStart.Equal(gotStart), "want %s got %s", tt.wantStart, gotStart)
			assert.Equal(t, tt.wantCycles, gotCycles)
			if tt.cycleDays > 0 && gotCycles > 0 {
				assert.True(t, now.Before(gotStart.Add(time.Duration(tt.cycleDays)*day)))
				assert.False(t, now.Before(gotStart))
			}
		})
	}
}

func TestSubscriptionRollover(t *testing.T) {
	now := time.Now().UTC()
	sub := &Subscription{
		ID:                 "subs_1",
		TenantID:           "t1",
		MonthlyLimit:       100,
		CurrentCount:       42,
		CycleDays:          30,
		PeriodStart:        now.Add(-35 * 24 * time.Hour),
		SubscriptionStatus: types.SubscriptionStatusActive,
	}

	require.True(t, sub.IsStale(now))
	assert.Equal(t, 1, sub.Rollover(now))
	assert.Equal(t, int64(0), sub.CurrentCount)
	assert.False(t, sub.IsStale(now))

	start := sub.PeriodStart
	assert.Equal(t, 0, sub.Rollover(now), "second rollover at the same instant is a no-op")
	assert.True(t, start.Equal(sub.PeriodStart))
}

func TestSubscriptionRemaining(t *testing.T) {
	sub := &Subscription{MonthlyLimit: 50, CurrentCount: 49}
	assert.Equal(t, int64(1), sub.Remaining())
	assert.True(t, sub.HasCapacity())

	sub.CurrentCount = 60
	assert.Equal(t, int64(0), sub.Remaining())
	assert.False(t, sub.HasCapacity())

	unlimited := &Subscription{MonthlyLimit: types.UnlimitedTickets, CurrentCount: 1_000_000}
	assert.Equal(t, types.UnlimitedRemaining, unlimited.Remaining())
	assert.True(t, unlimited.HasCapacity())
}

func TestSubscriptionValidate(t *testing.T) {
	valid := &Subscription{
		ID:           "subs_1",
		TenantID:     "t1",
		MonthlyLimit: 10,
		CycleDays:    30,
		PeriodStart:  time.Now(),
	}
	require.NoError(t, valid.Validate())

	corrupt := valid.Clone()
	corrupt.CycleDays = 0
	assert.True(t, ierr.IsInvalidState(corrupt.Validate()))

	corrupt = valid.Clone()
	corrupt.PeriodStart = time.Time{}
	assert.True(t, ierr.IsInvalidState(corrupt.Validate()))

	corrupt = valid.Clone()
	corrupt.MonthlyLimit = -7
	assert.True(t, ierr.IsInvalidState(corrupt.Validate()))
}

func TestSubscriptionCloneIsDeep(t *testing.T) {
	end := time.Now()
	sub := &Subscription{ID: "subs_1", EndDate: &end}
	clone := sub.Clone()
	*clone.EndDate = end.Add(time.Hour)
	assert.True(t, sub.EndDate.Equal(end))
}
