package profiles

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func TestSinglePeriodProfile(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(-10 * time.Second)
	list := Add(nil, Profile{
		ID:         1,
		StackLevel: 0,
		Purpose:    PurposeTxProfile,
		Kind:       KindAbsolute,
		Schedule: Schedule{
			Duration:         intPtr(3600),
			StartSchedule:    &start,
			ChargingRateUnit: RateUnitAmps,
			Periods:          []SchedulePeriod{{StartPeriod: 0, Limit: 16}},
		},
	})

	res := Evaluate(list, now, nil)
	require.NotNil(t, res)
	assert.Equal(t, 16.0, res.Limit)
	assert.Equal(t, RateUnitAmps, res.Unit)

	// AC single phase at 230 V: 230 * 16 = 3680 W.
	assert.InDelta(t, 3680, LimitToWatts(res, "AC", 230, 1), 0.001)
}

func TestMultiPeriodSelection(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(-90 * time.Second)
	list := Add(nil, Profile{
		ID:   2,
		Kind: KindAbsolute,
		Schedule: Schedule{
			Duration:         intPtr(3600),
			StartSchedule:    &start,
			ChargingRateUnit: RateUnitWatts,
			Periods: []SchedulePeriod{
				{StartPeriod: 0, Limit: 11000},
				{StartPeriod: 60, Limit: 7400},
				{StartPeriod: 300, Limit: 3700},
			},
		},
	})

	res := Evaluate(list, now, nil)
	require.NotNil(t, res)
	// 90s in: period starting at 60s applies (next one starts at 300s).
	assert.Equal(t, 7400.0, res.Limit)

	// Past the last period boundary the final limit holds.
	res = Evaluate(list, start.Add(2000*time.Second), nil)
	require.NotNil(t, res)
	assert.Equal(t, 3700.0, res.Limit)
}

func TestExpiredAndFutureProfilesInactive(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	past := now.Add(-2 * time.Hour)
	future := now.Add(time.Hour)
	list := Add(nil, Profile{
		ID: 3, Kind: KindAbsolute,
		Schedule: Schedule{
			Duration: intPtr(3600), StartSchedule: &past,
			ChargingRateUnit: RateUnitWatts,
			Periods:          []SchedulePeriod{{StartPeriod: 0, Limit: 10}},
		},
	})
	list = Add(list, Profile{
		ID: 4, Kind: KindAbsolute,
		Schedule: Schedule{
			Duration: intPtr(3600), StartSchedule: &future,
			ChargingRateUnit: RateUnitWatts,
			Periods:          []SchedulePeriod{{StartPeriod: 0, Limit: 20}},
		},
	})

	assert.Nil(t, Evaluate(list, now, nil))
}

func TestRecurringDailyShifts(t *testing.T) {
	now := time.Date(2024, 6, 10, 8, 30, 0, 0, time.UTC)
	// Scheduled days ago at 08:00 daily for one hour.
	orig := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	list := Add(nil, Profile{
		ID: 5, Kind: KindRecurring, Recurrency: RecurrencyDaily,
		Schedule: Schedule{
			Duration: intPtr(3600), StartSchedule: &orig,
			ChargingRateUnit: RateUnitWatts,
			Periods:          []SchedulePeriod{{StartPeriod: 0, Limit: 5000}},
		},
	})

	res := Evaluate(list, now, nil)
	require.NotNil(t, res)
	assert.Equal(t, 5000.0, res.Limit)

	// Outside today's window the profile is inactive.
	assert.Nil(t, Evaluate(list, now.Add(2*time.Hour), nil))
}

func TestRelativeProfileAnchorsOnTransaction(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	txStart := now.Add(-30 * time.Second)
	list := Add(nil, Profile{
		ID: 6, Kind: KindRelative,
		Schedule: Schedule{
			Duration:         intPtr(60),
			ChargingRateUnit: RateUnitWatts,
			Periods:          []SchedulePeriod{{StartPeriod: 0, Limit: 9000}},
		},
	})

	res := Evaluate(list, now, &txStart)
	require.NotNil(t, res)
	assert.Equal(t, 9000.0, res.Limit)

	// Transaction window elapsed.
	old := now.Add(-300 * time.Second)
	assert.Nil(t, Evaluate(list, now, &old))
}

func TestStackLevelOrdering(t *testing.T) {
	now := time.Now()
	start := now.Add(-time.Minute)
	mk := func(id, stack int, limit float64) Profile {
		return Profile{
			ID: id, StackLevel: stack, Kind: KindAbsolute,
			Schedule: Schedule{
				Duration: intPtr(3600), StartSchedule: &start,
				ChargingRateUnit: RateUnitWatts,
				Periods:          []SchedulePeriod{{StartPeriod: 0, Limit: limit}},
			},
		}
	}
	list := Add(nil, mk(1, 0, 1000))
	list = Add(list, mk(2, 5, 2000))
	list = Add(list, mk(3, 2, 3000))

	res := Evaluate(list, now, nil)
	require.NotNil(t, res)
	// Highest stack level wins.
	assert.Equal(t, 2000.0, res.Limit)
}

func TestClearByFilter(t *testing.T) {
	now := time.Now()
	start := now.Add(-time.Minute)
	p := func(id, stack int, purpose Purpose) Profile {
		return Profile{
			ID: id, StackLevel: stack, Purpose: purpose, Kind: KindAbsolute,
			Schedule: Schedule{StartSchedule: &start, ChargingRateUnit: RateUnitWatts,
				Periods: []SchedulePeriod{{StartPeriod: 0, Limit: 1}}},
		}
	}
	list := Add(nil, p(1, 0, PurposeTxProfile))
	list = Add(list, p(2, 1, PurposeTxDefaultProfile))
	list = Add(list, p(3, 2, PurposeTxProfile))

	purpose := PurposeTxProfile
	list, removed := Clear(list, ClearFilter{Purpose: &purpose})
	assert.True(t, removed)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].ID)

	_, removed = Clear(list, ClearFilter{ID: intPtr(99)})
	assert.False(t, removed)
}

func TestElectricConversions(t *testing.T) {
	assert.InDelta(t, 11040, ACPowerTotal(3, 230, 16), 0.001)
	assert.InDelta(t, 16, ACAmpsPerPhase(3, 230, 11040), 0.001)
	assert.InDelta(t, 50000, DCPower(500, 100), 0.001)
	assert.InDelta(t, 100, DCAmps(500, 50000), 0.001)
}
