// Package profiles models OCPP charging profiles and computes the
// instantaneous power limit from the active profile set.
package profiles

import (
	"sort"
	"time"
)

// Purpose of a charging profile.
type Purpose string

const (
	PurposeChargePointMaxProfile Purpose = "ChargePointMaxProfile"
	PurposeTxDefaultProfile      Purpose = "TxDefaultProfile"
	PurposeTxProfile             Purpose = "TxProfile"
)

// Kind of schedule anchoring.
type Kind string

const (
	KindAbsolute  Kind = "Absolute"
	KindRecurring Kind = "Recurring"
	KindRelative  Kind = "Relative"
)

// RecurrencyKind for recurring profiles.
type RecurrencyKind string

const (
	RecurrencyDaily  RecurrencyKind = "Daily"
	RecurrencyWeekly RecurrencyKind = "Weekly"
)

// RateUnit of schedule limits.
type RateUnit string

const (
	RateUnitWatts RateUnit = "W"
	RateUnitAmps  RateUnit = "A"
)

// SchedulePeriod is one step of a charging schedule.
type SchedulePeriod struct {
	StartPeriod  int     `json:"startPeriod"` // seconds from schedule start
	Limit        float64 `json:"limit"`
	NumberPhases *int    `json:"numberPhases,omitempty"`
}

// Schedule is the time-shaped limit of a profile.
type Schedule struct {
	Duration         *int             `json:"duration,omitempty"` // seconds
	StartSchedule    *time.Time       `json:"startSchedule,omitempty"`
	ChargingRateUnit RateUnit         `json:"chargingRateUnit"`
	Periods          []SchedulePeriod `json:"chargingSchedulePeriod"`
}

// Profile is one charging profile attached to a connector (or connector 0
// for station-wide limits).
type Profile struct {
	ID             int            `json:"chargingProfileId"`
	TransactionID  *int           `json:"transactionId,omitempty"`
	StackLevel     int            `json:"stackLevel"`
	Purpose        Purpose        `json:"chargingProfilePurpose"`
	Kind           Kind           `json:"chargingProfileKind"`
	Recurrency     RecurrencyKind `json:"recurrencyKind,omitempty"`
	ValidFrom      *time.Time     `json:"validFrom,omitempty"`
	ValidTo        *time.Time     `json:"validTo,omitempty"`
	Schedule       Schedule       `json:"chargingSchedule"`
}

// Result pairs the computed limit with the profile that produced it.
type Result struct {
	Limit           float64
	Unit            RateUnit
	NumberPhases    *int
	MatchingProfile *Profile
}

// Add inserts or replaces a profile in list, keyed by id + purpose +
// stackLevel, and returns the list sorted by stack level descending so
// evaluation visits the highest-priority profile first.
func Add(list []Profile, p Profile) []Profile {
	replaced := false
	for i := range list {
		if list[i].ID == p.ID && list[i].Purpose == p.Purpose && list[i].StackLevel == p.StackLevel {
			list[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, p)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].StackLevel > list[j].StackLevel
	})
	return list
}

// ClearFilter selects profiles for removal; nil fields match everything.
type ClearFilter struct {
	ID         *int
	Purpose    *Purpose
	StackLevel *int
}

// Clear removes matching profiles and reports whether any were removed.
func Clear(list []Profile, f ClearFilter) ([]Profile, bool) {
	kept := list[:0]
	removed := false
	for _, p := range list {
		if f.matches(p) {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	return kept, removed
}

func (f ClearFilter) matches(p Profile) bool {
	if f.ID != nil && p.ID != *f.ID {
		return false
	}
	if f.Purpose != nil && p.Purpose != *f.Purpose {
		return false
	}
	if f.StackLevel != nil && p.StackLevel != *f.StackLevel {
		return false
	}
	return true
}

// Evaluate walks the profiles (already sorted by stack level descending) and
// returns the limit of the first active profile at now, or nil when no
// profile is active. txStartedAt anchors Relative profiles.
func Evaluate(list []Profile, now time.Time, txStartedAt *time.Time) *Result {
	for i := range list {
		p := &list[i]
		if res := evaluateProfile(p, now, txStartedAt); res != nil {
			return res
		}
	}
	return nil
}

func evaluateProfile(p *Profile, now time.Time, txStartedAt *time.Time) *Result {
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return nil
	}
	if p.ValidTo != nil && now.After(*p.ValidTo) {
		return nil
	}

	start := scheduleStart(p, now, txStartedAt)
	if start == nil || start.After(now) {
		return nil
	}

	if p.Schedule.Duration != nil {
		end := start.Add(time.Duration(*p.Schedule.Duration) * time.Second)
		if !now.Before(end) {
			return nil
		}
	}

	periods := p.Schedule.Periods
	if len(periods) == 0 {
		return nil
	}

	// Single period starting at the schedule start applies unconditionally.
	if len(periods) == 1 && periods[0].StartPeriod == 0 {
		return &Result{
			Limit:           periods[0].Limit,
			Unit:            p.Schedule.ChargingRateUnit,
			NumberPhases:    periods[0].NumberPhases,
			MatchingProfile: p,
		}
	}

	// Find the first period starting after now; the previous one applies.
	// When no period is after now, the last period's limit holds.
	chosen := periods[len(periods)-1]
	for i, period := range periods {
		periodStart := start.Add(time.Duration(period.StartPeriod) * time.Second)
		if periodStart.After(now) {
			if i == 0 {
				return nil
			}
			chosen = periods[i-1]
			break
		}
	}
	return &Result{
		Limit:           chosen.Limit,
		Unit:            p.Schedule.ChargingRateUnit,
		NumberPhases:    chosen.NumberPhases,
		MatchingProfile: p,
	}
}

// scheduleStart resolves the effective window start. Daily recurring
// schedules are shifted to today's date, backing up one day when the shifted
// start lies in the future; weekly schedules shift in whole weeks.
func scheduleStart(p *Profile, now time.Time, txStartedAt *time.Time) *time.Time {
	switch p.Kind {
	case KindRelative:
		if txStartedAt != nil {
			return txStartedAt
		}
		return &now
	case KindRecurring:
		if p.Schedule.StartSchedule == nil {
			return nil
		}
		orig := *p.Schedule.StartSchedule
		switch p.Recurrency {
		case RecurrencyWeekly:
			shifted := orig
			for shifted.AddDate(0, 0, 7).Before(now) || shifted.AddDate(0, 0, 7).Equal(now) {
				shifted = shifted.AddDate(0, 0, 7)
			}
			if shifted.After(now) {
				shifted = shifted.AddDate(0, 0, -7)
			}
			return &shifted
		default: // Daily
			shifted := time.Date(now.Year(), now.Month(), now.Day(),
				orig.Hour(), orig.Minute(), orig.Second(), orig.Nanosecond(), orig.Location())
			if shifted.After(now) {
				shifted = shifted.AddDate(0, 0, -1)
			}
			return &shifted
		}
	default: // Absolute
		if p.Schedule.StartSchedule == nil {
			return nil
		}
		return p.Schedule.StartSchedule
	}
}
