package profiles

// ACPowerTotal converts a per-phase current limit to total power in watts.
func ACPowerTotal(phases int, voltage, amps float64) float64 {
	if phases <= 0 {
		phases = 1
	}
	return float64(phases) * voltage * amps
}

// ACAmpsPerPhase converts total power in watts to a per-phase current limit.
func ACAmpsPerPhase(phases int, voltage, watts float64) float64 {
	if phases <= 0 {
		phases = 1
	}
	if voltage == 0 {
		return 0
	}
	return watts / (float64(phases) * voltage)
}

// DCPower converts a DC current limit to power in watts.
func DCPower(voltage, amps float64) float64 {
	return voltage * amps
}

// DCAmps converts power in watts to a DC current limit.
func DCAmps(voltage, watts float64) float64 {
	if voltage == 0 {
		return 0
	}
	return watts / voltage
}

// LimitToWatts normalizes a schedule limit to watts for the given supply.
// numberPhases comes from the matched schedule period when set.
func LimitToWatts(r *Result, currentType string, voltage float64, defaultPhases int) float64 {
	if r == nil {
		return 0
	}
	if r.Unit == RateUnitWatts {
		return r.Limit
	}
	if currentType == "DC" {
		return DCPower(voltage, r.Limit)
	}
	phases := defaultPhases
	if r.NumberPhases != nil {
		phases = *r.NumberPhases
	}
	return ACPowerTotal(phases, voltage, r.Limit)
}
