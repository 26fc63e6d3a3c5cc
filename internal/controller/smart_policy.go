package controller

import (
	"math"
	"time"

	"hwc-server/internal/model"
)

const (
	// DefaultSmartValuesMaxAge expires telemetry that was not renewed
	DefaultSmartValuesMaxAge = 60 * time.Second

	defaultAlpha        = 0.1
	gridImportThreshold = 50
	minForcedDownStep   = 25
)

// SmartPolicy derives the heater setpoint from PV and battery telemetry.
//
// The available surplus is the grid export plus the battery charging power
// above the reserved battery load (all of it once the battery is FULL).
// Battery discharge counts negative. An EWMA filter smooths the surplus and
// its magnitude selects the step added to the previous setpoint. Grid import
// or a discharging battery always steps down. When PV production is reported
// (pPvSouthWatt + pPvEastWestWatt > 0) the setpoint never exceeds it, so the
// heater is not fed from the battery or the grid.
type SmartPolicy struct {
	alpha    float64
	maxAge   time.Duration
	filtered float64
}

// NewSmartPolicy creates a policy with alpha 0.1 and a 60s telemetry lifetime
func NewSmartPolicy() *SmartPolicy {
	return &SmartPolicy{alpha: defaultAlpha, maxAge: DefaultSmartValuesMaxAge}
}

// Reset clears the filter state
func (p *SmartPolicy) Reset() {
	p.filtered = 0
}

// Filtered returns the current filter output in watts
func (p *SmartPolicy) Filtered() float64 {
	return p.filtered
}

// Next returns the setpoint following prev
func (p *SmartPolicy) Next(prev float64, v *model.SmartModeValues, param *model.ControllerParameter, now time.Time) float64 {
	smart := param.Smart
	if smart == nil || v == nil || v.Age(now) > p.maxAge || v.EBatPercent == nil || *v.EBatPercent < smart.MinEBatPercent {
		p.Reset()
		return 0
	}

	surplus := -v.PGridWatt
	switch {
	case v.PBatWatt > 0 && v.BatState == model.BatteryFull:
		surplus += v.PBatWatt
	case v.PBatWatt > 0:
		surplus += math.Max(0, v.PBatWatt-smart.BatLoadReserve())
	default:
		surplus += v.PBatWatt
	}
	p.filtered = p.alpha*surplus + (1-p.alpha)*p.filtered

	step := stepFor(math.Abs(p.filtered))
	if p.filtered <= 0 {
		step = -step
	}
	if v.PGridWatt > gridImportThreshold || v.BatState == model.BatteryDischarging {
		step = -math.Max(math.Abs(step), minForcedDownStep)
	}

	sp := clamp(prev+step, smart.MinWatts, smart.MaxWatts)
	if pv := v.PvWatt(); pv > 0 {
		sp = math.Min(sp, pv)
	}
	return clamp(sp, param.Min(), param.Max())
}

func stepFor(f float64) float64 {
	switch {
	case f < 50:
		return 5
	case f < 200:
		return 25
	case f < 500:
		return 50
	default:
		return 100
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
