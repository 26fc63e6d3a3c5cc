package model

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	hwcerrors "hwc-server/internal/errors"
)

// BatteryState of the household battery
type BatteryState string

const (
	BatteryFull        BatteryState = "FULL"
	BatteryCharging    BatteryState = "CHARGING"
	BatteryDischarging BatteryState = "DISCHARGING"
	BatteryHolding     BatteryState = "HOLDING"
	BatteryCalibrating BatteryState = "CALIBRATING"
	BatteryUnknown     BatteryState = "UNKNOWN"
)

// ParseBatteryState converts a state name, empty gives UNKNOWN
func ParseBatteryState(s string) (BatteryState, error) {
	switch st := BatteryState(strings.ToUpper(strings.TrimSpace(s))); st {
	case "":
		return BatteryUnknown, nil
	case BatteryFull, BatteryCharging, BatteryDischarging, BatteryHolding, BatteryCalibrating, BatteryUnknown:
		return st, nil
	default:
		return "", hwcerrors.NewValidationError("batState", "FULL|CHARGING|DISCHARGING|HOLDING|CALIBRATING|UNKNOWN", s)
	}
}

// SmartModeValues is a snapshot of PV and battery telemetry.
// Positive pGridWatt is import, positive pBatWatt is battery charging.
type SmartModeValues struct {
	CreatedAt       Timestamp    `json:"createdAt"`
	EBatPercent     *float64     `json:"eBatPercent"`
	PBatWatt        float64      `json:"pBatWatt"`
	PGridWatt       float64      `json:"pGridWatt"`
	PPvSouthWatt    float64      `json:"pPvSouthWatt"`
	PPvEastWestWatt float64      `json:"pPvEastWestWatt"`
	PHeatSystemWatt float64      `json:"pHeatSystemWatt"`
	POthersWatt     float64      `json:"pOthersWatt"`
	BatState        BatteryState `json:"batState,omitempty"`
}

// Validate checks all fields
func (v *SmartModeValues) Validate() error {
	if v.CreatedAt.IsZero() {
		return errMissing("createdAt")
	}
	if v.EBatPercent != nil {
		if err := checkRange("eBatPercent", *v.EBatPercent, 0, 100); err != nil {
			return err
		}
	}
	fields := []struct {
		name  string
		value float64
	}{
		{"pBatWatt", v.PBatWatt},
		{"pGridWatt", v.PGridWatt},
		{"pPvSouthWatt", v.PPvSouthWatt},
		{"pPvEastWestWatt", v.PPvEastWestWatt},
		{"pHeatSystemWatt", v.PHeatSystemWatt},
		{"pOthersWatt", v.POthersWatt},
	}
	for _, f := range fields {
		if err := checkNumber(f.name, f.value); err != nil {
			return err
		}
	}
	st, err := ParseBatteryState(string(v.BatState))
	if err != nil {
		return err
	}
	v.BatState = st
	return nil
}

// PvWatt returns the total PV production
func (v *SmartModeValues) PvWatt() float64 {
	return v.PPvSouthWatt + v.PPvEastWestWatt
}

// Age returns the age of the values at now
func (v *SmartModeValues) Age(now time.Time) time.Duration {
	return now.Sub(v.CreatedAt.Time)
}

// ParseSmartModeValues decodes and validates JSON telemetry
func ParseSmartModeValues(data []byte) (*SmartModeValues, error) {
	var v SmartModeValues
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, wrapDecode("smartModeValues", err)
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return &v, nil
}

// SmartModeValuesFromQuery builds telemetry from HTTP query parameters.
// Missing createdAt becomes now, missing powers become 0, a missing
// eBatPercent stays unknown.
func SmartModeValuesFromQuery(q url.Values, now time.Time) (*SmartModeValues, error) {
	v := &SmartModeValues{CreatedAt: At(now)}

	if s := q.Get("createdAt"); s != "" {
		ts, err := ParseTimestamp(s)
		if err != nil {
			return nil, err
		}
		v.CreatedAt = ts
	}
	if s := q.Get("eBatPercent"); s != "" && s != "null" {
		f, err := parseQueryFloat("eBatPercent", s)
		if err != nil {
			return nil, err
		}
		v.EBatPercent = &f
	}

	targets := []struct {
		name string
		dst  *float64
	}{
		{"pBatWatt", &v.PBatWatt},
		{"pGridWatt", &v.PGridWatt},
		{"pPvSouthWatt", &v.PPvSouthWatt},
		{"pPvEastWestWatt", &v.PPvEastWestWatt},
		{"pHeatSystemWatt", &v.PHeatSystemWatt},
		{"pOthersWatt", &v.POthersWatt},
	}
	for _, t := range targets {
		s := q.Get(t.name)
		if s == "" {
			continue
		}
		f, err := parseQueryFloat(t.name, s)
		if err != nil {
			return nil, err
		}
		*t.dst = f
	}
	v.BatState = BatteryState(q.Get("batState"))

	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

func parseQueryFloat(field, s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, hwcerrors.NewValidationError(field, "number", s)
	}
	return f, nil
}
