package model

import "time"

// Units
const (
	UnitWatt      = "W"
	UnitWattHour  = "Wh"
	UnitMilliamps = "mA"
)

// Value is a measured or derived quantity
type Value struct {
	CreatedAt   Timestamp `json:"createdAt"`
	CreatedFrom string    `json:"createdFrom,omitempty"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit"`
}

// NewValue creates a value
func NewValue(at time.Time, from string, v float64, unit string) Value {
	return Value{CreatedAt: At(at), CreatedFrom: from, Value: v, Unit: unit}
}

// Validate checks the value fields
func (v Value) Validate() error {
	if err := checkMin("value", v.Value, 0); err != nil {
		return err
	}
	if v.Unit == "" {
		return errMissing("unit")
	}
	return nil
}
