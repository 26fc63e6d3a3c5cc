package model

import (
	"encoding/json"
	"strings"

	hwcerrors "hwc-server/internal/errors"
)

// ControllerMode is the operating mode of the power controller
type ControllerMode string

const (
	ModeOff      ControllerMode = "off"
	ModeOn       ControllerMode = "on"
	ModePower    ControllerMode = "power"
	ModeSmart    ControllerMode = "smart"
	ModeTest     ControllerMode = "test"
	ModeShutdown ControllerMode = "shutdown"
)

var controllerModes = []ControllerMode{ModeOff, ModeOn, ModePower, ModeSmart, ModeTest, ModeShutdown}

// ParseControllerMode converts a mode name
func ParseControllerMode(s string) (ControllerMode, error) {
	for _, m := range controllerModes {
		if string(m) == strings.ToLower(strings.TrimSpace(s)) {
			return m, nil
		}
	}
	return "", hwcerrors.NewValidationError("mode", "off|on|power|smart|test", s)
}

// UnmarshalJSON rejects unknown modes
func (m *ControllerMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return hwcerrors.NewValidationError("mode", "string", string(b))
	}
	parsed, err := ParseControllerMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Power limits
const (
	MaxMinWatts     = 2000
	MaxMaxWatts     = 2500
	DefaultMaxWatts = 2500
)

// SmartModeParameter configures smart mode
type SmartModeParameter struct {
	MinEBatPercent   float64  `json:"minEBatPercent" yaml:"min_ebat_percent"`
	MinWatts         float64  `json:"minWatts" yaml:"min_watts"`
	MaxWatts         float64  `json:"maxWatts" yaml:"max_watts"`
	MinPBatLoadWatts *float64 `json:"minPBatLoadWatts,omitempty" yaml:"min_pbat_load_watts"`
}

// Validate checks field ranges
func (p *SmartModeParameter) Validate() error {
	if err := checkRange("smart.minEBatPercent", p.MinEBatPercent, 0, 100); err != nil {
		return err
	}
	if err := checkRange("smart.minWatts", p.MinWatts, 0, MaxMaxWatts); err != nil {
		return err
	}
	if err := checkRange("smart.maxWatts", p.MaxWatts, 0, MaxMaxWatts); err != nil {
		return err
	}
	if p.MinWatts > p.MaxWatts {
		return hwcerrors.NewValidationError("smart.minWatts", "<= smart.maxWatts", p.MinWatts)
	}
	if p.MinPBatLoadWatts != nil {
		if err := checkRange("smart.minPBatLoadWatts", *p.MinPBatLoadWatts, 0, MaxMaxWatts); err != nil {
			return err
		}
	}
	return nil
}

// BatLoadReserve returns the battery charging power reserved for the battery
func (p *SmartModeParameter) BatLoadReserve() float64 {
	if p == nil || p.MinPBatLoadWatts == nil {
		return 0
	}
	return *p.MinPBatLoadWatts
}

// ControllerParameter is the externally supplied controller setting
type ControllerParameter struct {
	CreatedAt    Timestamp           `json:"createdAt"`
	From         string              `json:"from"`
	Mode         ControllerMode      `json:"mode"`
	DesiredWatts float64             `json:"desiredWatts"`
	MinWatts     *float64            `json:"minWatts,omitempty"`
	MaxWatts     *float64            `json:"maxWatts,omitempty"`
	Smart        *SmartModeParameter `json:"smart,omitempty"`
}

// Validate checks all fields
func (p *ControllerParameter) Validate() error {
	if p.CreatedAt.IsZero() {
		return errMissing("createdAt")
	}
	if p.From == "" {
		return errMissing("from")
	}
	if _, err := ParseControllerMode(string(p.Mode)); err != nil {
		return err
	}
	if p.Mode == ModeShutdown {
		return hwcerrors.NewValidationError("mode", "off|on|power|smart|test", p.Mode)
	}
	if err := checkMin("desiredWatts", p.DesiredWatts, 0); err != nil {
		return err
	}
	if p.MinWatts != nil {
		if err := checkRange("minWatts", *p.MinWatts, 0, MaxMinWatts); err != nil {
			return err
		}
	}
	if p.MaxWatts != nil {
		if err := checkRange("maxWatts", *p.MaxWatts, 0, MaxMaxWatts); err != nil {
			return err
		}
	}
	if p.Min() > p.Max() {
		return hwcerrors.NewValidationError("minWatts", "<= maxWatts", p.Min())
	}
	if p.Smart != nil {
		if err := p.Smart.Validate(); err != nil {
			return err
		}
	}
	if p.Mode == ModeSmart && p.Smart == nil {
		return errMissing("smart")
	}
	return nil
}

// Min returns minWatts with its default
func (p *ControllerParameter) Min() float64 {
	if p.MinWatts == nil {
		return 0
	}
	return *p.MinWatts
}

// Max returns maxWatts with its default
func (p *ControllerParameter) Max() float64 {
	if p.MaxWatts == nil {
		return DefaultMaxWatts
	}
	return *p.MaxWatts
}

// ParseControllerParameter decodes and validates a JSON parameter
func ParseControllerParameter(data []byte) (*ControllerParameter, error) {
	var p ControllerParameter
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, wrapDecode("parameter", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func errMissing(field string) error {
	return hwcerrors.NewValidationError(field, "value", "missing")
}

func wrapDecode(field string, err error) error {
	if hwcerrors.Is(err, hwcerrors.ErrInvalidArgument) {
		return err
	}
	return hwcerrors.NewValidationError(field, "valid JSON", err.Error())
}
