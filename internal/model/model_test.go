package model

import (
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hwcerrors "hwc-server/internal/errors"
)

func TestTimestampAcceptsMillisAndRFC3339(t *testing.T) {
	var v struct {
		A Timestamp `json:"a"`
		B Timestamp `json:"b"`
		C Timestamp `json:"c"`
	}
	err := json.Unmarshal([]byte(`{"a":1700000000000,"b":"2024-05-01T10:00:00Z","c":"1700000000000"}`), &v)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), v.A.UnixMilli())
	assert.Equal(t, 2024, v.B.Year())
	assert.Equal(t, v.A.UnixMilli(), v.C.UnixMilli())

	out, err := json.Marshal(v.B)
	require.NoError(t, err)
	assert.Equal(t, `"2024-05-01T10:00:00Z"`, string(out))
}

func TestControllerParameterValidation(t *testing.T) {
	valid := `{"createdAt":1700000000000,"from":"test","mode":"power","desiredWatts":500,"minWatts":0,"maxWatts":2000}`
	p, err := ParseControllerParameter([]byte(valid))
	require.NoError(t, err)
	assert.Equal(t, ModePower, p.Mode)
	assert.Equal(t, 0.0, p.Min())
	assert.Equal(t, 2000.0, p.Max())

	defaults := &ControllerParameter{CreatedAt: At(time.Now()), From: "x", Mode: ModeOff}
	require.NoError(t, defaults.Validate())
	assert.Equal(t, float64(DefaultMaxWatts), defaults.Max())

	invalid := []string{
		`{"createdAt":1,"from":"t","mode":"turbo","desiredWatts":0}`,
		`{"createdAt":1,"from":"t","mode":"shutdown","desiredWatts":0}`,
		`{"createdAt":1,"from":"t","mode":"power","desiredWatts":-1}`,
		`{"createdAt":1,"from":"t","mode":"power","desiredWatts":0,"minWatts":2001}`,
		`{"createdAt":1,"from":"t","mode":"power","desiredWatts":0,"maxWatts":2501}`,
		`{"createdAt":1,"from":"t","mode":"power","desiredWatts":0,"minWatts":1000,"maxWatts":500}`,
		`{"createdAt":1,"mode":"power","desiredWatts":0}`,
		`{"createdAt":1,"from":"t","mode":"smart","desiredWatts":0}`,
		`{"createdAt":1,"from":"t","mode":"smart","desiredWatts":0,"smart":{"minEBatPercent":101,"minWatts":0,"maxWatts":100}}`,
		`not json`,
	}
	for _, s := range invalid {
		_, err := ParseControllerParameter([]byte(s))
		assert.True(t, errors.Is(err, hwcerrors.ErrInvalidArgument), "%s: got %v", s, err)
	}
}

func TestSmartModeValuesFromQuery(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q := url.Values{}
	q.Set("pGridWatt", "-350.5")
	q.Set("pBatWatt", "1200")
	q.Set("batState", "charging")

	v, err := SmartModeValuesFromQuery(q, now)
	require.NoError(t, err)
	assert.Equal(t, now, v.CreatedAt.Time)
	assert.Nil(t, v.EBatPercent)
	assert.Equal(t, -350.5, v.PGridWatt)
	assert.Equal(t, 1200.0, v.PBatWatt)
	assert.Equal(t, 0.0, v.PPvSouthWatt)
	assert.Equal(t, BatteryCharging, v.BatState)

	q.Set("eBatPercent", "85")
	q.Set("createdAt", "1714564800000")
	v, err = SmartModeValuesFromQuery(q, now)
	require.NoError(t, err)
	require.NotNil(t, v.EBatPercent)
	assert.Equal(t, 85.0, *v.EBatPercent)
	assert.Equal(t, int64(1714564800000), v.CreatedAt.UnixMilli())

	q.Set("eBatPercent", "120")
	_, err = SmartModeValuesFromQuery(q, now)
	assert.True(t, errors.Is(err, hwcerrors.ErrInvalidArgument))

	q.Set("eBatPercent", "50")
	q.Set("pGridWatt", "abc")
	_, err = SmartModeValuesFromQuery(q, now)
	assert.True(t, errors.Is(err, hwcerrors.ErrInvalidArgument))
}

func TestParseSmartModeValues(t *testing.T) {
	v, err := ParseSmartModeValues([]byte(`{"createdAt":"2024-05-01T12:00:00Z","eBatPercent":null,"pBatWatt":0,"pGridWatt":10}`))
	require.NoError(t, err)
	assert.Equal(t, BatteryUnknown, v.BatState)
	assert.Equal(t, time.Minute, v.Age(v.CreatedAt.Add(time.Minute)))

	_, err = ParseSmartModeValues([]byte(`{"createdAt":"2024-05-01T12:00:00Z","batState":"EXPLODING"}`))
	assert.Error(t, err)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 2.5, Round(2.499999, 2))
	assert.Equal(t, 189.5, Round(189.5, 1))
	assert.Equal(t, 1235.0, Round(1234.5, 0))
}

func TestPinRequestShapes(t *testing.T) {
	flat := `{"pin":"1234","createdAt":1717243200000,"from":"ui","mode":"power","desiredWatts":500}`
	var r PinRequest
	if err := json.Unmarshal([]byte(flat), &r); err != nil {
		t.Fatalf("flat body: %v", err)
	}
	p := r.Effective()
	if r.Pin != "1234" || p.Mode != ModePower || p.DesiredWatts != 500 || p.From != "ui" {
		t.Errorf("flat body decoded as %+v", r)
	}

	nested := `{"pin":"1234","parameter":{"createdAt":"2024-06-01T12:00:00Z","from":"ui","mode":"off","desiredWatts":0}}`
	r = PinRequest{}
	if err := json.Unmarshal([]byte(nested), &r); err != nil {
		t.Fatalf("nested body: %v", err)
	}
	p = r.Effective()
	if p.Mode != ModeOff || p.From != "ui" {
		t.Errorf("nested body decoded as %+v", p)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("nested parameter invalid: %v", err)
	}
}
