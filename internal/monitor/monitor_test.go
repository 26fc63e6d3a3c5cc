package monitor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hwcerrors "hwc-server/internal/errors"
	"hwc-server/internal/logger"
	"hwc-server/internal/model"
)

type fakeController struct {
	status      model.ControllerStatus
	energyTotal float64
	energyDaily float64
	dailyAt     time.Time
	dailySet    bool
	setpoint    float64
	smart       *model.SmartModeValues
	parameter   *model.ControllerParameter
}

func (c *fakeController) Status() model.ControllerStatus { return c.status }

func (c *fakeController) SetEnergyTotal(wh float64) error {
	c.energyTotal = wh
	return nil
}

func (c *fakeController) SetEnergyDaily(at time.Time, wh float64) error {
	c.dailyAt, c.energyDaily, c.dailySet = at, wh, true
	return nil
}

func (c *fakeController) SetSmartModeValues(v *model.SmartModeValues) error {
	c.smart = v
	return nil
}

func (c *fakeController) SetSetpointPower(w float64) error {
	c.setpoint = w
	return nil
}

func (c *fakeController) RestoreParameter(p model.ControllerParameter) error {
	c.parameter = &p
	return nil
}

type fakeCurrents struct{ setpoint, current float64 }

func (f fakeCurrents) Setpoint4To20mA() model.Value {
	return model.NewValue(time.Now(), "hwc:1", f.setpoint, model.UnitMilliamps)
}

func (f fakeCurrents) Current4To20mA() model.Value {
	return model.NewValue(time.Now(), "hwc:1", f.current, model.UnitMilliamps)
}

type recordSink struct{ records []*model.MonitorRecord }

func (s *recordSink) HandleMonitorRecord(r *model.MonitorRecord) { s.records = append(s.records, r) }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func status(at time.Time) model.ControllerStatus {
	return model.ControllerStatus{
		CreatedAt: model.At(at),
		Parameter: model.ControllerParameter{
			CreatedAt:    model.At(at),
			From:         "test",
			Mode:         model.ModePower,
			DesiredWatts: 800,
		},
		Mode:          model.ModePower,
		ActivePower:   750,
		EnergyDaily:   1234.5678,
		EnergyTotal:   98765.4,
		SetpointPower: 775,
	}
}

func TestRefreshBuildsRecord(t *testing.T) {
	clk := &clock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local)}
	ctrl := &fakeController{status: status(clk.t)}
	sink := &recordSink{}
	m, err := New(Config{PollingPeriod: time.Second}, ctrl, fakeCurrents{10, 10.5},
		WithClock(clk.now), WithObserver(sink), WithLogger(logger.NewMockLogger()))
	require.NoError(t, err)

	assert.Nil(t, m.LastRecord())
	r := m.Refresh()
	assert.Same(t, r, m.LastRecord())
	require.Len(t, sink.records, 1)
	assert.Equal(t, 750.0, r.PowerWatts())
	assert.Equal(t, 10.5, r.Current4To20mA.Current.Value)
	assert.Equal(t, clk.t, r.CreatedAt.Time)
}

func TestSnapshotRotationAndSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hwc", "snapshot")
	clk := &clock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local)}
	ctrl := &fakeController{status: status(clk.t)}
	cfg := Config{PollingPeriod: time.Second, TempFile: TempFileConfig{Path: path, Backups: 3}}
	m, err := New(cfg, ctrl, fakeCurrents{10, 10.5}, WithClock(clk.now), WithLogger(logger.NewMockLogger()))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		m.Refresh()
		clk.t = clk.t.Add(time.Second)
	}
	for i := 0; i < 3; i++ {
		_, err := os.Stat(fmt.Sprintf("%s.%d", path, i))
		assert.NoError(t, err, "snapshot %d", i)
	}

	ctrl2 := &fakeController{}
	m2, err := New(cfg, ctrl2, nil, WithClock(clk.now), WithLogger(logger.NewMockLogger()))
	require.NoError(t, err)
	snap, err := m2.LoadNewestSnapshot()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 3, 0, time.Local).Unix(), snap.CreatedAt.Unix())
	assert.Equal(t, 1234.57, snap.EnergyDaily)
	assert.Equal(t, 98765.0, snap.EnergyTotal)

	require.NoError(t, m2.Seed())
	assert.Equal(t, 98765.0, ctrl2.energyTotal)
	assert.True(t, ctrl2.dailySet)
	assert.Equal(t, 1234.57, ctrl2.energyDaily)
	assert.Equal(t, 775.0, ctrl2.setpoint)
	require.NotNil(t, ctrl2.parameter)
	assert.Equal(t, model.ModePower, ctrl2.parameter.Mode)

	// the next snapshot continues after the newest file
	m2.ctrl = ctrl
	m2.Refresh()
	b, err := os.ReadFile(path + ".2")
	require.NoError(t, err)
	assert.Contains(t, string(b), `"energyTotal": 98765`)
}

func TestSeedSkipsEnergyDailyFromOtherDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot")
	clk := &clock{t: time.Date(2024, 6, 1, 23, 59, 0, 0, time.Local)}
	cfg := Config{PollingPeriod: time.Second, TempFile: TempFileConfig{Path: path, Backups: 2}}
	m, err := New(cfg, &fakeController{status: status(clk.t)}, nil, WithClock(clk.now))
	require.NoError(t, err)
	m.Refresh()

	clk.t = clk.t.Add(2 * time.Minute)
	ctrl := &fakeController{}
	m2, err := New(cfg, ctrl, nil, WithClock(clk.now), WithLogger(logger.NewMockLogger()))
	require.NoError(t, err)
	require.NoError(t, m2.Seed())
	assert.Equal(t, 98765.0, ctrl.energyTotal)
	assert.False(t, ctrl.dailySet)
}

func TestSeedIgnoresBrokenFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot")
	require.NoError(t, os.WriteFile(path+".0", []byte("{broken"), 0o644))
	require.NoError(t, os.WriteFile(path+".1", []byte(`{"createdAt":"2024-06-01T12:00:00Z","energyDaily":-1,"energyTotal":5}`), 0o644))

	log := logger.NewMockLogger()
	m, err := New(Config{PollingPeriod: time.Second, TempFile: TempFileConfig{Path: path, Backups: 2}},
		&fakeController{}, nil, WithLogger(log))
	require.NoError(t, err)
	err = m.Seed()
	assert.True(t, errors.Is(err, hwcerrors.ErrNotReady))
	assert.True(t, log.WarnContaining("error on parsing"))
	assert.True(t, log.WarnContaining("invalid snapshot"))
}

func TestNewRejectsMissingPollingPeriod(t *testing.T) {
	_, err := New(Config{}, &fakeController{}, nil)
	assert.True(t, errors.Is(err, hwcerrors.ErrInvalidArgument))

	_, err = New(Config{Disabled: true}, &fakeController{}, nil)
	assert.NoError(t, err)
}
