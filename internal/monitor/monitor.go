// Package monitor samples controller and actuator periodically, keeps the
// last record, persists rotating snapshot files and seeds the controller
// from the newest snapshot on startup.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	hwcerrors "hwc-server/internal/errors"
	"hwc-server/internal/logger"
	"hwc-server/internal/model"
)

// Controller is the controller view used by the monitor
type Controller interface {
	Status() model.ControllerStatus
	SetEnergyTotal(wh float64) error
	SetEnergyDaily(at time.Time, wh float64) error
	SetSmartModeValues(v *model.SmartModeValues) error
	SetSetpointPower(watts float64) error
	RestoreParameter(p model.ControllerParameter) error
}

// Currents provides the actuator loop currents
type Currents interface {
	Setpoint4To20mA() model.Value
	Current4To20mA() model.Value
}

// RecordObserver receives every new monitor record
type RecordObserver interface {
	HandleMonitorRecord(r *model.MonitorRecord)
}

// TempFileConfig configures the snapshot files path.0 .. path.<backups-1>
type TempFileConfig struct {
	Path    string
	Backups int
}

// Config holds the monitor settings
type Config struct {
	Disabled      bool
	PollingPeriod time.Duration
	TempFile      TempFileConfig
}

// Snapshot is the content of one snapshot file
type Snapshot struct {
	CreatedAt        time.Time              `json:"createdAt"`
	EnergyDaily      float64                `json:"energyDaily"`
	EnergyTotal      float64                `json:"energyTotal"`
	ControllerStatus model.ControllerStatus `json:"controllerStatus"`
	MonitorRecord    *model.MonitorRecord   `json:"monitorRecord"`
}

// Option configures a Monitor
type Option func(*Monitor)

// WithLogger sets the logger
func WithLogger(log logger.ILogger) Option {
	return func(m *Monitor) { m.log = log }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithObserver adds a record observer
func WithObserver(o RecordObserver) Option {
	return func(m *Monitor) { m.observers = append(m.observers, o) }
}

// Monitor produces monitor records
type Monitor struct {
	cfg       Config
	ctrl      Controller
	currents  Currents
	log       logger.ILogger
	now       func() time.Time
	observers []RecordObserver

	mu       sync.Mutex
	last     *model.MonitorRecord
	lastTemp int

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a monitor
func New(cfg Config, ctrl Controller, currents Currents, opts ...Option) (*Monitor, error) {
	if !cfg.Disabled && cfg.PollingPeriod <= 0 {
		return nil, hwcerrors.NewConfigError("monitor",
			fmt.Errorf("%w: polling period %v", hwcerrors.ErrInvalidArgument, cfg.PollingPeriod), "monitor.polling_period_ms")
	}
	if cfg.TempFile.Backups < 1 {
		cfg.TempFile.Backups = 1
	}
	m := &Monitor{
		cfg:      cfg,
		ctrl:     ctrl,
		currents: currents,
		log:      logger.NewComponentLogger("monitor"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// LastRecord returns the most recent record, nil before the first refresh
func (m *Monitor) LastRecord() *model.MonitorRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Refresh builds a new record, forwards it to the observers and writes a snapshot
func (m *Monitor) Refresh() *model.MonitorRecord {
	status := m.ctrl.Status()
	r := &model.MonitorRecord{
		CreatedAt:  model.At(m.now()),
		Controller: &status,
	}
	if m.currents != nil {
		r.Current4To20mA = &model.Current4To20mA{
			Setpoint: m.currents.Setpoint4To20mA(),
			Current:  m.currents.Current4To20mA(),
		}
		logger.LogTrace("current read done -> %.1fmA", r.Current4To20mA.Current.Value)
	}

	m.mu.Lock()
	m.last = r
	m.mu.Unlock()

	for _, o := range m.observers {
		o.HandleMonitorRecord(r)
	}
	if err := m.saveSnapshot(r); err != nil {
		m.log.LogWarn("snapshot file error: %v", err)
	}
	return r
}

func (m *Monitor) snapshotFile(i int) string {
	return fmt.Sprintf("%s.%d", m.cfg.TempFile.Path, i)
}

func (m *Monitor) saveSnapshot(r *model.MonitorRecord) error {
	if m.cfg.TempFile.Path == "" {
		return nil
	}
	status := *r.Controller
	snap := Snapshot{
		CreatedAt:        m.now(),
		EnergyDaily:      model.Round(status.EnergyDaily, 2),
		EnergyTotal:      model.Round(status.EnergyTotal, 0),
		ControllerStatus: status,
		MonitorRecord:    r,
	}
	if snap.EnergyDaily < 0 || snap.EnergyTotal < 0 {
		return fmt.Errorf("%w: negative energy", hwcerrors.ErrInvalidArgument)
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	m.mu.Lock()
	index := (m.lastTemp + 1) % m.cfg.TempFile.Backups
	m.lastTemp = index
	m.mu.Unlock()

	fn := m.snapshotFile(index)
	if dir := filepath.Dir(fn); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(fn, b, 0o644); err != nil {
		return err
	}
	logger.LogTrace("temp file %s written", fn)
	return nil
}

// LoadNewestSnapshot reads all snapshot files and returns the newest valid one
func (m *Monitor) LoadNewestSnapshot() (*Snapshot, error) {
	var newest *Snapshot
	for i := 0; i < m.cfg.TempFile.Backups; i++ {
		fn := m.snapshotFile(i)
		b, err := os.ReadFile(fn)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			m.log.LogWarn("error on reading %s: %v", fn, err)
			continue
		}
		var s Snapshot
		if err := json.Unmarshal(b, &s); err != nil {
			m.log.LogWarn("error on parsing %s: %v", fn, err)
			continue
		}
		if s.CreatedAt.IsZero() || s.EnergyDaily < 0 || s.EnergyTotal < 0 {
			m.log.LogWarn("invalid snapshot %s", fn)
			continue
		}
		if newest == nil || s.CreatedAt.After(newest.CreatedAt) {
			snap := s
			newest = &snap
			m.mu.Lock()
			m.lastTemp = i
			m.mu.Unlock()
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("%w: no snapshot file found", hwcerrors.ErrNotReady)
	}
	return newest, nil
}

// Seed restores the controller from the newest snapshot. energyDaily is
// only restored when the snapshot was taken today.
func (m *Monitor) Seed() error {
	if m.cfg.Disabled || m.cfg.TempFile.Path == "" {
		return nil
	}
	s, err := m.LoadNewestSnapshot()
	if err != nil {
		m.log.LogWarn("cannot find snapshot file %s.*", m.cfg.TempFile.Path)
		return err
	}
	m.log.LogInfo("snapshot file found (%s, energyTotal=%.0fWh)", s.CreatedAt.Format(time.RFC3339), s.EnergyTotal)

	if err := m.ctrl.SetEnergyTotal(s.EnergyTotal); err != nil {
		return err
	}
	cs := s.ControllerStatus
	if cs.SmartModeValues != nil {
		if err := m.ctrl.SetSmartModeValues(cs.SmartModeValues); err != nil {
			m.log.LogWarn("cannot restore smart mode values: %v", err)
		}
	}
	if err := m.ctrl.SetSetpointPower(cs.SetpointPower); err != nil {
		m.log.LogWarn("cannot restore setpoint power: %v", err)
	}
	if err := m.ctrl.RestoreParameter(cs.Parameter); err != nil {
		m.log.LogWarn("cannot restore controller parameter: %v", err)
	}
	if sameDay(s.CreatedAt, m.now()) {
		if err := m.ctrl.SetEnergyDaily(s.CreatedAt, s.EnergyDaily); err != nil {
			return err
		}
	}
	return nil
}

// Start refreshes every polling period until ctx ends or Stop is called
func (m *Monitor) Start(ctx context.Context) {
	if m.cfg.Disabled {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.cfg.PollingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Refresh()
			}
		}
	}()
}

// Stop ends the polling loop
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func sameDay(a, b time.Time) bool {
	a, b = a.Local(), b.Local()
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
