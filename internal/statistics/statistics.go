// Package statistics aggregates monitor records per time slot and appends
// one min/avg/max line per slot to a CSV file.
package statistics

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	hwcerrors "hwc-server/internal/errors"
	"hwc-server/internal/logger"
	"hwc-server/internal/model"
)

// DBTypeCSVFile is the only supported sink
const DBTypeCSVFile = "csvfile"

// Config holds the statistics settings
type Config struct {
	Disabled bool
	Timeslot time.Duration
	DBType   string
	CSVFile  string
}

// Validate checks an enabled configuration
func (c Config) Validate() error {
	if c.Disabled {
		return nil
	}
	if c.Timeslot < time.Second {
		return hwcerrors.NewConfigError("statistics", fmt.Errorf("%w: timeslot %v", hwcerrors.ErrInvalidArgument, c.Timeslot), "statistics.timeslot_seconds")
	}
	if c.DBType != DBTypeCSVFile {
		return hwcerrors.NewConfigError("statistics", fmt.Errorf("%w: dbtyp %q", hwcerrors.ErrInvalidArgument, c.DBType), "statistics.dbtyp")
	}
	if c.CSVFile == "" {
		return hwcerrors.NewConfigError("statistics", fmt.Errorf("%w: missing filename", hwcerrors.ErrInvalidArgument), "statistics.csvfile.filename")
	}
	return nil
}

type column struct {
	id      string
	label   string
	digits  int
	hideMin bool
	hideAvg bool
	value   func(r *model.MonitorRecord) (float64, bool)
}

var columns = []column{
	{id: "set-4to24mA", label: "I-set/mA", digits: 2, value: func(r *model.MonitorRecord) (float64, bool) {
		if r.Current4To20mA == nil {
			return 0, false
		}
		return r.Current4To20mA.Setpoint.Value, true
	}},
	{id: "curr-4to24mA", label: "I-gemessen/mA", digits: 2, value: func(r *model.MonitorRecord) (float64, bool) {
		if r.Current4To20mA == nil {
			return 0, false
		}
		return r.Current4To20mA.Current.Value, true
	}},
	{id: "p-boiler", label: "P-Boiler/W", digits: 0, value: func(r *model.MonitorRecord) (float64, bool) {
		return r.PowerWatts(), r.Controller != nil
	}},
	{id: "e-daily", label: "E-Tag/Wh", digits: 1, hideMin: true, hideAvg: true, value: func(r *model.MonitorRecord) (float64, bool) {
		return r.EnergyDaily(), r.Controller != nil
	}},
}

// Value is the aggregate of one column
type Value struct {
	ID    string
	Count int
	Min   float64
	Avg   float64
	Max   float64
}

func (v *Value) add(x float64) {
	if v.Count == 0 {
		v.Min, v.Avg, v.Max = x, x, x
	} else {
		v.Min = math.Min(v.Min, x)
		v.Max = math.Max(v.Max, x)
		v.Avg = (v.Avg*float64(v.Count) + x) / float64(v.Count+1)
	}
	v.Count++
}

// Record is the aggregate of one time slot
type Record struct {
	Count   int
	FirstAt time.Time
	LastAt  time.Time
	Values  []Value
}

func newRecord() *Record {
	r := &Record{Values: make([]Value, len(columns))}
	for i, c := range columns {
		r.Values[i].ID = c.id
	}
	return r
}

func (r *Record) add(m *model.MonitorRecord) {
	at := m.CreatedAt.Time
	if r.Count == 0 {
		r.FirstAt = at
	}
	r.LastAt = at
	for i, c := range columns {
		if x, ok := c.value(m); ok && !math.IsNaN(x) {
			r.Values[i].add(x)
		}
	}
	r.Count++
}

// Header returns the CSV header fields
func Header(at time.Time) []string {
	h := []string{"Messwertanzahl", expandDate("von (%Y-%M-%D)", at), "bis"}
	for _, c := range columns {
		if !c.hideMin {
			h = append(h, "MIN("+c.label+")")
		}
		if !c.hideAvg {
			h = append(h, "AVG("+c.label+")")
		}
		h = append(h, "MAX("+c.label+")")
	}
	return h
}

// Line returns the CSV fields of the record
func (r *Record) Line() []string {
	l := []string{
		strconv.Itoa(r.Count),
		r.FirstAt.Format("15:04:05"),
		r.LastAt.Format("15:04:05"),
	}
	for i, c := range columns {
		v := r.Values[i]
		if !c.hideMin {
			l = append(l, formatValue(v, v.Min, c.digits))
		}
		if !c.hideAvg {
			l = append(l, formatValue(v, v.Avg, c.digits))
		}
		l = append(l, formatValue(v, v.Max, c.digits))
	}
	return l
}

func formatValue(v Value, x float64, digits int) string {
	if v.Count == 0 {
		return ""
	}
	s := strconv.FormatFloat(model.Round(x, digits), 'f', -1, 64)
	return strings.ReplaceAll(s, ".", ",")
}

func expandDate(s string, at time.Time) string {
	r := strings.NewReplacer(
		"%Y", fmt.Sprintf("%04d", at.Year()),
		"%M", fmt.Sprintf("%02d", int(at.Month())),
		"%D", fmt.Sprintf("%02d", at.Day()),
		"%m", fmt.Sprintf("%03d", at.Nanosecond()/int(time.Millisecond)),
		"%d", at.Weekday().String()[:3],
	)
	return r.Replace(s)
}

// Filename expands the date placeholders of pattern for the slot start
func Filename(pattern string, at time.Time) string {
	return expandDate(pattern, at)
}

// Statistics collects monitor records
type Statistics struct {
	cfg Config
	log logger.ILogger

	mu       sync.Mutex
	received int
	current  *Record
	history  []Record

	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

const maxHistory = 1440

// New creates the statistics collector
func New(cfg Config, log logger.ILogger) (*Statistics, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewComponentLogger("statistics")
	}
	return &Statistics{cfg: cfg, log: log}, nil
}

// HandleMonitorRecord adds a record to the current slot
func (s *Statistics) HandleMonitorRecord(r *model.MonitorRecord) {
	if s.cfg.Disabled || r == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received++
	if s.current == nil {
		s.current = newRecord()
	}
	s.current.add(r)
}

// History returns the finished slots, oldest first
func (s *Statistics) History() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.history...)
}

// Flush closes the current slot and appends it to the CSV file
func (s *Statistics) Flush() error {
	if s.cfg.Disabled {
		return nil
	}
	s.mu.Lock()
	if s.received == 0 || s.current == nil {
		s.mu.Unlock()
		s.log.LogWarn("no monitor records received, cannot continue statistics")
		return nil
	}
	logger.LogTrace("%d monitor records processed, history-size=%d", s.received, len(s.history))
	rec := *s.current
	s.received = 0
	s.current = nil
	s.history = append(s.history, rec)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.mu.Unlock()

	return s.writeCSV(&rec)
}

func (s *Statistics) writeCSV(rec *Record) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	fn := Filename(s.cfg.CSVFile, rec.FirstAt)
	_, statErr := os.Stat(fn)
	isNew := os.IsNotExist(statErr)
	if isNew {
		if dir := filepath.Dir(fn); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				s.log.LogWarn("writing to file %s fails: %v", fn, err)
				return err
			}
		}
	}
	f, err := os.OpenFile(fn, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		s.log.LogWarn("writing to file %s fails: %v", fn, err)
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(Header(rec.FirstAt)); err != nil {
			return err
		}
	}
	if err := w.Write(rec.Line()); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		s.log.LogWarn("writing to file %s fails: %v", fn, err)
		return err
	}
	logger.LogTrace("append record to file %s", fn)
	return nil
}

// Start flushes a slot every timeslot until ctx ends or Stop is called
func (s *Statistics) Start(ctx context.Context) {
	if s.cfg.Disabled {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.Timeslot)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.Flush()
			}
		}
	}()
}

// Stop ends the slot timer and writes the pending slot
func (s *Statistics) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	pending := s.received > 0
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	if !pending {
		return nil
	}
	return s.Flush()
}
