package statistics

import (
	"encoding/csv"
	"errors"
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

func record(at time.Time, setpoint, current, power, daily float64) *model.MonitorRecord {
	return &model.MonitorRecord{
		CreatedAt: model.At(at),
		Controller: &model.ControllerStatus{
			ActivePower: power,
			EnergyDaily: daily,
		},
		Current4To20mA: &model.Current4To20mA{
			Setpoint: model.NewValue(at, "hwc:1", setpoint, model.UnitMilliamps),
			Current:  model.NewValue(at, "hwc:1", current, model.UnitMilliamps),
		},
	}
}

func readCSV(t *testing.T, fn string) [][]string {
	t.Helper()
	f, err := os.Open(fn)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestFlushWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{
		Timeslot: time.Minute,
		DBType:   DBTypeCSVFile,
		CSVFile:  filepath.Join(dir, "stat_%Y-%M-%D.csv"),
	}, logger.NewMockLogger())
	require.NoError(t, err)

	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.Local)
	s.HandleMonitorRecord(record(t0, 10, 10.5, 100, 1.25))
	s.HandleMonitorRecord(record(t0.Add(time.Second), 12, 11.34, 201, 1.26))
	require.NoError(t, s.Flush())

	s.HandleMonitorRecord(record(t0.Add(time.Minute), 6, 6, 3, 1.3))
	require.NoError(t, s.Flush())

	rows := readCSV(t, filepath.Join(dir, "stat_2024-06-01.csv"))
	require.Len(t, rows, 3)
	assert.Equal(t, []string{
		"Messwertanzahl", "von (2024-06-01)", "bis",
		"MIN(I-set/mA)", "AVG(I-set/mA)", "MAX(I-set/mA)",
		"MIN(I-gemessen/mA)", "AVG(I-gemessen/mA)", "MAX(I-gemessen/mA)",
		"MIN(P-Boiler/W)", "AVG(P-Boiler/W)", "MAX(P-Boiler/W)",
		"MAX(E-Tag/Wh)",
	}, rows[0])
	assert.Equal(t, []string{
		"2", "10:00:00", "10:00:01",
		"10", "11", "12",
		"10,5", "10,92", "11,34",
		"100", "151", "201",
		"1,3",
	}, rows[1])
	assert.Equal(t, "1", rows[2][0])
	assert.Len(t, s.History(), 2)
}

func TestFlushWithoutRecordsWarns(t *testing.T) {
	log := logger.NewMockLogger()
	s, err := New(Config{Timeslot: time.Minute, DBType: DBTypeCSVFile, CSVFile: filepath.Join(t.TempDir(), "x.csv")}, log)
	require.NoError(t, err)

	require.NoError(t, s.Flush())
	assert.True(t, log.WarnContaining("no monitor records"))
	assert.Empty(t, s.History())
}

func TestRecordWithoutCurrents(t *testing.T) {
	r := newRecord()
	r.add(&model.MonitorRecord{CreatedAt: model.At(time.Now()), Controller: &model.ControllerStatus{ActivePower: 50}})
	line := r.Line()
	assert.Equal(t, "", line[3])
	assert.Equal(t, "50", line[9])
}

func TestFilename(t *testing.T) {
	at := time.Date(2024, 1, 7, 8, 9, 10, 42*int(time.Millisecond), time.Local)
	assert.Equal(t, "/var/hwc/2024/01/07-Sun-042.csv", Filename("/var/hwc/%Y/%M/%D-%d-%m.csv", at))
}

func TestConfigValidate(t *testing.T) {
	tests := []Config{
		{Timeslot: 0, DBType: DBTypeCSVFile, CSVFile: "a.csv"},
		{Timeslot: time.Minute, DBType: "sqlite", CSVFile: "a.csv"},
		{Timeslot: time.Minute, DBType: DBTypeCSVFile},
	}
	for _, cfg := range tests {
		_, err := New(cfg, nil)
		assert.True(t, errors.Is(err, hwcerrors.ErrInvalidArgument), "%+v: %v", cfg, err)
	}
	s, err := New(Config{Disabled: true}, nil)
	require.NoError(t, err)
	s.HandleMonitorRecord(record(time.Now(), 1, 1, 1, 1))
	require.NoError(t, s.Flush())
	assert.Empty(t, s.History())
}
