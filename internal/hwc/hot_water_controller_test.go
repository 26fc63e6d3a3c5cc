package hwc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hwcerrors "hwc-server/internal/errors"
	"hwc-server/internal/logger"
	"hwc-server/internal/modbus"
)

type fakeSender struct {
	sent    []*modbus.Frame
	respond func(req *modbus.Frame) ([]byte, error)
}

func (s *fakeSender) Send(_ context.Context, frame *modbus.Frame, _ time.Duration) (*modbus.Request, error) {
	s.sent = append(s.sent, frame)
	payload, err := s.respond(frame)
	if err != nil {
		return nil, err
	}
	req := modbus.NewRequest(frame)
	now := time.Now()
	if err := req.SetRequestReceived(frame, now); err != nil {
		return nil, err
	}
	resp, err := modbus.EncodeFrame(payload)
	if err != nil {
		return nil, err
	}
	if err := req.SetResponse(resp, now); err != nil {
		return nil, err
	}
	return req, nil
}

func echo(req *modbus.Frame) ([]byte, error) { return req.Bytes(), nil }

func TestInterpolation(t *testing.T) {
	assert.Equal(t, 122.0, WattsFromMilliamps(10))
	assert.InDelta(t, 189.5, WattsFromMilliamps(10.5), 1e-9)
	assert.Equal(t, 0.0, WattsFromMilliamps(5.9))
	assert.Equal(t, 1950.0, WattsFromMilliamps(25))

	assert.Equal(t, 6.0, MilliampsFromWatts(2.8))
	assert.Equal(t, 20.0, MilliampsFromWatts(5000))
	assert.Equal(t, 0.0, MilliampsFromWatts(1))
	assert.InDelta(t, 10.5, MilliampsFromWatts(189.5), 1e-9)
	assert.InDelta(t, 10, MilliampsFromWatts(122), 1e-9)
}

func TestInterpolationRoundTrip(t *testing.T) {
	for mA := 6.0; mA < 20; mA += 0.25 {
		assert.InDelta(t, mA, MilliampsFromWatts(WattsFromMilliamps(mA)), 1e-9, "mA=%v", mA)
	}
}

func TestWriteActivePower(t *testing.T) {
	s := &fakeSender{respond: echo}
	h := New(Config{Address: 1, SerialDevice: "/dev/ttyS0"}, s, logger.NewMockLogger())

	require.NoError(t, h.WriteActivePower(context.Background(), 122))
	require.Len(t, s.sent, 1)
	assert.Equal(t, []byte{0x01, 0x06, 0x00, 0x00, 0x50, 0x00}, s.sent[0].Bytes())

	require.NoError(t, h.WriteActivePower(context.Background(), 0))
	assert.Equal(t, []byte{0x01, 0x06, 0x00, 0x00, 0x00, 0x00}, s.sent[1].Bytes())

	err := h.WriteActivePower(context.Background(), -1)
	assert.True(t, errors.Is(err, hwcerrors.ErrInvalidArgument))
	assert.Len(t, s.sent, 2)
}

func TestWriteCurrentRange(t *testing.T) {
	s := &fakeSender{respond: echo}
	h := New(Config{Address: 1}, s, nil)

	require.NoError(t, h.WriteCurrent(context.Background(), 20))
	assert.Equal(t, []byte{0x01, 0x06, 0x00, 0x00, 0xA0, 0x00}, s.sent[0].Bytes())

	err := h.WriteCurrent(context.Background(), 32)
	assert.True(t, errors.Is(err, hwcerrors.ErrInvalidArgument))
}

func TestRefresh(t *testing.T) {
	s := &fakeSender{respond: func(req *modbus.Frame) ([]byte, error) {
		// setpoint 10mA, measured 10.5mA
		return []byte{0x01, 0x03, 0x04, 0x50, 0x00, 0x54, 0x00}, nil
	}}
	h := New(Config{Address: 1, Name: "boiler"}, s, nil)

	require.NoError(t, h.Refresh(context.Background()))
	assert.Equal(t, []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02}, s.sent[0].Bytes())
	assert.Equal(t, 10.0, h.Setpoint4To20mA().Value)
	assert.Equal(t, 10.5, h.Current4To20mA().Value)
	assert.InDelta(t, 189.5, h.ActivePower().Value, 1e-9)
	assert.Equal(t, "W", h.ActivePower().Unit)
	assert.Equal(t, "hwc:1", h.ActivePower().CreatedFrom)
	assert.False(t, h.LastUpdateAt().IsZero())
	assert.Equal(t, "boiler", h.Name())
	assert.Equal(t, "hwc:1", h.ID())
}

func TestRefreshErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		sendErr error
		target  error
	}{
		{"exception", []byte{0x01, 0x83, 0x02}, nil, hwcerrors.ErrModbusException},
		{"short", []byte{0x01, 0x03, 0x02, 0x50, 0x00}, nil, hwcerrors.ErrFrameFormat},
		{"transport", nil, hwcerrors.ErrModbusTimeout, hwcerrors.ErrModbusTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSender{respond: func(*modbus.Frame) ([]byte, error) { return tt.payload, tt.sendErr }}
			h := New(Config{Address: 1}, s, nil)
			err := h.Refresh(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
			var me *hwcerrors.ModbusError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, uint8(1), me.SlaveID)
			assert.True(t, h.LastUpdateAt().IsZero())
		})
	}
}

func TestRefreshExceptionCode(t *testing.T) {
	s := &fakeSender{respond: func(*modbus.Frame) ([]byte, error) { return []byte{0x01, 0x83, 0x02}, nil }}
	h := New(Config{Address: 1}, s, nil)
	var me *hwcerrors.ModbusError
	require.True(t, errors.As(h.Refresh(context.Background()), &me))
	assert.Equal(t, uint8(2), me.ExceptionCode)
	assert.Equal(t, uint8(modbus.FuncReadHoldingRegisters), me.FunctionCode)
}
