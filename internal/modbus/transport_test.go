package modbus

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hwcerrors "hwc-server/internal/errors"
	"hwc-server/internal/gpio"
	"hwc-server/internal/logger"
)

// fakeLine is a half-duplex line: respond decides what the line returns for each write
type fakeLine struct {
	mu      sync.Mutex
	writes  []string
	respond func(n int, written string) []string
	rx      chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeLine(respond func(n int, written string) []string) *fakeLine {
	return &fakeLine{
		respond: respond,
		rx:      make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (l *fakeLine) Read(b []byte) (int, error) {
	select {
	case data := <-l.rx:
		return copy(b, data), nil
	case <-l.closed:
		return 0, io.EOF
	}
}

func (l *fakeLine) Write(b []byte) (int, error) {
	l.mu.Lock()
	l.writes = append(l.writes, string(b))
	n := len(l.writes)
	respond := l.respond
	l.mu.Unlock()

	if respond != nil {
		for _, chunk := range respond(n, string(b)) {
			l.rx <- []byte(chunk)
		}
	}
	return len(b), nil
}

func (l *fakeLine) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeLine) inject(s string) {
	l.rx <- []byte(s)
}

func (l *fakeLine) writeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.writes)
}

func openTransport(t *testing.T, line *fakeLine, opts ...TransportOption) (*SerialTransport, *logger.MockLogger) {
	t.Helper()
	log := logger.NewMockLogger()
	opts = append([]TransportOption{
		WithLogger(log),
		WithPortOpener(func(SerialConfig) (Port, error) { return line, nil }),
		WithSleep(func(time.Duration) {}),
	}, opts...)
	tr := NewSerialTransport(SerialConfig{Device: "/dev/fake", BaudRate: 57600}, opts...)
	require.NoError(t, tr.Open(context.Background(), nil))
	t.Cleanup(func() { _ = tr.Close() })
	return tr, log
}

func readRequest(t *testing.T) *Frame {
	f, err := ReadHoldingRegisters(1, 1, 2)
	require.NoError(t, err)
	return f
}

func readResponse(t *testing.T) *Frame {
	return mustFrame(t, 0x01, 0x03, 0x04, 0x50, 0x00, 0x28, 0x00)
}

func TestSendResolvesWithEchoAndResponse(t *testing.T) {
	resp := readResponse(t)
	line := newFakeLine(func(n int, written string) []string {
		// deliver the response split across reads
		a := resp.ASCII()
		return []string{written, a[:5], a[5:]}
	})
	tr, _ := openTransport(t, line)

	req, err := tr.Send(context.Background(), readRequest(t), time.Second)
	require.NoError(t, err)
	assert.True(t, req.Response().Equal(resp))
	assert.True(t, req.RequestReceived().Equal(req.Request()))
	assert.False(t, req.SentAt().IsZero())
	assert.False(t, req.ResponseAt().Before(req.RequestReceivedAt()))
	assert.Equal(t, 0, tr.ConsecutiveErrors())
	assert.Equal(t, 0, tr.QueueLength())
}

func TestEchoMismatchRejectsAndQueueAdvances(t *testing.T) {
	resp := readResponse(t)
	bad := mustFrame(t, 0x01, 0x03, 0x00, 0x00, 0x00, 0x09)
	line := newFakeLine(func(n int, written string) []string {
		if n == 1 {
			return []string{bad.ASCII()}
		}
		return []string{written, resp.ASCII()}
	})
	tr, _ := openTransport(t, line)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := tr.Send(context.Background(), readRequest(t), time.Second)
			errs <- err
		}()
	}

	var mismatches, successes int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			successes++
		case errors.Is(err, hwcerrors.ErrEchoMismatch):
			mismatches++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, mismatches)
	assert.Equal(t, 1, successes)
	assert.Equal(t, 2, line.writeCount())
}

func TestModbusTimeoutAfterEcho(t *testing.T) {
	line := newFakeLine(func(n int, written string) []string {
		return []string{written}
	})
	tr, _ := openTransport(t, line, WithModbusTimeout(50*time.Millisecond))

	start := time.Now()
	req, err := tr.Send(context.Background(), readRequest(t), 5*time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, hwcerrors.ErrModbusTimeout), "got %v", err)
	assert.False(t, errors.Is(err, hwcerrors.ErrTransportTimeout))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Nil(t, req.Response())
	assert.Equal(t, err, req.Err())
}

func TestTransportTimeout(t *testing.T) {
	line := newFakeLine(nil)
	tr, _ := openTransport(t, line, WithModbusTimeout(5*time.Second))

	_, err := tr.Send(context.Background(), readRequest(t), 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, hwcerrors.ErrTransportTimeout), "got %v", err)
}

func TestSendRejectsNonPositiveTimeout(t *testing.T) {
	tr, _ := openTransport(t, newFakeLine(nil))

	_, err := tr.Send(context.Background(), readRequest(t), 0)
	assert.True(t, errors.Is(err, hwcerrors.ErrInvalidArgument))
}

func TestResponseChecksumError(t *testing.T) {
	resp := readResponse(t).ASCII()
	corrupted := resp[:len(resp)-4] + "00\r\n"
	line := newFakeLine(func(n int, written string) []string {
		return []string{written, corrupted}
	})
	tr, _ := openTransport(t, line)

	_, err := tr.Send(context.Background(), readRequest(t), time.Second)
	assert.True(t, errors.Is(err, hwcerrors.ErrChecksum), "got %v", err)
}

func TestMalformedFrameRejectsRequest(t *testing.T) {
	line := newFakeLine(func(n int, written string) []string {
		return []string{written, ":01XX\r\n"}
	})
	tr, _ := openTransport(t, line)

	_, err := tr.Send(context.Background(), readRequest(t), time.Second)
	assert.True(t, errors.Is(err, hwcerrors.ErrFrameFormat), "got %v", err)
}

func TestTruncatedFrameIsDiscarded(t *testing.T) {
	resp := readResponse(t)
	line := newFakeLine(func(n int, written string) []string {
		return []string{":0103", written, resp.ASCII()}
	})
	tr, log := openTransport(t, line)

	_, err := tr.Send(context.Background(), readRequest(t), time.Second)
	require.NoError(t, err)
	assert.True(t, log.WarnContaining("discard truncated frame"))
}

func TestUnsolicitedFrameIsLogged(t *testing.T) {
	line := newFakeLine(nil)
	_, log := openTransport(t, line)

	line.inject(readResponse(t).ASCII())
	assert.Eventually(t, func() bool {
		return log.WarnContaining("unsolicited frame")
	}, time.Second, 5*time.Millisecond)
}

func TestLateResponseOfTimedOutRequestIsIgnored(t *testing.T) {
	resp := readResponse(t)
	line := newFakeLine(func(n int, written string) []string {
		if n == 1 {
			return []string{written}
		}
		return []string{resp.ASCII(), written, resp.ASCII()}
	})
	tr, log := openTransport(t, line, WithModbusTimeout(30*time.Millisecond))

	_, err := tr.Send(context.Background(), readRequest(t), time.Second)
	require.True(t, errors.Is(err, hwcerrors.ErrModbusTimeout), "got %v", err)

	req, err := tr.Send(context.Background(), readRequest(t), time.Second)
	require.NoError(t, err)
	assert.True(t, req.Response().Equal(resp))
	assert.True(t, log.WarnContaining("late frame"))
}

func TestErrorCounterLogging(t *testing.T) {
	resp := readResponse(t)
	var mu sync.Mutex
	healthy := false
	line := newFakeLine(func(n int, written string) []string {
		mu.Lock()
		defer mu.Unlock()
		if !healthy {
			return nil
		}
		return []string{written, resp.ASCII()}
	})
	tr, log := openTransport(t, line, WithModbusTimeout(5*time.Millisecond))

	for i := 0; i < 6; i++ {
		_, err := tr.Send(context.Background(), readRequest(t), time.Second)
		require.Error(t, err)
	}
	assert.Equal(t, 6, tr.ConsecutiveErrors())
	assert.True(t, log.WarnContaining("not working"))
	assert.False(t, log.WarnContaining("seems down"))

	mu.Lock()
	healthy = true
	mu.Unlock()

	_, err := tr.Send(context.Background(), readRequest(t), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, tr.ConsecutiveErrors())
	assert.True(t, log.InfoContaining("seems to work now"))
}

func TestContextCancellationRejectsRequest(t *testing.T) {
	tr, _ := openTransport(t, newFakeLine(nil), WithModbusTimeout(5*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := tr.Send(ctx, readRequest(t), 5*time.Second)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Equal(t, 0, tr.QueueLength())
}

func TestCloseFailsPendingRequests(t *testing.T) {
	line := newFakeLine(nil)
	log := logger.NewMockLogger()
	tr := NewSerialTransport(SerialConfig{Device: "/dev/fake"},
		WithLogger(log),
		WithPortOpener(func(SerialConfig) (Port, error) { return line, nil }),
		WithModbusTimeout(5*time.Second),
	)
	require.NoError(t, tr.Open(context.Background(), nil))

	done := make(chan error, 1)
	go func() {
		_, err := tr.Send(context.Background(), readRequest(t), 5*time.Second)
		done <- err
	}()
	require.Eventually(t, func() bool { return tr.QueueLength() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, tr.Close())
	err := <-done
	assert.True(t, errors.Is(err, hwcerrors.ErrTransportClosed), "got %v", err)

	_, err = tr.Send(context.Background(), readRequest(t), time.Second)
	assert.True(t, errors.Is(err, hwcerrors.ErrTransportClosed))
}

func TestOpenRunsResetSequence(t *testing.T) {
	rec := &gpio.Recorder{}
	var slept []time.Duration
	var sleepMu sync.Mutex
	line := newFakeLine(nil)
	log := logger.NewMockLogger()

	tr := NewSerialTransport(SerialConfig{Device: "/dev/fake"},
		WithLogger(log),
		WithPortOpener(func(SerialConfig) (Port, error) { return line, nil }),
		WithDigitalOutput(rec),
		WithSleep(func(d time.Duration) {
			sleepMu.Lock()
			slept = append(slept, d)
			n := len(slept)
			sleepMu.Unlock()
			if n == 1 {
				line.inject("boot\r\n")
				time.Sleep(10 * time.Millisecond)
			}
		}),
	)
	devices := []Device{
		&testDevice{id: "hwc:1", name: "boiler", serial: "/dev/fake", address: 1,
			reset: &ResetConfig{Type: ResetGPIO, Pin: "GPIO17", Level: false, Hold: 10 * time.Millisecond}},
		&testDevice{id: "hwc:2", name: "manual", serial: "/dev/fake", address: 2,
			reset: &ResetConfig{Type: ResetUser}},
		&testDevice{id: "hwc:3", name: "plain", serial: "/dev/fake", address: 3},
	}
	require.NoError(t, tr.Open(context.Background(), devices))
	defer tr.Close()

	require.NotEmpty(t, rec.Events)
	assert.True(t, rec.Events[0].Setup)
	assert.Equal(t, gpio.Out, rec.Events[0].Dir)
	// active low: idle is high
	assert.Equal(t, []bool{true, true, false, true}, rec.Levels("GPIO17"))
	assert.Empty(t, rec.Levels("GPIO27"))

	sleepMu.Lock()
	defer sleepMu.Unlock()
	require.Len(t, slept, 5)
	assert.Equal(t, defaultSettle, slept[4])
	assert.True(t, log.InfoContaining("manual reset"))
	assert.True(t, log.InfoContaining("received during reset"))
}

type slowObserver struct {
	delay time.Duration
	tr    *SerialTransport

	mu    sync.Mutex
	calls int
}

func (o *slowObserver) RequestCompleted(string, *Request, error) {
	// reading transport state from an observer must not deadlock
	_ = o.tr.ConsecutiveErrors()
	time.Sleep(o.delay)
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()
}

func (o *slowObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func TestSlowObserverDoesNotBlockTheLine(t *testing.T) {
	resp := readResponse(t)
	line := newFakeLine(func(n int, written string) []string {
		if n == 1 {
			return nil
		}
		return []string{written, resp.ASCII()}
	})
	obs := &slowObserver{delay: 500 * time.Millisecond}
	tr, _ := openTransport(t, line, WithObserver(obs))
	obs.tr = tr

	_, err := tr.Send(context.Background(), readRequest(t), 30*time.Millisecond)
	require.True(t, errors.Is(err, hwcerrors.ErrTransportTimeout), "got %v", err)

	start := time.Now()
	assert.Equal(t, 0, tr.QueueLength())
	_, err = tr.Send(context.Background(), readRequest(t), 200*time.Millisecond)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 300*time.Millisecond)

	assert.Eventually(t, func() bool { return obs.count() == 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestEchoMismatchAfterTimeout(t *testing.T) {
	bad := mustFrame(t, 0x01, 0x03, 0x00, 0x05, 0x00, 0x02)
	line := newFakeLine(func(n int, written string) []string {
		if n == 1 {
			return []string{written}
		}
		return []string{bad.ASCII()}
	})
	tr, _ := openTransport(t, line, WithModbusTimeout(30*time.Millisecond))

	_, err := tr.Send(context.Background(), readRequest(t), time.Second)
	require.True(t, errors.Is(err, hwcerrors.ErrModbusTimeout), "got %v", err)

	_, err = tr.Send(context.Background(), readRequest(t), time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, hwcerrors.ErrEchoMismatch), "got %v", err)
	assert.False(t, errors.Is(err, hwcerrors.ErrModbusTimeout))
}

func TestIsResponseTo(t *testing.T) {
	read := readRequest(t)
	write, err := WriteHoldingRegister(1, 2, 100)
	require.NoError(t, err)
	multi, err := WriteMultipleHoldingRegisters(1, 2, 2, []int{1, 2})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  *Frame
		f    *Frame
		want bool
	}{
		{"read response", read, readResponse(t), true},
		{"read wrong byte count", read, mustFrame(t, 0x01, 0x03, 0x00, 0x05, 0x00, 0x02), false},
		{"other address", read, mustFrame(t, 0x02, 0x03, 0x04, 0x50, 0x00, 0x28, 0x00), false},
		{"exception", read, mustFrame(t, 0x01, 0x83, 0x02), true},
		{"write echo", write, write, true},
		{"multiple write response", multi, mustFrame(t, 0x01, 0x10, 0x00, 0x01, 0x00, 0x02), true},
		{"other function", write, readResponse(t), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isResponseTo(tt.req, tt.f))
		})
	}
}
