package modbus

import (
	"fmt"
	"sync"
	"time"

	hwcerrors "hwc-server/internal/errors"
)

// Request tracks one request frame through echo and response
type Request struct {
	mu sync.Mutex

	request           *Frame
	requestReceived   *Frame
	response          *Frame
	sentAt            time.Time
	requestReceivedAt time.Time
	responseAt        time.Time
	err               error
}

// NewRequest creates a request for frame
func NewRequest(frame *Frame) *Request {
	return &Request{request: frame}
}

// Request returns the frame sent to the line
func (r *Request) Request() *Frame {
	return r.request
}

// RequestReceived returns the echoed frame, nil before the echo arrived
func (r *Request) RequestReceived() *Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requestReceived
}

// Response returns the device response, nil before it arrived
func (r *Request) Response() *Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.response
}

// Err returns the terminal error
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// SentAt returns the time the write completed
func (r *Request) SentAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sentAt
}

// RequestReceivedAt returns the time the echo was read back
func (r *Request) RequestReceivedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requestReceivedAt
}

// ResponseAt returns the time the response was received
func (r *Request) ResponseAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responseAt
}

// Duration returns the time between write completion and response
func (r *Request) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sentAt.IsZero() || r.responseAt.IsZero() {
		return 0
	}
	return r.responseAt.Sub(r.sentAt)
}

func (r *Request) markSent(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sentAt.IsZero() {
		r.sentAt = at
	}
}

// SetRequestReceived stores the echo; it must be byte-equal to the request
func (r *Request) SetRequestReceived(f *Frame, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.requestReceived != nil {
		return fmt.Errorf("%w: echo already received", hwcerrors.ErrUnsolicitedFrame)
	}
	if !r.request.Equal(f) {
		return fmt.Errorf("%w: sent %s, received %s", hwcerrors.ErrEchoMismatch, r.request, f)
	}
	r.requestReceived = f
	r.requestReceivedAt = at
	return nil
}

// SetResponse stores the response; requires the echo and no recorded error
func (r *Request) SetResponse(f *Frame, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.err != nil:
		return fmt.Errorf("request already failed: %w", r.err)
	case r.requestReceived == nil:
		return fmt.Errorf("%w: response before echo", hwcerrors.ErrUnsolicitedFrame)
	case r.response != nil:
		return fmt.Errorf("%w: response already received", hwcerrors.ErrUnsolicitedFrame)
	}
	r.response = f
	r.responseAt = at
	return nil
}

// SetError records the terminal error; the first error wins
func (r *Request) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}
