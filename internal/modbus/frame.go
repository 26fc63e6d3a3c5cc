package modbus

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	hwcerrors "hwc-server/internal/errors"
)

const minFrameLength = 9 // ':' + address + function + LRC + CRLF

var frameRegex = regexp.MustCompile(`^:([0-9A-F][0-9A-F])+\r\n$`)

// CalculateLRC returns the Modbus-ASCII longitudinal redundancy check of data
func CalculateLRC(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum + 1
}

// Frame is one Modbus-ASCII frame. Bytes excludes the trailing LRC.
type Frame struct {
	data       []byte
	ascii      string
	lrc        byte
	checksumOK bool
}

// EncodeFrame builds the ASCII representation of payload
func EncodeFrame(payload []byte) (*Frame, error) {
	if len(payload) < 1 {
		return nil, hwcerrors.InvalidArgument("empty frame payload")
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	lrc := CalculateLRC(data)

	var sb strings.Builder
	sb.Grow(2*len(data) + 5)
	sb.WriteByte(':')
	sb.WriteString(strings.ToUpper(hex.EncodeToString(data)))
	fmt.Fprintf(&sb, "%02X\r\n", lrc)

	return &Frame{data: data, ascii: sb.String(), lrc: lrc, checksumOK: true}, nil
}

// DecodeFrame parses a received ASCII frame including ':' and CRLF.
// A frame with a wrong LRC decodes successfully with ChecksumOK() == false.
func DecodeFrame(s string) (*Frame, error) {
	if len(s) < minFrameLength || !frameRegex.MatchString(s) {
		return nil, fmt.Errorf("%w: %q", hwcerrors.ErrFrameFormat, s)
	}
	raw, err := hex.DecodeString(s[1 : len(s)-2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hwcerrors.ErrFrameFormat, err)
	}
	data := raw[:len(raw)-1]
	lrc := raw[len(raw)-1]

	return &Frame{
		data:       data,
		ascii:      s,
		lrc:        lrc,
		checksumOK: CalculateLRC(data) == lrc,
	}, nil
}

// Bytes returns a copy of the frame content without LRC
func (f *Frame) Bytes() []byte {
	b := make([]byte, len(f.data))
	copy(b, f.data)
	return b
}

// Len returns the number of bytes without LRC
func (f *Frame) Len() int {
	return len(f.data)
}

// ASCII returns the wire representation
func (f *Frame) ASCII() string {
	return f.ascii
}

// String implements fmt.Stringer
func (f *Frame) String() string {
	return strings.TrimRight(f.ascii, "\r\n")
}

// LRC returns the checksum byte carried by the frame
func (f *Frame) LRC() byte {
	return f.lrc
}

// ChecksumOK reports whether the carried LRC matches the content
func (f *Frame) ChecksumOK() bool {
	return f.checksumOK
}

// ByteAt returns byte i of the content
func (f *Frame) ByteAt(i int) (byte, error) {
	if i < 0 || i >= len(f.data) {
		return 0, hwcerrors.InvalidArgument("byte index %d out of range (len %d)", i, len(f.data))
	}
	return f.data[i], nil
}

// WordAt returns the big-endian word starting at byte i
func (f *Frame) WordAt(i int) (uint16, error) {
	if i < 0 || i+1 >= len(f.data) {
		return 0, hwcerrors.InvalidArgument("word index %d out of range (len %d)", i, len(f.data))
	}
	return uint16(f.data[i])<<8 | uint16(f.data[i+1]), nil
}

// Address returns the slave address
func (f *Frame) Address() byte {
	return f.data[0]
}

// FunctionCode returns the function code, 0 for a one byte frame
func (f *Frame) FunctionCode() byte {
	if len(f.data) < 2 {
		return 0
	}
	return f.data[1]
}

// IsException reports an exception response (function code >= 128)
func (f *Frame) IsException() bool {
	return f.FunctionCode() >= 0x80
}

// ExceptionCode returns the exception code of an exception response
func (f *Frame) ExceptionCode() (byte, bool) {
	if !f.IsException() || len(f.data) < 3 {
		return 0, false
	}
	return f.data[2], true
}

// Equal reports byte equality including the LRC
func (f *Frame) Equal(other *Frame) bool {
	if f == nil || other == nil {
		return f == other
	}
	return f.lrc == other.lrc && bytes.Equal(f.data, other.data)
}
