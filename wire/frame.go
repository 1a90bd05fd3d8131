// Package wire implements the framed, length-prefixed host<->device
// transport (spec.md §4.7): one header byte plus payload in each
// direction, no escaping, no CRC, no sequence numbers.
package wire

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MaxPayload is the largest payload a single host->device frame can carry:
// 7 bits of length. A device->host frame's length byte allows up to 255.
const MaxPayload = 127

// Reserved device->host event ids.
const (
	EventBoot    byte = 0xFF
	EventVMError byte = 0xFE
)

// VM error codes carried as the one-byte payload of an EventVMError event.
const (
	ErrCodeReturnStackUnderflow byte = 0
	ErrCodeReturnStackOverflow  byte = 1
	ErrCodeDataStackUnderflow   byte = 2
	ErrCodeDataStackOverflow    byte = 3
	ErrCodeOutOfMemory          byte = 4
)

var (
	// ErrPayloadTooLarge is returned when a caller asks to send more than
	// MaxPayload bytes in one host frame, or more than 255 in one device
	// frame.
	ErrPayloadTooLarge = errors.New("wire: payload exceeds 127 bytes")
	// ErrFraming covers malformed length, premature EOF, or any local
	// framing inconsistency (spec.md §4.7: "framing errors are
	// local-only"). Callers re-synchronize rather than treat it as fatal.
	ErrFraming = errors.New("wire: framing error")
)

// HostFrame is one host->device frame: a definition payload (Execute ==
// false, appended at the device's current here) or an execute payload
// (Execute == true, run immediately then here restored).
type HostFrame struct {
	Execute bool
	Payload []byte
}

// WriteHostFrame encodes and writes f to w.
func WriteHostFrame(w io.Writer, f HostFrame) error {
	if len(f.Payload) > MaxPayload {
		return errors.Wrapf(ErrPayloadTooLarge, "%d bytes", len(f.Payload))
	}
	header := byte(len(f.Payload))
	if f.Execute {
		header |= 0x80
	}
	buf := make([]byte, 1+len(f.Payload))
	buf[0] = header
	copy(buf[1:], f.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadHostFrame reads one host->device frame from r. It is exported
// alongside WriteHostFrame so the device-side simulator (device package,
// driven over an io.Pipe) can decode what the driver sends without
// depending on host. A stream that ends cleanly before a header byte yields
// io.EOF unwrapped; every other read failure is an ErrFraming.
func ReadHostFrame(r io.Reader) (HostFrame, error) {
	var hdr [1]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return HostFrame{}, err
		}
		return HostFrame{}, errors.Wrap(ErrFraming, err.Error())
	}
	n := int(hdr[0] & 0x7F)
	execute := hdr[0]&0x80 != 0
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return HostFrame{}, errors.Wrap(ErrFraming, err.Error())
		}
	}
	return HostFrame{Execute: execute, Payload: payload}, nil
}

// DeviceFrame is one device->host frame: an event id plus its data.
type DeviceFrame struct {
	EventID byte
	Data    []byte
}

// WriteDeviceFrame encodes and writes f to w.
func WriteDeviceFrame(w io.Writer, f DeviceFrame) error {
	if len(f.Data) > 255 {
		return errors.Wrapf(ErrPayloadTooLarge, "%d bytes", len(f.Data))
	}
	buf := make([]byte, 2+len(f.Data))
	buf[0] = byte(len(f.Data))
	buf[1] = f.EventID
	copy(buf[2:], f.Data)
	_, err := w.Write(buf)
	return err
}

// ReadDeviceFrame reads one device->host frame from r. On a framing error
// the caller should resynchronize (spec.md §4.7) by discarding bytes until
// the next plausible frame start; ReadDeviceFrame itself does not attempt
// recovery.
func ReadDeviceFrame(r *bufio.Reader) (DeviceFrame, error) {
	length, err := r.ReadByte()
	if err != nil {
		return DeviceFrame{}, errors.Wrap(ErrFraming, err.Error())
	}
	id, err := r.ReadByte()
	if err != nil {
		return DeviceFrame{}, errors.Wrap(ErrFraming, err.Error())
	}
	data := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return DeviceFrame{}, errors.Wrap(ErrFraming, err.Error())
		}
	}
	return DeviceFrame{EventID: id, Data: data}, nil
}

// EncodeScalar produces the payload for an event-scalar instruction's
// value: empty if v == 0, one byte if it fits in i8, two big-endian bytes
// otherwise (spec.md §8's testable property).
func EncodeScalar(v int16) []byte {
	switch {
	case v == 0:
		return nil
	case v >= -128 && v <= 127:
		return []byte{byte(int8(v))}
	default:
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(v))
		return buf
	}
}

// DecodeScalar is EncodeScalar's inverse, used by a host-side event
// printer to recover the i16 a scalar event payload represents.
func DecodeScalar(data []byte) (int16, error) {
	switch len(data) {
	case 0:
		return 0, nil
	case 1:
		return int16(int8(data[0])), nil
	case 2:
		return int16(binary.BigEndian.Uint16(data)), nil
	default:
		return 0, errors.Wrapf(ErrFraming, "scalar event payload of %d bytes", len(data))
	}
}
