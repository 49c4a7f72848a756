package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

const (
	// MaxLineSize is the maximum size of a single line-framed message.
	MaxLineSize = 16384

	// MaxDatagramSize is the maximum size of a rendezvous datagram.
	MaxDatagramSize = 4096
)

// ErrLineTooLong is returned when a line-framed message exceeds MaxLineSize.
var ErrLineTooLong = fmt.Errorf("wire: line exceeds %d bytes", MaxLineSize)

// Encoder writes one JSON message per line. Each message is marshaled
// and written with its trailing newline in a single Write call so
// concurrent writers on the same connection cannot interleave frames.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals v and writes it as a single newline-terminated line.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal: %w", err)
	}
	if len(data)+1 > MaxLineSize {
		return ErrLineTooLong
	}
	data = append(data, '\n')
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("wire: write: %w", err)
	}
	return nil
}

// Decoder reads one JSON message per line. Lines go through a
// fixed-size buffer, so an oversized line fails after at most
// MaxLineSize bytes instead of accumulating without bound.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, MaxLineSize)}
}

// Decode reads the next line and unmarshals it into v. It returns the
// underlying read error (including io.EOF) unwrapped so callers can
// distinguish connection loss from malformed input.
func (d *Decoder) Decode(v any) error {
	line, err := d.r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		// The frame is truncated mid-line and the stream cannot be
		// resynchronized; callers must drop the connection.
		return ErrLineTooLong
	}
	if err != nil {
		if len(line) == 0 || err != io.EOF {
			return err
		}
		// A final unterminated line is still a complete message.
	}
	if err := json.Unmarshal(line, v); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// DecodeError wraps a JSON unmarshal failure so callers can tell
// malformed input apart from transport errors.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "wire: decode: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a malformed-message error rather
// than a transport failure.
func IsDecodeError(err error) bool {
	_, ok := err.(*DecodeError)
	return ok
}

// MarshalDatagram encodes d for transmission as a single UDP datagram.
func MarshalDatagram(d *Datagram) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal datagram: %w", err)
	}
	if len(data) > MaxDatagramSize {
		return nil, fmt.Errorf("wire: datagram exceeds %d bytes", MaxDatagramSize)
	}
	return data, nil
}

// UnmarshalDatagram decodes a received UDP payload.
func UnmarshalDatagram(data []byte) (*Datagram, error) {
	var d Datagram
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return &d, nil
}
