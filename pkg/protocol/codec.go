package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// FrameError reports a frame that could not be decoded or failed schema
// validation. The stream stays usable after one.
type FrameError struct {
	Frame []byte
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("invalid frame: %v", e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Decode validates and decodes a single frame.
func Decode(frame []byte) (*Message, error) {
	v, err := validator()
	if err != nil {
		return nil, err
	}
	if err := v.ValidateJSON(frame); err != nil {
		return nil, &FrameError{Frame: frame, Err: err}
	}

	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, &FrameError{Frame: frame, Err: err}
	}
	return &msg, nil
}

// Encode marshals a message into a single frame without a trailing newline.
func Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Encoder writes newline-delimited frames. It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one message followed by a newline.
func (e *Encoder) Encode(msg *Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(data)
	return err
}

// Decoder reads newline-delimited frames.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads the next message. Blank lines are skipped. A *FrameError
// means the line was consumed and the caller may continue reading.
func (d *Decoder) Decode() (*Message, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		if frame := bytes.TrimSpace(line); len(frame) > 0 {
			msg, decErr := Decode(frame)
			if decErr != nil {
				return nil, decErr
			}
			return msg, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
