// Package json provides JSON serialization for Tabula on top of goccy/go-json,
// with pooled buffers and a streaming encoder for spooling record batches.
package json

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1024*1024 { // Don't pool very large buffers
		return
	}
	bufferPool.Put(buf)
}

// Marshal is a drop-in replacement for encoding/json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// MarshalString marshals v and returns the result as a string.
func MarshalString(v interface{}) (string, error) {
	b, err := gojson.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Unmarshal is a drop-in replacement for encoding/json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// UnmarshalNumbers decodes data keeping numbers as gojson.Number so large
// integers and decimals survive a round trip.
func UnmarshalNumbers(data []byte, v interface{}) error {
	dec := gojson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// DecodeStrict decodes data into v and fails on fields v does not declare.
func DecodeStrict(data []byte, v interface{}) error {
	dec := gojson.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// MarshalIndent is a replacement for encoding/json.MarshalIndent
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// Valid reports whether data is valid JSON.
func Valid(data []byte) bool {
	return gojson.Valid(data)
}

// Number is the type produced by UnmarshalNumbers.
type Number = gojson.Number

// StreamingEncoder writes values one at a time, either as newline-delimited
// JSON or as the elements of one JSON array.
type StreamingEncoder struct {
	writer  io.Writer
	encoder *gojson.Encoder
	isArray bool
	count   int
	err     error
}

// NewStreamingEncoder creates a new streaming encoder
func NewStreamingEncoder(w io.Writer, isArray bool) *StreamingEncoder {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)

	se := &StreamingEncoder{
		writer:  w,
		encoder: enc,
		isArray: isArray,
	}

	if isArray {
		se.write([]byte{'['})
	}

	return se
}

func (se *StreamingEncoder) write(p []byte) {
	if se.err != nil {
		return
	}
	_, se.err = se.writer.Write(p)
}

// Encode encodes a single value
func (se *StreamingEncoder) Encode(v interface{}) error {
	if se.isArray && se.count > 0 {
		se.write([]byte{','})
	}
	if se.err != nil {
		return se.err
	}
	if err := se.encoder.Encode(v); err != nil {
		se.err = fmt.Errorf("encode value %d: %w", se.count, err)
		return se.err
	}
	se.count++
	return nil
}

// Count returns the number of values encoded so far.
func (se *StreamingEncoder) Count() int {
	return se.count
}

// Close finalizes the encoding
func (se *StreamingEncoder) Close() error {
	if se.isArray {
		se.write([]byte{']'})
	}
	return se.err
}

// MarshalArray encodes values as one JSON array using a pooled buffer.
func MarshalArray[T any](values []T) (string, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	se := NewStreamingEncoder(buf, true)
	for _, v := range values {
		if err := se.Encode(v); err != nil {
			return "", err
		}
	}
	if err := se.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
