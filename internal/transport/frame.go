package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

const (
	frameRaw byte = iota
	frameLZ4
)

var ErrBadFrame = errors.New("transport: bad frame")

// EncodeFrame prefixes data with a one byte flag, compressing it with lz4
// when that makes it smaller.
func EncodeFrame(data []byte, compress bool) ([]byte, error) {
	if compress {
		var buf bytes.Buffer
		buf.WriteByte(frameLZ4)
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress: %w", err)
		}
		if buf.Len() < len(data)+1 {
			return buf.Bytes(), nil
		}
	}
	out := make([]byte, 0, len(data)+1)
	out = append(out, frameRaw)
	return append(out, data...), nil
}

func DecodeFrame(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrBadFrame)
	}
	switch frame[0] {
	case frameRaw:
		return frame[1:], nil
	case frameLZ4:
		data, err := io.ReadAll(lz4.NewReader(bytes.NewReader(frame[1:])))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: flag %#x", ErrBadFrame, frame[0])
}
