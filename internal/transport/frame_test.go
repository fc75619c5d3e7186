package transport

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrame_RoundTrip(t *testing.T) {
	repetitive := bytes.Repeat([]byte{0, 0, 0, 0, 1, 2, 3, 4}, 200)
	tiny := []byte{9}

	tests := []struct {
		name     string
		data     []byte
		compress bool
		flag     byte
	}{
		{"raw", repetitive, false, frameRaw},
		{"compressed", repetitive, true, frameLZ4},
		{"incompressible falls back to raw", tiny, true, frameRaw},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeFrame(tt.data, tt.compress)
			if err != nil {
				t.Fatal(err)
			}
			if frame[0] != tt.flag {
				t.Errorf("flag = %d, want %d", frame[0], tt.flag)
			}
			got, err := DecodeFrame(frame)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.data) {
				t.Error("payload changed")
			}
		})
	}
}

func TestDecodeFrame_Errors(t *testing.T) {
	for _, frame := range [][]byte{nil, {7, 1, 2}, {frameLZ4, 1, 2, 3}} {
		if _, err := DecodeFrame(frame); !errors.Is(err, ErrBadFrame) {
			t.Errorf("DecodeFrame(% x): expected ErrBadFrame, got %v", frame, err)
		}
	}
}
