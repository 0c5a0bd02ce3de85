package synthetic

import (
	"context"
	"errors"
	"testing"

	"github.com/e7canasta/orion-virtual-sensor/internal/client"
)

func TestSource_Lifecycle(t *testing.T) {
	s := New()

	if err := s.QueryConnect(); !errors.Is(err, client.ErrNotConnected) {
		t.Errorf("QueryConnect() before Connect = %v, want ErrNotConnected", err)
	}
	if err := s.Connect(context.Background(), "name=test"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := s.QueryConnect(); err != nil {
		t.Fatalf("QueryConnect() error = %v", err)
	}
	if err := s.QueryFrame(make([]byte, 6), nil, client.NeutralWhiteBalance, 1); !errors.Is(err, client.ErrNotStreaming) {
		t.Errorf("QueryFrame() before start = %v, want ErrNotStreaming", err)
	}
	if err := s.QueryStart(client.PixFmtNV21, 16, 8); err != nil {
		t.Fatalf("QueryStart() error = %v", err)
	}
	if err := s.QueryStart(client.PixFmtNV21, 32, 16); !errors.Is(err, client.ErrDeviceBusy) {
		t.Errorf("second QueryStart() = %v, want ErrDeviceBusy", err)
	}
	if err := s.QueryStop(); err != nil {
		t.Fatalf("QueryStop() error = %v", err)
	}
	if err := s.QueryStop(); !errors.Is(err, client.ErrNotStreaming) {
		t.Errorf("second QueryStop() = %v, want ErrNotStreaming", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestSource_QueryStartValidation(t *testing.T) {
	tests := []struct {
		name   string
		format client.FourCC
		w, h   int
	}{
		{"rgb32 not native", client.PixFmtRGB32, 16, 16},
		{"zero width", client.PixFmtNV21, 0, 16},
		{"odd height", client.PixFmtNV21, 16, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			s.Connect(context.Background(), "name=test")
			if err := s.QueryStart(tt.format, tt.w, tt.h); err == nil {
				t.Error("QueryStart() succeeded, want error")
			}
		})
	}
}

func TestSource_QueryFrame(t *testing.T) {
	const w, h = 64, 16
	s := New()
	s.Connect(context.Background(), "name=test")
	if err := s.QueryStart(client.PixFmtNV21, w, h); err != nil {
		t.Fatal(err)
	}

	nv21 := make([]byte, w*h*12/8)
	if err := s.QueryFrame(nv21, nil, client.NeutralWhiteBalance, 1); err != nil {
		t.Fatalf("QueryFrame(nv21) error = %v", err)
	}
	// First bar is white: high luma.
	if nv21[0] < 200 {
		t.Errorf("luma of first pixel = %d, want white bar", nv21[0])
	}
	// Last bar is black: low luma.
	if nv21[w-1] > 40 {
		t.Errorf("luma of last pixel = %d, want black bar", nv21[w-1])
	}

	rgba := make([]byte, w*h*4)
	if err := s.QueryFrame(nil, rgba, client.NeutralWhiteBalance, 1); err != nil {
		t.Fatalf("QueryFrame(rgba) error = %v", err)
	}
	if rgba[3] != 0xff {
		t.Errorf("alpha = %d, want 255", rgba[3])
	}
	if s.Frames() != 2 {
		t.Errorf("Frames() = %d, want 2", s.Frames())
	}

	if err := s.QueryFrame(make([]byte, 10), nil, client.NeutralWhiteBalance, 1); err == nil {
		t.Error("QueryFrame() with short buffer succeeded, want error")
	}
}
