package device

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/e7canasta/orion-virtual-sensor/internal/client"
	"github.com/e7canasta/orion-virtual-sensor/internal/client/clienttest"
)

func connected(t *testing.T) (*Device, *clienttest.Fake) {
	t.Helper()
	fake := clienttest.New()
	d := New(fake, "webcam0")
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	fake.Reset()
	return d, fake
}

func TestConnect(t *testing.T) {
	fake := clienttest.New()
	d := New(fake, "webcam0")

	if d.State() != Disconnected {
		t.Fatalf("initial state = %v, want disconnected", d.State())
	}
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if d.State() != Connected {
		t.Errorf("state = %v, want connected", d.State())
	}

	calls := fake.Calls()
	if len(calls) != 2 || calls[0].Op != "connect" || calls[1].Op != "query-connect" {
		t.Fatalf("calls = %v, want [connect query-connect]", fake)
	}
	if calls[0].Name != "name=webcam0" {
		t.Errorf("connect name = %q, want %q", calls[0].Name, "name=webcam0")
	}
}

func TestConnect_Failures(t *testing.T) {
	boom := errors.New("refused")
	tests := []struct {
		name  string
		setup func(*clienttest.Fake)
	}{
		{"connect", func(f *clienttest.Fake) { f.ConnectErr = boom }},
		{"query connect", func(f *clienttest.Fake) { f.QueryConnectErr = boom }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := clienttest.New()
			tt.setup(fake)
			d := New(fake, "webcam0")

			err := d.Connect(context.Background())
			if !errors.Is(err, boom) {
				t.Errorf("Connect() error = %v, want wrapped %v", err, boom)
			}
			if d.State() != Disconnected {
				t.Errorf("state = %v, want disconnected", d.State())
			}
		})
	}
}

// TestEnsureStreaming_ResolutionPolicy checks stop/start sequencing across
// resolution requests.
func TestEnsureStreaming_ResolutionPolicy(t *testing.T) {
	d, fake := connected(t)

	// First request: start only, no stop.
	if err := d.EnsureStreaming(640, 480); err != nil {
		t.Fatal(err)
	}
	if got, want := fake.Ops(), []string{"start"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("first request ops = %v, want %v", got, want)
	}
	start := fake.Calls()[0]
	if start.Format != client.PixFmtNV21 || start.Width != 640 || start.Height != 480 {
		t.Errorf("start = %+v, want NV21 640x480", start)
	}

	// Same resolution again: nothing.
	fake.Reset()
	if err := d.EnsureStreaming(640, 480); err != nil {
		t.Fatal(err)
	}
	if ops := fake.Ops(); len(ops) != 0 {
		t.Fatalf("repeated request ops = %v, want none", ops)
	}

	// Different resolution: exactly one stop then one start.
	fake.Reset()
	if err := d.EnsureStreaming(320, 240); err != nil {
		t.Fatal(err)
	}
	if got, want := fake.Ops(), []string{"stop", "start"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("change ops = %v, want %v", got, want)
	}
	if d.State() != Streaming {
		t.Errorf("state = %v, want streaming", d.State())
	}
	if m := d.Mode(); m.Width != 320 || m.Height != 240 || m.Format != client.PixFmtNV21 {
		t.Errorf("Mode() = %+v", m)
	}
}

func TestEnsureStreaming_StartFailure(t *testing.T) {
	d, fake := connected(t)
	fake.SetStartErr(errors.New("no such mode"))

	if err := d.EnsureStreaming(640, 480); err == nil {
		t.Fatal("EnsureStreaming() succeeded with failing start")
	}
	if d.State() != Connected {
		t.Errorf("state = %v, want connected", d.State())
	}

	// The next request retries.
	fake.SetStartErr(nil)
	fake.Reset()
	if err := d.EnsureStreaming(640, 480); err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if got, want := fake.Ops(), []string{"start"}; !reflect.DeepEqual(got, want) {
		t.Errorf("retry ops = %v, want %v", got, want)
	}
}

// TestEnsureStreaming_StopFailure verifies a failed stop does not prevent
// the restart attempt.
func TestEnsureStreaming_StopFailure(t *testing.T) {
	d, fake := connected(t)
	d.EnsureStreaming(640, 480)
	fake.StopErr = errors.New("stuck")
	fake.Reset()

	d.EnsureStreaming(320, 240)
	if got, want := fake.Ops(), []string{"stop", "start"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}
}

func TestReadFrame(t *testing.T) {
	d, fake := connected(t)

	if err := d.ReadFrame(make([]byte, 6), nil, client.NeutralWhiteBalance, 1); !errors.Is(err, client.ErrNotStreaming) {
		t.Errorf("ReadFrame() before streaming = %v, want ErrNotStreaming", err)
	}

	d.EnsureStreaming(2, 2)
	buf := make([]byte, 6)
	if err := d.ReadFrame(buf, nil, client.NeutralWhiteBalance, 1); err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if buf[0] != fake.Fill {
		t.Errorf("buffer not filled: %v", buf)
	}
}

func TestStopAndDisconnect_Idempotent(t *testing.T) {
	d, fake := connected(t)
	d.EnsureStreaming(640, 480)
	fake.Reset()

	for i := 0; i < 2; i++ {
		if err := d.Stop(); err != nil {
			t.Fatalf("Stop() #%d error = %v", i+1, err)
		}
	}
	if n := fake.Count("stop"); n != 1 {
		t.Errorf("stop queries = %d, want 1", n)
	}

	for i := 0; i < 2; i++ {
		if err := d.Disconnect(); err != nil {
			t.Fatalf("Disconnect() #%d error = %v", i+1, err)
		}
	}
	if n := fake.Count("close"); n != 1 {
		t.Errorf("close queries = %d, want 1", n)
	}
	if d.State() != Disconnected {
		t.Errorf("state = %v, want disconnected", d.State())
	}
}

func TestDisconnect_StopsActiveStream(t *testing.T) {
	d, fake := connected(t)
	d.EnsureStreaming(640, 480)
	fake.Reset()

	if err := d.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if got, want := fake.Ops(), []string{"stop", "close"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}
}
