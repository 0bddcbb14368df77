package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errStorage = errors.New("stat /srv/story.txt: file does not exist")

func failing(err error) CheckFunc { return func(context.Context) error { return err } }

func TestFixed(t *testing.T) {
	tests := []struct {
		name    string
		ok      bool
		reason  string
		wantErr string
	}{
		{"ok", true, "", ""},
		{"ok ignores reason", true, "ignored", ""},
		{"fail with reason", false, "storage missing", "storage missing"},
		{"fail default reason", false, "", "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Fixed(tt.ok, tt.reason).Check(context.Background())
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("err = %v, want nil", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestAll(t *testing.T) {
	second := errors.New("second")

	tests := []struct {
		name   string
		probes []Probe
		want   error
	}{
		{"empty", nil, nil},
		{"all pass", []Probe{Fixed(true, ""), Fixed(true, "")}, nil},
		{"nil skipped", []Probe{nil, Fixed(true, ""), nil}, nil},
		{"first failure wins", []Probe{Fixed(true, ""), failing(errStorage), failing(second)}, errStorage},
		{"nil before failure", []Probe{nil, failing(second)}, second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := All(tt.probes...).Check(context.Background()); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAll_ShortCircuits(t *testing.T) {
	called := false
	later := CheckFunc(func(context.Context) error { called = true; return nil })

	_ = All(failing(errStorage), later).Check(context.Background())
	if called {
		t.Fatal("probe after a failure was evaluated")
	}
}

func TestNamed(t *testing.T) {
	err := Named("storage", failing(errStorage)).Check(context.Background())
	if !errors.Is(err, errStorage) {
		t.Fatalf("err = %v, want wrapped errStorage", err)
	}
	if err.Error() != "storage: "+errStorage.Error() {
		t.Fatalf("err = %q", err.Error())
	}

	if err := Named("storage", Fixed(true, "")).Check(context.Background()); err != nil {
		t.Fatalf("passing probe: %v", err)
	}
	if err := Named("storage", nil).Check(context.Background()); err != nil {
		t.Fatalf("nil probe: %v", err)
	}
}

func TestTimeout(t *testing.T) {
	slow := CheckFunc(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	start := time.Now()
	err := Timeout(slow, 20*time.Millisecond).Check(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("timeout did not bound the probe")
	}

	if err := Timeout(failing(errStorage), time.Second).Check(context.Background()); !errors.Is(err, errStorage) {
		t.Fatalf("err = %v, want errStorage", err)
	}
	if err := Timeout(nil, time.Second).Check(context.Background()); err != nil {
		t.Fatalf("nil probe: %v", err)
	}
}

func TestShutdownGate(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()
	ctx := context.Background()

	if err := p.Check(ctx); err != nil {
		t.Fatalf("zero gate: %v", err)
	}

	g.Set("")
	if err := p.Check(ctx); err == nil || err.Error() != "draining" {
		t.Fatalf("empty reason: %v", err)
	}

	g.Set("shutting down")
	if err := p.Check(ctx); err == nil || err.Error() != "shutting down" {
		t.Fatalf("reason not replaced: %v", err)
	}

	g.Clear()
	if err := p.Check(ctx); err != nil {
		t.Fatalf("after Clear: %v", err)
	}
}

func TestShutdownGate_ReadinessComposition(t *testing.T) {
	var g ShutdownGate
	storageOK := true
	storage := CheckFunc(func(context.Context) error {
		if storageOK {
			return nil
		}
		return errStorage
	})
	ready := All(g.Probe(), Named("storage", storage))
	ctx := context.Background()

	if err := ready.Check(ctx); err != nil {
		t.Fatalf("healthy: %v", err)
	}

	storageOK = false
	if err := ready.Check(ctx); !errors.Is(err, errStorage) {
		t.Fatalf("storage down: %v", err)
	}

	// draining is reported ahead of storage
	g.Set("draining")
	if err := ready.Check(ctx); err == nil || err.Error() != "draining" {
		t.Fatalf("draining: %v", err)
	}
}

func TestShutdownGate_Concurrent(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); g.Set("draining"); g.Clear() }()
		go func() { defer wg.Done(); _ = p.Check(context.Background()) }()
	}
	wg.Wait()
}
