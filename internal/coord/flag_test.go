package coord_test

import (
	"testing"
	"time"

	"github.com/e7canasta/coop-sensor/internal/coord"
)

func TestFlagIdempotent(t *testing.T) {
	f := coord.NewFlag(false)

	f.Set()
	f.Set()
	if !f.IsSet() {
		t.Fatalf("IsSet() = false after Set(); Set()")
	}

	f.Clear()
	f.Clear()
	if f.IsSet() {
		t.Fatalf("IsSet() = true after Clear(); Clear()")
	}

	f.Store(true)
	if !f.IsSet() {
		t.Errorf("IsSet() = false after Store(true)")
	}
}

func TestHealthOneShot(t *testing.T) {
	h := coord.NewHealth()
	if !h.Healthy() {
		t.Fatalf("new Health must start healthy")
	}

	if !h.Fail("camera gone") {
		t.Fatalf("first Fail() returned false")
	}
	if h.Fail("second") {
		t.Errorf("second Fail() returned true")
	}
	if h.Healthy() {
		t.Errorf("Healthy() = true after Fail()")
	}
	if h.Reason() != "camera gone" {
		t.Errorf("Reason() = %q, want first reason", h.Reason())
	}

	select {
	case <-h.Done():
	default:
		t.Errorf("Done() not closed after Fail()")
	}
}

func TestHealthSleepWakesOnFail(t *testing.T) {
	h := coord.NewHealth()

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.Fail("test")
	}()

	start := time.Now()
	if h.Sleep(5 * time.Second) {
		t.Fatalf("Sleep() returned true after Fail()")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Sleep() did not wake early: %v", elapsed)
	}
}

func TestHealthSleepCompletes(t *testing.T) {
	h := coord.NewHealth()
	if !h.Sleep(time.Millisecond) {
		t.Errorf("Sleep() returned false while healthy")
	}
}
