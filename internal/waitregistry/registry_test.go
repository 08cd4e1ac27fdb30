package waitregistry

import (
	"testing"
	"time"
)

func TestRegistry_FirstRegistrantIsFirst(t *testing.T) {
	r := New()
	_, first := r.Register("k1")
	if !first {
		t.Error("expected first registration to report isFirst=true")
	}
	_, first = r.Register("k1")
	if first {
		t.Error("expected second registration to report isFirst=false")
	}
}

func TestRegistry_FireWakesAllWaiters(t *testing.T) {
	r := New()
	ch1, _ := r.Register("k1")
	ch2, _ := r.Register("k1")

	done := make(chan bool, 2)
	go func() {
		<-ch1
		done <- true
	}()
	go func() {
		<-ch2
		done <- true
	}()

	r.Fire("k1")

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for waiter to wake")
		}
	}
}

func TestRegistry_FireWithoutRegistrantsIsSafe(t *testing.T) {
	r := New()
	r.Fire("never-registered")
}

func TestRegistry_HasListeners(t *testing.T) {
	r := New()
	if r.HasListeners("k1") {
		t.Error("expected no listeners before registration")
	}
	r.Register("k1")
	if !r.HasListeners("k1") {
		t.Error("expected listeners after registration")
	}
	r.Fire("k1")
	if r.HasListeners("k1") {
		t.Error("expected no listeners after Fire clears the waiter list")
	}
}

func TestRegistry_KeysAreIndependent(t *testing.T) {
	r := New()
	ch, first := r.Register("a")
	if !first {
		t.Fatal("expected first registration for key a")
	}
	_, first = r.Register("b")
	if !first {
		t.Fatal("expected first registration for key b (independent of a)")
	}
	r.Fire("b")
	select {
	case <-ch:
		t.Error("firing key b should not wake a waiter registered on key a")
	default:
	}
}
