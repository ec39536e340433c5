package scraper

import (
	"context"
	"testing"
	"time"
)

func TestOracleSleepsWhenRemainingLow(t *testing.T) {
	o := NewOracle(1000, 1000, 50, 0)
	o.Observe(550, 40, 120*time.Millisecond)

	start := time.Now()
	if err := o.AwaitCapacity(context.Background()); err != nil {
		t.Fatalf("AwaitCapacity: %v", err)
	}
	if waited := time.Since(start); waited < 100*time.Millisecond {
		t.Errorf("expected to wait out the window, waited %v", waited)
	}

	// The pause clears the observation, so the next call runs free.
	start = time.Now()
	if err := o.AwaitCapacity(context.Background()); err != nil {
		t.Fatalf("AwaitCapacity: %v", err)
	}
	if waited := time.Since(start); waited > 50*time.Millisecond {
		t.Errorf("expected no second wait, waited %v", waited)
	}
}

func TestOracleAddsGuardPastReset(t *testing.T) {
	o := NewOracle(1000, 1000, 50, 100*time.Millisecond)
	o.Observe(590, 10, 50*time.Millisecond)

	start := time.Now()
	if err := o.AwaitCapacity(context.Background()); err != nil {
		t.Fatalf("AwaitCapacity: %v", err)
	}
	if waited := time.Since(start); waited < 140*time.Millisecond {
		t.Errorf("expected reset plus guard, waited %v", waited)
	}
}

func TestOracleNoSleepAboveThreshold(t *testing.T) {
	o := NewOracle(1000, 1000, 50, time.Second)
	o.Observe(100, 500, 10*time.Second)

	start := time.Now()
	if err := o.AwaitCapacity(context.Background()); err != nil {
		t.Fatalf("AwaitCapacity: %v", err)
	}
	if waited := time.Since(start); waited > 50*time.Millisecond {
		t.Errorf("expected no wait with quota to spare, waited %v", waited)
	}
}

func TestOracleIgnoresStaleWindow(t *testing.T) {
	o := NewOracle(1000, 1000, 50, 0)
	o.Observe(600, 0, -time.Second)

	start := time.Now()
	if err := o.AwaitCapacity(context.Background()); err != nil {
		t.Fatalf("AwaitCapacity: %v", err)
	}
	if waited := time.Since(start); waited > 50*time.Millisecond {
		t.Errorf("stale headers should not block, waited %v", waited)
	}
	if o.Snapshot().Observed {
		t.Error("stale observation should have been cleared")
	}
}

func TestOracleHonorsContext(t *testing.T) {
	o := NewOracle(1000, 1000, 50, 0)
	o.Observe(600, 0, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := o.AwaitCapacity(ctx)
	if err == nil {
		t.Fatal("expected context error")
	}
	if waited := time.Since(start); waited > time.Second {
		t.Errorf("cancellation should cut the wait short, waited %v", waited)
	}
}

func TestOracleSnapshot(t *testing.T) {
	o := NewOracle(10, 5, 50, time.Second)

	snap := o.Snapshot()
	if snap.Observed {
		t.Error("fresh oracle should have no observation")
	}

	o.Observe(42, 558, time.Minute)
	snap = o.Snapshot()
	if !snap.Observed {
		t.Fatal("expected observation after Observe")
	}
	if snap.Used != 42 || snap.Remaining != 558 {
		t.Errorf("snapshot = used %v remaining %v, want 42/558", snap.Used, snap.Remaining)
	}
	if until := time.Until(snap.ResetAt); until < 50*time.Second || until > 70*time.Second {
		t.Errorf("reset at %v, want about a minute out", until)
	}
}
