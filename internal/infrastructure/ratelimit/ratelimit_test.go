package ratelimit

import (
	"testing"
	"time"
)

func TestClientLimiter_Disabled(t *testing.T) {
	l := NewClientLimiter(0)
	for i := 0; i < 100; i++ {
		if d := l.Check("c"); !d.Allowed {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestClientLimiter_RejectsSixthInBurst(t *testing.T) {
	l := NewClientLimiter(5)
	for i := 0; i < 5; i++ {
		if d := l.Check("c"); !d.Allowed {
			t.Fatalf("request %d rejected inside budget", i+1)
		}
	}
	d := l.Check("c")
	if d.Allowed {
		t.Fatal("sixth request admitted over budget")
	}
	if d.RetryAfter < time.Second || d.RetryAfter > time.Minute {
		t.Fatalf("Retry-After %s out of [1s, 60s]", d.RetryAfter)
	}
	if d.Limit != 5 {
		t.Fatalf("limit = %d", d.Limit)
	}
}

func TestClientLimiter_PartitionsAreIndependent(t *testing.T) {
	l := NewClientLimiter(2)
	l.Check("a")
	l.Check("a")
	if d := l.Check("a"); d.Allowed {
		t.Fatal("a over budget should be rejected")
	}
	if d := l.Check("b"); !d.Allowed {
		t.Fatal("b must have its own budget")
	}
}

func TestClientLimiter_SweepRemovesStale(t *testing.T) {
	l := NewClientLimiter(5)
	l.Check("ghost")
	l.mu.Lock()
	l.clients["ghost"].lastSeen = time.Now().Add(-time.Hour)
	l.mu.Unlock()
	l.sweep(time.Now())
	l.mu.Lock()
	_, ok := l.clients["ghost"]
	l.mu.Unlock()
	if ok {
		t.Fatal("stale partition survived sweep")
	}
}

func TestDelayPolicy_Disabled(t *testing.T) {
	p := DelayPolicy{Enabled: false, Range: "100-200"}
	if d := p.Compute(time.Second); d != 0 {
		t.Fatalf("disabled policy delayed %s", d)
	}
}

func TestDelayPolicy_Range(t *testing.T) {
	p := DelayPolicy{Enabled: true, Range: "50-100"}
	for i := 0; i < 50; i++ {
		d := p.Compute(0)
		if d < 50*time.Millisecond || d > 100*time.Millisecond {
			t.Fatalf("delay %s outside [50ms, 100ms]", d)
		}
	}
}

func TestDelayPolicy_MaxUsesAverage(t *testing.T) {
	p := DelayPolicy{Enabled: true, Range: "max"}
	if d := p.Compute(750 * time.Millisecond); d != 750*time.Millisecond {
		t.Fatalf("delay = %s, want the moving average", d)
	}
}

func TestDelayPolicy_Garbage(t *testing.T) {
	for _, bad := range []string{"x-y", "100-50", "-5-10", "100"} {
		p := DelayPolicy{Enabled: true, Range: bad}
		if d := p.Compute(time.Second); d != 0 {
			t.Fatalf("garbage range %q produced delay %s", bad, d)
		}
	}
}

func TestDelayPolicy_Override(t *testing.T) {
	base := DelayPolicy{Enabled: false}
	over := base.Override("10-20")
	if !over.Enabled || over.Range != "10-20" {
		t.Fatalf("override = %+v", over)
	}
	same := base.Override("")
	if same.Enabled {
		t.Fatal("empty override must keep the base policy")
	}
}
