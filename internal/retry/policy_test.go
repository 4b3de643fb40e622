package retry

import (
	"testing"
	"time"

	"github.com/shaiso/Sutra/internal/domain"
)

func TestDecide_ExponentialIncreasing(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
	}

	var prev time.Duration
	for _, tt := range tests {
		d := p.Decide(domain.ErrorClassTransient, tt.attempt)
		if d.GiveUp {
			t.Fatalf("attempt %d: should not give up within budget", tt.attempt)
		}
		if d.RetryAfter != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, d.RetryAfter)
		}
		if d.RetryAfter <= prev {
			t.Errorf("attempt %d: delay must strictly increase below the cap", tt.attempt)
		}
		prev = d.RetryAfter
	}
}

func TestDecide_Cap(t *testing.T) {
	p := Policy{BaseDelay: 10 * time.Second, MaxDelay: 600 * time.Second, MaxRetries: 20}

	d := p.Decide(domain.ErrorClassTransient, 10)
	if d.RetryAfter != 600*time.Second {
		t.Errorf("expected delay capped at 600s, got %v", d.RetryAfter)
	}
}

func TestDecide_GiveUpAfterMaxRetries(t *testing.T) {
	p := DefaultPolicy() // MaxRetries = 3

	if d := p.Decide(domain.ErrorClassTransient, 3); d.GiveUp {
		t.Error("attempt 3 is within budget")
	}
	if d := p.Decide(domain.ErrorClassTransient, 4); !d.GiveUp {
		t.Error("attempt 4 exhausts the budget")
	}
}

func TestDecide_TimeoutRetriedLikeTransient(t *testing.T) {
	p := DefaultPolicy()

	tr := p.Decide(domain.ErrorClassTransient, 2)
	to := p.Decide(domain.ErrorClassTimeout, 2)
	if tr != to {
		t.Errorf("timeout must follow the transient policy: %+v != %+v", to, tr)
	}
}

func TestDecide_TerminalClasses(t *testing.T) {
	p := DefaultPolicy()

	for _, class := range []domain.ErrorClass{
		domain.ErrorClassValidation,
		domain.ErrorClassAuth,
		domain.ErrorClassLockContention,
		domain.ErrorClassPermanent,
	} {
		d := p.Decide(class, 1)
		if !d.GiveUp {
			t.Errorf("%s: expected immediate give up", class)
		}
		if d.RetryAfter != 0 {
			t.Errorf("%s: no backoff for terminal classes", class)
		}
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	p := FromEnv()
	if p.BaseDelay != 10*time.Second || p.MaxRetries != 3 || p.MaxDelay != 600*time.Second {
		t.Errorf("unexpected defaults: %+v", p)
	}
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("TASK_DEFAULT_RETRY_DELAY", "250ms")
	t.Setenv("TASK_MAX_RETRIES", "5")

	p := FromEnv()
	if p.BaseDelay != 250*time.Millisecond {
		t.Errorf("expected 250ms base delay, got %v", p.BaseDelay)
	}
	if p.MaxRetries != 5 {
		t.Errorf("expected 5 retries, got %d", p.MaxRetries)
	}
}
