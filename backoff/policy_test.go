package backoff_test

import (
	"testing"
	"time"

	"github.com/soundpipe/soundpipe"
	"github.com/soundpipe/soundpipe/backoff"
)

func testPolicy() backoff.Policy {
	return backoff.Policy{
		MaxAttempts: 3,
		Strategy:    backoff.NewExponential(time.Second, time.Minute),
	}
}

func TestPolicy_RecoverableRetries(t *testing.T) {
	p := testPolicy()

	d := p.Decide(1, soundpipe.ClassRecoverable, 0)
	if !d.Retry {
		t.Fatal("attempt 1 of 3 should retry")
	}
	if d.Delay != time.Second {
		t.Errorf("Delay = %v, want %v", d.Delay, time.Second)
	}

	d = p.Decide(2, soundpipe.ClassRecoverable, 0)
	if !d.Retry {
		t.Fatal("attempt 2 of 3 should retry")
	}
	if d.Delay != 2*time.Second {
		t.Errorf("Delay = %v, want %v", d.Delay, 2*time.Second)
	}
}

func TestPolicy_BudgetExhausted(t *testing.T) {
	p := testPolicy()

	d := p.Decide(3, soundpipe.ClassRecoverable, 0)
	if d.Retry {
		t.Error("attempt 3 of 3 must not retry")
	}
	if !d.Exhausted {
		t.Error("budget exhaustion should be flagged")
	}
}

func TestPolicy_TerminalShortCircuits(t *testing.T) {
	p := testPolicy()

	// Terminal classification settles on the first occurrence, no budget
	// consumed, regardless of remaining attempts.
	d := p.Decide(1, soundpipe.ClassTerminal, 0)
	if d.Retry {
		t.Error("terminal failure must never retry")
	}
	if d.Exhausted {
		t.Error("terminal failure is not a budget exhaustion")
	}
}

func TestPolicy_CancelledShortCircuits(t *testing.T) {
	p := testPolicy()
	if d := p.Decide(1, soundpipe.ClassCancelled, 0); d.Retry {
		t.Error("cancelled item must never retry")
	}
}

func TestPolicy_MaxElapsed(t *testing.T) {
	p := testPolicy()
	p.MaxElapsed = time.Minute

	if d := p.Decide(1, soundpipe.ClassRecoverable, 30*time.Second); !d.Retry {
		t.Error("within MaxElapsed should retry")
	}
	d := p.Decide(1, soundpipe.ClassRecoverable, 2*time.Minute)
	if d.Retry {
		t.Error("beyond MaxElapsed must not retry")
	}
	if !d.Exhausted {
		t.Error("MaxElapsed settle should be flagged as exhausted")
	}
}

func TestPolicy_NilStrategyFallsBack(t *testing.T) {
	p := backoff.Policy{MaxAttempts: 5}

	d := p.Decide(1, soundpipe.ClassRecoverable, 0)
	if !d.Retry {
		t.Fatal("should retry with default strategy")
	}
	if d.Delay < 0 || d.Delay > time.Second {
		t.Errorf("default first delay = %v, want within [0, 1s]", d.Delay)
	}
}
