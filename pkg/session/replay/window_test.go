package replay

import "testing"

func TestCounterAccept(t *testing.T) {
	c := New(Config{})

	if err := c.Accept(1); err != nil {
		t.Fatalf("expected accept: %v", err)
	}
	if err := c.Accept(2); err != nil {
		t.Fatalf("expected accept: %v", err)
	}
	if err := c.Accept(2); err != ErrReplay {
		t.Fatalf("expected replay error, got %v", err)
	}
	if err := c.Accept(5); err != nil {
		t.Fatalf("expected accept new max: %v", err)
	}
	if err := c.Accept(1); err != ErrReplay {
		t.Fatalf("expected replay error for stale msg_id, got %v", err)
	}
	if got := c.Value(); got != 5 {
		t.Fatalf("expected stored value 5, got %d", got)
	}
}

func TestCounterAdvance(t *testing.T) {
	c := New(Config{})
	if err := c.Accept(3); err != nil {
		t.Fatalf("accept: %v", err)
	}
	c.Advance(4)
	if got := c.Value(); got != 4 {
		t.Fatalf("expected advanced value 4, got %d", got)
	}
	// Advance never regresses the stored value.
	c.Advance(1)
	if got := c.Value(); got != 4 {
		t.Fatalf("expected value to remain 4, got %d", got)
	}
}
