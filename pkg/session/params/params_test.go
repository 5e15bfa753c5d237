package params

import (
	"testing"
	"time"
)

func TestEnforcer(t *testing.T) {
	enforcer := New(Config{
		MinDelta:          time.Minute,
		MaxDelta:          2 * time.Hour,
		MinPasswordLength: 12,
	})

	if err := enforcer.Validate(Parameters{Delta: time.Hour}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := enforcer.Validate(Parameters{Delta: 10 * time.Second}); err == nil {
		t.Fatal("expected delta-below-minimum failure")
	}

	if err := enforcer.Validate(Parameters{Delta: 3 * time.Hour}); err == nil {
		t.Fatal("expected delta-above-maximum failure")
	}

	if err := enforcer.Validate(Parameters{
		Delta:            time.Hour,
		PasswordProvided: true,
		PasswordLength:   4,
	}); err == nil {
		t.Fatal("expected short-password failure")
	}

	if err := enforcer.Validate(Parameters{
		Delta:            time.Hour,
		PasswordProvided: true,
		PasswordLength:   16,
	}); err != nil {
		t.Fatalf("unexpected error for acceptable password length: %v", err)
	}
}
