package registry

import (
	"testing"
	"time"

	"github.com/exampleorg/docrepo/pkg/apierr"
)

func TestPutAllocatesIncrementingIDs(t *testing.T) {
	r := New()
	now := time.Now()

	s1 := r.Put(Config{Organization: "acme", Username: "alice", Key: []byte("k1"), CreatedAt: now})
	s2 := r.Put(Config{Organization: "acme", Username: "bob", Key: []byte("k2"), CreatedAt: now})

	if s1.ID != 1 || s2.ID != 2 {
		t.Fatalf("expected IDs 1 and 2, got %d and %d", s1.ID, s2.ID)
	}
	if r.Count() != 2 {
		t.Fatalf("expected 2 sessions, got %d", r.Count())
	}
}

func TestGetUnknownSession(t *testing.T) {
	r := New()
	_, err := r.Get(42)
	if apierr.AsError(err).Kind != apierr.SessionUnknown {
		t.Fatalf("expected SESSION_UNKNOWN, got %v", err)
	}
}

func TestAcceptEnforcesStrictMonotonicity(t *testing.T) {
	now := time.Now()
	sess := New().Put(Config{Organization: "acme", Username: "alice", Key: []byte("k"), CreatedAt: now})

	if err := sess.Accept(now, 1); err != nil {
		t.Fatalf("accept msg_id 1: %v", err)
	}
	if err := sess.Accept(now, 1); apierr.AsError(err).Kind != apierr.Replay {
		t.Fatalf("expected REPLAY for repeated msg_id, got %v", err)
	}
	if err := sess.Accept(now, 0); apierr.AsError(err).Kind != apierr.Replay {
		t.Fatalf("expected REPLAY for lower msg_id, got %v", err)
	}
	if err := sess.Accept(now, 2); err != nil {
		t.Fatalf("accept msg_id 2: %v", err)
	}
}

func TestAcceptRejectsAfterExpiry(t *testing.T) {
	now := time.Now()
	sess := New().Put(Config{Organization: "acme", Username: "alice", Key: []byte("k"), Delta: time.Minute, CreatedAt: now})

	future := now.Add(2 * time.Minute)
	if err := sess.Accept(future, 1); apierr.AsError(err).Kind != apierr.SessionExpired {
		t.Fatalf("expected SESSION_EXPIRED, got %v", err)
	}
}

func TestNextResponseMsgIDAdvancesPastRequest(t *testing.T) {
	now := time.Now()
	sess := New().Put(Config{Organization: "acme", Username: "alice", Key: []byte("k"), CreatedAt: now})

	if err := sess.Accept(now, 5); err != nil {
		t.Fatalf("accept: %v", err)
	}
	respID := sess.NextResponseMsgID()
	if respID != 6 {
		t.Fatalf("expected response msg_id 6, got %d", respID)
	}
	if err := sess.Accept(now, 6); apierr.AsError(err).Kind != apierr.Replay {
		t.Fatalf("expected the response's own msg_id to now be rejected as replay, got %v", err)
	}
	if err := sess.Accept(now, 7); err != nil {
		t.Fatalf("accept msg_id 7 after response bump: %v", err)
	}
}

func TestAssumeAndDropRole(t *testing.T) {
	now := time.Now()
	sess := New().Put(Config{Organization: "acme", Username: "alice", Key: []byte("k"), CreatedAt: now})

	sess.AssumeRole("managers")
	sess.AssumeRole("editors")
	if got := sess.AssumedRoles(); len(got) != 2 || got[0] != "managers" || got[1] != "editors" {
		t.Fatalf("unexpected assumed roles: %v", got)
	}
	if first, ok := sess.FirstAssumedRole(); !ok || first != "managers" {
		t.Fatalf("expected first assumed role managers, got %q, %v", first, ok)
	}
	if !sess.HasAssumedRole("editors") {
		t.Fatal("expected editors to be assumed")
	}

	sess.DropRole("managers")
	if sess.HasAssumedRole("managers") {
		t.Fatal("expected managers to be dropped")
	}
	if got := sess.AssumedRoles(); len(got) != 1 || got[0] != "editors" {
		t.Fatalf("unexpected assumed roles after drop: %v", got)
	}
}

func TestDeleteExpiredSweepsOnlyExpiredSessions(t *testing.T) {
	now := time.Now()
	r := New()
	r.Put(Config{Organization: "acme", Username: "alice", Key: []byte("k1"), Delta: time.Minute, CreatedAt: now})
	r.Put(Config{Organization: "acme", Username: "bob", Key: []byte("k2"), Delta: time.Hour, CreatedAt: now})

	removed := r.DeleteExpired(now.Add(2 * time.Minute))
	if removed != 1 {
		t.Fatalf("expected 1 session swept, got %d", removed)
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 session remaining, got %d", r.Count())
	}
}
