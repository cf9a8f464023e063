package tools

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/agenterr"
)

func TestManager_Create_Idempotent(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	rec1 := m.Create("exec", "run command", "because", "ls -la", "client-a", time.Minute, "fixed-id")
	rec2 := m.Create("exec", "run command", "because", "ls -la", "client-a", time.Minute, "fixed-id")

	if rec1 != rec2 {
		t.Fatalf("expected Create with the same idHint to return the same record")
	}
}

func TestManager_Resolve_AllowOnce(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	rec := m.Create("exec", "run command", "because", "ls", "client-a", time.Minute, "")
	ch := rec.Register()

	m.Resolve(rec.ID, DecisionAllowOnce)

	select {
	case decision := <-ch:
		if decision != DecisionAllowOnce {
			t.Fatalf("expected DecisionAllowOnce, got %v", decision)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolution")
	}

	if err := DecisionError(resolvedDecision(m, rec.ID)); err != nil {
		t.Fatalf("expected nil error for allow-once, got %v", err)
	}
}

func TestManager_Resolve_Deny(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	rec := m.Create("exec", "run command", "because", "rm -rf /", "client-a", time.Minute, "")
	ch := rec.Register()
	m.Resolve(rec.ID, DecisionDeny)

	got := <-ch
	if got != DecisionDeny {
		t.Fatalf("expected DecisionDeny, got %v", got)
	}
	if err := DecisionError(got); err != agenterr.ErrApprovalDenied {
		t.Fatalf("expected ErrApprovalDenied, got %v", err)
	}
}

func TestManager_Resolve_Unknown_NoOp(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	// Resolving an id that was never created must not panic and must
	// leave nothing behind to retrieve.
	m.Resolve("does-not-exist", DecisionAllowOnce)

	if _, ok := m.Get("does-not-exist"); ok {
		t.Fatal("expected no record to exist for an unknown id")
	}
}

func TestManager_Resolve_AlreadyResolved_Ignored(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	rec := m.Create("exec", "run command", "because", "ls", "client-a", time.Minute, "")
	m.Resolve(rec.ID, DecisionAllowOnce)
	m.Resolve(rec.ID, DecisionDeny) // must not override the first decision

	if *rec.decision != DecisionAllowOnce {
		t.Fatalf("expected first decision to stick, got %v", *rec.decision)
	}
}

func TestManager_AllowAlways_RemembersClientAndTool(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	rec := m.Create("exec", "run command", "because", "ls", "client-a", time.Minute, "")
	if m.IsAlwaysAllowed("client-a", "exec") {
		t.Fatal("expected no always-allow before resolution")
	}

	m.Resolve(rec.ID, DecisionAllowAlways)

	if !m.IsAlwaysAllowed("client-a", "exec") {
		t.Fatal("expected always-allow to be recorded after allow-always")
	}
	if m.IsAlwaysAllowed("client-a", "other_tool") {
		t.Fatal("always-allow must be scoped to the specific tool")
	}
	if m.IsAlwaysAllowed("client-b", "exec") {
		t.Fatal("always-allow must be scoped to the specific client")
	}
}

func TestManager_ConsumeAllowOnce_OnlyFiresOnce(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	rec := m.Create("exec", "run command", "because", "ls", "client-a", time.Minute, "")
	m.Resolve(rec.ID, DecisionAllowOnce)

	if !m.ConsumeAllowOnce(rec.ID) {
		t.Fatal("expected first consume to succeed")
	}
	if m.ConsumeAllowOnce(rec.ID) {
		t.Fatal("expected second consume to fail (already consumed)")
	}
}

func TestManager_ConsumeAllowOnce_DeniedNeverConsumes(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	rec := m.Create("exec", "run command", "because", "ls", "client-a", time.Minute, "")
	m.Resolve(rec.ID, DecisionDeny)

	if m.ConsumeAllowOnce(rec.ID) {
		t.Fatal("a denied record must never be consumable")
	}
}

func TestApprovalRecord_Register_AfterResolution(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	rec := m.Create("exec", "run command", "because", "ls", "client-a", time.Minute, "")
	m.Resolve(rec.ID, DecisionAllowOnce)

	// Registering after the decision is already in means the channel
	// must be pre-filled rather than blocking forever.
	ch := rec.Register()
	select {
	case got := <-ch:
		if got != DecisionAllowOnce {
			t.Fatalf("expected DecisionAllowOnce, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Register after resolution must not block")
	}
}

func TestApprovalRecord_Expire(t *testing.T) {
	rec := &ApprovalRecord{
		ID:        "r1",
		ExpiresAt: time.Now().Add(-time.Second),
	}
	ch := rec.Register()

	rec.mu.Lock()
	rec.expireLocked()
	rec.mu.Unlock()

	select {
	case got := <-ch:
		if got != DecisionDeny {
			t.Fatalf("expected expiry to resolve as deny, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for expiry to fire waiters")
	}
}

func resolvedDecision(m *Manager, id string) ApprovalDecision {
	rec, ok := m.Get(id)
	if !ok {
		return DecisionDeny
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.decision == nil {
		return DecisionDeny
	}
	return *rec.decision
}
