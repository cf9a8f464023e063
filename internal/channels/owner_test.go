package channels

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/agentcore/internal/bus"
)

// fakeTransport is a minimal Channel stub used to verify OwnerChannel's
// method promotion and Send wiring without a real platform client.
type fakeTransport struct {
	name      string
	running   bool
	sent      []bus.OutboundMessage
	sendErr   error
}

func (f *fakeTransport) Name() string { return f.name }
func (f *fakeTransport) Start(ctx context.Context) error {
	f.running = true
	return nil
}
func (f *fakeTransport) Stop(ctx context.Context) error {
	f.running = false
	return nil
}
func (f *fakeTransport) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeTransport) IsRunning() bool               { return f.running }
func (f *fakeTransport) IsAllowed(senderID string) bool { return true } // transport's own, looser allowlist

func TestOwnerChannel_PromotesTransportMethods(t *testing.T) {
	transport := &fakeTransport{name: "telegram"}
	owner := NewOwnerChannel(transport, "123", "123")

	if owner.Name() != "telegram" {
		t.Fatalf("expected Name to promote from the wrapped transport, got %q", owner.Name())
	}
	if err := owner.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !owner.IsRunning() {
		t.Fatal("expected IsRunning to promote from the wrapped transport after Start")
	}
	if err := owner.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if owner.IsRunning() {
		t.Fatal("expected IsRunning to reflect Stop via promotion")
	}
}

func TestOwnerChannel_SatisfiesChannelInterface(t *testing.T) {
	var _ Channel = (*OwnerChannel)(nil)
}

func TestOwnerChannel_IsOwner_ExactMatch(t *testing.T) {
	owner := NewOwnerChannel(&fakeTransport{name: "telegram"}, "555", "555")
	if !owner.IsOwner("555") {
		t.Fatal("expected an exact identity match to be the owner")
	}
	if owner.IsOwner("556") {
		t.Fatal("expected a different identity not to be the owner")
	}
}

func TestOwnerChannel_IsOwner_CompoundSenderID(t *testing.T) {
	owner := NewOwnerChannel(&fakeTransport{name: "telegram"}, "555", "555")
	if !owner.IsOwner("555|alice") {
		t.Fatal("expected the leading numeric segment of a compound sender id to match")
	}
	if owner.IsOwner("999|alice") {
		t.Fatal("expected a non-matching leading segment to be rejected")
	}
}

func TestOwnerChannel_IsOwner_EmptyIdentityNeverMatches(t *testing.T) {
	owner := NewOwnerChannel(&fakeTransport{name: "telegram"}, "", "555")
	if owner.IsOwner("") {
		t.Fatal("expected an empty configured identity to never match, even against an empty sender id")
	}
	if owner.IsOwner("555") {
		t.Fatal("expected an empty configured identity to never match any sender")
	}
}

func TestOwnerChannel_IsAllowed_DelegatesToIsOwner(t *testing.T) {
	// The wrapped transport's own IsAllowed always returns true (a
	// looser, multi-sender allowlist); OwnerChannel must narrow that
	// down to the single configured owner, not defer to the transport.
	owner := NewOwnerChannel(&fakeTransport{name: "telegram"}, "555", "555")
	if owner.IsAllowed("someone-else") {
		t.Fatal("expected IsAllowed to narrow to the single owner identity, not the transport's allowlist")
	}
	if !owner.IsAllowed("555") {
		t.Fatal("expected IsAllowed to admit the configured owner")
	}
}

func TestOwnerChannel_SendToOwner_UsesConfiguredChatID(t *testing.T) {
	transport := &fakeTransport{name: "telegram"}
	owner := NewOwnerChannel(transport, "555", "555-chat")

	if err := owner.SendToOwner(context.Background(), "heartbeat ok"); err != nil {
		t.Fatalf("SendToOwner: %v", err)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("expected exactly one send, got %d", len(transport.sent))
	}
	got := transport.sent[0]
	if got.ChatID != "555-chat" || got.Content != "heartbeat ok" || got.Channel != "telegram" {
		t.Fatalf("unexpected outbound message: %+v", got)
	}
}

func TestOwnerChannel_SendToOwner_NoChatIDConfigured(t *testing.T) {
	owner := NewOwnerChannel(&fakeTransport{name: "telegram"}, "555", "")
	if err := owner.SendToOwner(context.Background(), "hi"); err == nil {
		t.Fatal("expected an error when no owner chat id is configured")
	}
}

func TestOwnerChannel_SendToOwner_PropagatesTransportError(t *testing.T) {
	boom := errors.New("transport down")
	transport := &fakeTransport{name: "telegram", sendErr: boom}
	owner := NewOwnerChannel(transport, "555", "555")

	if err := owner.SendToOwner(context.Background(), "hi"); !errors.Is(err, boom) {
		t.Fatalf("expected the transport's send error to propagate, got %v", err)
	}
}
