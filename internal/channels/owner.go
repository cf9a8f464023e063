package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/agentcore/internal/bus"
)

// OwnerChannel is the single external channel the daemon trusts for
// proactive notifications and owner-directed conversation. It wraps a
// concrete Channel transport (Telegram by default) and narrows it down
// to the one relationship spec'd for the daemon: a single configured
// identity, no pairing, no delegation to other agents or teams.
//
// It embeds Channel so it satisfies the interface itself (Name/Start/
// Stop/Send/IsRunning all promote from the wrapped transport) and is
// registered with the Manager directly, rather than the raw transport.
// IsAllowed is overridden: the wrapped transport's own allowlist may
// permit several senders (Telegram's AllowFrom), but the Owner-Firewall
// narrows that down further to exactly the one configured identity.
type OwnerChannel struct {
	Channel
	ownerIdentity string
	ownerChatID   string
}

// NewOwnerChannel wraps transport as the Owner-Firewall channel.
// ownerIdentity is the single sender ID the firewall accepts (matched
// against the same senderID shape BaseChannel.IsAllowed compares:
// either the bare numeric user ID or "id|username"). ownerChatID is
// the destination used for outbound sends — for Telegram this is
// typically the same numeric ID as a DM chat ID.
func NewOwnerChannel(transport Channel, ownerIdentity, ownerChatID string) *OwnerChannel {
	return &OwnerChannel{
		Channel:       transport,
		ownerIdentity: strings.TrimSpace(ownerIdentity),
		ownerChatID:   ownerChatID,
	}
}

// IsOwner reports whether senderID matches the single configured
// owner identity. This is the "looser form" comparison: match either
// the full senderID or its leading numeric-ID segment before "|".
func (o *OwnerChannel) IsOwner(senderID string) bool {
	if o.ownerIdentity == "" {
		return false
	}
	if senderID == o.ownerIdentity {
		return true
	}
	if idx := strings.Index(senderID, "|"); idx > 0 {
		return senderID[:idx] == o.ownerIdentity
	}
	return false
}

// IsAllowed overrides the wrapped transport's allowlist check with the
// firewall's own single-identity rule. A transport configured with
// more than one AllowFrom entry would otherwise admit any of them;
// the owner channel only ever admits the one configured owner.
func (o *OwnerChannel) IsAllowed(senderID string) bool {
	return o.IsOwner(senderID)
}

// SendToOwner delivers text to the single configured owner identity.
// This is the only send surface the daemon uses for proactive
// notifications (heartbeat alerts, approval prompts, heavy-task
// completions) — there is no destination parameter because there is
// only ever one destination.
func (o *OwnerChannel) SendToOwner(ctx context.Context, text string) error {
	if o.ownerChatID == "" {
		return fmt.Errorf("owner channel: no owner chat id configured")
	}
	return o.Channel.Send(ctx, bus.OutboundMessage{
		Channel: o.Channel.Name(),
		ChatID:  o.ownerChatID,
		Content: text,
	})
}
