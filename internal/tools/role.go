package tools

import "strings"

// SenderRole classifies the origin of a request for tool-policy
// purposes. Derived once per request from the gateway client id and
// carried alongside it for the lifetime of the run.
type SenderRole string

const (
	RoleOwner     SenderRole = "owner"
	RoleSystem    SenderRole = "system"
	RoleScheduled SenderRole = "scheduled"
)

// DeriveSenderRole maps a gateway clientId to a SenderRole: the literal
// id "system" is system-originated, any id prefixed "scheduled" is a
// cron/heartbeat-triggered synthetic request, and everything else
// (a connected human client, or the owner-firewall pseudo-client
// "channel:<name>") is treated as the owner.
func DeriveSenderRole(clientID string) SenderRole {
	switch {
	case clientID == "system":
		return RoleSystem
	case strings.HasPrefix(clientID, "scheduled"):
		return RoleScheduled
	default:
		return RoleOwner
	}
}

// IsOwner reports whether role may invoke owner-only tools.
func (r SenderRole) IsOwner() bool { return r == RoleOwner }
