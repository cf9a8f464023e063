package protocol

// RPC method name constants for the gateway's WebSocket wire protocol.
//
// This is the single-agent local daemon's surface: chat delivery, session
// management, and the exec approval gate. Multi-agent CRUD, teams,
// delegation history, skills, cron CRUD, channel instances CRUD, TTS,
// browser automation, device pairing, and Zalo QR auth are out of scope
// for a single-owner local daemon — see DESIGN.md.
const (
	// Chat
	MethodChatSend    = "chat.send"
	MethodChatHistory = "chat.history"
	MethodChatAbort   = "chat.abort"

	// Sessions
	MethodSessionsList   = "sessions.list"
	MethodSessionsDelete = "sessions.delete"
	MethodSessionsReset  = "sessions.reset"

	// Exec approval gate
	MethodApprovalsApprove = "exec.approval.approve"
	MethodApprovalsDeny    = "exec.approval.deny"

	// System
	MethodConnect = "connect"
	MethodHealth  = "health"
	MethodStatus  = "status"
)
