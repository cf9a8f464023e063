package gateway

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentcore/internal/tools"
	"github.com/nextlevelbuilder/agentcore/pkg/protocol"
)

// HandlerFunc answers one RequestFrame for a given client, returning
// the JSON-able result or an error surfaced as a FrameError.
type HandlerFunc func(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error)

// MethodRouter dispatches inbound RequestFrames by method name.
// Handlers are registered once at server construction; unknown methods
// get a "method not found" error response.
type MethodRouter struct {
	server   *Server
	handlers map[string]HandlerFunc
}

// NewMethodRouter builds a router with the gateway's built-in methods
// pre-registered. Callers may register additional methods via
// Register before the server starts accepting connections.
func NewMethodRouter(s *Server) *MethodRouter {
	r := &MethodRouter{server: s, handlers: make(map[string]HandlerFunc)}
	r.registerBuiltins()
	return r
}

// Register adds or overrides a method handler.
func (r *MethodRouter) Register(method string, h HandlerFunc) {
	r.handlers[method] = h
}

// Dispatch looks up and invokes the handler for req.Method, rate
// limiting and token-authenticating the call first.
func (r *MethodRouter) Dispatch(ctx context.Context, c *Client, req protocol.RequestFrame) protocol.ResponseFrame {
	if req.Method != protocol.MethodConnect && r.server.cfg.Gateway.Token != "" && !c.authenticated() {
		return protocol.NewErrorResponse(req.ID, 401, "not authenticated: send connect first")
	}

	if r.server.rateLimiter.Enabled() && !r.server.rateLimiter.Allow(c.id) {
		return protocol.NewErrorResponse(req.ID, 429, "rate limit exceeded")
	}

	h, ok := r.handlers[req.Method]
	if !ok {
		return protocol.NewErrorResponse(req.ID, 404, "unknown method: "+req.Method)
	}

	result, err := h(ctx, c, req.Params)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, 500, err.Error())
	}
	return protocol.NewResponse(req.ID, result)
}

func (c *Client) authenticated() bool { return c.clientID != "" }

func (r *MethodRouter) registerBuiltins() {
	r.handlers[protocol.MethodConnect] = r.handleConnect
	r.handlers[protocol.MethodHealth] = r.handleHealth
	r.handlers[protocol.MethodStatus] = r.handleStatus
	r.handlers[protocol.MethodChatSend] = r.handleChatSend
	r.handlers[protocol.MethodChatHistory] = r.handleChatHistory
	r.handlers[protocol.MethodChatAbort] = r.handleChatAbort
	r.handlers[protocol.MethodSessionsList] = r.handleSessionsList
	r.handlers[protocol.MethodSessionsReset] = r.handleSessionsReset
	r.handlers[protocol.MethodSessionsDelete] = r.handleSessionsDelete
	r.handlers[protocol.MethodApprovalsApprove] = r.handleApprovalApprove
	r.handlers[protocol.MethodApprovalsDeny] = r.handleApprovalDeny
}

type connectParams struct {
	Token    string `json:"token"`
	ClientID string `json:"clientId"`
}

func (r *MethodRouter) handleConnect(ctx context.Context, c *Client, raw json.RawMessage) (interface{}, error) {
	var p connectParams
	_ = json.Unmarshal(raw, &p)

	if r.server.cfg.Gateway.Token != "" && p.Token != r.server.cfg.Gateway.Token {
		return nil, errUnauthorized
	}

	clientID := p.ClientID
	if clientID == "" {
		clientID = c.id
	}
	c.clientID = clientID
	c.role = tools.DeriveSenderRole(clientID)

	return map[string]interface{}{
		"protocolVersion": protocol.ProtocolVersion,
		"clientId":        clientID,
		"role":            string(c.role),
	}, nil
}

func (r *MethodRouter) handleHealth(ctx context.Context, c *Client, raw json.RawMessage) (interface{}, error) {
	return map[string]string{"status": "ok"}, nil
}

func (r *MethodRouter) handleStatus(ctx context.Context, c *Client, raw json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"protocolVersion": protocol.ProtocolVersion,
		"clients":         r.server.clientCount(),
	}, nil
}

type chatSendParams struct {
	SessionKey   string   `json:"sessionKey"`
	Message      string   `json:"message"`
	Media        []string `json:"media,omitempty"`
	Channel      string   `json:"channel,omitempty"`
	ChatID       string   `json:"chatId,omitempty"`
	PeerKind     string   `json:"peerKind,omitempty"`
	Stream       bool     `json:"stream,omitempty"`
	HistoryLimit int      `json:"historyLimit,omitempty"`
}

func (r *MethodRouter) handleChatSend(ctx context.Context, c *Client, raw json.RawMessage) (interface{}, error) {
	var p chatSendParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if r.server.dispatch == nil {
		return nil, errNoDispatcher
	}

	if len(p.Message) > r.server.cfg.Gateway.MaxMessageChars && r.server.cfg.Gateway.MaxMessageChars > 0 {
		return nil, errMessageTooLong
	}

	runID := uuid.NewString()
	result, err := r.server.dispatch(ctx, DispatchRequest{
		SessionKey:   p.SessionKey,
		Message:      p.Message,
		Media:        p.Media,
		Channel:      p.Channel,
		ChatID:       p.ChatID,
		PeerKind:     p.PeerKind,
		RunID:        runID,
		ClientID:     c.clientID,
		SenderRole:   c.role,
		Stream:       p.Stream,
		HistoryLimit: p.HistoryLimit,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type sessionKeyParams struct {
	SessionKey string `json:"sessionKey"`
}

func (r *MethodRouter) handleChatHistory(ctx context.Context, c *Client, raw json.RawMessage) (interface{}, error) {
	var p sessionKeyParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return r.server.sessions.GetHistory(p.SessionKey), nil
}

func (r *MethodRouter) handleChatAbort(ctx context.Context, c *Client, raw json.RawMessage) (interface{}, error) {
	// Cooperative cancellation is handled by the caller's ctx; the
	// gateway has no separate abort registry since every run blocks on
	// the HTTP/WS handler's own request context.
	return map[string]bool{"ok": true}, nil
}

func (r *MethodRouter) handleSessionsList(ctx context.Context, c *Client, raw json.RawMessage) (interface{}, error) {
	return r.server.sessions.List(""), nil
}

func (r *MethodRouter) handleSessionsReset(ctx context.Context, c *Client, raw json.RawMessage) (interface{}, error) {
	var p sessionKeyParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	r.server.sessions.Reset(p.SessionKey)
	return map[string]bool{"ok": true}, nil
}

func (r *MethodRouter) handleSessionsDelete(ctx context.Context, c *Client, raw json.RawMessage) (interface{}, error) {
	var p sessionKeyParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, r.server.sessions.Delete(p.SessionKey)
}

type approvalDecisionParams struct {
	ID string `json:"id"`
	// Always marks the decision as allow-always instead of allow-once
	// (ignored for deny).
	Always bool `json:"always,omitempty"`
}

func (r *MethodRouter) handleApprovalApprove(ctx context.Context, c *Client, raw json.RawMessage) (interface{}, error) {
	var p approvalDecisionParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if !c.role.IsOwner() {
		return nil, errNotOwner
	}
	decision := tools.DecisionAllowOnce
	if p.Always {
		decision = tools.DecisionAllowAlways
	}
	r.server.approvals.Resolve(p.ID, decision)
	r.server.BroadcastEvent(*protocol.NewEvent(protocol.EventExecApprovalRes, map[string]string{"id": p.ID, "decision": string(decision)}))
	return map[string]bool{"ok": true}, nil
}

func (r *MethodRouter) handleApprovalDeny(ctx context.Context, c *Client, raw json.RawMessage) (interface{}, error) {
	var p approvalDecisionParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if !c.role.IsOwner() {
		return nil, errNotOwner
	}
	r.server.approvals.Resolve(p.ID, tools.DecisionDeny)
	r.server.BroadcastEvent(*protocol.NewEvent(protocol.EventExecApprovalRes, map[string]string{"id": p.ID, "decision": string(tools.DecisionDeny)}))
	return map[string]bool{"ok": true}, nil
}
