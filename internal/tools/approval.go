package tools

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentcore/internal/agenterr"
)

// ApprovalDecision is the owner's reply to a pending approval.
type ApprovalDecision string

const (
	DecisionAllowOnce   ApprovalDecision = "allow-once"
	DecisionAllowAlways ApprovalDecision = "allow-always"
	DecisionDeny        ApprovalDecision = "deny"
)

const (
	defaultApprovalTimeout = 120 * time.Second
	approvalGraceWindow    = 15 * time.Second
)

// ApprovalRecord tracks one pending or resolved destructive/intrusive
// tool call awaiting owner sign-off.
type ApprovalRecord struct {
	ID          string
	ToolName    string
	Description string
	Reason      string
	Args        string
	ClientID    string
	CreatedAt   time.Time
	ExpiresAt   time.Time

	mu       sync.Mutex
	decision *ApprovalDecision
	consumed bool
	waiters  []chan ApprovalDecision
}

// Manager implements the Approval Gate's create/register/resolve/
// expire/consumeAllowOnce lifecycle. A sync.Map-backed registry with a
// background sweep for expired records (ticker-driven stale-entry
// pruning, same shape as a rate limiter's sweep goroutine).
type Manager struct {
	records     sync.Map // id -> *ApprovalRecord
	alwaysAllow sync.Map // clientID+"|"+toolName -> struct{}
	stopCh      chan struct{}
}

// NewManager starts an approval Manager with a background expiry sweep.
func NewManager() *Manager {
	m := &Manager{stopCh: make(chan struct{})}
	go m.sweepLoop()
	return m
}

// Stop halts the background sweep goroutine.
func (m *Manager) Stop() { close(m.stopCh) }

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			m.records.Range(func(key, value any) bool {
				rec := value.(*ApprovalRecord)
				rec.mu.Lock()
				expired := rec.decision == nil && now.After(rec.ExpiresAt)
				resolvedStale := rec.decision != nil && now.After(rec.ExpiresAt.Add(approvalGraceWindow))
				if expired {
					rec.expireLocked()
				}
				shouldDelete := resolvedStale
				rec.mu.Unlock()
				if shouldDelete {
					m.records.Delete(key)
				}
				return true
			})
		}
	}
}

// Create builds a new ApprovalRecord with the given timeout (defaulting
// to 120s) and an optional idHint for idempotent re-creation.
func (m *Manager) Create(toolName, description, reason, args, clientID string, timeout time.Duration, idHint string) *ApprovalRecord {
	if timeout <= 0 {
		timeout = defaultApprovalTimeout
	}
	id := idHint
	if id == "" {
		id = uuid.NewString()
	}
	if existing, ok := m.records.Load(id); ok {
		return existing.(*ApprovalRecord)
	}

	rec := &ApprovalRecord{
		ID:          id,
		ToolName:    toolName,
		Description: description,
		Reason:      reason,
		Args:        args,
		ClientID:    clientID,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(timeout),
	}
	m.records.Store(id, rec)
	return rec
}

// Register returns a channel that resolves once to the decision made
// on rec — by Resolve, by timeout, or immediately if already resolved.
// Idempotent by id: multiple Register calls on the same record each
// get their own channel, all fired on resolution.
func (r *ApprovalRecord) Register() <-chan ApprovalDecision {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan ApprovalDecision, 1)
	if r.decision != nil {
		ch <- *r.decision
		close(ch)
		return ch
	}
	r.waiters = append(r.waiters, ch)
	return ch
}

func (r *ApprovalRecord) expireLocked() {
	if r.decision != nil {
		return
	}
	deny := DecisionDeny
	r.decision = &deny
	r.fireWaitersLocked()
}

func (r *ApprovalRecord) fireWaitersLocked() {
	for _, ch := range r.waiters {
		ch <- *r.decision
		close(ch)
	}
	r.waiters = nil
}

// Resolve records the owner's decision for id and fires any waiters.
// Resolving an already-resolved or unknown record is a no-op.
func (m *Manager) Resolve(id string, decision ApprovalDecision) {
	v, ok := m.records.Load(id)
	if !ok {
		return
	}
	rec := v.(*ApprovalRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.decision != nil {
		return
	}
	d := decision
	rec.decision = &d
	rec.fireWaitersLocked()

	if decision == DecisionAllowAlways {
		m.alwaysAllow.Store(rec.ClientID+"|"+rec.ToolName, struct{}{})
	}
}

// IsAlwaysAllowed reports whether clientID previously resolved an
// approval for toolName with allow-always, in which case the Approval
// Gate should skip straight to execution without a new prompt.
func (m *Manager) IsAlwaysAllowed(clientID, toolName string) bool {
	_, ok := m.alwaysAllow.Load(clientID + "|" + toolName)
	return ok
}

// ConsumeAllowOnce atomically consumes an allow-once decision: the
// first call after resolution returns true, every subsequent call
// (including replays after the tool has already run) returns false.
func (m *Manager) ConsumeAllowOnce(id string) bool {
	v, ok := m.records.Load(id)
	if !ok {
		return false
	}
	rec := v.(*ApprovalRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.decision == nil || (*rec.decision != DecisionAllowOnce && *rec.decision != DecisionAllowAlways) {
		return false
	}
	if rec.consumed {
		return false
	}
	rec.consumed = true
	return true
}

// Get retrieves a record by id for inspection (e.g. building the
// approval:request broadcast payload).
func (m *Manager) Get(id string) (*ApprovalRecord, bool) {
	v, ok := m.records.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*ApprovalRecord), true
}

// Await is a convenience wrapper: create, register, and block on the
// decision, returning the record and the decision (an expired record
// resolves as DecisionDeny). DecisionError maps the decision to an error.
func (m *Manager) Await(toolName, description, reason, args, clientID string, timeout time.Duration, idHint string) (*ApprovalRecord, ApprovalDecision) {
	rec := m.Create(toolName, description, reason, args, clientID, timeout, idHint)
	decision := <-rec.Register()
	return rec, decision
}

// DecisionError maps a resolved decision to the sentinel error the
// tool loop surfaces to the engine as a tool-result, or nil on allow.
func DecisionError(decision ApprovalDecision) error {
	if decision == DecisionAllowOnce || decision == DecisionAllowAlways {
		return nil
	}
	return agenterr.ErrApprovalDenied
}
