package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/agent"
	"github.com/nextlevelbuilder/agentcore/internal/agenterr"
	"github.com/nextlevelbuilder/agentcore/internal/config"
	"github.com/nextlevelbuilder/agentcore/internal/gateway"
	"github.com/nextlevelbuilder/agentcore/internal/providers"
	"github.com/nextlevelbuilder/agentcore/internal/scheduler"
	"github.com/nextlevelbuilder/agentcore/internal/sessions"
	"github.com/nextlevelbuilder/agentcore/internal/tools"
	"github.com/nextlevelbuilder/agentcore/pkg/protocol"
)

// Tier names a Cognitive Router engine tier.
type Tier string

const (
	TierLive   Tier = "live"
	TierWorker Tier = "worker"
	TierCloud  Tier = "cloud"
)

// Tiers is a per-tier lookup of the engine loops available to the
// router. A tier whose Loop is nil is treated as disabled.
type Tiers struct {
	Live   *agent.Loop
	Worker *agent.Loop
	Cloud  *agent.Loop
}

func (t Tiers) get(tier Tier) *agent.Loop {
	switch tier {
	case TierWorker:
		return t.Worker
	case TierCloud:
		return t.Cloud
	default:
		return t.Live
	}
}

// BroadcastFunc pushes an out-of-band event to connected gateway
// clients (worker_task_completed/failed, retry notices).
type BroadcastFunc func(name string, payload interface{})

// Dispatcher is the Cognitive Router: it scores every inbound message,
// picks an engine tier, and serializes execution through the Lane
// Scheduler. Heavy (score>=60, Worker enabled) requests are hived off
// onto the Heavy Task Queue instead of blocking their lane.
type Dispatcher struct {
	cfg       *config.Config
	tiers     Tiers
	sessions  *sessions.Manager
	lanes     *scheduler.Scheduler
	heavy     *scheduler.HeavyQueue
	broadcast BroadcastFunc

	mu      sync.Mutex
	pending int // tasks currently queued or running on the Heavy Task Queue
}

// New builds a Dispatcher. heavyCapacity bounds the Heavy Task Queue's
// backlog; broadcast may be nil (events are dropped). sess is used only
// to read recent history for complexity scoring, never written.
func New(cfg *config.Config, tiers Tiers, sess *sessions.Manager, heavyCapacity int, broadcast BroadcastFunc) *Dispatcher {
	if heavyCapacity <= 0 {
		heavyCapacity = 32
	}
	if broadcast == nil {
		broadcast = func(string, interface{}) {}
	}
	return &Dispatcher{
		cfg:       cfg,
		tiers:     tiers,
		sessions:  sess,
		lanes:     scheduler.New(),
		heavy:     scheduler.NewHeavyQueue(heavyCapacity),
		broadcast: broadcast,
	}
}

// PendingHeavyTasks reports how many Heavy Task Queue jobs are queued
// or in flight. Wired into heartbeat.Gauges.PendingTasks.
func (d *Dispatcher) PendingHeavyTasks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Dispatch implements gateway.DispatchFunc: it scores req, selects a
// tier, and runs it through the session lane (or, for delegated heavy
// tasks, through the Heavy Task Queue with an immediate ack).
func (d *Dispatcher) Dispatch(ctx context.Context, req gateway.DispatchRequest) (*agent.RunResult, error) {
	message, hint := ParseEngineHint(req.Message)

	if d.tiers.get(TierLive) == nil {
		return nil, agenterr.New(agenterr.KindDispatch, "router.Dispatch", fmt.Errorf("no live engine configured"))
	}

	var history []providers.Message
	if d.sessions != nil && req.SessionKey != "" {
		history = d.sessions.GetHistory(req.SessionKey)
	}
	score := ComplexityScore(message, history)

	tier, delegate := d.selectTier(score, req.SenderRole, hint)

	laneKey := scheduler.SessionLane(req.ClientID)
	if req.ClientID == "" {
		laneKey = scheduler.LaneMain
	}

	if delegate {
		return d.delegateHeavy(ctx, laneKey, req, message)
	}

	runReq := d.buildRunRequest(req, message)

	val, err := d.lanes.Schedule(ctx, laneKey, func(ctx context.Context) (any, error) {
		l := d.tiers.get(tier)
		if l == nil {
			// Selected tier disabled after all (e.g. cloud never
			// configured) — fall back to Live rather than fail the request.
			l = d.tiers.get(TierLive)
		}
		res, err := l.Run(ctx, runReq)
		if err != nil {
			return d.maybeRetryAfterCompaction(ctx, l, runReq, err)
		}
		return res, nil
	}, laneWarnAfter)
	if err != nil {
		return nil, err
	}
	return val.(*agent.RunResult), nil
}

func (d *Dispatcher) buildRunRequest(req gateway.DispatchRequest, message string) agent.RunRequest {
	return agent.RunRequest{
		SessionKey:   req.SessionKey,
		Message:      message,
		Media:        req.Media,
		Channel:      req.Channel,
		ChatID:       req.ChatID,
		PeerKind:     req.PeerKind,
		RunID:        req.RunID,
		ClientID:     req.ClientID,
		SenderRole:   req.SenderRole,
		Stream:       req.Stream,
		HistoryLimit: req.HistoryLimit,
		GodMode:      d.cfg.GodMode,
	}
}

// selectTier implements spec 4.1's selection rule. forceEngineHint
// overrides the score-based choice but never overrides role policy
// (a hinted tier that turns out disabled still falls through to the
// role-based choice, it never silently no-ops).
func (d *Dispatcher) selectTier(score int, role tools.SenderRole, hint EngineHint) (tier Tier, delegateHeavy bool) {
	if hint != HintNone {
		switch hint {
		case HintWorker:
			if d.cfg.Engines.Worker.Enabled {
				return TierWorker, true
			}
		case HintCloud:
			if d.cfg.Engines.Cloud.Enabled {
				return TierCloud, false
			}
		case HintLive:
			return TierLive, false
		}
	}

	if score >= ScoreHeavyMin && d.cfg.Engines.Worker.Enabled {
		return TierWorker, true
	}
	if score >= ScoreCodeEditMin || role == tools.RoleSystem {
		if d.cfg.Engines.Cloud.Enabled {
			return TierCloud, false
		}
	}
	return TierLive, false
}

const laneWarnAfter = 10 * time.Second

// delegateHeavy enqueues the request on the Heavy Task Queue, returns
// an immediate ack RunResult to the caller, and broadcasts completion
// asynchronously once the worker engine finishes.
func (d *Dispatcher) delegateHeavy(ctx context.Context, laneKey scheduler.LaneKey, req gateway.DispatchRequest, message string) (*agent.RunResult, error) {
	runReq := d.buildRunRequest(req, message)

	d.mu.Lock()
	d.pending++
	d.mu.Unlock()

	taskID, err := d.heavy.Enqueue("worker_task", func(taskCtx context.Context) error {
		defer func() {
			d.mu.Lock()
			d.pending--
			d.mu.Unlock()
		}()

		// The heavy task still goes through the session lane so it
		// never interleaves with an ordinary message in the same
		// session, but it runs on a background goroutine rather than
		// blocking the client's original call.
		val, err := d.lanes.Schedule(taskCtx, laneKey, func(ctx context.Context) (any, error) {
			l := d.tiers.get(TierWorker)
			if l == nil {
				l = d.tiers.get(TierLive)
			}
			res, err := l.Run(ctx, runReq)
			if err != nil {
				return d.maybeRetryAfterCompaction(ctx, l, runReq, err)
			}
			return res, nil
		}, 0)
		if err != nil {
			d.broadcast(protocol.EventWorkerTaskFailed, map[string]string{
				"taskId": runReq.RunID,
				"error":  err.Error(),
			})
			return err
		}
		result := val.(*agent.RunResult)
		d.broadcast(protocol.EventWorkerTaskCompleted, map[string]interface{}{
			"taskId":  runReq.RunID,
			"content": result.Content,
		})
		return nil
	})
	if err != nil {
		d.mu.Lock()
		d.pending--
		d.mu.Unlock()
		return nil, agenterr.New(agenterr.KindLane, "router.delegateHeavy", err)
	}

	slog.Info("router: delegated to worker engine", "taskId", taskID, "session", req.SessionKey)
	return &agent.RunResult{
		Content: fmt.Sprintf("delegated to Worker Engine, background task %s", taskID),
		RunID:   req.RunID,
	}, nil
}

// maybeRetryAfterCompaction implements the failure model's one
// exception: a context-overflow classified error gets exactly one
// retry, after the session has been compacted. Every other class is
// fatal for the request.
func (d *Dispatcher) maybeRetryAfterCompaction(ctx context.Context, l *agent.Loop, req agent.RunRequest, origErr error) (*agent.RunResult, error) {
	if ClassifyError(origErr) != ErrClassContextOverflow {
		return nil, origErr
	}
	l.CompactNow(req.SessionKey)
	res, err := l.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ErrClass is the failure classifier tag surfaced on error events.
type ErrClass string

const (
	ErrClassAuth            ErrClass = "auth"
	ErrClassNetwork         ErrClass = "network"
	ErrClassRateLimit       ErrClass = "rate-limit"
	ErrClassContextOverflow ErrClass = "context-overflow"
	ErrClassUnknown         ErrClass = "unknown"
)

// ClassifyError tags an engine-layer error for the error event emitted
// to clients. Classification is string/kind based since provider SDKs
// vary in how they surface HTTP status; this stays deliberately
// conservative, defaulting to ErrClassUnknown.
func ClassifyError(err error) ErrClass {
	if err == nil {
		return ErrClassUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context_length") || strings.Contains(msg, "context window") ||
		strings.Contains(msg, "maximum context") || strings.Contains(msg, "too many tokens"):
		return ErrClassContextOverflow
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") || strings.Contains(msg, "invalid_api_key"):
		return ErrClassAuth
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit") || strings.Contains(msg, "too many requests"):
		return ErrClassRateLimit
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "timeout") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "eof") || strings.Contains(msg, "network"):
		return ErrClassNetwork
	default:
		return ErrClassUnknown
	}
}
