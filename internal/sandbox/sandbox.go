// Package sandbox defines the configuration shape for sandboxed tool
// execution. Concrete container-based isolation is out of scope for
// this daemon (single-user, machine-local, no multi-tenant isolation
// requirement) — Config exists so operators can still express and
// validate a sandbox policy even though every tool currently executes
// on the host.
package sandbox

// Mode controls which tool invocations would be routed through a sandbox.
type Mode string

const (
	ModeOff     Mode = "off"
	ModeNonMain Mode = "non-main"
	ModeAll     Mode = "all"
)

// WorkspaceAccess controls how much of the host workspace a sandbox can see.
type WorkspaceAccess string

const (
	AccessNone WorkspaceAccess = "none"
	AccessRO   WorkspaceAccess = "ro"
	AccessRW   WorkspaceAccess = "rw"
)

// Scope controls sandbox container lifetime/sharing granularity.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeAgent   Scope = "agent"
	ScopeShared  Scope = "shared"
)

// Config mirrors config.SandboxConfig with defaults already applied.
type Config struct {
	Mode             Mode
	Image            string
	WorkspaceAccess  WorkspaceAccess
	Scope            Scope
	MemoryMB         int
	CPUs             float64
	TimeoutSec       int
	NetworkEnabled   bool
	ReadOnlyRoot     bool
	SetupCommand     string
	Env              map[string]string
	User             string
	TmpfsSizeMB      int
	MaxOutputBytes   int
	IdleHours        int
	MaxAgeDays       int
	PruneIntervalMin int
}

// DefaultConfig returns the baseline sandbox configuration (sandboxing off).
func DefaultConfig() Config {
	return Config{
		Mode:             ModeOff,
		Image:            "agentcore-sandbox:bookworm-slim",
		WorkspaceAccess:  AccessRW,
		Scope:            ScopeSession,
		MemoryMB:         512,
		CPUs:             1.0,
		TimeoutSec:       300,
		ReadOnlyRoot:     true,
		MaxOutputBytes:   1 << 20,
		IdleHours:        24,
		MaxAgeDays:       7,
		PruneIntervalMin: 5,
	}
}
