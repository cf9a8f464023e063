package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// interpreterFor maps a generated file's extension to the command that
// runs it. Falls back to executing the file directly (shebang-driven).
var interpreterFor = map[string][]string{
	".py": {"python3"},
	".js": {"node"},
	".sh": {"sh"},
	".rb": {"ruby"},
}

// HostForgeRunner implements ForgeRunner by writing the generated code
// to <workspace>/forge/<filename> and running it directly on the host,
// the same trust model ExecTool already uses (this daemon is
// single-user, machine-local — see internal/sandbox's doc comment).
// Dependency installation is left to the generated code itself (e.g. a
// pip/npm install line), since the dependency manager varies by
// language and no sandboxed package install is implemented here.
type HostForgeRunner struct {
	workspace string
	timeout   time.Duration
}

func NewHostForgeRunner(workspace string) *HostForgeRunner {
	return &HostForgeRunner{workspace: workspace, timeout: 60 * time.Second}
}

func (r *HostForgeRunner) CreateAndRun(ctx context.Context, spec ForgeSpec) (ForgeResult, error) {
	dir := filepath.Join(r.workspace, "forge")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ForgeResult{}, fmt.Errorf("forge: create dir: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(spec.Filename))
	if err := os.WriteFile(path, []byte(spec.Code), 0o700); err != nil {
		return ForgeResult{}, fmt.Errorf("forge: write %s: %w", spec.Filename, err)
	}

	args := interpreterFor[strings.ToLower(filepath.Ext(path))]
	var name string
	var cmdArgs []string
	if len(args) > 0 {
		name = args[0]
		cmdArgs = append(args[1:], path)
	} else {
		name = path
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, name, cmdArgs...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := time.Since(start)

	result := ForgeResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: duration.Milliseconds(),
	}
	if runErr == nil {
		result.Success = true
		return result, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	} else {
		result.ExitCode = -1
		result.Stderr = runErr.Error()
	}
	return result, nil
}
