package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// ForgeSpec is the input to a ForgeRunner: a named snippet of code plus
// the dependencies it needs installed before it runs.
type ForgeSpec struct {
	Filename     string   `json:"filename"`
	Description  string   `json:"description"`
	Code         string   `json:"code"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// ForgeResult is what a ForgeRunner reports back after executing a spec.
type ForgeResult struct {
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMs int64  `json:"duration_ms"`
	ExitCode   int    `json:"exit_code"`
}

// ForgeRunner is the contract this daemon consumes from the code-sandbox
// collaborator: given a spec, write it to the workspace, install its
// dependencies, and run it. The concrete sandboxed runner is out of
// scope here — see internal/sandbox for the shape the runner itself is
// configured with.
type ForgeRunner interface {
	CreateAndRun(ctx context.Context, spec ForgeSpec) (ForgeResult, error)
}

// ForgeTool exposes ForgeRunner as the create_and_run_tool native tool.
// It returns the run's output only: the generated artefact is not
// registered in the tool Registry, so it cannot be re-invoked as a tool
// by name in later turns.
type ForgeTool struct {
	runner ForgeRunner
}

func NewForgeTool(runner ForgeRunner) *ForgeTool {
	return &ForgeTool{runner: runner}
}

func (t *ForgeTool) Name() string { return "create_and_run_tool" }

func (t *ForgeTool) Description() string {
	return "Write a new code snippet to the workspace and run it. Listed dependencies are not installed; " +
		"the code must install anything it needs itself. The file stays in the workspace but is not registered as a new tool."
}

func (t *ForgeTool) Destructive() bool { return true }
func (t *ForgeTool) Intrusive() bool   { return false }
func (t *ForgeTool) OwnerOnly() bool   { return false }

func (t *ForgeTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filename": map[string]interface{}{
				"type":        "string",
				"description": "Name for the generated tool, e.g. 'word_count.py'.",
			},
			"description": map[string]interface{}{
				"type":        "string",
				"description": "What this tool does, shown to the model when it's later re-invoked.",
			},
			"code": map[string]interface{}{
				"type":        "string",
				"description": "The full source code to run.",
			},
			"dependencies": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Packages the code needs, if any (recorded only; not installed).",
			},
		},
		"required": []string{"filename", "code"},
	}
}

func (t *ForgeTool) Execute(ctx context.Context, raw json.RawMessage) *Result {
	if t.runner == nil {
		return ErrorResult("forge runner is not configured")
	}

	var spec ForgeSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return ErrorResult(fmt.Sprintf("invalid arguments: %v", err))
	}
	if spec.Filename == "" || spec.Code == "" {
		return ErrorResult("filename and code are required")
	}

	result, err := t.runner.CreateAndRun(ctx, spec)
	if err != nil {
		return ErrorResult(fmt.Sprintf("forge run failed: %v", err))
	}
	if !result.Success {
		return ErrorResult(fmt.Sprintf("exit %d: %s", result.ExitCode, result.Stderr))
	}

	forLLM := result.Stdout
	if forLLM == "" {
		forLLM = fmt.Sprintf("%s ran successfully with no output.", spec.Filename)
	}
	return NewResult(forLLM)
}
