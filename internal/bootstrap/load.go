package bootstrap

import (
	"os"
	"path/filepath"
)

// loadOrder mirrors templateFiles plus BootstrapFile, which is only
// present (and only loaded) until the agent deletes it post-onboarding.
var loadOrder = []string{AgentsFile, SoulFile, ToolsFile, IdentityFile, UserFile, HeartbeatFile, BootstrapFile}

// LoadContextFiles reads whichever of the well-known workspace files
// currently exist and returns them in a stable order, ready to inject
// into the system prompt. Missing files are skipped, not errors — a
// freshly-seeded workspace has all of them, but the owner is free to
// delete any that no longer apply.
func LoadContextFiles(workspaceDir string) []ContextFile {
	var files []ContextFile
	for _, name := range loadOrder {
		data, err := os.ReadFile(filepath.Join(workspaceDir, name))
		if err != nil {
			continue
		}
		files = append(files, ContextFile{Path: name, Content: string(data)})
	}
	return files
}
