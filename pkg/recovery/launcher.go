package recovery

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// findLauncher returns the first existing launcher script on the search
// path: workspace-local .forge/launcher.sh, then $HOME/.forge/launcher.sh.
func findLauncher(workspace string) (string, error) {
	candidates := []string{filepath.Join(workspace, ".forge", "launcher.sh")}
	if home := os.Getenv("HOME"); home != "" {
		candidates = append(candidates, filepath.Join(home, ".forge", "launcher.sh"))
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("launcher not found: searched %v", candidates)
}

// invokeLauncher runs the launcher script with the worker's model,
// workspace, and session name, with cwd set to workspace, per the external
// launcher contract.
func invokeLauncher(launcherPath, model, workspace, workerID string) error {
	cmd := exec.Command(launcherPath,
		"--model="+model,
		"--workspace="+workspace,
		"--session-name="+workerID,
	)
	cmd.Dir = workspace
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("launcher execution failed for model %s: %w: %s", model, err, string(out))
	}
	return nil
}
