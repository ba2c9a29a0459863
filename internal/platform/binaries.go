package platform

import (
	"fmt"
	"os/exec"
)

// ValidateDependencies verifies the external upload tool resolves on PATH.
// Dry-run mode never executes the tool, so the check is skipped there.
func ValidateDependencies(tool string, dryRun bool) error {
	if dryRun {
		return nil
	}
	if _, err := exec.LookPath(tool); err != nil {
		return fmt.Errorf("required dependency: '%s' not found in PATH", tool)
	}
	return nil
}
