package steps

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// #region refresh

// RefreshFunc updates externally persisted indicator data for a run, or
// fails. There is no silent default: a run either refreshes or explicitly
// skips via NoRefresh.
type RefreshFunc func(ctx context.Context, runKey string) error

// CommandRefresh runs an external refresh process under the step's context.
// "{run_key}" in an argument is replaced with the run key before execution.
func CommandRefresh(command []string) RefreshFunc {
	return func(ctx context.Context, runKey string) error {
		if len(command) == 0 {
			return fmt.Errorf("refresh %s: no command configured", runKey)
		}

		argv := make([]string, len(command))
		for i, arg := range command {
			argv[i] = strings.ReplaceAll(arg, "{run_key}", runKey)
		}

		out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("refresh %s: %w: %s", runKey, err, strings.TrimSpace(string(out)))
		}
		return nil
	}
}

// NoRefresh declares that a run intentionally skips the external refresh,
// such as a mock dry run against already-present data.
func NoRefresh() RefreshFunc {
	return func(ctx context.Context, runKey string) error { return nil }
}

// #endregion refresh
