package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/BrainDriveAI/plugin-engine/internal/domain/storage"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

// stderr beyond this is truncated in failure results
const maxHookStderr = 8 * 1024

// HookRunner executes manifest hook scripts as subprocesses. Hooks run
// with cwd set to the plugin directory, a deadline, and the invoking
// user in the environment. A hook reports its verdict as a JSON object
// on stdout; without one, the exit code decides.
type HookRunner struct {
	timeout time.Duration
	logger  *logging.Logger
}

// NewHookRunner creates a hook runner with the given per-hook timeout.
func NewHookRunner(timeout time.Duration, logger *logging.Logger) *HookRunner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HookRunner{timeout: timeout, logger: logger}
}

// Run executes one hook script. script is relative to pluginDir and
// must not escape it. All failures come back as Results tagged with
// step; Run never panics.
func (h *HookRunner) Run(ctx context.Context, pluginDir, script, userID, slug string, step types.Step) *types.Result {
	if err := storage.ValidateRelPath(script); err != nil {
		return types.Failed(types.Fail(step, fmt.Sprintf("invalid hook path %q", script), err))
	}

	argv := hookArgv(filepath.Join(pluginDir, script))

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = pluginDir
	cmd.Env = append(os.Environ(),
		"BRAINDRIVE_USER_ID="+userID,
		"BRAINDRIVE_PLUGIN_SLUG="+slug,
		"BRAINDRIVE_PLUGIN_DIR="+pluginDir,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()

	h.logger.Debug("Hook finished",
		zap.String("script", script),
		zap.String("slug", slug),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("exit_ok", runErr == nil))

	if ctx.Err() == context.DeadlineExceeded {
		return types.Failed(types.Fail(step,
			fmt.Sprintf("hook %s timed out after %s", script, h.timeout), ctx.Err()))
	}

	// A JSON verdict overrides the exit code; hooks can exit 0 and
	// still report failure.
	if res, ok := parseVerdict(stdout.Bytes()); ok {
		if !res.Success && res.Step == "" {
			res.Step = step
		}
		return res
	}

	if runErr != nil {
		oe := types.Fail(step, fmt.Sprintf("hook %s failed", script), runErr)
		if msg := tailString(stderr.String(), maxHookStderr); msg != "" {
			oe.WithDetail("stderr", msg)
		}
		return types.Failed(oe)
	}

	return types.Ok(fmt.Sprintf("hook %s completed", script), nil)
}

// hookArgv picks the interpreter by extension. Commands are argv
// vectors; nothing is handed to a shell.
func hookArgv(path string) []string {
	switch filepath.Ext(path) {
	case ".py":
		return []string{"python3", path}
	case ".sh":
		return []string{"bash", path}
	default:
		return []string{path}
	}
}

// parseVerdict reads an optional JSON verdict from hook stdout. Hooks
// often print progress lines first, so the whole output is tried and
// then the final line. Only an object with a boolean "success" counts.
func parseVerdict(out []byte) (*types.Result, bool) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, false
	}
	if res, ok := decodeVerdict(trimmed); ok {
		return res, true
	}
	lines := bytes.Split(trimmed, []byte("\n"))
	return decodeVerdict(bytes.TrimSpace(lines[len(lines)-1]))
}

func decodeVerdict(raw []byte) (*types.Result, bool) {
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var verdict struct {
		Success *bool                  `json:"success"`
		Message string                 `json:"message"`
		Data    map[string]interface{} `json:"data"`
	}
	if err := sonic.Unmarshal(raw, &verdict); err != nil || verdict.Success == nil {
		return nil, false
	}

	res := &types.Result{Success: *verdict.Success, Message: verdict.Message, Data: verdict.Data}
	if !res.Success {
		msg := verdict.Message
		if msg == "" {
			msg = "hook reported failure"
		}
		res.Error = &msg
	}
	return res, true
}

func tailString(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
