package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"
)

// runCommand executes a manifest command argv-style in dir, with env
// layered over the engine's own environment. Commands never pass
// through a shell. Output appends to the service log so failures can
// be diagnosed after the fact.
func runCommand(ctx context.Context, dir, command string, env map[string]string, timeout time.Duration) error {
	argv, err := SplitCommand(command)
	if err != nil {
		return err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logFile, err := openServiceLog(dir)
	if err != nil {
		return err
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = mergedEnv(env)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("command %q timed out after %s", argv[0], timeout)
		}
		return fmt.Errorf("command %q failed: %w (see %s)", argv[0], err, filepath.Join(dir, ServiceLogName))
	}
	return nil
}

func openServiceLog(dir string) (*os.File, error) {
	return os.OpenFile(filepath.Join(dir, ServiceLogName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// mergedEnv appends extra vars to the inherited environment in sorted
// order, so the spawned process sees both.
func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	if len(extra) == 0 {
		return env
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
