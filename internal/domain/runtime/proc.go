package runtime

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/monitoring"
)

// proc is one detached service process. done closes when the reaper
// has collected its exit status.
type proc struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	done      chan struct{}
}

// ProcessTable tracks every detached process the engine has spawned,
// keyed by slug/service. Each entry gets a reaper goroutine that waits
// on the child, so no spawn is ever left unreaped.
type ProcessTable struct {
	procs   sync.Map
	grace   time.Duration
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

func NewProcessTable(stopGrace time.Duration, logger *logging.Logger, metrics *monitoring.Metrics) *ProcessTable {
	if stopGrace <= 0 {
		stopGrace = 10 * time.Second
	}
	return &ProcessTable{
		grace:   stopGrace,
		logger:  logger,
		metrics: metrics,
	}
}

func svcKey(slug, service string) string {
	return slug + "/" + service
}

// Launch starts argv detached in dir, in its own session, with stdout
// and stderr appended to the service log. Returns the child's PID.
func (t *ProcessTable) Launch(key, dir string, argv []string, env map[string]string) (int, error) {
	if _, ok := t.procs.Load(key); ok {
		return 0, fmt.Errorf("service %s is already running", key)
	}

	logFile, err := openServiceLog(dir)
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = mergedEnv(env)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return 0, fmt.Errorf("start %q: %w", argv[0], err)
	}
	// The child holds its own descriptor now.
	logFile.Close()

	p := &proc{cmd: cmd, pid: cmd.Process.Pid, startedAt: time.Now(), done: make(chan struct{})}
	t.procs.Store(key, p)
	t.updateGauge()
	go t.reap(key, p)

	t.logger.Info("Service process started",
		zap.String("service", key),
		zap.Int("pid", p.pid))
	return p.pid, nil
}

// reap waits on the child so the kernel releases it, then drops the
// table entry if it is still this process.
func (t *ProcessTable) reap(key string, p *proc) {
	err := p.cmd.Wait()
	close(p.done)
	t.procs.CompareAndDelete(key, p)
	t.updateGauge()

	fields := []zap.Field{
		zap.String("service", key),
		zap.Int("pid", p.pid),
		zap.Duration("uptime", time.Since(p.startedAt)),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	t.logger.Info("Service process exited", fields...)
}

// Running reports the PID of the tracked process for key, if any.
func (t *ProcessTable) Running(key string) (int, bool) {
	v, ok := t.procs.Load(key)
	if !ok {
		return 0, false
	}
	return v.(*proc).pid, true
}

// Stop terminates the tracked process for key: SIGTERM to its session,
// SIGKILL after the grace period. Returns false when nothing was
// running under that key.
func (t *ProcessTable) Stop(key string) bool {
	v, ok := t.procs.LoadAndDelete(key)
	if !ok {
		return false
	}
	t.updateGauge()
	t.terminate(key, v.(*proc))
	return true
}

func (t *ProcessTable) terminate(key string, p *proc) {
	// Negative pid signals the whole session created by Setsid.
	_ = syscall.Kill(-p.pid, syscall.SIGTERM)
	select {
	case <-p.done:
		return
	case <-time.After(t.grace):
	}

	t.logger.Warn("Service ignored SIGTERM, killing",
		zap.String("service", key),
		zap.Int("pid", p.pid))
	_ = syscall.Kill(-p.pid, syscall.SIGKILL)
	select {
	case <-p.done:
	case <-time.After(t.grace):
		t.logger.Error("Service did not exit after SIGKILL",
			zap.String("service", key),
			zap.Int("pid", p.pid))
	}
}

// StopAll terminates every tracked process and returns how many were
// stopped. Called at shutdown when the engine owns its children.
func (t *ProcessTable) StopAll() int {
	var stopped int
	t.procs.Range(func(k, _ interface{}) bool {
		if t.Stop(k.(string)) {
			stopped++
		}
		return true
	})
	return stopped
}

// Size counts tracked processes.
func (t *ProcessTable) Size() int {
	n := 0
	t.procs.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

func (t *ProcessTable) updateGauge() {
	if t.metrics != nil {
		t.metrics.SetProcessesRunning(t.Size())
	}
}
