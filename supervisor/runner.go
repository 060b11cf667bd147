//go:build linux

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/LovationAdmin/fleet-api/metrics"

	"github.com/dustin/go-humanize"
)

var ErrTooManyRestarts = errors.New("too many unstable restarts")

type exitReason string

const (
	reasonExit    exitReason = "exit"
	reasonMemory  exitReason = "memory"
	reasonStopped exitReason = "stopped"
)

// exit is how one run of the process ended.
type exit struct {
	reason exitReason
	err    error
}

// Runner keeps one app alive according to its restart policy.
type Runner struct {
	App App

	// Stdout and Stderr receive the app's output when no log file is set.
	Stdout io.Writer
	Stderr io.Writer

	// Grace is how long a stopping process gets between SIGTERM and SIGKILL.
	Grace time.Duration
	// MemoryCheck is the RSS polling period used with max_memory_restart.
	MemoryCheck time.Duration
	ReadRSS     func(pid int) (uint64, error)

	now func() time.Time
}

func NewRunner(app App) *Runner {
	return &Runner{
		App:         app,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Grace:       5 * time.Second,
		MemoryCheck: time.Second,
		ReadRSS:     ReadRSS,
		now:         time.Now,
	}
}

// Run starts the app and restarts it until ctx is cancelled, the app exits
// with autorestart disabled, or it exits before min_uptime more than
// max_restarts times in a row. Cancelling ctx stops the process and returns nil.
func (r *Runner) Run(ctx context.Context) error {
	app := r.App
	logs, err := openAppLogs(app, r.Stdout, r.Stderr)
	if err != nil {
		return fmt.Errorf("%s: open logs: %w", app.Name, err)
	}
	defer logs.Close()

	if r.now == nil {
		r.now = time.Now
	}

	unstable := 0
	for {
		started := r.now()
		ended, err := r.runOnce(ctx, logs)
		if err != nil {
			return fmt.Errorf("%s: start: %w", app.Name, err)
		}
		reason, exitErr := ended.reason, ended.err
		if reason == reasonStopped {
			log.Printf("🛑 [%s] stopped", app.Name)
			return nil
		}

		uptime := r.now().Sub(started)
		if reason == reasonExit {
			log.Printf("⚠️ [%s] exited after %v: %v", app.Name, uptime.Round(time.Millisecond), exitStatus(exitErr))
			if !app.restarts() {
				return exitErr
			}
			if uptime < app.minUptime() {
				unstable++
				if unstable > app.maxRestarts() {
					log.Printf("❌ [%s] %d unstable restarts, giving up", app.Name, unstable-1)
					return fmt.Errorf("%s: %w (%d)", app.Name, ErrTooManyRestarts, app.maxRestarts())
				}
			} else {
				unstable = 0
			}
		}

		metrics.ProcessRestarts.WithLabelValues(app.Name, string(reason)).Inc()

		if delay := time.Duration(app.RestartDelay); delay > 0 {
			select {
			case <-ctx.Done():
				log.Printf("🛑 [%s] stopped", app.Name)
				return nil
			case <-time.After(delay):
			}
		} else if ctx.Err() != nil {
			return nil
		}
		log.Printf("🔄 [%s] restarting (%s)", app.Name, reason)
	}
}

// runOnce starts the process and blocks until it exits or is stopped.
func (r *Runner) runOnce(ctx context.Context, logs *appLogs) (exit, error) {
	cmd := r.command()
	stdout, stderr := logs.writers(r.App.Time, r.now)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Orphaned grandchildren may hold the pipes open after the group is killed.
	cmd.WaitDelay = r.Grace

	if err := cmd.Start(); err != nil {
		return exit{}, err
	}
	pid := cmd.Process.Pid
	log.Printf("🚀 [%s] started (pid %d)", r.App.Name, pid)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	defer stdout.Flush()
	defer stderr.Flush()

	var memTick <-chan time.Time
	if r.App.MaxMemoryRestart > 0 && r.ReadRSS != nil {
		every := r.MemoryCheck
		if every <= 0 {
			every = time.Second
		}
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		memTick = ticker.C
	}

	for {
		select {
		case err := <-done:
			return exit{reason: reasonExit, err: err}, nil
		case <-ctx.Done():
			r.terminate(pid, done)
			return exit{reason: reasonStopped}, nil
		case <-memTick:
			rss, err := r.ReadRSS(pid)
			if err != nil || rss <= uint64(r.App.MaxMemoryRestart) {
				continue
			}
			log.Printf("⚠️ [%s] memory %s over limit %s", r.App.Name, humanize.IBytes(rss), r.App.MaxMemoryRestart)
			r.terminate(pid, done)
			return exit{reason: reasonMemory}, nil
		}
	}
}

func (r *Runner) command() *exec.Cmd {
	app := r.App
	name, args := app.Script, app.Args
	if app.Interpreter != "" {
		name, args = app.Interpreter, append([]string{app.Script}, app.Args...)
	}
	cmd := exec.Command(name, args...)
	cmd.Dir = app.Cwd
	cmd.Env = mergeEnv(os.Environ(), app.Env)
	setProcessGroup(cmd)
	return cmd
}

// terminate sends SIGTERM to the process group and SIGKILL after the grace
// period. It returns once the process has been reaped.
func (r *Runner) terminate(pid int, done <-chan error) {
	if err := signalGroup(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		log.Printf("⚠️ [%s] SIGTERM: %v", r.App.Name, err)
	}
	select {
	case <-done:
		return
	case <-time.After(r.Grace):
	}
	log.Printf("⚠️ [%s] did not stop in %v, killing", r.App.Name, r.Grace)
	_ = signalGroup(pid, syscall.SIGKILL)
	<-done
}

func mergeEnv(base []string, extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := append([]string{}, base...)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func exitStatus(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

// RunAll supervises every app of d until ctx is cancelled. It returns once
// all runners have returned, joining their errors.
func RunAll(ctx context.Context, d *Descriptor, configure func(*Runner)) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, app := range d.Apps {
		r := NewRunner(app)
		if configure != nil {
			configure(r)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				log.Printf("❌ %v", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
