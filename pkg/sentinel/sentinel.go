// Package sentinel supervises the daemon process. It starts the binary's
// "start" subcommand as a child, restarts it on crash with exponential
// backoff, and performs a rolling restart when the binary on disk changes.
package sentinel

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// GracePeriod is how long the child gets after SIGTERM before SIGKILL.
	GracePeriod = 10 * time.Second

	// InitialBackoff is the first delay after an abnormal exit.
	InitialBackoff = 5 * time.Second

	// MaxBackoff caps the delay between restart attempts.
	MaxBackoff = 10 * time.Minute

	// BackoffFactor multiplies the backoff on each successive failure.
	BackoffFactor = 2.0

	// SuccessRunTime is how long the child must stay up before the
	// backoff resets.
	SuccessRunTime = 30 * time.Second

	// DebounceInterval lets a burst of fsnotify events settle before the
	// checksum is recomputed.
	DebounceInterval = 100 * time.Millisecond
)

// Sentinel supervises one child process.
type Sentinel struct {
	binaryPath string
	childArgs  []string
	lastHash   [sha256.Size]byte
	backoff    time.Duration
	stopCh     chan struct{}
	logger     *slog.Logger
}

// Run blocks supervising the current executable's "start" subcommand until
// SIGINT or SIGTERM arrives.
func Run(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	binaryPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}
	// Watch the real file, not a symlink into it.
	binaryPath, err = filepath.EvalSymlinks(binaryPath)
	if err != nil {
		return fmt.Errorf("failed to resolve binary symlinks: %w", err)
	}

	s := &Sentinel{
		binaryPath: binaryPath,
		childArgs:  []string{"start"},
		backoff:    InitialBackoff,
		stopCh:     make(chan struct{}),
		logger:     logger.With("component", "sentinel"),
	}

	s.lastHash, err = HashFile(binaryPath)
	if err != nil {
		return fmt.Errorf("failed to hash binary: %w", err)
	}
	s.logger.Info("sentinel started", "binary", binaryPath, "hash", fmt.Sprintf("%x", s.lastHash[:8]))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	updateCh := make(chan struct{}, 1)
	go s.watchBinary(updateCh)

	s.mainLoop(sigCh, updateCh)
	return nil
}

func (s *Sentinel) mainLoop(sigCh <-chan os.Signal, updateCh <-chan struct{}) {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		child, err := s.startChild()
		if err != nil {
			s.logger.Error("failed to start child", "error", err)
			s.sleepBackoff()
			s.increaseBackoff()
			continue
		}
		startTime := time.Now()

		childDone := make(chan error, 1)
		go func() {
			childDone <- child.Wait()
		}()

		select {
		case err := <-childDone:
			elapsed := time.Since(startTime)
			if err != nil {
				s.logger.Error("child exited with error", "elapsed", elapsed, "error", err)
				if elapsed >= SuccessRunTime {
					s.backoff = InitialBackoff
				}
				s.sleepBackoff()
				s.increaseBackoff()
			} else {
				// The daemon normally runs forever, so even a clean exit
				// gets a restart.
				s.logger.Info("child exited cleanly, restarting", "elapsed", elapsed)
				s.backoff = InitialBackoff
				time.Sleep(time.Second)
			}

		case <-updateCh:
			s.logger.Info("binary updated, restarting child")
			s.stopChild(child)
			select {
			case <-childDone:
			case sig := <-sigCh:
				s.logger.Info("signal during restart, exiting", "signal", sig.String())
				<-childDone
				return
			}
			if h, err := HashFile(s.binaryPath); err == nil {
				s.lastHash = h
				s.logger.Info("new binary hash", "hash", fmt.Sprintf("%x", h[:8]))
			}
			s.backoff = InitialBackoff

		case sig := <-sigCh:
			s.logger.Info("signal received, stopping child", "signal", sig.String())
			s.stopChild(child)
			<-childDone
			return
		}
	}
}

func (s *Sentinel) startChild() (*exec.Cmd, error) {
	cmd := exec.Command(s.binaryPath, s.childArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("exec %s %v: %w", s.binaryPath, s.childArgs, err)
	}
	s.logger.Info("child started", "pid", cmd.Process.Pid)
	return cmd, nil
}

// stopChild sends SIGTERM and schedules a SIGKILL after the grace period.
// The caller drains the child's Wait.
func (s *Sentinel) stopChild(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return
	}
	go func() {
		time.Sleep(GracePeriod)
		if err := cmd.Process.Signal(syscall.Signal(0)); err == nil {
			s.logger.Warn("grace period expired, killing child", "pid", pid)
			_ = cmd.Process.Kill()
		}
	}()
}

// watchBinary watches the binary's directory. Deploys usually replace the
// file atomically (write temp, rename), which changes the inode, so the
// directory is the reliable thing to watch.
func (s *Sentinel) watchBinary(updateCh chan<- struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Error("failed to create watcher", "error", err)
		return
	}
	defer watcher.Close()

	watchDir := filepath.Dir(s.binaryPath)
	binaryName := filepath.Base(s.binaryPath)
	if err := watcher.Add(watchDir); err != nil {
		s.logger.Error("failed to watch directory", "dir", watchDir, "error", err)
		return
	}

	var debounceTimer *time.Timer
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != binaryName {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(DebounceInterval, func() {
				newHash, err := HashFile(s.binaryPath)
				if err != nil {
					s.logger.Error("failed to hash binary after event", "error", err)
					return
				}
				if newHash == s.lastHash {
					return
				}
				select {
				case updateCh <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("watcher error", "error", err)

		case <-s.stopCh:
			return
		}
	}
}

// HashFile computes the SHA256 of the file at path.
func HashFile(path string) ([sha256.Size]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [sha256.Size]byte{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return [sha256.Size]byte{}, fmt.Errorf("hash %s: %w", path, err)
	}
	var result [sha256.Size]byte
	copy(result[:], h.Sum(nil))
	return result, nil
}

func (s *Sentinel) sleepBackoff() {
	select {
	case <-time.After(s.backoff):
	case <-s.stopCh:
	}
}

func (s *Sentinel) increaseBackoff() {
	s.backoff = time.Duration(float64(s.backoff) * BackoffFactor)
	if s.backoff > MaxBackoff {
		s.backoff = MaxBackoff
	}
}
