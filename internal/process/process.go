package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/screencast/internal/logging"
)

const stderrDrainTimeout = 500 * time.Millisecond

// ErrNotStarted is returned when pipes are requested before Start.
var ErrNotStarted = errors.New("process not started")

// LogParser maps a stderr line to a log level and message.
type LogParser func(line string) (slog.Level, string)

// Process manages the lifecycle of one subprocess with binary stdio.
type Process struct {
	id      string
	command string
	logger  logging.Logger

	processLogger logging.Logger
	logParser     LogParser

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	done     chan struct{}
	exitCode int
	exitErr  error
	stopOnce sync.Once

	gracefulTimeout time.Duration
	killTimeout     time.Duration
}

// New creates a process for command. Nothing is started until Start.
func New(id, command string, logger logging.Logger) *Process {
	return &Process{
		id:              id,
		command:         command,
		logger:          logger,
		gracefulTimeout: 3 * time.Second,
		killTimeout:     2 * time.Second,
	}
}

// Command returns the command string.
func (p *Process) Command() string {
	return p.command
}

// SetLogParser routes stderr through parser into logger.
func (p *Process) SetLogParser(logger logging.Logger, parser LogParser) {
	p.processLogger = logger
	p.logParser = parser
}

// SetTimeouts overrides how long Stop waits for a graceful exit and after SIGKILL.
func (p *Process) SetTimeouts(graceful, kill time.Duration) {
	p.gracefulTimeout = graceful
	p.killTimeout = kill
}

// Start parses the command, wires stdin/stdout pipes and starts the child.
func (p *Process) Start() error {
	args, err := parseCommand(p.command)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	if len(args) == 0 {
		return fmt.Errorf("empty command")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return fmt.Errorf("process %s already started", p.id)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = sysProcAttr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	// stdout uses a plain os.Pipe so cmd.Wait never closes the read end while
	// a consumer is still draining the tail of the stream.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		stdout.Close()
		stdoutW.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stderr = stderrW

	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start %s: %w", args[0], err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = stdout
	p.done = make(chan struct{})

	p.logger.Info("Process started", "id", p.id, "pid", cmd.Process.Pid)
	p.logger.Debug("Process command", "id", p.id, "command", p.command)

	stderrDone := make(chan struct{})
	go func() {
		p.streamStderr(stderr)
		close(stderrDone)
	}()

	go func() {
		err := cmd.Wait()
		select {
		case <-stderrDone:
		case <-time.After(stderrDrainTimeout):
			// a grandchild still holds stderr open
			stderr.Close()
			<-stderrDone
		}
		stderr.Close()
		p.mu.Lock()
		p.exitErr = err
		p.exitCode = exitCodeFromError(err)
		p.mu.Unlock()
		p.logger.Info("Process exited", "id", p.id, "exit_code", p.exitCode)
		close(p.done)
	}()

	return nil
}

// Stdin returns the child's standard input.
func (p *Process) Stdin() (io.WriteCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		return nil, ErrNotStarted
	}
	return p.stdin, nil
}

// Stdout returns the child's standard output.
func (p *Process) Stdout() (io.Reader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdout == nil {
		return nil, ErrNotStarted
	}
	return p.stdout, nil
}

// CloseStdin signals end of input to the child.
func (p *Process) CloseStdin() error {
	stdin, err := p.Stdin()
	if err != nil {
		return err
	}
	return stdin.Close()
}

// Done is closed once the child has exited and stderr is drained.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Exited reports whether the child has exited.
func (p *Process) Exited() bool {
	done := p.Done()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code once the child has exited.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Wait blocks until the child exits or timeout elapses.
func (p *Process) Wait(timeout time.Duration) (int, bool) {
	done := p.Done()
	if done == nil {
		return 0, true
	}
	select {
	case <-done:
		return p.ExitCode(), true
	case <-time.After(timeout):
		return 0, false
	}
}

// Stop closes stdin, waits for a graceful exit, then sends SIGINT and finally
// SIGKILL. The stdout read end is closed once the child is gone. It returns
// the exit code and is safe to call more than once.
func (p *Process) Stop() int {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		cmd, stdin, stdout := p.cmd, p.stdin, p.stdout
		p.mu.Unlock()
		if cmd == nil {
			return
		}
		defer stdout.Close()

		_ = stdin.Close()
		if _, ok := p.Wait(p.gracefulTimeout); ok {
			return
		}

		p.logger.Info("Sending SIGINT to process", "id", p.id, "pid", cmd.Process.Pid)
		if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
			p.logger.Warn("Failed to send SIGINT", "id", p.id, "error", err)
		}
		if _, ok := p.Wait(p.gracefulTimeout); ok {
			return
		}

		p.logger.Warn("Graceful shutdown timed out, killing process", "id", p.id, "pid", cmd.Process.Pid)
		if err := killGroup(cmd.Process); err != nil {
			p.logger.Error("Failed to kill process", "id", p.id, "error", err)
		}
		if _, ok := p.Wait(p.killTimeout); !ok {
			p.logger.Error("Process did not exit after kill", "id", p.id)
		}
	})
	return p.ExitCode()
}

// exitCodeFromError returns 0 for nil, the exit status for ExitError
// (128+signal when killed) and 1 otherwise.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}

func (p *Process) streamStderr(reader io.Reader) {
	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		level, msg := slog.LevelInfo, scanner.Text()
		if p.logParser != nil {
			level, msg = p.logParser(msg)
		}

		switch {
		case level >= slog.LevelError:
			logger.Error(msg, "process", p.id)
		case level >= slog.LevelWarn:
			logger.Warn(msg, "process", p.id)
		case level >= slog.LevelInfo:
			logger.Info(msg, "process", p.id)
		default:
			logger.Debug(msg, "process", p.id)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		p.logger.Debug("Stderr reader stopped", "id", p.id, "error", err)
	}
}

// parseCommand splits a command string into arguments, honouring single and
// double quotes and backslash escapes.
func parseCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inArg := false
	quote := rune(0)

	runes := []rune(strings.TrimSpace(command))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0 && r == quote:
			quote = 0
		case quote == 0 && (r == '"' || r == '\''):
			quote = r
			inArg = true
		case quote == 0 && (r == ' ' || r == '\t'):
			if inArg {
				args = append(args, current.String())
				current.Reset()
				inArg = false
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
			inArg = true
		default:
			current.WriteRune(r)
			inArg = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unclosed quote in command")
	}
	if inArg {
		args = append(args, current.String())
	}
	return args, nil
}

// Output runs command to completion and returns its combined stdout and
// stderr. The child is killed when ctx is done.
func Output(ctx context.Context, command string) ([]byte, error) {
	args, err := parseCommand(command)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.SysProcAttr = sysProcAttr()
	return cmd.CombinedOutput()
}
