package automator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/promptrelay/promptrelay/provider"
)

// Proc drives a long-lived external automation process over a JSON-line
// protocol on stdin/stdout. One process is launched per session; provider
// identity, credentials, and the storage directory are passed through the
// environment so the command line never carries secrets.
//
// Protocol: Proc writes one request per line,
//
//	{"op":"single","prompts":["hello"]}
//	{"op":"chain","prompts":["a","b"]}
//
// and reads one response per line,
//
//	{"output":["hi"]}
//	{"error":"login expired"}
//
// The process must emit {"ready":true} (or {"error":...}) as its first line
// once login has completed, which is how construction failures surface.
type Proc struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	logger  *slog.Logger

	closeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// ProcOption configures process-backed sessions created by NewProcFactory.
type ProcOption func(*procConfig)

type procConfig struct {
	env          map[string]string
	closeTimeout time.Duration
	logger       *slog.Logger
}

// WithProcEnv adds environment variables to the automation process.
func WithProcEnv(env map[string]string) ProcOption {
	return func(c *procConfig) {
		if c.env == nil {
			c.env = make(map[string]string)
		}
		for k, v := range env {
			c.env[k] = v
		}
	}
}

// WithProcCloseTimeout sets how long Close waits for a graceful exit before
// escalating to a kill.
func WithProcCloseTimeout(d time.Duration) ProcOption {
	return func(c *procConfig) { c.closeTimeout = d }
}

// WithProcLogger sets the logger for process lifecycle events.
func WithProcLogger(logger *slog.Logger) ProcOption {
	return func(c *procConfig) { c.logger = logger }
}

// NewProcFactory returns a Factory that launches command (argv form) for
// each constructed session.
func NewProcFactory(command []string, opts ...ProcOption) Factory {
	cfg := procConfig{
		closeTimeout: 5 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx context.Context, p provider.Provider) (Automator, error) {
		return startProc(ctx, command, p, cfg)
	}
}

// startProc launches the automation process and waits for its ready line.
func startProc(ctx context.Context, command []string, p provider.Provider, cfg procConfig) (*Proc, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("automator command not configured")
	}

	// The process outlives the construction context: callers cancelling a
	// request must not tear down the session they may never own.
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, command[0], command[1:]...)

	// New process group so a kill reaches browser children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cmd.Env = os.Environ()
	cmd.Env = setEnvVar(cmd.Env, "PROMPTRELAY_PROVIDER", p.ID)
	cmd.Env = setEnvVar(cmd.Env, "PROMPTRELAY_EMAIL", p.Credentials.Email)
	cmd.Env = setEnvVar(cmd.Env, "PROMPTRELAY_PASSWORD", p.Credentials.Password)
	cmd.Env = setEnvVar(cmd.Env, "PROMPTRELAY_STORAGE_DIR", p.StorageDir)
	for k, v := range cfg.env {
		cmd.Env = setEnvVar(cmd.Env, k, v)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start automator: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)

	proc := &Proc{
		cmd:          cmd,
		stdin:        stdin,
		scanner:      scanner,
		cancel:       cancel,
		logger:       cfg.logger,
		closeTimeout: cfg.closeTimeout,
	}

	// Login happens during startup; the first line tells us whether the
	// session is usable.
	resp, err := proc.readResponse()
	if err != nil {
		_ = proc.Close()
		return nil, fmt.Errorf("automator startup: %w", err)
	}
	if resp.Error != "" {
		_ = proc.Close()
		return nil, fmt.Errorf("automator startup: %s", resp.Error)
	}
	if !resp.Ready {
		_ = proc.Close()
		return nil, fmt.Errorf("automator startup: not ready")
	}

	cfg.logger.Info("automation session started",
		"provider", p.ID,
		"command", strings.Join(command, " "))
	return proc, nil
}

// procRequest is one line written to the automation process.
type procRequest struct {
	Op      string   `json:"op"`
	Prompts []string `json:"prompts"`
}

// procResponse is one line read from the automation process.
type procResponse struct {
	Ready  bool     `json:"ready,omitempty"`
	Output []string `json:"output,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// ProcessSingle implements Automator.
func (p *Proc) ProcessSingle(ctx context.Context, prompt string) (string, error) {
	resp, err := p.roundTrip(procRequest{Op: "single", Prompts: []string{prompt}})
	if err != nil {
		return "", err
	}
	if len(resp.Output) != 1 {
		return "", fmt.Errorf("expected 1 output, got %d", len(resp.Output))
	}
	return resp.Output[0], nil
}

// ProcessChain implements Automator.
func (p *Proc) ProcessChain(ctx context.Context, prompts []string) ([]string, error) {
	resp, err := p.roundTrip(procRequest{Op: "chain", Prompts: prompts})
	if err != nil {
		return nil, err
	}
	if len(resp.Output) != len(prompts) {
		return nil, fmt.Errorf("expected %d outputs, got %d", len(prompts), len(resp.Output))
	}
	return resp.Output, nil
}

// roundTrip writes one request line and blocks until the response line
// arrives. The worker serializes callers, so there is never more than one
// request in flight.
func (p *Proc) roundTrip(req procRequest) (*procResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	if _, err := p.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	resp, err := p.readResponse()
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("automator: %s", resp.Error)
	}
	return resp, nil
}

// readResponse reads the next non-empty line from the process.
func (p *Proc) readResponse() (*procResponse, error) {
	for p.scanner.Scan() {
		line := p.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp procResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		return &resp, nil
	}
	if err := p.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return nil, fmt.Errorf("automator exited: %w", io.EOF)
}

// Close implements Automator. It signals EOF on stdin and escalates to a
// kill of the whole process group if the process does not exit in time.
func (p *Proc) Close() error {
	p.closeOnce.Do(func() {
		if p.stdin != nil {
			_ = p.stdin.Close()
		}

		done := make(chan error, 1)
		go func() { done <- p.cmd.Wait() }()

		select {
		case <-done:
		case <-time.After(p.closeTimeout):
			// Graceful shutdown timed out; kill via context first.
			p.cancel()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				// Kill the whole group so browser children die too.
				if p.cmd.Process != nil {
					_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
				}
				select {
				case <-done:
				case <-time.After(1 * time.Second):
					p.closeErr = fmt.Errorf("automator did not exit after kill")
				}
			}
		}
		p.cancel()
	})
	return p.closeErr
}

// setEnvVar updates or adds an environment variable in env.
func setEnvVar(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
