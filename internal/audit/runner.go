package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/audit-agent/backend/internal/storage/models"
	"github.com/audit-agent/backend/pkg/logger"
)

type CommandOutput struct {
	Command string
	Output  string
}

// Runner executes audit commands against one device.
type Runner interface {
	Run(ctx context.Context, device models.Device, commands []string) ([]CommandOutput, error)
}

type SSHConfig struct {
	Host     string
	Username string
	Password string
	Timeout  time.Duration
}

// SSHRunner runs each command in its own session over a single connection.
// Devices without a host use the configured SSH host.
type SSHRunner struct {
	cfg    SSHConfig
	logger *zap.Logger
}

func NewSSHRunner(cfg SSHConfig) *SSHRunner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SSHRunner{cfg: cfg, logger: logger.Named("ssh")}
}

func (r *SSHRunner) addr(device models.Device) string {
	host := device.Host
	if host == "" {
		host = r.cfg.Host
	}
	port := device.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (r *SSHRunner) Run(ctx context.Context, device models.Device, commands []string) ([]CommandOutput, error) {
	addr := r.addr(device)

	dialer := net.Dialer{Timeout: r.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	// Closing the socket unblocks any in-flight session on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            r.cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(r.cfg.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.cfg.Timeout,
	})
	if err != nil {
		conn.Close()
		return nil, r.ctxErr(ctx, fmt.Errorf("ssh handshake with %s failed: %w", addr, err))
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	results := make([]CommandOutput, 0, len(commands))
	for _, cmd := range commands {
		out, err := r.exec(client, cmd)
		if err != nil {
			return results, r.ctxErr(ctx, fmt.Errorf("command %q on %s failed: %w", cmd, addr, err))
		}
		results = append(results, CommandOutput{Command: cmd, Output: out})
	}

	r.logger.Debug("Audit commands finished",
		zap.String("device", device.Name),
		zap.String("addr", addr),
		zap.Int("commands", len(commands)),
	)
	return results, nil
}

func (r *SSHRunner) exec(client *ssh.Client, cmd string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout
	err = session.Run(cmd)

	// A non-zero exit still produced output worth reporting.
	var exitErr *ssh.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ctxErr prefers the context's error so callers can tell a deadline from a
// broken connection.
func (r *SSHRunner) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

// DryRunRunner never connects and echoes the commands it would have run.
type DryRunRunner struct{}

func (DryRunRunner) Run(ctx context.Context, device models.Device, commands []string) ([]CommandOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	results := make([]CommandOutput, len(commands))
	for i, cmd := range commands {
		results[i] = CommandOutput{Command: cmd, Output: fmt.Sprintf("DRY RUN: would run on %s", device.Name)}
	}
	return results, nil
}
