// Package sshexec provides the SSH client used to push rendered bundles and
// run docker compose on managed hosts.
package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config describes how to reach a single host.
type Config struct {
	// Host is the address to connect to (hostname or IP).
	Host string
	// Port is the SSH port (22 when zero).
	Port int
	// User is the login user.
	User string
	// IdentityFile is the private key path; empty disables key auth.
	IdentityFile string
	// Password enables password auth when set.
	Password string
	// KnownHostsFile verifies host keys; empty falls back to
	// ~/.ssh/known_hosts unless InsecureIgnoreHostKey is set.
	KnownHostsFile string
	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool
	// Timeout bounds the TCP dial (10s when zero).
	Timeout time.Duration
}

// Client is an established SSH connection to one host.
type Client struct {
	name string
	conn *ssh.Client
}

// Dial opens an SSH connection for the given config. The name is the
// inventory hostname, used in errors.
func Dial(ctx context.Context, name string, cfg Config) (*Client, error) {
	if cfg.Host == "" {
		cfg.Host = name
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("host %q: ssh user is not configured", name)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	auth, err := authMethods(cfg)
	if err != nil {
		return nil, fmt.Errorf("host %q: %w", name, err)
	}

	hostKeyCallback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, fmt.Errorf("host %q: %w", name, err)
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	dialer := net.Dialer{Timeout: cfg.Timeout}
	tcp, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("host %q: dial %s: %w", name, addr, err)
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.Timeout,
	}
	conn, chans, reqs, err := ssh.NewClientConn(tcp, addr, clientCfg)
	if err != nil {
		_ = tcp.Close()
		return nil, fmt.Errorf("host %q: ssh handshake with %s: %w", name, addr, err)
	}

	return &Client{name: name, conn: ssh.NewClient(conn, chans, reqs)}, nil
}

func authMethods(cfg Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if cfg.IdentityFile != "" {
		raw, err := os.ReadFile(cfg.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("read identity file %q: %w", cfg.IdentityFile, err)
		}
		signer, err := ssh.ParsePrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parse identity file %q: %w", cfg.IdentityFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no ssh auth configured: set an identity file or password")
	}
	return methods, nil
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicit opt-in
	}
	file := cfg.KnownHostsFile
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory for known_hosts: %w", err)
		}
		file = path.Join(home, ".ssh", "known_hosts")
	}
	callback, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %q: %w", file, err)
	}
	return callback, nil
}

// Run executes a shell command on the host, streaming output to the given
// writers. The command is terminated when ctx is cancelled.
func (c *Client) Run(ctx context.Context, command string, stdout, stderr io.Writer) error {
	return c.run(ctx, command, nil, stdout, stderr)
}

// Output executes a shell command and returns its stdout.
func (c *Client) Output(ctx context.Context, command string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.run(ctx, command, nil, &buf, io.Discard); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Push writes data to remotePath on the host, creating parent directories and
// setting the file mode. Transfer uses a plain shell pipe, so no SFTP
// subsystem is required on the host.
func (c *Client) Push(ctx context.Context, data []byte, remotePath string, mode os.FileMode) error {
	dir := path.Dir(remotePath)
	command := fmt.Sprintf("mkdir -p %s && cat > %s && chmod %o %s",
		shellQuote(dir), shellQuote(remotePath), mode.Perm(), shellQuote(remotePath))
	if err := c.run(ctx, command, bytes.NewReader(data), io.Discard, io.Discard); err != nil {
		return fmt.Errorf("push %q: %w", remotePath, err)
	}
	return nil
}

func (c *Client) run(ctx context.Context, command string, stdin io.Reader, stdout, stderr io.Writer) error {
	session, err := c.conn.NewSession()
	if err != nil {
		return fmt.Errorf("host %q: open session: %w", c.name, err)
	}
	defer func() { _ = session.Close() }()

	session.Stdin = stdin
	session.Stdout = stdout
	session.Stderr = stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		<-done
		return fmt.Errorf("host %q: command cancelled: %w", c.name, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("host %q: %q failed: %w", c.name, command, err)
		}
		return nil
	}
}

// Close terminates the SSH connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Name returns the inventory hostname the client is connected as.
func (c *Client) Name() string {
	return c.name
}

// shellQuote single-quotes a path for safe interpolation into a remote shell
// command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
