package command

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig describes a remote build host
type SSHConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	PrivateKeyPath string
	Passphrase     string
	Timeout        time.Duration
}

// SSH runs commands on a remote host, e.g. the machine the board is plugged into
type SSH struct {
	config SSHConfig

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSH creates a remote runner; the connection is opened on first use
func NewSSH(config SSHConfig) *SSH {
	if config.Port == 0 {
		config.Port = 22
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &SSH{config: config}
}

// Run executes the command line on the remote host
func (s *SSH) Run(ctx context.Context, name string, args ...string) (Result, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return Result{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr strings.Builder
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(shellQuote(name, args))
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return Result{Stdout: stdout.String(), Stderr: stderr.String()}, ctx.Err()
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		if res.ExitCode == 127 {
			return res, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return res, nil
	}
	return res, fmt.Errorf("ssh run %s: %w", name, err)
}

// Close releases the SSH connection
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *SSH) connect(ctx context.Context) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}

	config, err := s.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	dialer := &net.Dialer{Timeout: s.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	s.client = ssh.NewClient(sshConn, chans, reqs)
	return s.client, nil
}

func (s *SSH) clientConfig() (*ssh.ClientConfig, error) {
	if s.config.User == "" {
		return nil, fmt.Errorf("ssh user not configured")
	}

	var auth []ssh.AuthMethod
	if s.config.PrivateKeyPath != "" {
		key, err := os.ReadFile(s.config.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		var signer ssh.Signer
		if s.config.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(s.config.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if s.config.Password != "" {
		auth = append(auth, ssh.Password(s.config.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh: no key or password configured for %s", s.config.User)
	}

	return &ssh.ClientConfig{
		User:            s.config.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.config.Timeout,
	}, nil
}

// shellQuote builds a POSIX shell command line from name and args
func shellQuote(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	for _, a := range append([]string{name}, args...) {
		if a != "" && !strings.ContainsAny(a, " \t\n'\"\\$`;&|<>*?()[]{}!#~") {
			parts = append(parts, a)
			continue
		}
		parts = append(parts, "'"+strings.ReplaceAll(a, "'", `'\''`)+"'")
	}
	return strings.Join(parts, " ")
}
