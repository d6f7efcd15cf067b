package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

type SSHServer struct {
	name           string
	address        string
	user           User
	knownHostsPath string
	opts           SSHOptions
}

type SSHOptions struct {
	UseAgent         *bool
	InsecureHostKey  bool
	HandshakeTimeout time.Duration
}

const defaultSSHHandshakeTimeout = 10 * time.Second

var _ Dialer = (*SSHServer)(nil)

func NewSSHServer(name, address string, user User, knownHostsPath string, opts SSHOptions) *SSHServer {
	return &SSHServer{
		name:           name,
		address:        address,
		user:           user,
		knownHostsPath: knownHostsPath,
		opts:           opts,
	}
}

func (s *SSHServer) ID() string      { return s.name }
func (s *SSHServer) Address() string { return s.address }

func (s *SSHServer) Dial(ctx context.Context) (Transport, error) {
	addr := s.address
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	authMethods, closeAgent, err := s.authMethods()
	if err != nil {
		return nil, err
	}
	defer closeAgent()

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no ssh authentication methods available")
	}

	hostKeyCallback, err := s.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            s.user.Name,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.handshakeTimeout(),
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	if err := applyHandshakeDeadline(ctx, conn, s.handshakeTimeout()); err != nil {
		conn.Close()
		return nil, err
	}
	handshakeDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-handshakeDone:
		}
	}()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	close(handshakeDone)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to establish ssh connection to %s: %w", addr, err)
	}
	if err := clearDeadline(conn); err != nil {
		sshConn.Close()
		return nil, err
	}

	return &sshTransport{
		client:       ssh.NewClient(sshConn, chans, reqs),
		sudoPassword: s.user.SudoPassword,
	}, nil
}

func (s *SSHServer) authMethods() ([]ssh.AuthMethod, func(), error) {
	methods := []ssh.AuthMethod{}
	closeAgent := func() {}

	if s.user.PrivateKey != "" {
		signer, err := parseSigner([]byte(s.user.PrivateKey), s.user.Passphrase)
		if err != nil {
			return nil, closeAgent, fmt.Errorf("failed to parse private key material: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	// Key files come before the agent so an explicit identity wins.
	if s.user.SSHKey != "" {
		expandedPath, err := expandPath(s.user.SSHKey)
		if err != nil {
			return nil, closeAgent, fmt.Errorf("failed to expand ssh key path %q: %w", s.user.SSHKey, err)
		}
		key, err := os.ReadFile(expandedPath)
		if err != nil {
			return nil, closeAgent, fmt.Errorf("failed to read ssh key %q: %w", expandedPath, err)
		}
		signer, err := parseSigner(key, s.user.Passphrase)
		if err != nil {
			return nil, closeAgent, fmt.Errorf("failed to parse ssh key %q: %w", expandedPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if s.useAgent() {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			if agentConn, err := net.Dial("unix", sock); err == nil {
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers))
				closeAgent = func() { agentConn.Close() }
			}
		}
	}

	if s.user.Password != "" {
		methods = append(methods, ssh.Password(s.user.Password))
	}

	return methods, closeAgent, nil
}

func (s *SSHServer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.opts.InsecureHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	knownHostsPath, err := resolveKnownHostsPath(s.knownHostsPath)
	if err != nil {
		return nil, err
	}
	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts file %q: %w", knownHostsPath, err)
	}
	return callback, nil
}

func parseSigner(key []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(key)
}

func (s *SSHServer) useAgent() bool {
	if s.opts.UseAgent == nil {
		return true
	}
	return *s.opts.UseAgent
}

func (s *SSHServer) handshakeTimeout() time.Duration {
	if s.opts.HandshakeTimeout > 0 {
		return s.opts.HandshakeTimeout
	}
	return defaultSSHHandshakeTimeout
}

type sshTransport struct {
	client       *ssh.Client
	sudoPassword string
}

func (t *sshTransport) Run(ctx context.Context, command string, stdout, stderr io.Writer) (int, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return -1, fmt.Errorf("failed to create session: %w", err)
	}

	session.Stdout = stdout
	session.Stderr = stderr

	commandToRun := command
	if t.sudoPassword != "" && strings.HasPrefix(command, "sudo -n ") {
		commandToRun = "sudo -S -p '' " + strings.TrimPrefix(command, "sudo -n ")
		session.Stdin = strings.NewReader(t.sudoPassword + "\n")
	}

	done := make(chan error, 1)
	go func() {
		defer session.Close()
		done <- session.Run(commandToRun)
	}()

	// The remote command is left running when ctx ends first.
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-done:
		return exitCode(err)
	}
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	var missingErr *ssh.ExitMissingError
	if errors.As(err, &missingErr) {
		return -1, fmt.Errorf("remote command ended without exit status: %w", err)
	}
	return -1, fmt.Errorf("run remote command: %w", err)
}

func (t *sshTransport) OpenShell(opts ShellOptions) (Shell, error) {
	opts = opts.withDefaults()

	session, err := t.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(opts.Term, opts.Rows, opts.Cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("open shell stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("open shell stdout: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &sshShell{session: session, stdin: stdin, stdout: stdout}, nil
}

func (t *sshTransport) Wait() error  { return t.client.Wait() }
func (t *sshTransport) Close() error { return t.client.Close() }

type sshShell struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

func (s *sshShell) Read(p []byte) (int, error)  { return s.stdout.Read(p) }
func (s *sshShell) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *sshShell) Resize(cols, rows int) error {
	return s.session.WindowChange(rows, cols)
}

func (s *sshShell) Wait() error { return s.session.Wait() }

func (s *sshShell) Close() error {
	s.stdin.Close()
	err := s.session.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func applyHandshakeDeadline(ctx context.Context, conn net.Conn, timeout time.Duration) error {
	deadline, ok := handshakeDeadline(ctx, timeout)
	if !ok {
		return nil
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set ssh handshake deadline: %w", err)
	}
	return nil
}

func clearDeadline(conn net.Conn) error {
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("clear ssh handshake deadline: %w", err)
	}
	return nil
}

func handshakeDeadline(ctx context.Context, timeout time.Duration) (time.Time, bool) {
	var deadline time.Time
	now := time.Now()
	if timeout > 0 {
		deadline = now.Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok {
		if deadline.IsZero() || ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
	}
	if deadline.IsZero() {
		return time.Time{}, false
	}
	return deadline, true
}

func resolveKnownHostsPath(path string) (string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory for known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
