package hostdriver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Runner executes commands on the container host. args[0] is the program.
// Run returns combined stdout+stderr so callers can inspect engine
// diagnostics on failure.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
	// Put writes data to path on the host. The parent directory must exist.
	Put(ctx context.Context, path string, data []byte, mode os.FileMode) error
	Close() error
}

// LocalRunner executes commands on this machine
type LocalRunner struct{}

// NewLocalRunner creates a runner for the local host
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

// Run executes the command and returns combined output
func (r *LocalRunner) Run(ctx context.Context, args ...string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%s failed: %w (output: %s)", args[0], err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// Put writes the file directly
func (r *LocalRunner) Put(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Close is a no-op for the local runner
func (r *LocalRunner) Close() error {
	return nil
}

// SSHRunner executes commands on a remote host over SSH. The client is
// dialed lazily and shared; each Run opens its own session. A failed
// session dial drops the client so the next call reconnects.
type SSHRunner struct {
	addr   string
	config *ssh.ClientConfig

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHRunner builds a runner for the given host. Authentication uses the
// private key at keyFile when set, otherwise the password.
func NewSSHRunner(address, user, keyFile, password string) (*SSHRunner, error) {
	var auth []ssh.AuthMethod
	if keyFile != "" {
		keyData, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if password != "" {
		auth = append(auth, ssh.Password(password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no SSH credentials configured for %s", address)
	}

	if !strings.Contains(address, ":") {
		address += ":22"
	}

	return &SSHRunner{
		addr: address,
		config: &ssh.ClientConfig{
			User: user,
			Auth: auth,
			// collection hosts are provisioned dynamically; pinning is
			// handled at the network layer, not per host key
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         dialTimeout,
		},
	}, nil
}

// Run executes the command line remotely and returns combined output
func (r *SSHRunner) Run(ctx context.Context, args ...string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("empty command")
	}
	session, err := r.session()
	if err != nil {
		return "", err
	}
	defer session.Close()

	line := shellJoin(args)

	var output bytes.Buffer
	session.Stdout = &output
	session.Stderr = &output

	if err := session.Start(line); err != nil {
		return "", fmt.Errorf("failed to start %s on %s: %w", args[0], r.addr, err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		<-done
		return output.String(), fmt.Errorf("%s on %s: %w", args[0], r.addr, ctx.Err())
	case err := <-done:
		if err != nil {
			return output.String(), fmt.Errorf("%s failed on %s: %w (output: %s)", args[0], r.addr, err, strings.TrimSpace(output.String()))
		}
		return output.String(), nil
	}
}

// Put streams data into path on the remote host via stdin
func (r *SSHRunner) Put(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	session, err := r.session()
	if err != nil {
		return err
	}
	defer session.Close()

	session.Stdin = bytes.NewReader(data)
	line := fmt.Sprintf("cat > %s && chmod %o %s", shellQuote(path), mode.Perm(), shellQuote(path))

	if err := session.Start(line); err != nil {
		return fmt.Errorf("failed to stage %s on %s: %w", path, r.addr, err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		<-done
		return fmt.Errorf("staging %s on %s: %w", path, r.addr, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to stage %s on %s: %w", path, r.addr, err)
		}
		return nil
	}
}

// Close tears down the shared client
func (r *SSHRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		return err
	}
	return nil
}

// session opens a session on the shared client, dialing if needed. A
// session failure on an existing client drops it and redials once.
func (r *SSHRunner) session() (*ssh.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		session, err := r.client.NewSession()
		if err == nil {
			return session, nil
		}
		_ = r.client.Close()
		r.client = nil
	}

	client, err := ssh.Dial("tcp", r.addr, r.config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to host %s: %w", r.addr, err)
	}
	r.client = client

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session on %s: %w", r.addr, err)
	}
	return session, nil
}

// shellJoin renders argv as a single shell command line
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

// shellQuote single-quotes a token for POSIX sh
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$&|;<>(){}*?[]~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
