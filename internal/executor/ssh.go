package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/haatos/simple-cd/internal/util"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type SSHConfig struct {
	Host       string
	User       string
	PrivateKey []byte
	// KnownHostsPath enables host key verification. Without it any host
	// key is accepted.
	KnownHostsPath string
	DialTimeout    time.Duration
}

type SSHExecutor struct {
	client *ssh.Client
	sftp   *sftp.Client
	fs     *SFTPFS
}

func DialSSH(cfg SSHConfig) (*SSHExecutor, error) {
	signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("err parsing ssh private key: %w", err)
	}
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("err reading known hosts: %w", err)
		}
	}
	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	cc := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	hostname := cfg.Host
	if !strings.Contains(hostname, ":") {
		hostname += ":22"
	}
	client, err := ssh.Dial("tcp", hostname, cc)
	if err != nil {
		return nil, fmt.Errorf("err dialing ssh %s: %w", hostname, err)
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("err starting sftp: %w", err)
	}
	return &SSHExecutor{client: client, sftp: sftpClient, fs: NewSFTPFS(sftpClient)}, nil
}

// Exec feeds the command to a remote shell on stdin so that environment
// values never show up in the agent's process list.
func (e *SSHExecutor) Exec(ctx context.Context, c Command, out io.Writer) error {
	sess, err := e.client.NewSession()
	if err != nil {
		return fmt.Errorf("err creating new session: %w", err)
	}
	defer sess.Close()

	lw := newLineWriter(out)
	sess.Stdout = lw
	sess.Stderr = lw
	sess.Stdin = strings.NewReader(remoteScript(c))

	timeout := c.timeout()
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- sess.Run("sh -s")
	}()

	select {
	case err := <-doneCh:
		_ = lw.Flush()
		if err != nil {
			var ee *ssh.ExitError
			if errors.As(err, &ee) {
				return &ExitError{Code: ee.ExitStatus()}
			}
			return fmt.Errorf("err running remote command: %w", err)
		}
		return nil
	case <-cmdCtx.Done():
		_ = sess.Signal(ssh.SIGINT)
		_ = sess.Close()
		<-doneCh
		_ = lw.Flush()
		return contextError(ctx, cmdCtx, timeout)
	}
}

func remoteScript(c Command) string {
	var b strings.Builder
	for _, kv := range c.Env {
		name, value, _ := strings.Cut(kv, "=")
		fmt.Fprintf(&b, "export %s=%s\n", name, util.ShellQuote(value))
	}
	if c.Dir != "" {
		fmt.Fprintf(&b, "cd %s || exit 1\n", util.ShellQuote(c.Dir))
	}
	fmt.Fprintf(&b, "exec sh -c %s </dev/null\n", util.ShellQuote(c.Script))
	return b.String()
}

func (e *SSHExecutor) FS() FileSystem {
	return e.fs
}

func (e *SSHExecutor) Close() error {
	return errors.Join(e.sftp.Close(), e.client.Close())
}
