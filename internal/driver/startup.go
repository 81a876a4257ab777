package driver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/epool/enginepool/internal/endpoint"
)

// localHostnames are compared against an endpoint's host to decide whether
// Startup should launch the backend as a local subprocess or over a remote
// shell transport, per spec.md §4.2.
var localHostnames = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"::1":       {},
}

// IsLocal reports whether host names this machine: localhost, a loopback
// literal, or one of this host's own interface addresses.
func IsLocal(host string) bool {
	if _, ok := localHostnames[host]; ok {
		return true
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ipNet.IP.String() == host {
			return true
		}
	}
	return false
}

// SSHConfig carries the credentials used to reach a non-local embedded
// endpoint over a remote shell to launch its backend process.
type SSHConfig struct {
	Port           int // defaults to 22
	HostKeyCheck   ssh.HostKeyCallback
	PrivateKeyPath string // when set, used instead of password auth
}

// Startup launches command for ep — locally via os/exec when ep.Host is
// this machine, otherwise over SSH — redirecting stderr into stdout and
// streaming combined output into slog line by line. It returns a channel
// that receives the process's exit code exactly once when it terminates.
func Startup(ctx context.Context, ep endpoint.ServerEndpoint, command string, sshCfg SSHConfig) (<-chan int, error) {
	if IsLocal(ep.Host) {
		return startupLocal(ctx, ep, command)
	}
	return startupRemote(ctx, ep, command, sshCfg)
}

func startupLocal(ctx context.Context, ep endpoint.ServerEndpoint, command string) (<-chan int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("driver: startup %s: stdout pipe: %w", ep, err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("driver: startup %s: %w", ep, err)
	}
	slog.Info("embedded backend starting", "endpoint", ep.String(), "command", command, "pid", cmd.Process.Pid)

	streamOutput(ep, stdout)

	done := make(chan int, 1)
	go func() {
		err := cmd.Wait()
		done <- exitCode(err)
	}()
	return done, nil
}

func startupRemote(ctx context.Context, ep endpoint.ServerEndpoint, command string, sshCfg SSHConfig) (<-chan int, error) {
	port := sshCfg.Port
	if port == 0 {
		port = 22
	}

	auth, err := sshAuthMethod(ep, sshCfg)
	if err != nil {
		return nil, fmt.Errorf("driver: startup %s: ssh auth: %w", ep, err)
	}

	hostKeyCheck := sshCfg.HostKeyCheck
	if hostKeyCheck == nil {
		hostKeyCheck = ssh.InsecureIgnoreHostKey()
	}

	clientCfg := &ssh.ClientConfig{
		User:            ep.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCheck,
		Timeout:         10 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", ep.Host, port)
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("driver: startup %s: ssh dial: %w", ep, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("driver: startup %s: ssh session: %w", ep, err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("driver: startup %s: ssh stdout pipe: %w", ep, err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("driver: startup %s: ssh stderr pipe: %w", ep, err)
	}

	if err := session.Start(command); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("driver: startup %s: ssh start: %w", ep, err)
	}
	slog.Info("embedded backend starting over ssh", "endpoint", ep.String(), "command", command)

	streamOutput(ep, stdout)
	streamOutput(ep, stderr)

	done := make(chan int, 1)
	go func() {
		defer client.Close()
		err := session.Wait()
		done <- exitCode(err)
	}()

	go func() {
		<-ctx.Done()
		session.Close()
	}()

	return done, nil
}

// sshAuthMethod prefers a configured private key, falling back to
// ep.Password (the same credential the wire protocol login reuses) when no
// separate SSH credential is configured.
func sshAuthMethod(ep endpoint.ServerEndpoint, cfg SSHConfig) ([]ssh.AuthMethod, error) {
	if cfg.PrivateKeyPath != "" {
		key, err := readPrivateKey(cfg.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if ep.Password != "" {
		return []ssh.AuthMethod{ssh.Password(ep.Password)}, nil
	}
	return nil, fmt.Errorf("no private key or password configured for remote startup")
}

// streamOutput pipes lines from r into slog, in the style of the teacher's
// subprocess-output-to-log wiring, until the pipe closes.
func streamOutput(ep endpoint.ServerEndpoint, r io.Reader) {
	scanner := bufio.NewScanner(r)
	go func() {
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			if line == "" {
				continue
			}
			slog.Info("backend output", "endpoint", ep.String(), "line", line)
		}
	}()
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func readPrivateKey(path string) ([]byte, error) {
	return os.ReadFile(path)
}
