// Package bus is the unix-socket control channel between the sttbench CLI
// and a running daemon. Each request is one command byte and a newline;
// each response is one line.
package bus

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const SockName = "control.sock"
const PidName = "sttbench.pid"
const ProtoVer = "1"

// Commands understood by the daemon.
const (
	CmdStart   byte = 's'
	CmdStop    byte = 'x'
	CmdStatus  byte = '?'
	CmdVersion byte = 'v'
	CmdQuit    byte = 'q'
)

const dialTimeout = 2 * time.Second

// Endpoint locates the socket and pid file of one daemon.
type Endpoint struct {
	Dir string
}

// DefaultEndpoint lives in ~/.cache/sttbench.
func DefaultEndpoint() (Endpoint, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Dir: filepath.Join(dir, "sttbench")}, nil
}

func (e Endpoint) SockPath() string {
	return filepath.Join(e.Dir, SockName)
}

func (e Endpoint) PidPath() string {
	return filepath.Join(e.Dir, PidName)
}

func (e Endpoint) Listen() (net.Listener, error) {
	if err := os.MkdirAll(e.Dir, 0o700); err != nil {
		return nil, err
	}
	_ = os.Remove(e.SockPath()) // stale socket from last run
	return net.Listen("unix", e.SockPath())
}

func (e Endpoint) Dial() (net.Conn, error) {
	return net.DialTimeout("unix", e.SockPath(), dialTimeout)
}

// SendCommand sends cmd and returns the response line without its newline.
func (e Endpoint) SendCommand(cmd byte) (string, error) {
	c, err := e.Dial()
	if err != nil {
		return "", err
	}
	defer c.Close()

	if _, err := c.Write([]byte{cmd, '\n'}); err != nil {
		return "", err
	}

	resp, err := bufio.NewReader(c).ReadString('\n')
	return strings.TrimSuffix(resp, "\n"), err
}

func (e Endpoint) CheckExistingDaemon() error {
	pidData, err := os.ReadFile(e.PidPath())
	if os.IsNotExist(err) {
		return nil // no existing daemon
	}
	if err != nil {
		return err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
	if err != nil {
		return nil // invalid pid file, assume stale
	}
	if !isProcessAlive(pid) {
		return nil
	}
	return fmt.Errorf("daemon already running with PID %d", pid)
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (e Endpoint) CreatePidFile() error {
	if err := os.MkdirAll(e.Dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(e.PidPath(), []byte(strconv.Itoa(os.Getpid())), 0o600)
}

func (e Endpoint) RemovePidFile() error {
	err := os.Remove(e.PidPath())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ParseFields splits a "KIND k=v k=v" response into its kind and fields.
func ParseFields(line string) (string, map[string]string) {
	parts := strings.Fields(line)
	fields := make(map[string]string)
	if len(parts) == 0 {
		return "", fields
	}
	for _, p := range parts[1:] {
		if k, v, ok := strings.Cut(p, "="); ok {
			fields[k] = v
		}
	}
	return parts[0], fields
}
