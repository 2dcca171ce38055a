package api

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
)

const (
	envInheritFD = "BACKLOG_INHERIT_FD"
	envListenFD  = "BACKLOG_LISTEN_FD"
)

// Restarter starts a fresh copy of the process that takes over the HTTP
// listener, so the API keeps accepting connections across a restart.
type Restarter struct {
	Listener net.Listener
	Args     []string
	Env      []string
}

func (r *Restarter) Restart() error {
	if r.Listener == nil {
		return errors.New("listener not set")
	}
	if len(r.Args) == 0 {
		return errors.New("args not set")
	}
	tcp, ok := r.Listener.(*net.TCPListener)
	if !ok {
		return fmt.Errorf("unsupported listener type %T", r.Listener)
	}
	file, err := tcp.File()
	if err != nil {
		return fmt.Errorf("listener file: %w", err)
	}
	defer file.Close()

	cmd := exec.Command(r.Args[0], r.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// ExtraFiles[0] becomes fd 3 in the child.
	cmd.Env = append(append([]string{}, r.Env...), envInheritFD+"=1", envListenFD+"=3")
	cmd.ExtraFiles = []*os.File{file}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start new process: %w", err)
	}
	return nil
}

// InheritedListener returns the listener handed over by a parent process,
// or nil when the process was started normally.
func InheritedListener() (net.Listener, error) {
	if os.Getenv(envInheritFD) != "1" {
		return nil, nil
	}
	fd := 3
	if raw := os.Getenv(envListenFD); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid listener fd: %w", err)
		}
		fd = n
	}
	file := os.NewFile(uintptr(fd), "listener")
	if file == nil {
		return nil, errors.New("inherited listener fd is not open")
	}
	defer file.Close()
	ln, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("file listener: %w", err)
	}
	return ln, nil
}
