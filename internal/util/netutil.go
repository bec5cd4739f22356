package util

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	// ListenFdsEnvKey is the environment variable carrying the number of inherited listening sockets.
	ListenFdsEnvKey = "LISTEN_FDS"
	// ListenPidEnvKey names the process the inherited sockets are meant for.
	ListenPidEnvKey = "LISTEN_PID"
	// ListenFdsStart is the first inherited descriptor; 0-2 are stdio.
	ListenFdsStart = 3
)

// ErrNoInheritedListener is returned when the process was not started with a listening socket.
var ErrNoInheritedListener = errors.New("no inherited listener")

// SetCloexec sets or clears the close-on-exec flag for a file descriptor.
func SetCloexec(fd uintptr, enabled bool) error {
	flags, err := unix.FcntlInt(fd, unix.F_GETFD, 0)
	if err != nil {
		return fmt.Errorf("fcntl F_GETFD failed for fd %d: %w", fd, err)
	}
	if enabled {
		flags |= unix.FD_CLOEXEC
	} else {
		flags &^= unix.FD_CLOEXEC
	}
	if _, err := unix.FcntlInt(fd, unix.F_SETFD, flags); err != nil {
		return fmt.Errorf("fcntl F_SETFD failed for fd %d: %w", fd, err)
	}
	return nil
}

func isCloexecSet(fd uintptr) (bool, error) {
	flags, err := unix.FcntlInt(fd, unix.F_GETFD, 0)
	if err != nil {
		return false, fmt.Errorf("fcntl F_GETFD failed for fd %d: %w", fd, err)
	}
	return flags&unix.FD_CLOEXEC != 0, nil
}

// reuseAddrControl enables SO_REUSEADDR before bind so a restarted server
// can take the port while old connections sit in TIME_WAIT.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	if sockErr != nil {
		return os.NewSyscallError("setsockopt SO_REUSEADDR", sockErr)
	}
	return nil
}

// Listen opens a TCP listener on address with SO_REUSEADDR set.
func Listen(ctx context.Context, address string) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return ln, nil
}

// NewListenerFromFD creates a net.Listener from an inherited file descriptor.
// The returned listener owns a duplicate; fd itself is closed.
func NewListenerFromFD(fd uintptr) (net.Listener, error) {
	if err := SetCloexec(fd, true); err != nil {
		return nil, fmt.Errorf("failed to set FD_CLOEXEC on inherited FD %d: %w", fd, err)
	}
	file := os.NewFile(fd, "listener-from-fd-"+strconv.Itoa(int(fd)))
	if file == nil {
		return nil, fmt.Errorf("os.NewFile returned nil for FD %d", fd)
	}
	defer file.Close()

	listener, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("net.FileListener failed for FD %d: %w", fd, err)
	}
	return listener, nil
}

// InheritedListenerFD reports the descriptor of a socket passed by the
// service manager, validated against the LISTEN_PID/LISTEN_FDS contract.
func InheritedListenerFD(getenv func(string) string, pid int) (uintptr, error) {
	fdsEnv := getenv(ListenFdsEnvKey)
	if fdsEnv == "" {
		return 0, ErrNoInheritedListener
	}
	pidEnv := getenv(ListenPidEnvKey)
	if pidEnv == "" {
		return 0, ErrNoInheritedListener
	}
	want, err := strconv.Atoi(pidEnv)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", ListenPidEnvKey, pidEnv, err)
	}
	if want != pid {
		return 0, ErrNoInheritedListener
	}
	n, err := strconv.Atoi(fdsEnv)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", ListenFdsEnvKey, fdsEnv, err)
	}
	if n < 1 {
		return 0, ErrNoInheritedListener
	}
	return ListenFdsStart, nil
}

// InheritedListener adopts the listening socket handed over by a service
// manager, if any. It returns ErrNoInheritedListener when there is none.
func InheritedListener() (net.Listener, error) {
	fd, err := InheritedListenerFD(os.Getenv, os.Getpid())
	if err != nil {
		return nil, err
	}
	// Children we might spawn must not see these.
	os.Unsetenv(ListenFdsEnvKey)
	os.Unsetenv(ListenPidEnvKey)
	return NewListenerFromFD(fd)
}

// IsAddrInUse checks if the error indicates an "address already in use" condition.
func IsAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, unix.EADDRINUSE) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "address already in use")
}
