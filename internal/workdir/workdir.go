// Package workdir keeps the process working directory usable when the
// directory it points at is deleted and recreated under the same name.
package workdir

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"example.com/spaserve/internal/logger"
)

const (
	// SelfCwdLink is the kernel link naming the process working directory.
	SelfCwdLink = "/proc/self/cwd"
	// DeletedSuffix is appended by the kernel to the link target of a removed directory.
	DeletedSuffix = " (deleted)"
)

// Recoverer re-points the working directory at its replacement when the
// original has been removed. Check-and-chdir is serialized.
type Recoverer struct {
	mu       sync.Mutex
	link     string
	readlink func(string) (string, error)
	chdir    func(string) error
	getwd    func() (string, error)
	log      *logger.Logger
}

// Option customizes a Recoverer.
type Option func(*Recoverer)

// WithLink overrides the cwd link path.
func WithLink(link string) Option {
	return func(r *Recoverer) { r.link = link }
}

// WithSyscalls replaces the readlink, chdir and getwd primitives.
func WithSyscalls(readlink func(string) (string, error), chdir func(string) error, getwd func() (string, error)) Option {
	return func(r *Recoverer) {
		if readlink != nil {
			r.readlink = readlink
		}
		if chdir != nil {
			r.chdir = chdir
		}
		if getwd != nil {
			r.getwd = getwd
		}
	}
}

// New returns a Recoverer. A nil logger discards messages.
func New(lg *logger.Logger, opts ...Option) *Recoverer {
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}
	r := &Recoverer{
		link:     SelfCwdLink,
		readlink: os.Readlink,
		chdir:    os.Chdir,
		getwd:    os.Getwd,
		log:      lg,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recover changes into the non-deleted path when the working directory
// link is marked deleted. It reports whether a chdir happened. A missing
// link (non-Linux hosts) is not an error.
func (r *Recoverer) Recover() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recoverLocked()
}

func (r *Recoverer) recoverLocked() (bool, error) {
	target, err := r.readlink(r.link)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", r.link, err)
	}
	if !strings.HasSuffix(target, DeletedSuffix) {
		return false, nil
	}

	replacement := strings.TrimSuffix(target, DeletedSuffix)
	if err := r.chdir(replacement); err != nil {
		return false, fmt.Errorf("failed to change directory to %s: %w", replacement, err)
	}
	r.log.Info("Working directory was deleted, changed to replacement", logger.LogFields{
		"path": replacement,
	})
	return true, nil
}

// Current runs recovery and returns the working directory. Recovery
// failures are logged and do not stop the lookup.
func (r *Recoverer) Current() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.recoverLocked(); err != nil {
		r.log.Warn("Working directory recovery failed", logger.LogFields{"error": err.Error()})
	}
	dir, err := r.getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return dir, nil
}
