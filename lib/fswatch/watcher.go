// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fswatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultQueueSize is the events channel capacity when Options leaves
// it unset.
const DefaultQueueSize = 256

// watchMask selects the kernel events that indicate a new or changed
// entry. IN_ONLYDIR makes a watch on a path that was replaced by a file
// fail instead of silently watching the file.
const watchMask = unix.IN_CREATE | unix.IN_CLOSE_WRITE | unix.IN_MODIFY | unix.IN_MOVED_TO | unix.IN_ONLYDIR

// ErrStopped is returned by Start on a Watcher that has been stopped.
var ErrStopped = errors.New("watcher stopped")

// EventKind says whether an entry is new or changed. Consumers
// generally treat both the same way.
type EventKind int

const (
	Create EventKind = iota
	Modify
)

func (k EventKind) String() string {
	switch k {
	case Create:
		return "create"
	case Modify:
		return "modify"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event reports one path under the root that appeared or changed.
type Event struct {
	Path  string
	Kind  EventKind
	IsDir bool
}

// Options configures a Watcher.
type Options struct {
	// Root is the directory to watch recursively.
	Root string

	// QueueSize bounds the events channel. When the consumer falls
	// behind, the read loop blocks and the kernel queues events until
	// its own limit, after which an overflow triggers a re-sweep.
	QueueSize int

	// HiddenPrefixes name directories that are neither watched nor
	// swept. Defaults to ".".
	HiddenPrefixes []string

	Logger *slog.Logger
}

// Watcher delivers create and modify events for every entry under a
// root directory, including directories created after Start.
type Watcher struct {
	root   string
	hidden []string
	logger *slog.Logger
	events chan Event

	mu      sync.Mutex
	started bool
	stopped bool

	// Owned by Start and then by the read loop.
	fd      int
	watches map[int]string

	stop chan struct{}
	done chan struct{}

	// err is what ended the read loop, if not Stop. Written before
	// events is closed.
	err error
}

// New creates a Watcher. Nothing is watched until Start.
func New(options Options) *Watcher {
	queueSize := options.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	hidden := options.HiddenPrefixes
	if hidden == nil {
		hidden = []string{"."}
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		root:    filepath.Clean(options.Root),
		hidden:  hidden,
		logger:  logger,
		events:  make(chan Event, queueSize),
		fd:      -1,
		watches: make(map[int]string),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Root returns the watched root directory.
func (w *Watcher) Root() string { return w.root }

// Events returns the channel events are delivered on. It is closed
// after Stop once the read loop has exited, or earlier if reading the
// inotify descriptor fails; see [Watcher.Err].
func (w *Watcher) Events() <-chan Event { return w.events }

// Err returns the error that closed the events channel without a Stop,
// or nil. Only meaningful once Events is closed.
func (w *Watcher) Err() error { return w.err }

// Start installs watches on the root and every non-hidden directory
// below it, then starts the read loop. Fails if the root cannot be
// watched; subdirectories that vanish during setup are ignored.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	if w.started {
		return errors.New("watcher already started")
	}

	info, err := os.Stat(w.root)
	if err != nil {
		return fmt.Errorf("input root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("input root %s is not a directory", w.root)
	}

	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return fmt.Errorf("inotify_init1: %w", err)
	}
	w.fd = fd
	if err := w.addTree(w.root, nil); err != nil {
		unix.Close(fd)
		w.fd = -1
		return err
	}

	w.started = true
	w.logger.Info("watching input root", "root", w.root, "directories", len(w.watches))
	go w.readLoop()
	return nil
}

// Stop stops delivery, waits for the read loop to exit, and closes the
// inotify descriptor and the events channel. Safe to call from any
// goroutine and more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	if !started {
		close(w.events)
		return nil
	}
	close(w.stop)
	<-w.done
	return nil
}

// Sweep calls visit for every non-hidden entry below the root in
// lexical order. Hidden directories are not descended. Entries that
// disappear mid-walk are skipped.
func (w *Watcher) Sweep(ctx context.Context, visit func(path string, isDir bool)) error {
	return w.walk(ctx, w.root, visit)
}

func (w *Watcher) walk(ctx context.Context, directory string, visit func(path string, isDir bool)) error {
	return filepath.WalkDir(directory, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path != directory {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == directory {
			return nil
		}
		if w.isHidden(entry.Name()) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		visit(path, entry.IsDir())
		return nil
	})
}

func (w *Watcher) isHidden(name string) bool {
	for _, prefix := range w.hidden {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// addTree watches directory and its non-hidden subdirectories. The
// root's own watch failure is returned; failures below it are logged.
// When found is non-nil it is called for every entry discovered below
// directory, so contents created before the watch existed are not lost.
func (w *Watcher) addTree(directory string, found func(path string, isDir bool)) error {
	if err := w.addWatch(directory); err != nil {
		return err
	}
	return w.walk(context.Background(), directory, func(path string, isDir bool) {
		if isDir {
			if err := w.addWatch(path); err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.ENOTDIR) {
				w.logger.Warn("cannot watch directory", "path", path, "error", err)
			}
		}
		if found != nil {
			found(path, isDir)
		}
	})
}

func (w *Watcher) addWatch(directory string) error {
	wd, err := unix.InotifyAddWatch(w.fd, directory, watchMask)
	if err != nil {
		return fmt.Errorf("inotify_add_watch on %s: %w", directory, err)
	}
	w.watches[wd] = directory
	return nil
}

// readLoop polls the inotify descriptor with a 100ms timeout so it
// notices Stop promptly.
func (w *Watcher) readLoop() {
	defer close(w.done)
	defer close(w.events)
	defer unix.Close(w.fd)

	buffer := make([]byte, 64*1024)
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		pollDescriptors := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}
		count, err := unix.Poll(pollDescriptors, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			w.err = fmt.Errorf("polling inotify descriptor: %w", err)
			w.logger.Error("watch ended", "root", w.root, "error", w.err)
			return
		}
		if count == 0 {
			continue
		}

		bytesRead, err := unix.Read(w.fd, buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			w.err = fmt.Errorf("reading inotify descriptor: %w", err)
			w.logger.Error("watch ended", "root", w.root, "error", w.err)
			return
		}

		for _, raw := range parseEvents(buffer[:bytesRead]) {
			if !w.handle(raw) {
				return
			}
		}
	}
}

// handle translates one kernel event into zero or more Events. Returns
// false when Stop was requested while delivering.
func (w *Watcher) handle(raw rawEvent) bool {
	switch {
	case raw.mask&unix.IN_Q_OVERFLOW != 0:
		w.logger.Warn("inotify queue overflowed, re-sweeping input root", "root", w.root)
		return w.resweep()
	case raw.mask&unix.IN_IGNORED != 0:
		delete(w.watches, raw.wd)
		return true
	case raw.name == "":
		return true
	}

	directory, ok := w.watches[raw.wd]
	if !ok {
		return true
	}
	path := filepath.Join(directory, raw.name)
	isDir := raw.mask&unix.IN_ISDIR != 0

	kind := Modify
	if raw.mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0 {
		kind = Create
	}
	if !w.send(Event{Path: path, Kind: kind, IsDir: isDir}) {
		return false
	}

	if isDir && kind == Create && !w.isHidden(raw.name) {
		// Anything created in the new directory before its watch was
		// installed is reported here; later entries arrive as events.
		delivered := true
		err := w.addTree(path, func(inner string, innerIsDir bool) {
			if delivered {
				delivered = w.send(Event{Path: inner, Kind: Create, IsDir: innerIsDir})
			}
		})
		if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.ENOTDIR) {
			w.logger.Warn("cannot watch new directory", "path", path, "error", err)
		}
		return delivered
	}
	return true
}

// resweep re-adds watches for the whole tree (inotify_add_watch on an
// already watched directory just updates its mask) and reports every
// entry as modified.
func (w *Watcher) resweep() bool {
	delivered := true
	err := w.addTree(w.root, func(path string, isDir bool) {
		if delivered {
			delivered = w.send(Event{Path: path, Kind: Modify, IsDir: isDir})
		}
	})
	if err != nil {
		w.logger.Error("re-sweeping input root", "root", w.root, "error", err)
	}
	return delivered
}

// send blocks until the consumer takes event or Stop is requested.
func (w *Watcher) send(event Event) bool {
	select {
	case w.events <- event:
		return true
	case <-w.stop:
		return false
	}
}
