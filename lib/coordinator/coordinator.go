// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/bureau-foundation/sealdrop/lib/clock"
	"github.com/bureau-foundation/sealdrop/lib/dispatch"
	"github.com/bureau-foundation/sealdrop/lib/fswatch"
	"github.com/bureau-foundation/sealdrop/lib/pathfilter"
	"github.com/bureau-foundation/sealdrop/lib/report"
)

var (
	// ErrNotIdle is returned by Start on a Coordinator that was already
	// started.
	ErrNotIdle = errors.New("coordinator is not idle")

	// ErrNotWatching is returned by Stop on a Coordinator that is not
	// running.
	ErrNotWatching = errors.New("coordinator is not watching")

	// ErrSourceClosed is reported by Err when the event source closed
	// its channel without being stopped and gave no reason.
	ErrSourceClosed = errors.New("event source closed unexpectedly")
)

// State is the Coordinator lifecycle state.
type State int

const (
	Idle State = iota
	Watching
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Watching:
		return "watching"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Source produces filesystem events for the input root. Implemented by
// [fswatch.Watcher]. Err reports why Events was closed when that
// happened without a Stop.
type Source interface {
	Start() error
	Events() <-chan fswatch.Event
	Sweep(ctx context.Context, visit func(path string, isDir bool)) error
	Stop() error
	Err() error
}

// Stabilizer blocks until a path has stopped changing. Implemented by
// [stability.Detector].
type Stabilizer interface {
	WaitUntilStable(ctx context.Context, path string) (bool, error)
}

// Dispatcher encrypts one stable entry. Implemented by
// [dispatch.Dispatcher].
type Dispatcher interface {
	Dispatch(ctx context.Context, entry dispatch.Entry) dispatch.Outcome
}

// Config configures a Coordinator.
type Config struct {
	// InputRoot is the root the Source watches. Event paths are made
	// relative to it.
	InputRoot string

	// ArchiveDirectories switches to archive mode: every top-level
	// directory is handled as one unit, and an event anywhere inside it
	// re-triggers the whole directory.
	ArchiveDirectories bool

	// Workers bounds concurrent dispatches. Defaults to 1.
	Workers int

	// Filter rejects ineligible names. A nil Filter accepts everything.
	Filter *pathfilter.Filter

	// Sink receives one record per handling pass. Optional.
	Sink report.Sink

	Clock  clock.Clock
	Logger *slog.Logger
}

// pending tracks one in-flight path.
type pending struct {
	// rerun is set by an event that arrives after the current pass's
	// stabilization has concluded.
	rerun bool
}

// Coordinator wires the event source, filter, stability detector and
// dispatcher into the running pipeline. Each path is handled by its own
// goroutine: filter, wait for stability, dispatch (bounded by the
// worker semaphore), report. Events for a path that is already being
// handled are coalesced into at most one re-run.
type Coordinator struct {
	inputRoot  string
	archive    bool
	filter     *pathfilter.Filter
	sink       report.Sink
	clock      clock.Clock
	logger     *slog.Logger
	workers    *semaphore.Weighted
	source     Source
	stabilizer Stabilizer
	dispatcher Dispatcher

	mu       sync.Mutex
	state    State
	stopping bool
	inFlight map[string]*pending
	cancel   context.CancelFunc

	handlers   sync.WaitGroup
	intakeDone chan struct{}

	// failed is closed, with sourceErr set, when the source's event
	// channel closes before Stop.
	failed    chan struct{}
	sourceErr error
}

// New creates an Idle Coordinator.
func New(config Config, source Source, stabilizer Stabilizer, dispatcher Dispatcher) (*Coordinator, error) {
	if config.InputRoot == "" {
		return nil, errors.New("input root is required")
	}
	if source == nil || stabilizer == nil || dispatcher == nil {
		return nil, errors.New("source, stabilizer and dispatcher are required")
	}
	workers := config.Workers
	if workers <= 0 {
		workers = 1
	}
	filter := config.Filter
	if filter == nil {
		filter = &pathfilter.Filter{}
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	sink := config.Sink
	if sink == nil {
		sink = report.Multi{}
	}
	return &Coordinator{
		inputRoot:  filepath.Clean(config.InputRoot),
		archive:    config.ArchiveDirectories,
		filter:     filter,
		sink:       sink,
		clock:      clk,
		logger:     logger,
		workers:    semaphore.NewWeighted(int64(workers)),
		source:     source,
		stabilizer: stabilizer,
		dispatcher: dispatcher,
		inFlight:   make(map[string]*pending),
		intakeDone: make(chan struct{}),
		failed:     make(chan struct{}),
	}, nil
}

// State returns the lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// InFlight returns the number of paths currently being handled.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// Failed returns a channel that is closed if the event source stops
// delivering events on its own. In-flight paths keep running, but no
// new events arrive; the caller should Stop and report [Coordinator.Err].
func (c *Coordinator) Failed() <-chan struct{} { return c.failed }

// Err returns why the event source ended early, or nil.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sourceErr
}

// Start moves the Coordinator from Idle to Watching: it starts the
// source and the intake loop, then sweeps the input root in the
// background so entries that were already present are handled like
// fresh events. If the source fails to start the error is returned and
// the Coordinator stays Idle.
//
// Handling runs under a context derived from ctx; cancelling ctx
// aborts in-flight work the same way Stop does, but Stop must still be
// called to release the source.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return ErrNotIdle
	}

	if err := c.source.Start(); err != nil {
		return fmt.Errorf("starting event source: %w", err)
	}

	handlerContext, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = Watching

	go c.intake(handlerContext)

	c.handlers.Add(1)
	go c.sweep(handlerContext)

	c.logger.Info("coordinator watching",
		"input_root", c.inputRoot,
		"archive_directories", c.archive,
	)
	return nil
}

// Stop moves the Coordinator from Watching to Stopped. It stops the
// source and waits for the intake loop to drain; events delivered
// before the stop still get a handler, later ones are discarded. Then
// it cancels in-flight stability waits and dispatches and waits for
// every handler to return. Encryptions interrupted by the cancellation
// leave no partial artifact and report Skipped(cancelled).
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if c.state != Watching || c.stopping {
		c.mu.Unlock()
		return ErrNotWatching
	}
	c.stopping = true
	c.mu.Unlock()

	stopErr := c.source.Stop()
	<-c.intakeDone

	c.mu.Lock()
	c.state = Stopped
	c.mu.Unlock()
	c.cancel()
	c.handlers.Wait()

	c.logger.Info("coordinator stopped")
	if stopErr != nil {
		return fmt.Errorf("stopping event source: %w", stopErr)
	}
	return nil
}

// intake drains the source's event channel until it is closed.
func (c *Coordinator) intake(ctx context.Context) {
	defer close(c.intakeDone)
	for event := range c.source.Events() {
		c.submit(ctx, event.Path, event.IsDir)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return
	}
	err := c.source.Err()
	if err == nil {
		err = ErrSourceClosed
	}
	c.sourceErr = err
	c.logger.Error("event source ended, no further changes will be seen",
		"input_root", c.inputRoot,
		"error", err,
	)
	close(c.failed)
}

func (c *Coordinator) sweep(ctx context.Context) {
	defer c.handlers.Done()
	count := 0
	err := c.source.Sweep(ctx, func(path string, isDir bool) {
		entry, ok := c.target(path, isDir)
		// Deeper entries are covered by their top-level directory in
		// archive mode.
		if !ok || entry.Path != filepath.Clean(path) {
			return
		}
		count++
		c.submit(ctx, path, isDir)
	})
	if err != nil && ctx.Err() == nil {
		c.logger.Error("startup sweep failed", "input_root", c.inputRoot, "error", err)
		return
	}
	c.logger.Info("startup sweep complete", "entries", count)
}

// target maps an event path to the entry that must be (re)handled.
// Returns false for events that need no handling of their own:
// directories in files mode (the source already watches inside them)
// and paths outside the input root.
func (c *Coordinator) target(path string, isDir bool) (dispatch.Entry, bool) {
	entry, err := dispatch.NewEntry(c.inputRoot, path, dispatch.File)
	if err != nil {
		c.logger.Debug("ignoring event outside input root", "path", path)
		return dispatch.Entry{}, false
	}

	if c.archive {
		top, rest, nested := strings.Cut(entry.RelativePath, string(filepath.Separator))
		if nested && rest != "" {
			return dispatch.Entry{
				Path:         filepath.Join(c.inputRoot, top),
				RelativePath: top,
				Kind:         dispatch.Directory,
			}, true
		}
		if isDir {
			entry.Kind = dispatch.Directory
		}
		return entry, true
	}

	if isDir {
		return dispatch.Entry{}, false
	}
	return entry, true
}

// submit starts a handler for path, or marks the existing handler for
// a re-run.
func (c *Coordinator) submit(ctx context.Context, path string, isDir bool) {
	entry, ok := c.target(path, isDir)
	if !ok {
		return
	}

	c.mu.Lock()
	if c.state != Watching {
		c.mu.Unlock()
		return
	}
	if existing, ok := c.inFlight[entry.Path]; ok {
		existing.rerun = true
		c.mu.Unlock()
		return
	}
	current := &pending{}
	c.inFlight[entry.Path] = current
	c.handlers.Add(1)
	c.mu.Unlock()

	go c.handle(ctx, entry, current)
}

// handle runs handling passes for entry until no re-run was requested.
func (c *Coordinator) handle(ctx context.Context, entry dispatch.Entry, current *pending) {
	defer c.handlers.Done()
	for {
		c.pass(ctx, entry, current)

		c.mu.Lock()
		if !current.rerun || c.state != Watching || ctx.Err() != nil {
			delete(c.inFlight, entry.Path)
			c.mu.Unlock()
			return
		}
		current.rerun = false
		c.mu.Unlock()
	}
}

// concluded marks the end of a pass's stabilization: events up to here
// are absorbed, later ones trigger a re-run.
func (c *Coordinator) concluded(current *pending) {
	c.mu.Lock()
	current.rerun = false
	c.mu.Unlock()
}

// pass runs one filter, stabilize, dispatch, report cycle. It never
// holds the mutex while waiting.
func (c *Coordinator) pass(ctx context.Context, entry dispatch.Entry, current *pending) {
	passID := uuid.NewString()
	started := c.clock.Now()
	logger := c.logger.With("pass_id", passID, "path", entry.Path)

	outcome := c.run(ctx, entry, current, logger)

	finished := c.clock.Now()
	c.sink.Record(context.WithoutCancel(ctx), report.FromOutcome(passID, finished, finished.Sub(started), outcome))
}

func (c *Coordinator) run(ctx context.Context, entry dispatch.Entry, current *pending, logger *slog.Logger) dispatch.Outcome {
	reason := c.filter.Reason(entry.Path)
	if entry.Kind == dispatch.Directory {
		reason = c.filter.DirectoryReason(entry.Path)
	}
	if reason != "" {
		c.concluded(current)
		return dispatch.Skip(entry, dispatch.ReasonFiltered, fmt.Errorf("%s name", reason))
	}

	logger.Debug("waiting for entry to stabilize", "kind", entry.Kind.String())
	stable, err := c.stabilizer.WaitUntilStable(ctx, entry.Path)
	c.concluded(current)
	switch {
	case err != nil && ctx.Err() != nil:
		return dispatch.Skip(entry, dispatch.ReasonCancelled, err)
	case err != nil:
		return dispatch.Skip(entry, dispatch.ReasonStatError, err)
	case !stable:
		return dispatch.Skip(entry, dispatch.ReasonVanished, nil)
	}

	if err := c.workers.Acquire(ctx, 1); err != nil {
		return dispatch.Skip(entry, dispatch.ReasonCancelled, err)
	}
	defer c.workers.Release(1)

	logger.Debug("dispatching stable entry")
	return c.dispatcher.Dispatch(ctx, entry)
}
