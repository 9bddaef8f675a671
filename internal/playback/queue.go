package playback

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Item references one synthesized artifact awaiting playback. Key is the
// cache key when the artifact was cached, otherwise empty.
type Item struct {
	Path string
	Key  string
}

// ProcessState tracks one player subprocess through its lifecycle.
type ProcessState int

const (
	ProcessSpawned ProcessState = iota
	ProcessRunning
	ProcessExited
)

// ProcessHandle is an explicit handle on one spawned player process, so
// queue state never has to be inferred from exec internals.
type ProcessHandle struct {
	cmd *exec.Cmd

	mu       sync.Mutex
	state    ProcessState
	exitCode int
}

func (h *ProcessHandle) setState(state ProcessState, exitCode int) {
	h.mu.Lock()
	h.state = state
	h.exitCode = exitCode
	h.mu.Unlock()
}

// State returns the process lifecycle state.
func (h *ProcessHandle) State() ProcessState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ExitCode is meaningful once State is ProcessExited.
func (h *ProcessHandle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

func (h *ProcessHandle) run() error {
	if err := h.cmd.Start(); err != nil {
		h.setState(ProcessExited, -1)
		return err
	}
	h.setState(ProcessRunning, 0)
	err := h.cmd.Wait()
	h.setState(ProcessExited, h.cmd.ProcessState.ExitCode())
	return err
}

// Queue serializes playback through one player process at a time. Items
// drain in FIFO order on a single worker goroutine that exits when the
// queue empties and is respawned by the next enqueue.
type Queue struct {
	player *Player
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	pending  []Item
	draining bool
	playing  bool
	current  *ProcessHandle
	onDone   func(Item, error)

	played metric.Int64Counter
	failed metric.Int64Counter
}

// NewQueue builds an idle queue bound to parent's lifetime.
func NewQueue(parent context.Context, player *Player, logger *slog.Logger) *Queue {
	ctx, cancel := context.WithCancel(parent)
	q := &Queue{
		player: player,
		log:    logger.With(slog.String("component", "playback")),
		ctx:    ctx,
		cancel: cancel,
	}
	q.initMetrics()
	return q
}

// SetOnDone installs a hook invoked after each item's player process
// finishes, successful or not. Set it before the first enqueue.
func (q *Queue) SetOnDone(fn func(Item, error)) {
	q.mu.Lock()
	q.onDone = fn
	q.mu.Unlock()
}

// Enqueue appends an item and wakes the drain worker if the queue was
// idle.
func (q *Queue) Enqueue(item Item) {
	q.mu.Lock()
	if q.ctx.Err() != nil {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, item)
	depth := len(q.pending)
	start := !q.draining
	if start {
		q.draining = true
		q.wg.Add(1)
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
	q.log.Debug("narration queued", slog.String("key", item.Key), slog.Int("depth", depth))
}

func (q *Queue) drain() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.ctx.Err() != nil {
			q.draining = false
			q.playing = false
			q.mu.Unlock()
			return
		}
		item := q.pending[0]
		q.pending = q.pending[1:]
		q.playing = true
		handle := &ProcessHandle{cmd: q.player.command(q.ctx, item.Path)}
		q.current = handle
		onDone := q.onDone
		q.mu.Unlock()

		err := handle.run()
		if err != nil {
			q.log.Warn("playback failed, advancing",
				slog.String("key", item.Key),
				slog.String("path", item.Path),
				slog.Int("exit_code", handle.ExitCode()),
				slog.String("error", err.Error()))
			if q.failed != nil {
				q.failed.Add(q.ctx, 1)
			}
		} else if q.played != nil {
			q.played.Add(q.ctx, 1)
		}

		q.mu.Lock()
		q.current = nil
		q.mu.Unlock()

		if onDone != nil {
			onDone(item, err)
		}
	}
}

// Stop discards every pending item and marks playback stopped. The
// process for the item already underway is left to finish on its own;
// only daemon shutdown kills a player mid-file.
func (q *Queue) Stop() int {
	q.mu.Lock()
	n := len(q.pending)
	q.pending = nil
	q.playing = false
	q.mu.Unlock()
	if n > 0 {
		q.log.Info("playback stopped", slog.Int("discarded", n))
	}
	return n
}

// Clear discards pending items without touching playback state.
func (q *Queue) Clear() int {
	q.mu.Lock()
	n := len(q.pending)
	q.pending = nil
	q.mu.Unlock()
	return n
}

// Depth reports how many items wait behind the current one.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Playing reports whether the queue believes audio is in flight. Stop
// flips this false even while a spawned player finishes its file.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Close cancels the queue context, killing any in-flight player process,
// and waits for the worker to exit.
func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()
}

func (q *Queue) initMetrics() {
	meter := otel.Meter("github.com/airwavelabs/aria/runtime")
	depth, err := meter.Int64ObservableGauge("aria.playback.queue_depth", metric.WithDescription("Pending narration items"))
	if err == nil {
		_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
			obs.ObserveInt64(depth, int64(q.Depth()))
			return nil
		}, depth)
	}
	if err != nil {
		q.log.Warn("failed to initialize queue depth gauge", slog.String("error", err.Error()))
	}
	if q.played, err = meter.Int64Counter("aria.playback.played", metric.WithDescription("Narration items played to completion")); err != nil {
		q.log.Warn("failed to initialize played counter", slog.String("error", err.Error()))
	}
	if q.failed, err = meter.Int64Counter("aria.playback.failed", metric.WithDescription("Narration items whose player exited nonzero")); err != nil {
		q.log.Warn("failed to initialize failed counter", slog.String("error", err.Error()))
	}
}
