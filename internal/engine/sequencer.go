package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"nft_auction/internal/domain"
)

// Command is one unit of work against a single auction.
type Command func(ctx context.Context) error

type request struct {
	ctx  context.Context
	key  uint64
	fn   Command
	done chan error
}

type execKey struct{}

// execInfo marks a context as running inside a shard.
type execInfo struct {
	shard     int
	keys      []uint64 // keys with a command in flight on this goroutine
	reentrant bool
}

func (i execInfo) holds(key uint64) bool {
	for _, k := range i.keys {
		if k == key {
			return true
		}
	}
	return false
}

// IsReentrant reports whether ctx belongs to a command that was re-entered
// for the same key while an outer command on that key is still running.
func IsReentrant(ctx context.Context) bool {
	info, ok := ctx.Value(execKey{}).(execInfo)
	return ok && info.reentrant
}

// Sequencer runs commands keyed by auction ID on single-threaded shards.
// All commands for one key run in order on the same goroutine.
type Sequencer struct {
	shards   []chan request
	dumpPath string
	state    func() any

	halted  atomic.Bool
	stopped chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	mu sync.Mutex // serializes state dumps
}

// Config tunes the sequencer.
type Config struct {
	Shards    int
	InboxSize int
	DumpPath  string
}

// NewSequencer creates a sequencer. state is marshalled to DumpPath when a
// command panics.
func NewSequencer(cfg Config, state func() any) *Sequencer {
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 64
	}
	if cfg.DumpPath == "" {
		cfg.DumpPath = "panic_dump.json"
	}

	s := &Sequencer{
		shards:   make([]chan request, cfg.Shards),
		dumpPath: cfg.DumpPath,
		state:    state,
		stopped:  make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = make(chan request, cfg.InboxSize)
	}
	return s
}

// Run starts one goroutine per shard and blocks until ctx is done.
func (s *Sequencer) Run(ctx context.Context) {
	slog.Info("Sequencer started", slog.Int("shards", len(s.shards)))

	for i := range s.shards {
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			s.loop(ctx, id)
		}(i)
	}

	<-ctx.Done()
	s.once.Do(func() { close(s.stopped) })
	s.wg.Wait()
	slog.Info("Sequencer stopped")
}

func (s *Sequencer) loop(ctx context.Context, shard int) {
	inbox := s.shards[shard]
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-inbox:
			info := execInfo{shard: shard, keys: []uint64{req.key}}
			req.done <- s.execute(context.WithValue(req.ctx, execKey{}, info), req.fn)
		}
	}
}

// Execute runs fn on the shard owning key and returns its result.
// A call made from inside a command on the same shard runs inline.
func (s *Sequencer) Execute(ctx context.Context, key uint64, fn Command) error {
	if s.halted.Load() {
		return domain.ErrHalted
	}

	shard := int(key % uint64(len(s.shards)))
	if info, ok := ctx.Value(execKey{}).(execInfo); ok && info.shard == shard {
		keys := make([]uint64, len(info.keys), len(info.keys)+1)
		copy(keys, info.keys)
		inner := execInfo{shard: shard, keys: append(keys, key), reentrant: info.holds(key)}
		return fn(context.WithValue(ctx, execKey{}, inner))
	}

	req := request{ctx: ctx, key: key, fn: fn, done: make(chan error, 1)}
	select {
	case s.shards[shard] <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return domain.ErrHalted
	}

	select {
	case err := <-req.done:
		return err
	case <-s.stopped:
		return domain.ErrHalted
	}
}

func (s *Sequencer) execute(ctx context.Context, fn Command) (err error) {
	if s.halted.Load() {
		return domain.ErrHalted
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.halted.Store(true)
			s.DumpState(s.dumpPath)
			err = fmt.Errorf("%w: %v", domain.ErrHalted, r)
		}
	}()

	return fn(ctx)
}

// Halted reports whether a panic stopped the sequencer.
func (s *Sequencer) Halted() bool {
	return s.halted.Load()
}

// DumpState writes the entire internal state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slog.Info("Dumping internal state...", slog.String("file", filename))

	var state any
	if s.state != nil {
		state = s.state()
	}
	data := struct {
		Halted bool `json:"halted"`
		State  any  `json:"state"`
	}{
		Halted: s.halted.Load(),
		State:  state,
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
