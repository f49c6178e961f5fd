package terminal

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"market_terminal/bus"
	"market_terminal/config"
	"market_terminal/fallback"
	"market_terminal/market"
	"market_terminal/metrics"
	"market_terminal/middleware"
	"market_terminal/models"
	"market_terminal/parser"
	"market_terminal/render"
	"market_terminal/utils"
)

// State is the orchestrator lifecycle.
type State int32

const (
	StateInit State = iota
	StateRunning
	StateDegraded
	StateShuttingDown
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const pollTimeout = 10 * time.Millisecond

// Terminal wires the bus, decoder, market state, fallback sampler and
// renderer together and supervises the listener and render loops.
type Terminal struct {
	cfg      *config.Config
	bus      bus.Bus
	market   *market.State
	decoder  *parser.Decoder
	sampler  *fallback.Sampler
	renderer *render.Renderer

	out       io.Writer
	clock     func() time.Time
	sessionID string

	state     atomic.Int32
	liveTicks atomic.Int64
}

func New(cfg *config.Config, b bus.Bus) *Terminal {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	// The listener and render goroutines must not share one rand.Rand.
	marketRng := rand.New(rand.NewSource(seed))
	samplerRng := rand.New(rand.NewSource(seed + 1))

	state := market.New(cfg.Symbols, cfg.HistoryCapacity, marketRng)

	return &Terminal{
		cfg:       cfg,
		bus:       b,
		market:    state,
		decoder:   parser.NewDecoder(cfg.Symbols),
		sampler:   fallback.New(b, state, samplerRng, cfg.BasePrice),
		renderer:  render.NewRenderer(cfg.UpdateInterval),
		out:       os.Stdout,
		clock:     time.Now,
		sessionID: uuid.New().String(),
	}
}

// SetOutput redirects frames, used by tests.
func (t *Terminal) SetOutput(w io.Writer) { t.out = w }

// SetClock overrides the wall clock, used by tests.
func (t *Terminal) SetClock(clock func() time.Time) { t.clock = clock }

// Market exposes the state for health checks and tests.
func (t *Terminal) Market() *market.State { return t.market }

func (t *Terminal) State() State {
	return State(t.state.Load())
}

func (t *Terminal) setState(s State) {
	t.state.Store(int32(s))
	metrics.SetState(int(s))
	utils.Logger.Infow("Terminal state changed", "session_id", t.sessionID, "state", s.String())
}

// Run blocks until ctx is cancelled or the initial connection fails.
func (t *Terminal) Run(ctx context.Context) error {
	t.setState(StateInit)

	if err := t.bus.Connect(ctx); err != nil {
		t.setState(StateFailed)
		return err
	}
	if err := t.bus.Subscribe(ctx, t.cfg.TicksChannel); err != nil {
		t.setState(StateFailed)
		t.bus.Close()
		return fmt.Errorf("subscribe %q: %w", t.cfg.TicksChannel, err)
	}

	t.setState(StateRunning)
	utils.Logger.Infow("Terminal running",
		"session_id", t.sessionID,
		"symbols", t.cfg.Symbols,
		"channel", t.cfg.TicksChannel,
		"interval", t.cfg.UpdateInterval.String(),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go t.listenLoop(ctx, &wg)
	go t.renderLoop(ctx, &wg)

	wg.Wait()
	t.setState(StateStopped)
	return t.bus.Close()
}

// listenLoop polls the channel with a short timeout so shutdown
// latency is bounded by the refresh interval, not bus idleness.
func (t *Terminal) listenLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	retry := utils.NewExponentialBackoff()
	for {
		if ctx.Err() != nil {
			return
		}

		payload, ok, err := t.bus.PollMessage(ctx, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.IncBusError()
			utils.Logger.Warnw("Bus poll failed", "error", err)
			if t.State() == StateRunning {
				t.setState(StateDegraded)
			}
			wait := retry.NextBackOff()
			if wait == backoff.Stop {
				wait = retry.MaxInterval
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()

		if !ok {
			continue
		}

		tick, derr := t.decoder.Decode([]byte(payload))
		if derr != nil {
			metrics.IncDecodeError()
			utils.Logger.Debugw("Tick rejected", "error", derr, "payload_len", len(payload))
			continue
		}

		t.market.Apply(*tick)
		metrics.IncTickReceived()
		t.liveTicks.Add(1)

		// A decoded live tick ends degraded mode.
		if t.State() == StateDegraded {
			t.setState(StateRunning)
		}
	}
}

// renderLoop wakes on a fixed period. Frames with no live ticks go
// through the fallback sampler before composing.
func (t *Terminal) renderLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(t.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			switch t.State() {
			case StateRunning, StateDegraded:
				t.setState(StateShuttingDown)
			}
			return
		case <-ticker.C:
			t.renderFrame(ctx)
		}
	}
}

func (t *Terminal) renderFrame(ctx context.Context) {
	now := t.clock()

	if t.liveTicks.Swap(0) == 0 {
		for _, tick := range t.sampler.TickIfStale(ctx, now) {
			t.applyFallback(tick)
		}
	}

	start := time.Now()
	view := t.market.View()

	var frame string
	if err := middleware.WithRecover(func() {
		frame = t.renderer.Render(view, now)
	}); err != nil {
		metrics.IncRenderError()
		utils.Logger.Warnw("Frame composition failed", "error", err)
		return
	}

	fmt.Fprint(t.out, "\033[2J\033[H")
	fmt.Fprint(t.out, frame)

	metrics.RecordFrameDuration(time.Since(start))
	metrics.IncFrameRendered()
}

func (t *Terminal) applyFallback(tick models.Tick) {
	t.market.Apply(tick)
	metrics.IncFallbackTick()
	utils.Logger.Debugw("Fallback tick applied",
		"symbol", tick.Symbol,
		"price", tick.Price,
	)
}
