package terminal

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_terminal/bus"
	"market_terminal/config"
)

type fakeBus struct {
	mu         sync.Mutex
	connectErr error
	pollErr    error
	subscribed string
	closes     int
	messages   chan string
	kv         map[string]string
}

var _ bus.Bus = (*fakeBus)(nil)

func newFakeBus() *fakeBus {
	return &fakeBus{
		messages: make(chan string, 64),
		kv:       make(map[string]string),
	}
}

func (f *fakeBus) Connect(context.Context) error {
	return f.connectErr
}

func (f *fakeBus) Subscribe(_ context.Context, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = channel
	return nil
}

func (f *fakeBus) PollMessage(ctx context.Context, timeout time.Duration) (string, bool, error) {
	f.mu.Lock()
	if err := f.pollErr; err != nil {
		f.pollErr = nil
		f.mu.Unlock()
		return "", false, err
	}
	f.mu.Unlock()

	select {
	case m := <-f.messages:
		return m, true, nil
	case <-time.After(timeout):
		return "", false, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func (f *fakeBus) GetKey(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	return v, ok, nil
}

func (f *fakeBus) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeBus) setPollErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollErr = err
}

func testConfig(interval time.Duration) *config.Config {
	return &config.Config{
		UpdateInterval:  interval,
		Symbols:         []string{"btcusdt"},
		HistoryCapacity: 100,
		TicksChannel:    "market_data",
		Seed:            42,
	}
}

func runTerminal(t *testing.T, term *Terminal, ctx context.Context) chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- term.Run(ctx)
	}()
	return done
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestColdStartSynthesizesWithoutCrashing(t *testing.T) {
	fb := newFakeBus()
	term := New(testConfig(20*time.Millisecond), fb)
	var out bytes.Buffer
	term.SetOutput(&out)

	ctx, cancel := context.WithCancel(context.Background())
	done := runTerminal(t, term, ctx)

	// Let at least two frames render.
	waitFor(t, time.Second, func() bool {
		snap, _ := term.Market().Snapshot("btcusdt")
		return !snap.Empty()
	})
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, StateStopped, term.State())
	assert.Equal(t, "market_data", fb.subscribed)

	snap, ok := term.Market().Snapshot("btcusdt")
	require.True(t, ok)
	assert.InDelta(t, 29500, snap.Latest.Price, 295)
	assert.GreaterOrEqual(t, snap.Latest.Volume, 1000.0)
	assert.LessOrEqual(t, snap.Latest.Volume, 10000.0)
	assert.Contains(t, out.String(), "BTCUSDT")
}

func TestFallbackUsesKeyValueStore(t *testing.T) {
	fb := newFakeBus()
	fb.kv["btcusdt_price"] = "42000"
	term := New(testConfig(20*time.Millisecond), fb)
	term.SetOutput(&bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := runTerminal(t, term, ctx)

	waitFor(t, time.Second, func() bool {
		snap, _ := term.Market().Snapshot("btcusdt")
		return !snap.Empty()
	})
	cancel()
	require.NoError(t, <-done)

	snap, _ := term.Market().Snapshot("btcusdt")
	assert.Equal(t, 42000.0, snap.Latest.Price)
	assert.Equal(t, 42000.0, snap.PriceHistory[len(snap.PriceHistory)-1])
}

func TestSingleLiveTick(t *testing.T) {
	fb := newFakeBus()
	fb.messages <- `{"symbol":"btcusdt","price":50000,"change":2.5,"volume":1000000,"timestamp":1700000000}`

	// An hour-long interval keeps the fallback sampler out of the way.
	term := New(testConfig(time.Hour), fb)
	term.SetOutput(&bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := runTerminal(t, term, ctx)

	waitFor(t, time.Second, func() bool {
		snap, _ := term.Market().Snapshot("btcusdt")
		return !snap.Empty()
	})
	cancel()
	require.NoError(t, <-done)

	snap, _ := term.Market().Snapshot("btcusdt")
	assert.Equal(t, 50000.0, snap.Latest.Price)
	assert.Equal(t, []float64{50000}, snap.PriceHistory)
	assert.Zero(t, snap.Ascension)
	assert.GreaterOrEqual(t, snap.Energy, 0.1)
	assert.LessOrEqual(t, snap.Energy, 1.0)
}

func TestMalformedPayloadsLeaveStateAlone(t *testing.T) {
	fb := newFakeBus()
	for _, raw := range []string{``, `{}`, `{"symbol":"btcusdt"}`, `{"symbol":"btcusdt","price":-1}`} {
		fb.messages <- raw
	}

	term := New(testConfig(time.Hour), fb)
	term.SetOutput(&bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := runTerminal(t, term, ctx)

	waitFor(t, time.Second, func() bool {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		return len(fb.messages) == 0
	})
	time.Sleep(30 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	snap, _ := term.Market().Snapshot("btcusdt")
	assert.True(t, snap.Empty())
}

func TestConnectFailureIsFatal(t *testing.T) {
	fb := newFakeBus()
	fb.connectErr = bus.ErrBusUnavailable

	term := New(testConfig(time.Hour), fb)
	term.SetOutput(&bytes.Buffer{})

	err := term.Run(context.Background())
	assert.ErrorIs(t, err, bus.ErrBusUnavailable)
	assert.Equal(t, StateFailed, term.State())
}

func TestDegradedAndRecovery(t *testing.T) {
	fb := newFakeBus()
	term := New(testConfig(time.Hour), fb)
	term.SetOutput(&bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := runTerminal(t, term, ctx)

	fb.setPollErr(errors.New("connection reset"))
	waitFor(t, time.Second, func() bool {
		return term.State() == StateDegraded
	})

	// The next decoded live tick brings the terminal back.
	fb.messages <- `{"symbol":"btcusdt","price":100}`
	waitFor(t, 3*time.Second, func() bool {
		return term.State() == StateRunning
	})

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateStopped, term.State())
}

func TestShutdownWithinRefreshInterval(t *testing.T) {
	fb := newFakeBus()
	term := New(testConfig(5*time.Second), fb)
	term.SetOutput(&bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := runTerminal(t, term, ctx)

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("terminal did not stop within a second of cancellation")
	}

	assert.Equal(t, StateStopped, term.State())
	assert.GreaterOrEqual(t, fb.closes, 1)
}
