// feedbridge subscribes to exchange ticker streams and republishes
// them on the bus in the terminal's wire format. It also refreshes the
// {symbol}_price keys so the terminal's fallback path has data even
// when it starts between ticks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"market_terminal/config"
	"market_terminal/models"
	"market_terminal/utils"
)

const (
	streamBase       = "wss://stream.binance.com:9443/stream"
	handshakeTimeout = 5 * time.Second
	keyTTL           = 10 * time.Minute
)

// streamEnvelope wraps every message on a combined stream.
type streamEnvelope struct {
	Stream string        `json:"stream"`
	Data   binanceTicker `json:"data"`
}

// binanceTicker is the 24hr ticker payload; numbers arrive as strings.
type binanceTicker struct {
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
	ChangePct string `json:"P"`
	Volume    string `json:"v"`
	EventTime int64  `json:"E"` // milliseconds
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Printf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	if err := utils.InitLogger(cfg.LogDir); err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		os.Exit(1)
	}
	defer utils.Logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr(),
		DB:   cfg.RedisDB,
	})
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Printf("Could not reach the bus: %v", err)
		os.Exit(1)
	}

	operation := func() error {
		return runStream(ctx, cfg, rdb)
	}

	retry := backoff.WithContext(utils.NewExponentialBackoff(), ctx)
	err = backoff.RetryNotify(operation, retry,
		func(err error, duration time.Duration) {
			log.Printf("Stream error: %v, reconnecting in %v...", err, duration)
			utils.Logger.Warnw("Stream error", "error", err, "retry_in", duration.String())
		})
	if err != nil && ctx.Err() == nil {
		log.Printf("Stream stopped: %v", err)
		os.Exit(1)
	}

	utils.Logger.Infow("Feed bridge stopped")
}

// runStream holds one websocket session: connect, read, republish.
// Any error returns to the caller, which reconnects with backoff.
func runStream(ctx context.Context, cfg *config.Config, rdb *redis.Client) error {
	streams := make([]string, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		streams = append(streams, sym+"@ticker")
	}
	url := fmt.Sprintf("%s?streams=%s", streamBase, strings.Join(streams, "/"))

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	utils.Logger.Infow("Stream connected", "streams", streams, "channel", cfg.TicksChannel)

	// Unblock ReadMessage when shutting down.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("read: %w", err)
		}

		var envelope streamEnvelope
		if err := json.Unmarshal(message, &envelope); err != nil {
			utils.Logger.Debugw("Unparseable stream message", "error", err)
			continue
		}

		tick, err := toTick(envelope.Data)
		if err != nil {
			utils.Logger.Debugw("Unusable ticker payload", "error", err)
			continue
		}

		if err := publish(ctx, rdb, cfg.TicksChannel, tick); err != nil {
			return err
		}
	}
}

func toTick(t binanceTicker) (*models.Tick, error) {
	price, err := strconv.ParseFloat(t.LastPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("price %q: %w", t.LastPrice, err)
	}
	change, err := strconv.ParseFloat(t.ChangePct, 64)
	if err != nil {
		change = 0
	}
	volume, err := strconv.ParseFloat(t.Volume, 64)
	if err != nil {
		volume = 0
	}
	return &models.Tick{
		Symbol:       strings.ToLower(t.Symbol),
		Price:        price,
		ChangePct24h: change,
		Volume:       volume,
		Timestamp:    t.EventTime / 1000,
	}, nil
}

func publish(ctx context.Context, rdb *redis.Client, channel string, tick *models.Tick) error {
	payload, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("marshal tick: %w", err)
	}

	if err := rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}

	key := tick.Symbol + "_price"
	if err := rdb.Set(ctx, key, strconv.FormatFloat(tick.Price, 'f', -1, 64), keyTTL).Err(); err != nil {
		utils.Logger.Warnw("Key refresh failed", "key", key, "error", err)
	}
	return nil
}
