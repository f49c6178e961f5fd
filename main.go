package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"market_terminal/bus"
	"market_terminal/config"
	"market_terminal/metrics"
	"market_terminal/monitoring"
	"market_terminal/terminal"
	"market_terminal/utils"
)

func main() {
	// Load environment variables; a missing .env is fine.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	// Load configuration
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Printf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := utils.InitLogger(cfg.LogDir); err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		os.Exit(1)
	}
	defer utils.Logger.Sync()

	redisBus := bus.NewRedisBus(cfg.RedisAddr(), cfg.RedisDB)
	term := terminal.New(cfg, redisBus)

	// Ops surface: /health and /metrics, request-logged.
	if cfg.MetricsAddr != "" {
		monitoring.RegisterHealthCheck("bus", func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisBus.Ping(ctx) == nil
		})
		monitoring.RegisterHealthCheck("render", func() bool {
			age := metrics.LastFrameAge()
			return age < 3*cfg.UpdateInterval
		})

		metricsMux := http.NewServeMux()
		metricsMux.HandleFunc("/health", monitoring.HealthCheckHandler)
		metricsMux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: utils.RequestLogger(metricsMux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				utils.Error(err, "Metrics server error")
			}
		}()
	}

	// Shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := term.Run(ctx); err != nil {
		if errors.Is(err, bus.ErrBusUnavailable) {
			log.Printf("Could not reach the bus: %v", err)
		} else {
			log.Printf("Terminal failed: %v", err)
		}
		utils.Error(err, "Terminal exited with error")
		os.Exit(1)
	}

	utils.Logger.Infow("Terminal stopped cleanly")
}
