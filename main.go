package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mmacy/modul8r/broadcast"
	"github.com/mmacy/modul8r/config"
	"github.com/mmacy/modul8r/logging"
	"github.com/mmacy/modul8r/openai"
	"github.com/mmacy/modul8r/pdfconv"
	"github.com/mmacy/modul8r/pipeline"
	"github.com/mmacy/modul8r/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// .env is optional; real env vars win either way.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}

	capture := logging.NewCapture(logging.CaptureOptions{
		MaxEntries:      cfg.BufferMaxEntries,
		MaxAge:          cfg.BufferMaxAge,
		CleanupInterval: cfg.BufferCleanupInterval,
		DedupWindow:     cfg.DedupWindow,
	})
	log := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Output:  os.Stderr,
		Service: "modul8r",
	}, capture)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bc := broadcast.NewBroadcaster(broadcast.Options{
		BatchInterval:       cfg.ThrottleBatchInterval,
		MaxBatchSize:        cfg.ThrottleMaxBatchSize,
		SubscriberQueueSize: cfg.SubscriberQueueSize,
		BreakerThreshold:    cfg.BreakerThreshold,
		BreakerWindow:       cfg.BreakerWindow,
		BreakerRecovery:     cfg.BreakerRecoveryTime,
	}, log)
	capture.SetSink(bc.Queue)
	capture.Start(ctx)
	bc.Start(ctx)

	monitor := broadcast.NewLagMonitor(broadcast.MonitorOptions{
		CheckInterval:    cfg.MonitorCheckInterval,
		MaxLag:           cfg.MonitorMaxLag,
		SevereMultiplier: cfg.MonitorSevereLagMultiplier,
		MaxSevereCount:   cfg.MonitorMaxSevereLagCount,
		CleanProbeTarget: cfg.MonitorCleanProbeTarget,
	}, bc, capture, log)
	monitor.Start(ctx)

	client := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAITimeout, log)
	cache := openai.NewModelCache(client, cfg.ModelCacheTTL, log)
	cache.StartPeriodicRefresh(ctx)

	pipe := pipeline.New(client, capture, log, pipeline.Options{
		MaxTokens:      cfg.MaxTokens,
		Temperature:    cfg.Temperature,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	})
	raster := pdfconv.NewRasterizer(cfg.PDFDPI)

	srv := server.NewServer(cfg, log, capture, bc, monitor, cache, pipe, raster)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		log.Fatal().Err(err).Msg("server exited")
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}
}
