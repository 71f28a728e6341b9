package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/repogrowth/internal/app"
	"github.com/ignite/repogrowth/internal/config"
	"github.com/ignite/repogrowth/internal/pkg/logger"
	"github.com/ignite/repogrowth/internal/tracking"
	"github.com/ignite/repogrowth/internal/worker"
)

func main() {
	log.Println("[Worker] Starting digest and feedback worker")

	configPath := "config/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Pretty)
	logger.SetRedactPII(cfg.Logging.Redact())
	defer logger.Sync()

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.Build(initCtx, cfg)
	initCancel()
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var digestWorker *worker.DigestWorker
	if a.Digests != nil && cfg.Digest.Enabled {
		digestWorker = worker.NewDigestWorker(a.Repos, a.Digests, a.Locks, worker.DigestWorkerConfig{
			PollInterval:  cfg.Digest.Interval(),
			MaxConcurrent: cfg.Digest.MaxConcurrent,
		})
		digestWorker.Start()
		log.Printf("[Worker] Digest worker started (every %s)", cfg.Digest.Interval())

		recovery := worker.NewDigestRecoveryWorker(a.Digests, cfg.Digest.Interval(), cfg.Digest.StaleAfter())
		go recovery.Start(ctx)
		log.Printf("[Worker] Digest recovery started (stale after %s)", cfg.Digest.StaleAfter())
	} else {
		log.Println("[Worker] Digests disabled")
	}

	snowballRecovery := worker.NewSnowballRecoveryWorker(a.Engine, 0, 0)
	go snowballRecovery.Start(ctx)

	var consumer *tracking.Consumer
	if cfg.SQS.Enabled() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SQS.Region))
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		// A nil *Scheduler must not reach the processor as a non-nil interface.
		var bounces tracking.BounceHandler
		if a.Digests != nil {
			bounces = a.Digests
		}
		processor := tracking.NewProcessor(bounces, a.Engine)
		consumer = tracking.NewConsumer(sqs.NewFromConfig(awsCfg), cfg.SQS.QueueURL, cfg.SQS.WaitSeconds, processor)
		consumer.Start(ctx)
		log.Printf("[Worker] Feedback consumer started (%s)", cfg.SQS.QueueURL)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[Worker] Shutting down...")
	if consumer != nil {
		consumer.Stop()
	}
	if digestWorker != nil {
		digestWorker.Stop()
	}
	cancel()
	log.Println("[Worker] Stopped")
}
