package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/repogrowth/internal/config"
	"github.com/ignite/repogrowth/internal/pkg/logger"
	"github.com/ignite/repogrowth/internal/tracking"
)

func main() {
	configPath := "config/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.SQS.Enabled() {
		log.Fatal("DIGEST_QUEUE_URL is required")
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Pretty)
	logger.SetRedactPII(cfg.Logging.Redact())
	defer logger.Sync()

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.SQS.Region))
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}

	pub := tracking.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.SQS.QueueURL)
	handler := tracking.NewHandler(pub)

	addr := cfg.Tracking.Host + ":" + strconv.Itoa(cfg.Tracking.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("[Tracking] Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[Tracking] Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
