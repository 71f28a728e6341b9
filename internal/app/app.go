// Package app assembles the stores and services shared by the binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/repogrowth/internal/config"
	"github.com/ignite/repogrowth/internal/content"
	"github.com/ignite/repogrowth/internal/delivery"
	"github.com/ignite/repogrowth/internal/growth"
	"github.com/ignite/repogrowth/internal/pkg/distlock"
	"github.com/ignite/repogrowth/internal/pkg/httpretry"
	"github.com/ignite/repogrowth/internal/repository/postgres"
	"github.com/ignite/repogrowth/internal/repository/redisstore"
	"github.com/ignite/repogrowth/internal/service/admission"
	"github.com/ignite/repogrowth/internal/service/csvexport"
	"github.com/ignite/repogrowth/internal/service/csvimport"
	"github.com/ignite/repogrowth/internal/service/digest"
	"github.com/ignite/repogrowth/internal/service/gate"
	"github.com/ignite/repogrowth/internal/service/ledger"
	"github.com/ignite/repogrowth/internal/service/repos"
	"github.com/ignite/repogrowth/internal/service/snowball"
	"github.com/ignite/repogrowth/internal/storage"
)

// App holds the wired services. Digests is nil when no sender address is
// configured.
type App struct {
	DB      *sql.DB
	Redis   *redis.Client
	Engine  *growth.Engine
	Repos   *repos.Service
	Digests *digest.Scheduler
	Locks   *distlock.Factory
}

// Build connects to the backing stores and wires every service.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, err
	}
	log.Println("[App] Connected to PostgreSQL")

	a := &App{DB: db}
	if cfg.Redis.Enabled() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.Redis = redis.NewClient(opts)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		log.Println("[App] Connected to Redis")
	}

	if err := a.wire(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, cfg *config.Config) error {
	l := ledger.NewService(postgres.NewLedgerStore(a.DB))
	g := gate.New(gate.Policy{
		BaseCSVTrustScore:     cfg.Growth.BaseCSVTrustScore,
		SnowballBaseScore:     cfg.Growth.SnowballBaseScore,
		VerifiedReferrerTrust: cfg.Growth.VerifiedReferrerTrust,
	})
	adm := admission.NewService(l, g)
	a.Repos = repos.NewService(postgres.NewRepoStore(a.DB), repos.Defaults{
		ForwardThreshold: cfg.Growth.DefaultForwardThreshold,
		QualityThreshold: cfg.Growth.DefaultQualityThreshold,
	})

	var snowballStore snowball.Store = postgres.NewSnowballStore(a.DB)
	if a.Redis != nil {
		snowballStore = redisstore.NewSnowballStore(a.Redis, cfg.Redis.SnowballMaxEvents)
	}

	archiver, err := storage.New(ctx, storage.Config{
		Type:      cfg.Export.Type,
		LocalPath: cfg.Export.LocalPath,
		Bucket:    cfg.Export.S3Bucket,
		Region:    cfg.Export.S3Region,
		Profile:   cfg.Export.GetAWSProfile(),
		Prefix:    cfg.Export.Prefix,
	})
	if err != nil {
		return fmt.Errorf("export archive: %w", err)
	}
	if archiver != nil {
		log.Printf("[App] Export archive enabled (%s)", cfg.Export.Type)
	}

	a.Engine = growth.NewEngine(growth.Deps{
		Repos:     a.Repos,
		Admission: adm,
		Ledger:    l,
		Imports: csvimport.NewPipeline(postgres.NewImportStore(a.DB), adm, csvimport.Options{
			Concurrency: cfg.Growth.ImportConcurrency,
		}),
		Exporter: csvexport.NewExporter(l),
		Snowball: snowball.NewService(snowballStore, l, adm, g.ReferrerTrust),
		Archiver: archiver,
	})

	a.Locks = distlock.NewFactory(a.Redis, a.DB, cfg.Digest.LockTTL())

	if cfg.Digest.FromEmail == "" {
		log.Println("[App] Digest sender not configured, digests disabled")
		return nil
	}
	deliverer, err := newDeliverer(ctx, cfg)
	if err != nil {
		return err
	}
	ranker := content.NewFeedRanker(httpretry.NewRetryClient(
		&http.Client{Timeout: cfg.Digest.FeedTimeout()}, cfg.Digest.FeedMaxRetries))
	a.Digests = digest.NewScheduler(postgres.NewDigestStore(a.DB), l, l, ranker, deliverer, digest.Options{
		ContentLimit: cfg.Digest.ContentLimit,
	})
	log.Printf("[App] Digests enabled (from %s via SES %s)", cfg.Digest.FromEmail, cfg.SES.Region)
	return nil
}

func newDeliverer(ctx context.Context, cfg *config.Config) (*delivery.SESDeliverer, error) {
	renderer, err := delivery.NewRenderer(cfg.Digest.SubjectTemplate, cfg.Digest.BodyTemplate, cfg.Digest.UnsubscribeURL)
	if err != nil {
		return nil, err
	}
	client, err := delivery.NewSESClient(ctx, cfg.SES.Region, cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Timeout())
	if err != nil {
		return nil, err
	}
	return delivery.NewSESDeliverer(client, renderer, delivery.Options{
		FromEmail:        cfg.Digest.FromEmail,
		FromName:         cfg.Digest.FromName,
		ReplyTo:          cfg.Digest.ReplyTo,
		ConfigurationSet: cfg.SES.ConfigurationSet,
		Concurrency:      cfg.SES.Concurrency,
	})
}

// Close releases the connections.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
