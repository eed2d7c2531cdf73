package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	api "github.com/fmonfasani/mcp-scraper-agent-sub000/internal/api"
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/config"
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/ratelimit"
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/sched"
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/scrape"
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/store"
)

func main() {
	cfg := config.Load()
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "api").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	var archive *store.Store
	if cfg.PostgresDSN != "" {
		st, err := store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("connect postgres")
		}
		defer st.Close()
		if err := st.RunMigrations(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrations")
		}
		archive = st
	}

	scheduler, err := sched.New(sched.OptionsFromConfig(cfg), archiveOrNil(archive), log)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler config")
	}
	defer scheduler.Close()

	var siteBucket *ratelimit.SiteBucket
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		siteBucket = ratelimit.NewSiteBucket(client, cfg.SiteLimitCapacity, cfg.SiteLimitRefill, cfg.SiteLimitTTL)
	}

	uploader, err := buildUploader(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init uploader")
	}

	fetcher := scrape.NewFetcher(cfg.FetchTimeout, cfg.UserAgents, cfg.PerHostLimit, siteBucket, log)
	assets := scrape.NewAssetPipeline(scrape.AssetConfig{
		Timeout:    cfg.FetchTimeout,
		MaxBytes:   cfg.AssetMaxBytes,
		ThumbWidth: cfg.AssetThumbWidth,
	}, uploader)
	scraper := scrape.NewScraper(fetcher, assets, log)
	exporter := scrape.NewExporter(uploader, cfg.ExportS3Prefix)

	sites, err := scrape.LoadSites(cfg.SitesConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("load site configs")
	}
	log.Info().Int("sites", len(sites)).Msg("site configs loaded")

	server := api.New(cfg, scheduler, scraper, sites, archive, exporter, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info().Str("port", cfg.HTTPPort).Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

// buildUploader picks S3 when a bucket is configured, local output
// otherwise.
func buildUploader(ctx context.Context, cfg config.Config) (scrape.Uploader, error) {
	if cfg.ExportS3Bucket == "" {
		return &scrape.LocalUploader{BaseDir: cfg.AssetOutputDir}, nil
	}
	client, err := scrape.NewS3Client(ctx, cfg.ExportS3Region, cfg.S3Endpoint, cfg.S3PathStyle)
	if err != nil {
		return nil, err
	}
	return &scrape.S3Uploader{Client: client, Bucket: cfg.ExportS3Bucket}, nil
}

// archiveOrNil avoids handing the scheduler a typed-nil interface.
func archiveOrNil(st *store.Store) sched.Archiver {
	if st == nil {
		return nil
	}
	return st
}
