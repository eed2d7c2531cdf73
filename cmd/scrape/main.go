// Command scrape runs a one-shot bulk scrape: URLs from a file (or stdin),
// one NDJSON result per line on stdout, scheduler telemetry on stderr.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/config"
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/models"
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/ratelimit"
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/sched"
	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/scrape"
)

func main() {
	siteName := flag.String("site", "", "site config name (required)")
	urlsPath := flag.String("urls", "-", "file with one URL per line, - for stdin")
	flag.Parse()

	cfg := config.Load()
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "scrape").Logger()

	if *siteName == "" {
		log.Fatal().Msg("-site is required")
	}

	sites, err := scrape.LoadSites(cfg.SitesConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("load site configs")
	}
	site, ok := sites[*siteName]
	if !ok {
		log.Fatal().Str("site", *siteName).Msg("unknown site config")
	}

	urls, err := readURLs(*urlsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("read urls")
	}
	if len(urls) == 0 {
		log.Fatal().Msg("no urls to scrape")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	scheduler, err := sched.New(sched.OptionsFromConfig(cfg), nil, log)
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

	fetcher := scrape.NewFetcher(cfg.FetchTimeout, cfg.UserAgents, cfg.PerHostLimit, siteBucket, log)
	scraper := scrape.NewScraper(fetcher, nil, log)

	reg := scheduler.Registry()
	jobID := reg.Create(ctx, models.KindBulk, site.Name, len(urls))
	go func() {
		// SIGINT cancels the job; in-flight fetches finish naturally.
		<-ctx.Done()
		_ = reg.Cancel(jobID)
	}()

	tasks := make([]sched.Task, 0, len(urls))
	for _, u := range urls {
		tasks = append(tasks, scraper.TaskFor(site, u))
	}

	summary := scheduler.RunJob(context.Background(), jobID, tasks)

	snap, err := reg.Snapshot(jobID)
	if err != nil {
		log.Fatal().Err(err).Msg("job snapshot")
	}
	enc := json.NewEncoder(os.Stdout)
	for _, res := range snap.Results {
		_ = enc.Encode(res)
	}

	log.Info().
		Str("status", snap.Status).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Msg("bulk scrape settled")
	if summary.Failed > 0 {
		os.Exit(1)
	}
}

func readURLs(path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}
