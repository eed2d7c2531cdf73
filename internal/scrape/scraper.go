package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/sched"
)

// Scraper turns (site config, url) pairs into scheduler tasks. The
// scheduler treats the returned Execute as an opaque unit of work.
type Scraper struct {
	fetcher *Fetcher
	assets  *AssetPipeline
	log     zerolog.Logger
}

// NewScraper builds a scraper; assets may be nil to skip thumbnailing.
func NewScraper(fetcher *Fetcher, assets *AssetPipeline, log zerolog.Logger) *Scraper {
	return &Scraper{fetcher: fetcher, assets: assets, log: log}
}

// TaskFor builds the unit of work scraping url with site's field map.
func (s *Scraper) TaskFor(site SiteConfig, url string) sched.Task {
	id := uuid.New().String()
	return sched.Task{
		ID:          id,
		URL:         url,
		MaxRetries:  -1, // policy default
		SubmittedAt: time.Now(),
		Execute: func(ctx context.Context) (map[string]any, error) {
			return s.scrape(ctx, site, url, id)
		},
	}
}

func (s *Scraper) scrape(ctx context.Context, site SiteConfig, url, taskID string) (map[string]any, error) {
	if len(site.Fields) == 0 {
		return nil, sched.Terminal(fmt.Errorf("site %q has no field selectors", site.Name))
	}

	doc, err := s.fetcher.Fetch(ctx, url, site)
	if err != nil {
		return nil, err
	}

	fields, err := Extract(doc, site.Fields)
	if err != nil {
		return nil, err
	}

	// Thumbnail the record's image field when configured. Asset failures
	// are logged, not fatal: the extracted fields are still a usable result.
	if s.assets != nil && site.ImageField != "" {
		if src, ok := fields[site.ImageField].(string); ok && src != "" {
			key := fmt.Sprintf("thumbs/%s/%s.jpg", site.Name, taskID)
			loc, err := s.assets.Thumbnail(ctx, src, key)
			if err != nil {
				s.log.Warn().Err(err).Str("url", src).Msg("thumbnail failed")
			} else {
				fields["_thumbnail"] = loc
			}
		}
	}

	return fields, nil
}
