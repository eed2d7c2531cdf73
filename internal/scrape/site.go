package scrape

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FieldSelector maps one output field to a CSS selector, with an optional
// attribute source and regex refinement. Selector correctness is the site
// config author's problem, not the scheduler's.
type FieldSelector struct {
	Name     string `json:"name"`
	Selector string `json:"selector"`
	Attr     string `json:"attr,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// SiteConfig is the per-site extraction recipe. One JSON file per site.
// RateCapacity and RateRefill override the shared politeness budget for
// this site when positive; zero keeps the configured defaults.
type SiteConfig struct {
	Name         string          `json:"name"`
	Domain       string          `json:"domain,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	Fields       []FieldSelector `json:"fields"`
	ImageField   string          `json:"image_field,omitempty"`
	RateCapacity int             `json:"rate_capacity,omitempty"`
	RateRefill   float64         `json:"rate_refill_per_sec,omitempty"`
}

// LoadSites reads every *.json site config under dir, keyed by Name.
// A missing directory yields an empty map, not an error: the service can
// run with ad-hoc field maps supplied per request.
func LoadSites(dir string) (map[string]SiteConfig, error) {
	sites := make(map[string]SiteConfig)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return sites, nil
		}
		return nil, fmt.Errorf("read sites dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read site config %s: %w", e.Name(), err)
		}
		var cfg SiteConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse site config %s: %w", e.Name(), err)
		}
		if cfg.Name == "" {
			cfg.Name = strings.TrimSuffix(e.Name(), ".json")
		}
		sites[cfg.Name] = cfg
	}
	return sites, nil
}
