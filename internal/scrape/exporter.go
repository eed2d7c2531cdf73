package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/models"
)

// Exporter writes a finished job's results as NDJSON through an uploader
// (local directory or S3 bucket).
type Exporter struct {
	uploader Uploader
	prefix   string
}

// NewExporter builds an exporter; prefix namespaces the object keys.
func NewExporter(uploader Uploader, prefix string) *Exporter {
	return &Exporter{uploader: uploader, prefix: prefix}
}

// Export serializes every task result as one NDJSON line plus a trailing
// summary line, and uploads the document as {prefix}/{jobID}.ndjson.
func (e *Exporter) Export(ctx context.Context, job models.Job) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	for _, r := range job.Results {
		if err := enc.Encode(r); err != nil {
			return "", fmt.Errorf("encode result: %w", err)
		}
	}
	if err := enc.Encode(models.Summarize(job.Results)); err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}

	key := path.Join(e.prefix, job.ID+".ndjson")
	loc, err := e.uploader.Upload(ctx, key, buf.Bytes(), "application/x-ndjson")
	if err != nil {
		return "", fmt.Errorf("export job %s: %w", job.ID, err)
	}
	return loc, nil
}
