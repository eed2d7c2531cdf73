package scrape

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
)

// Uploader stores a blob under a key and returns its location.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// AssetPipeline thumbnails images referenced by scraped records (product
// photos, listing images) and stores them locally or in S3.
type AssetPipeline struct {
	httpClient *http.Client
	uploader   Uploader
	maxBytes   int64
	thumbWidth int
}

// AssetConfig carries pipeline construction options.
type AssetConfig struct {
	Timeout    time.Duration
	MaxBytes   int64
	ThumbWidth int
}

// NewAssetPipeline builds a pipeline writing through the given uploader.
func NewAssetPipeline(cfg AssetConfig, uploader Uploader) *AssetPipeline {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = 25 * 1024 * 1024
	}
	width := cfg.ThumbWidth
	if width == 0 {
		width = 320
	}
	return &AssetPipeline{
		httpClient: &http.Client{Timeout: timeout},
		uploader:   uploader,
		maxBytes:   maxBytes,
		thumbWidth: width,
	}
}

// Thumbnail downloads srcURL, scales it to the configured width, and
// uploads the result under key. Returns the stored location.
func (p *AssetPipeline) Thumbnail(ctx context.Context, srcURL, key string) (string, error) {
	data, _, err := p.download(ctx, srcURL)
	if err != nil {
		return "", err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	img = imaging.Resize(img, p.thumbWidth, 0, imaging.Lanczos)

	outFormat := imaging.JPEG
	contentType := "image/jpeg"
	if strings.EqualFold(format, "png") {
		outFormat = imaging.PNG
		contentType = "image/png"
	}

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, outFormat, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}

	return p.uploader.Upload(ctx, sanitizeKey(key), buf.Bytes(), contentType)
}

func (p *AssetPipeline) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("download asset: status %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, p.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, "", fmt.Errorf("read asset: %w", err)
	}
	if int64(len(body)) > p.maxBytes {
		return nil, "", fmt.Errorf("asset too large (>%d bytes)", p.maxBytes)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}

// LocalUploader writes blobs under a base directory.
type LocalUploader struct {
	BaseDir string
}

func (l *LocalUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.BaseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// S3Uploader puts blobs into an S3 bucket.
type S3Uploader struct {
	Client *s3.Client
	Bucket string
}

func (s *S3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.Bucket, key), nil
}

// NewS3Client builds an S3 client, honoring a custom endpoint for
// MinIO-style deployments.
func NewS3Client(ctx context.Context, region, endpoint string, pathStyle bool) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, reg string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               endpoint,
					HostnameImmutable: pathStyle,
					SigningRegion:     region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
	}), nil
}
