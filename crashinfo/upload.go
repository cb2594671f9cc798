// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package crashinfo // import "go.opentelemetry.io/crashtracker/crashinfo"

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"

	"go.opentelemetry.io/crashtracker/config"
	"go.opentelemetry.io/crashtracker/vc"
)

// userAgentComponent names the receiver in upload requests.
const userAgentComponent = "crashtracker-receiver"

// Uploader ships a finished report, and the crash ping sent ahead of it.
// An upload either succeeds as a whole or fails; there are no retries.
type Uploader interface {
	Upload(ctx context.Context, ci *CrashInfo) error
	UploadPing(ctx context.Context, p *CrashPing) error
}

// NewUploader returns the sink for ep.
func NewUploader(ctx context.Context, ep *config.Endpoint) (Uploader, error) {
	if ep == nil {
		return nil, errors.New("no endpoint configured")
	}
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	u, err := url.Parse(ep.URL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "file":
		return &FileUploader{Path: filePath(u)}, nil
	case "http", "https":
		return NewHTTPUploader(u.String(), ep.APIKey, nil)
	case "s3":
		return NewS3Uploader(ctx, u)
	}
	return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
}

// filePath handles both file:///abs/path and file://relative/path.
func filePath(u *url.URL) string {
	if u.Host != "" && u.Host != "localhost" {
		return u.Host + u.Path
	}
	if u.Opaque != "" {
		return u.Opaque
	}
	return u.Path
}

// FileUploader writes the pretty printed JSON report to Path, replacing any
// previous content. The ping goes to Path with a ".ping" suffix.
type FileUploader struct {
	Path string
}

func (f *FileUploader) Upload(_ context.Context, ci *CrashInfo) error {
	data, err := ci.MarshalIndent()
	if err != nil {
		return fmt.Errorf("failed to marshal crash report: %w", err)
	}
	return writeFile(f.Path, data)
}

func (f *FileUploader) UploadPing(_ context.Context, p *CrashPing) error {
	data, err := p.marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal crash ping: %w", err)
	}
	return writeFile(f.Path+".ping", data)
}

func writeFile(name string, data []byte) error {
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// HTTPUploader posts the zstd compressed JSON report.
type HTTPUploader struct {
	url     string
	apiKey  string
	client  *http.Client
	encoder *zstd.Encoder
}

// NewHTTPUploader returns an uploader posting to url. A nil client selects
// http.DefaultClient.
func NewHTTPUploader(url, apiKey string, client *http.Client) (*HTTPUploader, error) {
	if client == nil {
		client = http.DefaultClient
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &HTTPUploader{url: url, apiKey: apiKey, client: client, encoder: enc}, nil
}

func (h *HTTPUploader) Upload(ctx context.Context, ci *CrashInfo) error {
	data, err := ci.MarshalIndent()
	if err != nil {
		return fmt.Errorf("failed to marshal crash report: %w", err)
	}
	return h.post(ctx, data, "crash report")
}

func (h *HTTPUploader) UploadPing(ctx context.Context, p *CrashPing) error {
	data, err := p.marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal crash ping: %w", err)
	}
	return h.post(ctx, data, "crash ping")
}

func (h *HTTPUploader) post(ctx context.Context, data []byte, what string) error {
	body := h.encoder.EncodeAll(data, nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "zstd")
	req.Header.Set("User-Agent", vc.UserAgent(userAgentComponent))
	if h.apiKey != "" {
		req.Header.Set("DD-API-KEY", h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post %s: %w", what, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s upload to %s failed: %s", what, h.url, resp.Status)
	}
	return nil
}

// objectPutter is the subset of the S3 client used for uploads.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput,
		optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader stores each report as <prefix>/<uuid>.json and its ping as
// <prefix>/<uuid>.ping.json.
type S3Uploader struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Uploader creates an uploader for s3://bucket/prefix. The query
// parameters region, endpoint and path_style override the defaults loaded
// from the environment, which allows S3 compatible stores.
func NewS3Uploader(ctx context.Context, u *url.URL) (*S3Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws configuration: %w", err)
	}
	q := u.Query()
	pathStyle, _ := strconv.ParseBool(q.Get("path_style"))
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if region := q.Get("region"); region != "" {
			o.Region = region
		}
		if endpoint := q.Get("endpoint"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	})
	return newS3Uploader(client, u.Host, u.Path), nil
}

func newS3Uploader(client objectPutter, bucket, prefix string) *S3Uploader {
	return &S3Uploader{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// ObjectKey returns the key ci is stored under.
func (s *S3Uploader) ObjectKey(ci *CrashInfo) string {
	return path.Join(s.prefix, ci.UUID+".json")
}

func (s *S3Uploader) Upload(ctx context.Context, ci *CrashInfo) error {
	data, err := ci.MarshalIndent()
	if err != nil {
		return fmt.Errorf("failed to marshal crash report: %w", err)
	}
	return s.put(ctx, s.ObjectKey(ci), data)
}

func (s *S3Uploader) UploadPing(ctx context.Context, p *CrashPing) error {
	data, err := p.marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal crash ping: %w", err)
	}
	return s.put(ctx, path.Join(s.prefix, p.CrashUUID+".ping.json"), data)
}

func (s *S3Uploader) put(ctx context.Context, key string, data []byte) error {
	sum := sha256.Sum256(data)
	contentSHA256 := base64.StdEncoding.EncodeToString(sum[:])
	contentType := "application/json"

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:         &s.bucket,
		Key:            &key,
		Body:           bytes.NewReader(data),
		ContentType:    &contentType,
		ChecksumSHA256: &contentSHA256,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
