// Package export copies analysis artifacts from the backend into a local
// directory or an object store.
package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/trendreview/trendreview/internal/config"
	"github.com/trendreview/trendreview/internal/constants"
	"github.com/trendreview/trendreview/internal/diskspace"
	"github.com/trendreview/trendreview/internal/pathutil"
	"github.com/trendreview/trendreview/internal/validation"
)

// Sink stores one artifact and returns where it ended up.
type Sink interface {
	Put(ctx context.Context, name string, r io.Reader, size int64) (string, error)
	String() string
}

// Destination is a parsed export target.
type Destination struct {
	Scheme string // "file", "s3" or "azblob"
	Bucket string // bucket or container; empty for "file"
	Prefix string // key prefix, or directory for "file"
}

// ParseDestination accepts a directory path, s3://bucket/prefix or
// azblob://container/prefix.
func ParseDestination(dest string) (Destination, error) {
	if !strings.Contains(dest, "://") {
		if dest == "" {
			return Destination{}, fmt.Errorf("export destination is empty")
		}
		return Destination{Scheme: "file", Prefix: dest}, nil
	}
	u, err := url.Parse(dest)
	if err != nil {
		return Destination{}, fmt.Errorf("invalid export destination %q: %w", dest, err)
	}
	switch u.Scheme {
	case "s3", "azblob":
	default:
		return Destination{}, fmt.Errorf("unsupported export scheme %q (use a directory, s3:// or azblob://)", u.Scheme)
	}
	if u.Host == "" {
		return Destination{}, fmt.Errorf("export destination %q has no bucket or container", dest)
	}
	return Destination{Scheme: u.Scheme, Bucket: u.Host, Prefix: strings.Trim(u.Path, "/")}, nil
}

// NewSink builds the sink for dest. An empty dest exports to cfg.DownloadDir
// under a subdirectory named after the job.
func NewSink(ctx context.Context, dest, jobID string, cfg *config.Config, httpClient *nethttp.Client) (Sink, error) {
	if dest == "" {
		dest = filepath.Join(cfg.DownloadDir, jobID)
	}
	d, err := ParseDestination(dest)
	if err != nil {
		return nil, err
	}
	switch d.Scheme {
	case "s3":
		return NewS3Sink(ctx, d, cfg, httpClient)
	case "azblob":
		return NewAzureSink(d, cfg, httpClient)
	default:
		return NewLocalSink(d.Prefix)
	}
}

// LocalSink writes artifacts into a directory.
type LocalSink struct {
	dir string
}

// NewLocalSink creates dir if needed. A leading ~ is expanded.
func NewLocalSink(dir string) (*LocalSink, error) {
	dir, err := pathutil.Resolve(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve export directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	return &LocalSink{dir: dir}, nil
}

// Put writes to a temporary file and renames it into place, so a failed
// transfer never leaves a partial artifact under the final name.
func (s *LocalSink) Put(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	if err := validation.ArtifactName(name); err != nil {
		return "", err
	}
	target := filepath.Join(s.dir, name)
	if err := validation.WithinDir(target, s.dir); err != nil {
		return "", err
	}
	if err := diskspace.Check(s.dir, size); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.dir, "."+name+".*.part")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if err != nil {
		cleanup()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if size > 0 && n != size {
		cleanup()
		return "", fmt.Errorf("write %s: short transfer (%d of %d bytes)", name, n, size)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return target, nil
}

func (s *LocalSink) String() string { return s.dir }

// S3Sink puts artifacts into an S3 bucket.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Sink builds an S3 client from the default AWS chain, overridden by
// static keys and a custom endpoint when configured.
func NewS3Sink(ctx context.Context, d Destination, cfg *config.Config, httpClient *nethttp.Client) (*S3Sink, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if httpClient != nil {
		opts = append(opts, awsconfig.WithHTTPClient(httpClient))
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Sink{client: client, bucket: d.Bucket, prefix: d.Prefix}, nil
}

// Put buffers the artifact so a retry can resend the same body.
func (s *S3Sink) Put(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	data, err := readBounded(r)
	if err != nil {
		return "", err
	}
	key := objectKey(s.prefix, name)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(name)),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3Sink) String() string { return fmt.Sprintf("s3://%s/%s", s.bucket, s.prefix) }

// AzureSink puts artifacts into an Azure Blob container.
type AzureSink struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzureSink authenticates with the account URL plus SAS token.
func NewAzureSink(d Destination, cfg *config.Config, httpClient *nethttp.Client) (*AzureSink, error) {
	if cfg.AzureAccountURL == "" {
		return nil, fmt.Errorf("azure_account_url is not configured")
	}
	sasURL := strings.TrimRight(cfg.AzureAccountURL, "/") + "/"
	if cfg.AzureSASToken != "" {
		sasURL += "?" + strings.TrimPrefix(cfg.AzureSASToken, "?")
	}

	options := &azblob.ClientOptions{}
	if httpClient != nil {
		options.ClientOptions = azcore.ClientOptions{Transport: httpClient}
	}
	client, err := azblob.NewClientWithNoCredential(sasURL, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}
	return &AzureSink{client: client, container: d.Bucket, prefix: d.Prefix}, nil
}

func (s *AzureSink) Put(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	data, err := readBounded(r)
	if err != nil {
		return "", err
	}
	key := objectKey(s.prefix, name)
	ct := contentType(name)
	_, err = s.client.UploadBuffer(ctx, s.container, key, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &ct},
	})
	if err != nil {
		return "", fmt.Errorf("upload azblob://%s/%s: %w", s.container, key, err)
	}
	return fmt.Sprintf("azblob://%s/%s", s.container, key), nil
}

func (s *AzureSink) String() string { return fmt.Sprintf("azblob://%s/%s", s.container, s.prefix) }

func objectKey(prefix, name string) string {
	base := path.Base(filepath.ToSlash(name))
	if prefix == "" {
		return base
	}
	return prefix + "/" + base
}

func readBounded(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, constants.ArtifactMaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if len(data) > constants.ArtifactMaxBytes {
		return nil, fmt.Errorf("artifact exceeds %d bytes", constants.ArtifactMaxBytes)
	}
	return data, nil
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".csv":
		return "text/csv"
	case ".md":
		return "text/markdown"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
