package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	xerrors "github.com/flowclip/flowclip-api/errors"
	"github.com/flowclip/flowclip-api/log"
	"github.com/flowclip/flowclip-api/metrics"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Gateway wraps the object store. All server-to-server traffic rides the
// internal endpoint; the public endpoint only ever appears in URLs minted for
// external consumers (editor backends, browsers).
type Gateway struct {
	internal       *minio.Client
	bucket         string
	internalHost   string
	publicHost     string
	publicIsSecure bool
	presignTTL     time.Duration
}

type Options struct {
	InternalEndpoint string
	PublicEndpoint   string
	AccessKey        string
	SecretKey        string
	Bucket           string
	UseSSL           bool
	PresignTTL       time.Duration
}

type Stat struct {
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string
}

func NewGateway(opts Options) (*Gateway, error) {
	internalHost, internalSecure, err := splitEndpoint(opts.InternalEndpoint, opts.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("bad internal endpoint: %w", err)
	}
	publicHost, publicSecure, err := splitEndpoint(opts.PublicEndpoint, opts.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("bad public endpoint: %w", err)
	}

	client, err := minio.New(internalHost, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: internalSecure,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating object store client: %w", err)
	}

	ttl := opts.PresignTTL
	if ttl == 0 {
		ttl = time.Hour
	}

	return &Gateway{
		internal:       client,
		bucket:         opts.Bucket,
		internalHost:   internalHost,
		publicHost:     publicHost,
		publicIsSecure: publicSecure,
		presignTTL:     ttl,
	}, nil
}

func splitEndpoint(endpoint string, defaultSSL bool) (host string, secure bool, err error) {
	if endpoint == "" {
		return "", false, fmt.Errorf("endpoint is empty")
	}
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return "", false, err
		}
		return u.Host, u.Scheme == "https", nil
	}
	return endpoint, defaultSSL, nil
}

func (g *Gateway) Put(ctx context.Context, localPath, key, contentType string) (string, error) {
	start := time.Now()
	_, err := g.internal.FPutObject(ctx, g.bucket, key, localPath, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		metrics.Metrics.ObjectStoreClient.FailureCount.WithLabelValues(g.internalHost, "write").Inc()
		return "", fmt.Errorf("failed to upload %q: %w", key, err)
	}
	metrics.Metrics.ObjectStoreClient.RequestDuration.WithLabelValues(g.internalHost, "write").Observe(time.Since(start).Seconds())
	return g.internalURL(key), nil
}

func (g *Gateway) PutBytes(ctx context.Context, data []byte, key, contentType string) (string, error) {
	start := time.Now()
	_, err := g.internal.PutObject(ctx, g.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		metrics.Metrics.ObjectStoreClient.FailureCount.WithLabelValues(g.internalHost, "write").Inc()
		return "", fmt.Errorf("failed to upload %q: %w", key, err)
	}
	metrics.Metrics.ObjectStoreClient.RequestDuration.WithLabelValues(g.internalHost, "write").Observe(time.Since(start).Seconds())
	return g.internalURL(key), nil
}

// GetStream returns a reader over the object plus its stat. The caller owns
// closing the reader.
func (g *Gateway) GetStream(ctx context.Context, key string) (io.ReadCloser, Stat, error) {
	obj, err := g.internal.GetObject(ctx, g.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		metrics.Metrics.ObjectStoreClient.FailureCount.WithLabelValues(g.internalHost, "read").Inc()
		return nil, Stat{}, fmt.Errorf("failed to read %q: %w", key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		metrics.Metrics.ObjectStoreClient.FailureCount.WithLabelValues(g.internalHost, "read").Inc()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, Stat{}, xerrors.NewObjectNotFoundError(key, err)
		}
		return nil, Stat{}, fmt.Errorf("failed to stat %q: %w", key, err)
	}
	return obj, Stat{Size: info.Size, ContentType: info.ContentType, LastModified: info.LastModified, ETag: info.ETag}, nil
}

// GetRange returns a reader over a byte range of the object.
func (g *Gateway) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, err
	}
	obj, err := g.internal.GetObject(ctx, g.bucket, key, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to range-read %q: %w", key, err)
	}
	return obj, nil
}

func (g *Gateway) Download(ctx context.Context, key, localPath string) error {
	start := time.Now()
	if err := g.internal.FGetObject(ctx, g.bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		metrics.Metrics.ObjectStoreClient.FailureCount.WithLabelValues(g.internalHost, "read").Inc()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return xerrors.NewObjectNotFoundError(key, err)
		}
		return fmt.Errorf("failed to download %q: %w", key, err)
	}
	metrics.Metrics.ObjectStoreClient.RequestDuration.WithLabelValues(g.internalHost, "read").Observe(time.Since(start).Seconds())
	return nil
}

func (g *Gateway) StatObject(ctx context.Context, key string) (Stat, error) {
	info, err := g.internal.StatObject(ctx, g.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Stat{}, xerrors.NewObjectNotFoundError(key, err)
		}
		return Stat{}, fmt.Errorf("failed to stat %q: %w", key, err)
	}
	return Stat{Size: info.Size, ContentType: info.ContentType, LastModified: info.LastModified, ETag: info.ETag}, nil
}

func (g *Gateway) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.StatObject(ctx, key)
	if err != nil {
		if xerrors.IsObjectNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (g *Gateway) Delete(ctx context.Context, key string) error {
	if err := g.internal.RemoveObject(ctx, g.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// Presign mints a signed GET URL for external consumers. The signature is
// produced against the internal endpoint and then the host alone is swapped to
// the public endpoint: path and query are preserved byte-for-byte so the
// signature survives without a second round of URL encoding.
func (g *Gateway) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = g.presignTTL
	}
	signed, err := g.internal.PresignedGetObject(ctx, g.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign %q: %w", key, err)
	}
	return g.swapToPublicHost(signed), nil
}

func (g *Gateway) swapToPublicHost(u *url.URL) string {
	if g.publicHost == "" || g.publicHost == g.internalHost {
		return u.String()
	}
	swapped := *u
	swapped.Host = g.publicHost
	if g.publicIsSecure {
		swapped.Scheme = "https"
	} else {
		swapped.Scheme = "http"
	}
	log.LogNoTaskID("presign host swap", "key_path", u.Path, "public_host", g.publicHost)
	return swapped.String()
}

// internalURL returns the unsigned internal URL for a key. Server-side only.
func (g *Gateway) internalURL(key string) string {
	return g.internal.EndpointURL().JoinPath(g.bucket, key).String()
}

func (g *Gateway) Bucket() string {
	return g.bucket
}
