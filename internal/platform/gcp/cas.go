package gcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/halcyonops/opsml-backend/internal/platform/logger"
)

// CASStore is the content-addressed blob interface the pipeline writes through.
// Every upload returns the SHA-256 of the bytes actually stored plus their size;
// the pair is recorded on the Document row and is the integrity/dedup key.
type CASStore interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (PutResult, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	DownloadBytes(ctx context.Context, key string) ([]byte, string, error)
	GetObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	BucketName() string
}

type PutResult struct {
	SHA256 string
	Size   int64
}

type ObjectAttrs struct {
	Size        int64
	ContentType string
	Updated     time.Time
	ETag        string
}

type casStore struct {
	log           *logger.Logger
	storageClient *storage.Client
	storageMode   ObjectStorageMode
	emulatorHost  string
	bucket        string
}

func NewCASStore(log *logger.Logger) (CASStore, error) {
	storageCfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("resolve object storage config: %w", err)
	}
	return NewCASStoreWithConfig(log, storageCfg)
}

func NewCASStoreWithConfig(log *logger.Logger, storageCfg ObjectStorageConfig) (CASStore, error) {
	if err := ValidateObjectStorageConfig(storageCfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	serviceLog := log.With("service", "CASStore")

	bucketName := strings.TrimSpace(os.Getenv("EXPORTS_GCS_BUCKET_NAME"))
	if bucketName == "" {
		return nil, fmt.Errorf("missing env var EXPORTS_GCS_BUCKET_NAME")
	}

	ctx := context.Background()
	stClient, err := newStorageClientForMode(ctx, storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog.Info(
		"Object storage initialized",
		"mode", storageCfg.Mode,
		"mode_source", storageCfg.ModeSource(),
		"emulator_host", storageCfg.EmulatorHost,
		"bucket", bucketName,
	)

	return &casStore{
		log:           serviceLog,
		storageClient: stClient,
		storageMode:   storageCfg.Mode,
		emulatorHost:  strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/"),
		bucket:        bucketName,
	}, nil
}

func newStorageClientForMode(ctx context.Context, storageCfg ObjectStorageConfig) (*storage.Client, error) {
	switch storageCfg.Mode {
	case ObjectStorageModeGCS:
		opts := ClientOptionsFromEnv()
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		opts := []option.ClientOption{
			option.WithoutAuthentication(),
		}
		return storage.NewClient(ctx, opts...)
	default:
		return nil, &ObjectStorageConfigError{
			Code: ObjectStorageConfigErrorInvalidMode,
			Mode: string(storageCfg.Mode),
		}
	}
}

func (cs *casStore) BucketName() string { return cs.bucket }

// Upload streams the blob to storage while hashing it, so the digest reflects
// the bytes on the wire rather than a second read of the source.
func (cs *casStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) (PutResult, error) {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := cs.storageClient.Bucket(cs.bucket).Object(key).NewWriter(ctx2)
	if contentType != "" {
		w.ContentType = contentType
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), r)
	if err != nil {
		_ = w.Close()
		return PutResult{}, fmt.Errorf("failed to write blob %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return PutResult{}, fmt.Errorf("failed to close writer for %q: %w", key, err)
	}
	return PutResult{
		SHA256: hex.EncodeToString(h.Sum(nil)),
		Size:   n,
	}, nil
}

// Keep the context alive for the life of the reader; cancel on Close, not on
// return, or callers read 0 bytes.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (cs *casStore) isEmulatorMode() bool {
	return cs != nil && IsEmulatorObjectStorageMode(cs.storageMode) && strings.TrimSpace(cs.emulatorHost) != ""
}

func (cs *casStore) emulatorObjectMediaURL(key string) string {
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s?alt=media",
		strings.TrimRight(strings.TrimSpace(cs.emulatorHost), "/"),
		url.PathEscape(cs.bucket),
		url.PathEscape(key),
	)
}

func (cs *casStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if cs.isEmulatorMode() {
		ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
		req, err := http.NewRequestWithContext(ctx2, http.MethodGet, cs.emulatorObjectMediaURL(key), nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed creating emulator download request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed emulator download request: %w", err)
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("emulator download failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return &readCloserWithCancel{ReadCloser: resp.Body, cancel: cancel}, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	r, err := cs.storageClient.Bucket(cs.bucket).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open reader for %q: %w", key, err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

// DownloadBytes reads the whole blob and returns its SHA-256 alongside, so
// callers can verify the Document row's digest before trusting the content.
func (cs *casStore) DownloadBytes(ctx context.Context, key string) ([]byte, string, error) {
	r, err := cs.Download(ctx, key)
	if err != nil {
		return nil, "", err
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed reading blob %q: %w", key, err)
	}
	sum := sha256.Sum256(b)
	return b, hex.EncodeToString(sum[:]), nil
}

func (cs *casStore) GetObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error) {
	ctx2, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	attrs, err := cs.storageClient.Bucket(cs.bucket).Object(key).Attrs(ctx2)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object attrs for %q: %w", key, err)
	}
	return &ObjectAttrs{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		ETag:        attrs.Etag,
	}, nil
}

func (cs *casStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx2, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := cs.storageClient.Bucket(cs.bucket).Objects(ctx2, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}
