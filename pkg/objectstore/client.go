// Copyright 2025 Certen Protocol
//
// Object Store Adapter
// Content-addressed byte storage over Google Cloud Storage, with a raw
// bucket for canonical bytes and a backup bucket mirrored on write.

package objectstore

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// RawKeyPrefix namespaces every object key written through Put so external
// retrievers can find canonical item bytes under a stable prefix.
const RawKeyPrefix = "raw-data-item/"

// Client wraps the GCS client with Certen-specific functionality.
type Client struct {
	gcs          *storage.Client
	rawBucket    string
	backupBucket string
	logger       *log.Logger
	enabled      bool
}

// ClientConfig holds configuration for the object store client.
type ClientConfig struct {
	// RawBucket is the canonical bucket name.
	RawBucket string

	// BackupBucket is mirrored on every successful Put. Empty disables mirroring.
	BackupBucket string

	// CredentialsFile is the path to the service account JSON file.
	// If empty, uses GOOGLE_APPLICATION_CREDENTIALS or application default credentials.
	CredentialsFile string

	// Enabled controls whether object store operations are actually performed.
	// If false, all operations are no-ops (useful for local development).
	Enabled bool

	// Logger for client operations.
	Logger *log.Logger
}

// DefaultConfig returns a ClientConfig with values from environment variables.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		RawBucket:       os.Getenv("BUNDLER_GCS_RAW_BUCKET"),
		BackupBucket:    os.Getenv("BUNDLER_GCS_BACKUP_BUCKET"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Enabled:         getEnvBool("BUNDLER_GCS_ENABLED", true),
		Logger:          log.New(os.Stdout, "[ObjectStore] ", log.LstdFlags),
	}
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// NewClient creates a new object store client.
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[ObjectStore] ", log.LstdFlags)
	}

	client := &Client{
		rawBucket:    cfg.RawBucket,
		backupBucket: cfg.BackupBucket,
		logger:       cfg.Logger,
		enabled:      cfg.Enabled,
	}

	if !cfg.Enabled {
		cfg.Logger.Println("object store is DISABLED - running in no-op mode")
		return client, nil
	}

	if cfg.RawBucket == "" {
		return nil, fmt.Errorf("raw bucket name is required when object store is enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	gcsClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	client.gcs = gcsClient

	cfg.Logger.Printf("object store initialized (raw=%s backup=%s)", cfg.RawBucket, cfg.BackupBucket)
	return client, nil
}

// Close closes the underlying GCS client.
func (c *Client) Close() error {
	if c.gcs != nil {
		return c.gcs.Close()
	}
	return nil
}

// IsEnabled returns whether object store operations are actually performed.
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// Put writes a keyed object to the raw bucket, mirroring to the backup
// bucket if one is configured. The write is atomic from the caller's
// perspective: GCS object writes either fully land or fail, there is no
// partial-object visibility. ctype and payloadDataStart are stored as
// object metadata so Get callers can recover the payload's start offset
// without re-parsing the item header.
func (c *Client) Put(ctx context.Context, key string, r io.Reader, ctype string, payloadDataStart int64) error {
	if !c.enabled {
		return nil
	}

	meta := map[string]string{
		"ctype":            ctype,
		"payloadDataStart": strconv.FormatInt(payloadDataStart, 10),
	}

	if err := c.writeObject(ctx, c.rawBucket, key, r, meta); err != nil {
		return fmt.Errorf("put %s to raw bucket: %w", key, err)
	}

	if c.backupBucket != "" {
		backupReader, err := c.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("re-read %s for backup mirror: %w", key, err)
		}
		defer backupReader.Close()
		if err := c.writeObject(ctx, c.backupBucket, key, backupReader, meta); err != nil {
			c.logger.Printf("backup mirror failed for %s: %v", key, err)
		}
	}

	return nil
}

func (c *Client) writeObject(ctx context.Context, bucket, key string, r io.Reader, meta map[string]string) error {
	w := c.gcs.Bucket(bucket).Object(key).NewWriter(ctx)
	w.Metadata = meta
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Get opens a stream to an object's bytes from the raw bucket. The caller
// must close the returned reader.
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if !c.enabled {
		return nil, fmt.Errorf("object store is disabled")
	}
	rc, err := c.gcs.Bucket(c.rawBucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return rc, nil
}

// Metadata returns the ctype and payloadDataStart recorded for an object.
func (c *Client) Metadata(ctx context.Context, key string) (ctype string, payloadDataStart int64, err error) {
	if !c.enabled {
		return "", 0, fmt.Errorf("object store is disabled")
	}
	attrs, err := c.gcs.Bucket(c.rawBucket).Object(key).Attrs(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("attrs %s: %w", key, err)
	}
	ctype = attrs.Metadata["ctype"]
	payloadDataStart, _ = strconv.ParseInt(attrs.Metadata["payloadDataStart"], 10, 64)
	return ctype, payloadDataStart, nil
}

// Delete removes an object from the raw bucket (and the backup bucket, if
// configured). Deleting a key that does not exist is a no-op — Delete is
// idempotent.
func (c *Client) Delete(ctx context.Context, key string) error {
	if !c.enabled {
		return nil
	}
	if err := c.gcs.Bucket(c.rawBucket).Object(key).Delete(ctx); err != nil && err != storage.ErrObjectNotExist {
		return fmt.Errorf("delete %s from raw bucket: %w", key, err)
	}
	if c.backupBucket != "" {
		if err := c.gcs.Bucket(c.backupBucket).Object(key).Delete(ctx); err != nil && err != storage.ErrObjectNotExist {
			c.logger.Printf("backup delete failed for %s: %v", key, err)
		}
	}
	return nil
}

// Exists reports whether a key is present in the raw bucket.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	_, err := c.gcs.Bucket(c.rawBucket).Object(key).Attrs(ctx)
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return true, nil
}

// ListPage is a page of keys returned by ListByPrefix, with an opaque
// cursor to resume from.
type ListPage struct {
	Keys       []string
	NextCursor string
}

// ListByPrefix lists keys under a prefix, paginating via GCS's page-token
// cursor so the caller never has to buffer the whole bucket.
func (c *Client) ListByPrefix(ctx context.Context, prefix, cursor string) (*ListPage, error) {
	if !c.enabled {
		return &ListPage{}, nil
	}

	it := c.gcs.Bucket(c.rawBucket).Objects(ctx, &storage.Query{Prefix: prefix})
	pager := iterator.NewPager(it, 1000, cursor)

	var objs []*storage.ObjectAttrs
	nextCursor, err := pager.NextPage(&objs)
	if err != nil {
		return nil, fmt.Errorf("list prefix %s: %w", prefix, err)
	}

	page := &ListPage{NextCursor: nextCursor}
	for _, o := range objs {
		page.Keys = append(page.Keys, o.Name)
	}
	return page, nil
}

// RawKey builds the canonical raw-data-item key for an item id.
func RawKey(itemID string) string {
	return RawKeyPrefix + itemID
}
