package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"hash"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"
)

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// PageCache stores raw API responses so repeated exports of the same
// scheme within the TTL skip the network.
type PageCache struct {
	db  *DB
	ttl time.Duration
	mac func() hash.Hash
	enc *zstd.Encoder
	dec *zstd.Decoder
	now func() time.Time
}

// NewPageCache returns a cache over db. Entries are keyed by a BLAKE2b MAC
// of the URL under secret (the API key), so the key itself is never stored
// and a different key never reads another key's pages.
func NewPageCache(db *DB, secret string, ttl time.Duration) (*PageCache, error) {
	macKey := blake2b.Sum256([]byte(secret))
	if _, err := blake2b.New256(macKey[:]); err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	return &PageCache{
		db:  db,
		ttl: ttl,
		mac: func() hash.Hash {
			h, _ := blake2b.New256(macKey[:])
			return h
		},
		enc: enc,
		dec: dec,
		now: time.Now,
	}, nil
}

// Close releases the codec resources. The DB stays open.
func (c *PageCache) Close() error {
	c.dec.Close()
	return c.enc.Close()
}

func (c *PageCache) key(url string) string {
	h := c.mac()
	h.Write([]byte(url))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached body for url if present and unexpired.
func (c *PageCache) Get(ctx context.Context, url string) ([]byte, bool, error) {
	key := c.key(url)

	var (
		body      []byte
		expiresAt string
	)
	err := c.db.conn.QueryRowContext(ctx,
		`SELECT body, expires_at FROM pages WHERE key = ?`, key,
	).Scan(&body, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("page cache lookup failed: %w", err)
	}

	expires, err := time.Parse(timeLayout, expiresAt)
	if err != nil {
		return nil, false, fmt.Errorf("invalid expires_at format: %w", err)
	}
	if !c.now().Before(expires) {
		_, _ = c.db.conn.ExecContext(ctx, `DELETE FROM pages WHERE key = ?`, key)
		return nil, false, nil
	}

	raw, err := c.dec.DecodeAll(body, nil)
	if err != nil {
		return nil, false, fmt.Errorf("page cache entry corrupt: %w", err)
	}
	return raw, true, nil
}

// Put stores body for url. A zero TTL disables storing.
func (c *PageCache) Put(ctx context.Context, url string, body []byte) error {
	if c.ttl <= 0 {
		return nil
	}
	now := c.now()
	compressed := c.enc.EncodeAll(body, nil)

	_, err := c.db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO pages (key, url, body, raw_size, fetched_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.key(url), url, compressed, len(body),
		now.UTC().Format(timeLayout), now.Add(c.ttl).UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to store page: %w", err)
	}
	return nil
}

// CacheStats summarizes the pages table.
type CacheStats struct {
	Entries        int64 `json:"entries" yaml:"entries"`
	StoredBytes    int64 `json:"storedBytes" yaml:"storedBytes"`
	RawBytes       int64 `json:"rawBytes" yaml:"rawBytes"`
	ExpiredEntries int64 `json:"expiredEntries" yaml:"expiredEntries"`
}

// Stats reports entry counts and sizes.
func (c *PageCache) Stats(ctx context.Context) (CacheStats, error) {
	var s CacheStats
	err := c.db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(body)), 0), COALESCE(SUM(raw_size), 0),
		       COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0)
		FROM pages
	`, c.now().UTC().Format(timeLayout)).Scan(&s.Entries, &s.StoredBytes, &s.RawBytes, &s.ExpiredEntries)
	if err != nil {
		return CacheStats{}, fmt.Errorf("page cache stats failed: %w", err)
	}
	return s, nil
}

// PurgeExpired deletes expired entries and returns how many were removed.
func (c *PageCache) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := c.db.conn.ExecContext(ctx,
		`DELETE FROM pages WHERE expires_at <= ?`, c.now().UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired pages: %w", err)
	}
	return res.RowsAffected()
}

// Clear deletes every cached page regardless of key or expiry.
func Clear(ctx context.Context, db *DB) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM pages`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear page cache: %w", err)
	}
	return res.RowsAffected()
}
