// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

// Package images caches recommendation card images on disk so consumers
// can fetch them by card id without the engine re-downloading from the
// source on every request.
package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/recdeck/recdeck/internal/logging"
	"github.com/recdeck/recdeck/internal/metrics"
)

// maxImageBytes caps a single fetched image. Anything larger is truncated
// at the transport and rejected.
const maxImageBytes = 5 << 20

// Config tunes the image cache.
type Config struct {
	Dir          string
	TTL          time.Duration
	FetchTimeout time.Duration
}

// DefaultConfig returns the image cache defaults.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:          dir,
		TTL:          24 * time.Hour,
		FetchTimeout: 10 * time.Second,
	}
}

// Cache is a TTL'd on-disk image cache keyed by card identity.
type Cache struct {
	db     *badger.DB
	ttl    time.Duration
	client *http.Client
}

// Open opens (or creates) the cache at cfg.Dir.
func Open(cfg Config) (*Cache, error) {
	opts := badger.DefaultOptions(cfg.Dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open image cache: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Cache{
		db:     db,
		ttl:    ttl,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Get returns the cached image bytes for a key.
func (c *Cache) Get(key string) ([]byte, bool) {
	var data []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			logging.Warn().Err(err).Str("key", key).Msg("image cache read failed")
		}
		metrics.ImageCacheMisses.Inc()
		return nil, false
	}
	metrics.ImageCacheHits.Inc()
	return data, true
}

// Put stores image bytes under a key with the configured TTL.
func (c *Cache) Put(key string, data []byte) error {
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), data).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
}

// Delete removes a key. Missing keys are not an error.
func (c *Cache) Delete(key string) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("image cache delete failed")
	}
}

// Fetch returns the image for a key, downloading from uri and caching on
// a miss.
func (c *Cache) Fetch(ctx context.Context, key, uri string) ([]byte, error) {
	if data, ok := c.Get(key); ok {
		return data, nil
	}
	if uri == "" {
		return nil, fmt.Errorf("no image uri for %s", key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image %s: %w", uri, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image %s: status %d", uri, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", uri, err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image %s exceeds %d bytes", uri, maxImageBytes)
	}

	if err := c.Put(key, data); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("image cache write failed")
	}
	return data, nil
}

// Serve runs periodic value-log garbage collection until ctx is
// cancelled. Implements suture.Service.
func (c *Cache) Serve(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				if err := c.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (c *Cache) String() string { return "image-cache" }
