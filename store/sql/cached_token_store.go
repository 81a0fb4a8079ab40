package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const recordCacheKeyPrefix = "go-credentials::record::v1"

// MaxRecordCacheTTL bounds how long a record can be served from cache.
const MaxRecordCacheTTL = 5 * time.Second

// CachedTokenStore serves reads through go-repository-cache. Every write
// attempt, successful or not, evicts the key so a CAS loser rereads the
// winner's version.
//
// Eviction is local to the process. When several instances share the
// database, a pure read (Status, the EnsureValid fast path, EnsureFresh) in
// one instance can still return a record another instance revoked or logged
// out, until the entry expires. Versioned writes are unaffected because the
// base store rejects them. Build the cache with NewRecordCacheService so that
// window stays bounded.
type CachedTokenStore struct {
	base  core.TokenStore
	cache repositorycache.CacheService
}

func NewCachedTokenStore(base core.TokenStore, cacheService repositorycache.CacheService) (*CachedTokenStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base token store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: token cache service is required")
	}
	return &CachedTokenStore{base: base, cache: cacheService}, nil
}

// NewRecordCacheService returns a cache service whose entries live at most
// ttl, which must be in (0, MaxRecordCacheTTL].
func NewRecordCacheService(ttl time.Duration) (repositorycache.CacheService, error) {
	if ttl <= 0 || ttl > MaxRecordCacheTTL {
		return nil, fmt.Errorf("sqlstore: record cache ttl must be in (0, %s], got %s", MaxRecordCacheTTL, ttl)
	}
	config := repositorycache.DefaultConfig()
	config.TTL = ttl
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: new record cache service: %w", err)
	}
	return service, nil
}

// RecordCacheKey returns go-credentials::record::v1::<escaped key>.
func RecordCacheKey(key string) (string, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return "", err
	}
	return recordCacheKeyPrefix + "::" + url.PathEscape(key), nil
}

func (s *CachedTokenStore) Get(ctx context.Context, key string) (core.Record, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Record{}, fmt.Errorf("sqlstore: cached token store is not configured")
	}
	cacheKey, err := RecordCacheKey(key)
	if err != nil {
		return core.Record{}, err
	}
	key = strings.TrimSpace(key)
	record, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Record, error) {
		fetched, fetchErr := s.base.Get(ctx, key)
		if fetchErr != nil {
			return core.Record{}, fetchErr
		}
		return cloneRecord(fetched), nil
	})
	if err != nil {
		return core.Record{}, err
	}
	return cloneRecord(record), nil
}

func (s *CachedTokenStore) Put(ctx context.Context, key string, payload []byte) (core.Record, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Record{}, fmt.Errorf("sqlstore: cached token store is not configured")
	}
	record, err := s.base.Put(ctx, key, payload)
	if evictErr := s.evict(ctx, key); evictErr != nil && err == nil {
		return core.Record{}, evictErr
	}
	return record, err
}

func (s *CachedTokenStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached token store is not configured")
	}
	err := s.base.Delete(ctx, key)
	if evictErr := s.evict(ctx, key); evictErr != nil && err == nil {
		return evictErr
	}
	return err
}

func (s *CachedTokenStore) CompareAndSwap(ctx context.Context, key string, expectedVersion int64, payload []byte) (core.Record, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Record{}, fmt.Errorf("sqlstore: cached token store is not configured")
	}
	record, err := s.base.CompareAndSwap(ctx, key, expectedVersion, payload)
	if evictErr := s.evict(ctx, key); evictErr != nil && err == nil {
		return core.Record{}, evictErr
	}
	return record, err
}

// Scan bypasses the cache.
func (s *CachedTokenStore) Scan(ctx context.Context, prefix string) ([]core.Record, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached token store is not configured")
	}
	scanner, ok := s.base.(core.RecordScanner)
	if !ok {
		return nil, fmt.Errorf("sqlstore: base token store does not support scanning")
	}
	return scanner.Scan(ctx, prefix)
}

func (s *CachedTokenStore) evict(ctx context.Context, key string) error {
	cacheKey, err := RecordCacheKey(key)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneRecord(record core.Record) core.Record {
	cloned := record
	cloned.Payload = append([]byte(nil), record.Payload...)
	return cloned
}
