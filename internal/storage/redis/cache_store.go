// Package redis provides a Redis-backed audit cache shared by every service instance.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/site-audit/internal/audit"
)

const defaultKeyPrefix = "siteaudit:"

// Config describes the Redis connection.
type Config struct {
	URL       string
	KeyPrefix string
}

// CacheStore stores one key per (domain, mode) plus a sorted-set index scored by expiry in unix
// milliseconds. Keys carry a Redis TTL so abandoned entries disappear on their own.
type CacheStore struct {
	client goredis.UniversalClient
	prefix string
}

type storedEntry struct {
	Domain    string       `json:"domain"`
	Mode      audit.Mode   `json:"mode"`
	Result    audit.Result `json:"result"`
	CreatedAt time.Time    `json:"createdAt"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// Connect parses cfg.URL, opens a client and pings the server.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewCacheStore wraps an existing client.
func NewCacheStore(client goredis.UniversalClient, prefix string) (*CacheStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &CacheStore{client: client, prefix: prefix}, nil
}

func (s *CacheStore) indexKey() string {
	return s.prefix + "cache:index"
}

func (s *CacheStore) entryKey(member string) string {
	return s.prefix + "cache:" + member
}

func member(domain string, mode audit.Mode) string {
	return domain + "|" + string(mode)
}

func splitMember(m string) (string, audit.Mode) {
	domain, mode, _ := strings.Cut(m, "|")
	return domain, audit.Mode(mode)
}

// Get loads the entry for (domain, mode).
func (s *CacheStore) Get(ctx context.Context, domain string, mode audit.Mode) (audit.CacheEntry, error) {
	raw, err := s.client.Get(ctx, s.entryKey(member(domain, mode))).Bytes()
	if errors.Is(err, goredis.Nil) {
		return audit.CacheEntry{}, audit.ErrNotFound
	}
	if err != nil {
		return audit.CacheEntry{}, fmt.Errorf("get cache entry: %w", err)
	}
	var stored storedEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		return audit.CacheEntry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return audit.CacheEntry(stored), nil
}

// Put writes the entry and indexes it by expiry.
func (s *CacheStore) Put(ctx context.Context, entry audit.CacheEntry) error {
	ttl := entry.ExpiresAt.Sub(entry.CreatedAt)
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(storedEntry(entry))
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	m := member(entry.Domain, entry.Mode)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(m), raw, ttl)
		pipe.ZAdd(ctx, s.indexKey(), goredis.Z{Score: float64(entry.ExpiresAt.UnixMilli()), Member: m})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// Delete removes the entries of domain for the given modes.
func (s *CacheStore) Delete(ctx context.Context, domain string, modes ...audit.Mode) (int, error) {
	if len(modes) == 0 {
		return 0, nil
	}
	members := make([]string, 0, len(modes))
	for _, mode := range modes {
		members = append(members, member(domain, mode))
	}
	return s.remove(ctx, members)
}

// DeleteExpired removes every entry whose expiry is at or before now.
func (s *CacheStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	members, err := s.client.ZRangeByScore(ctx, s.indexKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list expired cache entries: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}
	if _, err := s.remove(ctx, members); err != nil {
		return 0, err
	}
	return len(members), nil
}

// remove deletes the entry keys and their index members and returns how many index members
// were removed.
func (s *CacheStore) remove(ctx context.Context, members []string) (int, error) {
	keys := make([]string, 0, len(members))
	anyMembers := make([]any, 0, len(members))
	for _, m := range members {
		keys = append(keys, s.entryKey(m))
		anyMembers = append(anyMembers, m)
	}
	var removed *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		removed = pipe.ZRem(ctx, s.indexKey(), anyMembers...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete cache entries: %w", err)
	}
	return int(removed.Val()), nil
}

// Stats counts indexed entries by freshness and mode.
func (s *CacheStore) Stats(ctx context.Context, now time.Time) (audit.CacheStats, error) {
	members, err := s.client.ZRangeWithScores(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return audit.CacheStats{}, fmt.Errorf("read cache index: %w", err)
	}
	stats := audit.CacheStats{Total: len(members), ByMode: make(map[audit.Mode]int)}
	cutoff := float64(now.UnixMilli())
	for _, z := range members {
		m, _ := z.Member.(string)
		_, mode := splitMember(m)
		stats.ByMode[mode]++
		if z.Score > cutoff {
			stats.Active++
		} else {
			stats.Expired++
		}
	}
	return stats, nil
}

// Clear removes every entry and the index.
func (s *CacheStore) Clear(ctx context.Context) (int, error) {
	members, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("read cache index: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, s.entryKey(m))
	}
	keys = append(keys, s.indexKey())
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	return len(members), nil
}

// TopDomains returns the domains with the most indexed entries.
func (s *CacheStore) TopDomains(ctx context.Context, limit int) ([]audit.DomainCount, error) {
	members, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read cache index: %w", err)
	}
	counts := make(map[string]int)
	for _, m := range members {
		domain, _ := splitMember(m)
		counts[domain]++
	}
	out := make([]audit.DomainCount, 0, len(counts))
	for domain, n := range counts {
		out = append(out, audit.DomainCount{Domain: domain, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Domain < out[j].Domain
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
