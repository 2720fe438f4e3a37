package cache

import (
	"errors"
	"log/slog"
	"os"

	"github.com/IliaW/aeo-crawler/config"
	"github.com/IliaW/aeo-crawler/internal/model"
	"github.com/bradfitz/gomemcache/memcache"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CachedClient is the shared cache used for cross-worker dedup (content
// hash per url) and the rubric score cache.
type CachedClient interface {
	GetContentHash(urlHash string) (string, bool)
	SaveContentHash(urlHash, contentHash string)
	GetAiScore(cacheKey string) (*model.AiScoreResult, bool)
	SaveAiScore(cacheKey string, result *model.AiScoreResult)
	Close()
}

type MemcachedClient struct {
	client *memcache.Client
	cfg    *config.CacheConfig
}

func NewMemcachedClient(cacheConfig *config.CacheConfig) *MemcachedClient {
	slog.Info("connecting to memcached...")
	ss := new(memcache.ServerList)
	err := ss.SetServers(cacheConfig.Servers...)
	if err != nil {
		slog.Error("failed to set memcached servers.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c := &MemcachedClient{
		client: memcache.NewFromSelector(ss),
		cfg:    cacheConfig,
	}
	slog.Info("pinging the memcached.")
	err = c.client.Ping()
	if err != nil {
		slog.Error("connection to the memcached is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	slog.Info("connected to memcached!")

	return c
}

func (mc *MemcachedClient) GetContentHash(urlHash string) (string, bool) {
	item, err := mc.client.Get(contentHashKey(urlHash))
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			slog.Warn("failed to read content hash from cache.", slog.String("url_hash", urlHash),
				slog.String("err", err.Error()))
		}
		return "", false
	}
	return string(item.Value), true
}

func (mc *MemcachedClient) SaveContentHash(urlHash, contentHash string) {
	err := mc.client.Set(&memcache.Item{
		Key:        contentHashKey(urlHash),
		Value:      []byte(contentHash),
		Expiration: int32(mc.cfg.TtlForPage.Seconds()),
	})
	if err != nil {
		slog.Error("failed to save content hash to cache.", slog.String("url_hash", urlHash),
			slog.String("err", err.Error()))
		return
	}
	slog.Debug("content hash saved to cache.", slog.String("url_hash", urlHash))
}

func (mc *MemcachedClient) GetAiScore(cacheKey string) (*model.AiScoreResult, bool) {
	item, err := mc.client.Get(aiScoreKey(cacheKey))
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			slog.Warn("failed to read ai score from cache.", slog.String("key", cacheKey),
				slog.String("err", err.Error()))
		}
		return nil, false
	}
	var result model.AiScoreResult
	if err = json.Unmarshal(item.Value, &result); err != nil {
		slog.Warn("failed to unmarshal cached ai score.", slog.String("key", cacheKey),
			slog.String("err", err.Error()))
		return nil, false
	}
	return &result, true
}

func (mc *MemcachedClient) SaveAiScore(cacheKey string, result *model.AiScoreResult) {
	byteValue, err := json.Marshal(result)
	if err != nil {
		slog.Error("failed to marshal ai score.", slog.String("err", err.Error()))
		return
	}
	err = mc.client.Set(&memcache.Item{
		Key:        aiScoreKey(cacheKey),
		Value:      byteValue,
		Expiration: int32(mc.cfg.TtlForAiScore.Seconds()),
	})
	if err != nil {
		slog.Error("failed to save ai score to cache.", slog.String("key", cacheKey),
			slog.String("err", err.Error()))
		return
	}
	slog.Debug("ai score saved to cache.", slog.String("key", cacheKey))
}

func (mc *MemcachedClient) Close() {
	slog.Info("closing memcached connection.")
	err := mc.client.Close()
	if err != nil {
		slog.Error("failed to close memcached connection.", slog.String("err", err.Error()))
	}
}

func contentHashKey(urlHash string) string { return urlHash + "-content" }

func aiScoreKey(cacheKey string) string { return cacheKey + "-aiscore" }
