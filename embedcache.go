package main

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

const PromptCachePrefix = "picsearch:prompt:"

// EmbeddingCache stores raw prompt embeddings.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(cfg PicConfigRedis) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.Ping(ctx).Err()
	if err != nil {
		client.Close()

		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Addr, err)
	}

	return &RedisCache{
		client: client,
	}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}

		return nil, false, err
	}

	return value, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

// CachedEmbedder caches prompt embeddings. Image embeddings always go to the
// prediction server. Cache failures never fail a search.
type CachedEmbedder struct {
	Embedder

	cache EmbeddingCache
	ttl   time.Duration
}

func NewCachedEmbedder(next Embedder, cache EmbeddingCache, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		Embedder: next,
		cache:    cache,
		ttl:      ttl,
	}
}

func (c *CachedEmbedder) EmbedText(ctx context.Context, prompt string) ([]float32, error) {
	key := promptCacheKey(prompt)

	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		log.WarningF("Prompt cache read failed: %v\n", err)
	} else if ok {
		if embedding, err := decodeEmbedding(raw); err == nil && len(embedding) > 0 {
			return embedding, nil
		}
	}

	embedding, err := c.Embedder.EmbedText(ctx, prompt)
	if err != nil {
		return nil, err
	}

	err = c.cache.Set(ctx, key, encodeEmbedding(embedding), c.ttl)
	if err != nil {
		log.WarningF("Prompt cache write failed: %v\n", err)
	}

	return embedding, nil
}

func promptCacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))

	return PromptCachePrefix + hex.EncodeToString(sum[:])
}

func encodeEmbedding(embedding []float32) []byte {
	buf := make([]byte, 4*len(embedding))

	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}

	return buf
}

func decodeEmbedding(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding length %d", len(buf))
	}

	embedding := make([]float32, len(buf)/4)

	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}

	return embedding, nil
}
