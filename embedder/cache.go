package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedEmbedder memoizes embeddings in Redis. Query text repeats heavily
// in search traffic, and embedding calls dominate request latency, so a hit
// skips the provider round trip entirely. Cache failures are soft: a Redis
// error falls through to the inner embedder and is logged, never surfaced.
type CachedEmbedder struct {
	inner Embedder
	rdb   redis.UniversalClient
	ttl   time.Duration
	log   zerolog.Logger
}

func NewCached(inner Embedder, rdb redis.UniversalClient, ttl time.Duration, log zerolog.Logger) *CachedEmbedder {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedEmbedder{inner: inner, rdb: rdb, ttl: ttl, log: log}
}

func (c *CachedEmbedder) Model() string   { return c.inner.Model() }
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("emb:%s:%d:%s", c.inner.Model(), c.inner.Dimensions(), hex.EncodeToString(sum[:16]))
}

func (c *CachedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		if vec, ok := decodeVector(raw); ok {
			return vec, nil
		}
	} else if err != redis.Nil {
		c.log.Warn().Err(err).Msg("embedding cache read failed")
	}

	vec, err := c.inner.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.rdb.Set(ctx, key, encodeVector(vec), c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Msg("embedding cache write failed")
	}
	return vec, nil
}

// EmbedTexts bypasses the cache: batch calls come from offline backfill
// paths where texts rarely repeat.
func (c *CachedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedTexts(ctx, texts)
}

func encodeVector(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func decodeVector(raw []byte) ([]float32, bool) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vec, true
}
