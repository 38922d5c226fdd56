// gateway/cache/client.go

// Package cache provides the typed client for the shared cache cluster. All
// durable gateway state (session sets, rate counters, identity cache, token
// blacklist) lives behind this client; the gateway itself stays stateless.
package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lattice-hq/gateway/breaker"
	errs "github.com/lattice-hq/gateway/errors"
	logger "github.com/lattice-hq/gateway/logging"
	"github.com/lattice-hq/gateway/metrics"
)

// gzipMagic prefixes every compressed value. Raw values that already start
// with these bytes are compressed regardless of size, so a reader can always
// trust the prefix.
var gzipMagic = []byte{0x1f, 0x8b}

// Cache is the facade over the cache cluster. Get returns ErrCacheMiss for
// absent keys; connection-class failures come back wrapped in
// ErrCacheUnavailable so callers can tell an outage from a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Increment(ctx context.Context, key string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, keys ...string) error
	Eval(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error)
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options holds cache cluster connection settings.
type Options struct {
	Addresses            []string
	Username             string
	Password             string
	TLS                  bool
	DialTimeout          time.Duration
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	CompressionThreshold int
}

type client struct {
	rdb          redis.UniversalClient
	brk          *breaker.Breaker
	threshold    int
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// New connects to the cache cluster and returns the client. The breaker is
// composed here explicitly; every operation runs through it.
func New(opts Options, brk *breaker.Breaker) (Cache, error) {
	if opts.CompressionThreshold <= 0 {
		opts.CompressionThreshold = 4096
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 250 * time.Millisecond
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 250 * time.Millisecond
	}

	universal := &redis.UniversalOptions{
		Addrs:        opts.Addresses,
		Username:     opts.Username,
		Password:     opts.Password,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	if opts.TLS {
		universal.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewUniversalClient(universal)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to cache cluster: %w", err)
	}

	logger.Info("Successfully connected to cache cluster",
		zap.Strings("addresses", opts.Addresses),
		zap.Bool("tls", opts.TLS))

	return &client{
		rdb:          rdb,
		brk:          brk,
		threshold:    opts.CompressionThreshold,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
	}, nil
}

// BreakerSuccess classifies cache call results for the breaker: misses and
// client-side errors leave the circuit alone, only outages count as failures.
func BreakerSuccess(err error) bool {
	return err == nil || !errors.Is(err, errs.ErrCacheUnavailable)
}

func (c *client) Get(ctx context.Context, key string) ([]byte, error) {
	var raw []byte
	err := c.execute(ctx, "get", c.readTimeout, func(ctx context.Context) error {
		b, err := c.rdb.Get(ctx, key).Bytes()
		if err != nil {
			return classify("get", err)
		}
		raw = b
		return nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrCacheMiss) {
			metrics.RecordCacheMiss()
		}
		return nil, err
	}
	metrics.RecordCacheHit()
	return inflate(raw)
}

func (c *client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	payload, err := c.deflate(value)
	if err != nil {
		return err
	}
	return c.execute(ctx, "set", c.writeTimeout, func(ctx context.Context) error {
		if err := c.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
			return classify("set", err)
		}
		logger.Debug("Cached value",
			zap.String("key", key),
			zap.Int("bytes", len(payload)),
			zap.Duration("ttl", ttl))
		return nil
	})
}

func (c *client) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	payload, err := c.deflate(value)
	if err != nil {
		return false, err
	}
	var acquired bool
	err = c.execute(ctx, "setnx", c.writeTimeout, func(ctx context.Context) error {
		ok, err := c.rdb.SetNX(ctx, key, payload, ttl).Result()
		if err != nil {
			return classify("setnx", err)
		}
		acquired = ok
		return nil
	})
	return acquired, err
}

func (c *client) Increment(ctx context.Context, key string) (int64, error) {
	var count int64
	err := c.execute(ctx, "incr", c.writeTimeout, func(ctx context.Context) error {
		n, err := c.rdb.Incr(ctx, key).Result()
		if err != nil {
			return classify("incr", err)
		}
		count = n
		return nil
	})
	return count, err
}

func (c *client) Exists(ctx context.Context, key string) (bool, error) {
	var found bool
	err := c.execute(ctx, "exists", c.readTimeout, func(ctx context.Context) error {
		n, err := c.rdb.Exists(ctx, key).Result()
		if err != nil {
			return classify("exists", err)
		}
		found = n > 0
		return nil
	})
	return found, err
}

func (c *client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.execute(ctx, "expire", c.writeTimeout, func(ctx context.Context) error {
		if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return classify("expire", err)
		}
		return nil
	})
}

func (c *client) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := c.execute(ctx, "ttl", c.readTimeout, func(ctx context.Context) error {
		d, err := c.rdb.TTL(ctx, key).Result()
		if err != nil {
			return classify("ttl", err)
		}
		ttl = d
		return nil
	})
	return ttl, err
}

func (c *client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.execute(ctx, "del", c.writeTimeout, func(ctx context.Context) error {
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return classify("del", err)
		}
		logger.Debug("Deleted cached keys", zap.Strings("keys", keys))
		return nil
	})
}

// Eval runs a server-side script. Script.Run uses EVALSHA with an automatic
// EVAL fallback, so hot scripts cost one round trip.
func (c *client) Eval(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	var result interface{}
	err := c.execute(ctx, "eval", c.writeTimeout, func(ctx context.Context) error {
		res, err := script.Run(ctx, c.rdb, keys, args...).Result()
		if err != nil {
			return classify("eval", err)
		}
		result = res
		return nil
	})
	return result, err
}

// ScanKeys walks the keyspace for keys matching pattern. Meant for low-volume
// maintenance work, never the request path.
func (c *client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := c.execute(ctx, "scan", c.readTimeout, func(ctx context.Context) error {
		iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return classify("scan", err)
		}
		return nil
	})
	return keys, err
}

func (c *client) Ping(ctx context.Context) error {
	return c.execute(ctx, "ping", c.readTimeout, func(ctx context.Context) error {
		if err := c.rdb.Ping(ctx).Err(); err != nil {
			return classify("ping", err)
		}
		return nil
	})
}

func (c *client) Close() error {
	return c.rdb.Close()
}

// execute runs one operation through the breaker with its own deadline and
// records latency and error metrics.
func (c *client) execute(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := c.brk.Execute(ctx, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(opCtx)
	})
	metrics.ObserveCacheOp(op, time.Since(start))

	if err != nil && !errors.Is(err, errs.ErrCacheMiss) {
		metrics.RecordCacheError(op)
		if errors.Is(err, errs.ErrCacheUnavailable) || errors.Is(err, errs.ErrCircuitOpen) {
			logger.Warn("Cache operation failed", zap.String("op", op), zap.Error(err))
		}
	}
	return err
}

// classify folds driver errors into the package sentinels. A missing key is a
// miss; timeouts, network failures and server-side errors are outages.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return errs.ErrCacheMiss
	}
	if isUnavailable(err) {
		return fmt.Errorf("cache %s: %v: %w", op, err, errs.ErrCacheUnavailable)
	}
	return fmt.Errorf("cache %s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return !errors.Is(err, redis.Nil)
	}
	return errors.Is(err, io.EOF)
}

// deflate gzips values at or above the threshold. Values that happen to start
// with the gzip magic are compressed too, so inflate never misreads a raw value.
func (c *client) deflate(value []byte) ([]byte, error) {
	if len(value) < c.threshold && !bytes.HasPrefix(value, gzipMagic) {
		return value, nil
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(value); err != nil {
		return nil, fmt.Errorf("compress value: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress value: %w", err)
	}
	metrics.RecordCacheCompression()
	return buf.Bytes(), nil
}

func inflate(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, gzipMagic) {
		return data, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress value: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress value: %w", err)
	}
	return out, nil
}
