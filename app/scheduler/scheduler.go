// Package scheduler holds the background refresh loops: the campaign cache
// warmer and the audience membership sync. Each loop runs on every instance
// but a Redis lock ensures only one of them performs the work per tick.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/amirphl/Nurikabe/config"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newSchedulerLogger configures a logger that writes to both stdout and a
// rotating file under data/ (or /data for containerized environments).
func newSchedulerLogger(name string, cfg config.LoggingConfig) (*log.Logger, error) {
	candidates := []string{
		filepath.Join("data"),
		"/data",
	}
	for _, dir := range candidates {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			continue
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(dir, name+".log"),
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		mw := io.MultiWriter(os.Stdout, rotator)
		// log.Logger is goroutine-safe; include timestamps with microseconds and UTC
		return log.New(mw, name+" ", log.LstdFlags|log.Lmicroseconds|log.LUTC), nil
	}
	return nil, fmt.Errorf("could not create %s log file in any candidate directory", name)
}

// cacheKey builds a full Redis key from the configured cache prefix
func cacheKey(cfg config.CacheConfig, key string) string {
	return cfg.RedisPrefix + key
}

// releaseLockScript deletes the lock only when this instance still owns it,
// so a refresh that overran the lock TTL cannot release a peer's lock.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// acquireLock takes the named Redis lock for ttl. The returned release func
// is a no-op when the lock was not acquired.
func acquireLock(ctx context.Context, client *redis.Client, key, owner string, ttl time.Duration) (bool, func(), error) {
	ok, err := client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, func() {}, err
	}
	if !ok {
		return false, func() {}, nil
	}
	release := func() {
		_ = releaseLockScript.Run(context.Background(), client, []string{key}, owner).Err()
	}
	return true, release, nil
}
