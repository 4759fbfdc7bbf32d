// Package redisholder connects to the Redis deployment that receives sweep
// results. Cluster mode is tried first; a single node is the fallback.
package redisholder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nihr43/object-ingest/internal/config"
)

var ErrNoNodes = errors.New("no redis nodes defined")

func Build(ctx context.Context, cfg *config.RedisConfig, log zerolog.Logger) (redis.UniversalClient, error) {
	cl, err := newClusterClient(ctx, cfg)
	if err == nil {
		log.Debug().Int("nodes", len(cfg.Nodes)).Msg("redis: using cluster client")
		return cl, nil
	}
	if errors.Is(err, ErrNoNodes) {
		return nil, err
	}

	clusterErr := err
	single, err := newClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create redis client: %w", err)
	}
	log.Debug().Err(clusterErr).Str("addr", single.Options().Addr).Msg("redis: cluster client failed; using single-node client")
	return single, nil
}

func newClusterClient(ctx context.Context, cfg *config.RedisConfig) (*redis.ClusterClient, error) {
	if len(cfg.Nodes) < 1 {
		return nil, ErrNoNodes
	}

	nodeAddrs := make([]string, 0, len(cfg.Nodes))
	for _, node := range cfg.Nodes {
		nodeAddrs = append(nodeAddrs, node.Addr())
	}

	cl := redis.NewClusterClient(&redis.ClusterOptions{
		RouteByLatency: true,
		Password:       cfg.Password,
		Addrs:          nodeAddrs,
		DialTimeout:    cfg.DialTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		PoolSize:       4,
		PoolTimeout:    30 * time.Second,
		MaxRetries:     3,
	})

	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("error pinging redis cluster: %w", err)
	}

	return cl, nil
}

func newClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	stickyErr := ErrNoNodes

	for _, node := range cfg.Nodes {
		cl := redis.NewClient(&redis.Options{
			Addr:         node.Addr(),
			Password:     cfg.Password,
			DB:           cfg.DatabaseID,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})

		if err := cl.Ping(ctx).Err(); err != nil {
			_ = cl.Close()
			stickyErr = fmt.Errorf("error pinging redis server %s: %w", node.Addr(), err)
			continue
		}

		return cl, nil
	}

	return nil, stickyErr
}
