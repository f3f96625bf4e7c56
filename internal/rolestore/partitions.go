package rolestore

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/orgsite/orgsite/internal/access"
)

// Backends accepted by Open.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Open builds the configured partitions in lookup order (current first, then legacy).
func Open(backend string, names []string, rdb *redis.Client, db DB) ([]Partition, error) {
	var parts []Partition
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		switch backend {
		case BackendRedis:
			if rdb == nil {
				return nil, fmt.Errorf("rolestore: redis backend requires a client")
			}
			parts = append(parts, NewRedisPartition(rdb, name))
		case BackendPostgres:
			if db == nil {
				return nil, fmt.Errorf("rolestore: postgres backend requires a pool")
			}
			parts = append(parts, NewPGPartition(db, name))
		default:
			return nil, fmt.Errorf("rolestore: unknown backend %q", backend)
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("rolestore: no partitions configured")
	}
	return parts, nil
}

// Sources adapts partitions to resolver sources, preserving order.
func Sources(parts []Partition) []access.Source {
	sources := make([]access.Source, 0, len(parts))
	for _, p := range parts {
		sources = append(sources, p)
	}
	return sources
}
