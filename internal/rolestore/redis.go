// Package rolestore holds the partitions principals' role records are read from.
//
// Records were historically written under two partition names. Both stay readable
// as ordered fallback tiers until every record lives in the current partition.
package rolestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/orgsite/orgsite/internal/access"
)

// ErrInvalidPrincipal is returned for blank principal ids.
var ErrInvalidPrincipal = errors.New("rolestore: principal id required")

// Partition is a readable and writable role record partition.
type Partition interface {
	access.Source
	Put(ctx context.Context, principalID string, record access.Record) error
	Delete(ctx context.Context, principalID string) error
}

// RedisPartition stores one JSON record per principal under "<partition>:<principal id>".
type RedisPartition struct {
	client *redis.Client
	name   string
}

// NewRedisPartition constructs a RedisPartition.
func NewRedisPartition(client *redis.Client, name string) *RedisPartition {
	return &RedisPartition{client: client, name: name}
}

// Name returns the partition name.
func (p *RedisPartition) Name() string {
	return p.name
}

// Lookup reads the record of principalID.
func (p *RedisPartition) Lookup(ctx context.Context, principalID string) (access.Record, error) {
	key, err := p.key(principalID)
	if err != nil {
		return access.Record{}, err
	}
	raw, err := p.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return access.Record{}, access.ErrRecordNotFound
		}
		return access.Record{}, fmt.Errorf("rolestore: get %s: %w", p.name, err)
	}
	return decodeRecord(p.name, raw)
}

// Put writes the record of principalID.
func (p *RedisPartition) Put(ctx context.Context, principalID string, record access.Record) error {
	key, err := p.key(principalID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("rolestore: encode record: %w", err)
	}
	if err := p.client.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("rolestore: set %s: %w", p.name, err)
	}
	return nil
}

// Delete removes the record of principalID.
func (p *RedisPartition) Delete(ctx context.Context, principalID string) error {
	key, err := p.key(principalID)
	if err != nil {
		return err
	}
	n, err := p.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rolestore: del %s: %w", p.name, err)
	}
	if n == 0 {
		return access.ErrRecordNotFound
	}
	return nil
}

func (p *RedisPartition) key(principalID string) (string, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return "", ErrInvalidPrincipal
	}
	return p.name + ":" + principalID, nil
}

func decodeRecord(partition string, raw []byte) (access.Record, error) {
	var record access.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return access.Record{}, fmt.Errorf("rolestore: malformed record in %s: %w", partition, err)
	}
	return record, nil
}

var _ Partition = (*RedisPartition)(nil)
