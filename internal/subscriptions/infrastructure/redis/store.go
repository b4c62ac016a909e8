package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	subscriptions "telemetry-engine/internal/subscriptions/domain"
)

const keyPrefix = "subscriptions:"

// Store persists one JSON document per source system.
type Store struct {
	client goredis.UniversalClient
}

// NewStore constructs a Redis-backed registry store.
func NewStore(client goredis.UniversalClient) (*Store, error) {
	if client == nil {
		return nil, errors.New("subscriptions redis: nil client")
	}
	return &Store{client: client}, nil
}

func key(systemID int64) string {
	return keyPrefix + strconv.FormatInt(systemID, 10)
}

// Load returns a system's entry.
func (s *Store) Load(ctx context.Context, systemID int64) (subscriptions.Entry, bool, error) {
	raw, err := s.client.Get(ctx, key(systemID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return subscriptions.Entry{}, false, nil
	}
	if err != nil {
		return subscriptions.Entry{}, false, fmt.Errorf("subscriptions redis: get %d: %w", systemID, err)
	}
	var entry subscriptions.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return subscriptions.Entry{}, false, fmt.Errorf("subscriptions redis: decode %d: %w", systemID, err)
	}
	return entry, true, nil
}

// List scans every entry.
func (s *Store) List(ctx context.Context) ([]subscriptions.Entry, error) {
	var out []subscriptions.Entry
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id, err := strconv.ParseInt(strings.TrimPrefix(iter.Val(), keyPrefix), 10, 64)
		if err != nil {
			continue
		}
		entry, ok, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, entry)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("subscriptions redis: scan: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SystemID < out[j].SystemID })
	return out, nil
}

// Save writes the entry.
func (s *Store) Save(ctx context.Context, entry subscriptions.Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key(entry.SystemID), payload, 0).Err(); err != nil {
		return fmt.Errorf("subscriptions redis: set %d: %w", entry.SystemID, err)
	}
	return nil
}

// Delete removes the entry.
func (s *Store) Delete(ctx context.Context, systemID int64) error {
	return s.client.Del(ctx, key(systemID)).Err()
}
