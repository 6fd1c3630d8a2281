// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package cache is the production store.CacheStore adapter, backed by
// Redis (or a Redis-protocol-compatible service such as DragonflyDB) via
// go-redis/v9. The lock and pub/sub shapes are grounded directly on
// evalgo's db/repository.RedisRepository: SetNX for the distributed-lock
// primitive, Publish/Subscribe forwarding onto a Go channel.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the go-redis-backed CacheStore adapter.
type Store struct {
	client *redis.Client
}

// New parses url (a standard redis:// URL) and connects, pinging once to
// fail fast on a bad address.
func New(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}
	return &Store{client: client}, nil
}

// SetIfAbsent implements the distributed-lock primitive backing the
// 60-second re-index debounce window (§4.1).
func (s *Store) SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: setnx %s: %w", key, err)
	}
	return ok, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return val, true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: del %s: %w", key, err)
	}
	return nil
}

func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("cache: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe forwards raw payloads from the Redis channel onto a Go channel,
// closing it and the underlying subscription when cancel is called or ctx
// is done, for the progress-event pub/sub of §4.1.10.
func (s *Store) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, nil, fmt.Errorf("cache: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		close(done)
		_ = pubsub.Close()
	}
	return out, cancel, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
