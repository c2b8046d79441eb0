package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisTTL is how long a registration survives without a refresh.
const DefaultRedisTTL = time.Minute

// RedisRendezvous keeps a registry of room members in Redis. Each peer is
// a key with a TTL holding its announcement; a set per namespace lists the
// member ids.
type RedisRendezvous struct {
	client *redis.Client
	ttl    time.Duration
	self   peer.ID
	ns     string
}

// NewRedisRendezvous creates a rendezvous on client.
func NewRedisRendezvous(client *redis.Client, ttl time.Duration) *RedisRendezvous {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisRendezvous{client: client, ttl: ttl}
}

func (r *RedisRendezvous) Name() string { return "redis" }

func membersKey(ns string) string {
	return "cowrite:" + ns + ":members"
}

func peerKey(ns string, id string) string {
	return "cowrite:" + ns + ":peer:" + id
}

// Advertise writes (or refreshes) the registration of self.
func (r *RedisRendezvous) Advertise(ctx context.Context, ns string, self peer.AddrInfo) error {
	data, err := json.Marshal(announcement(ns, self))
	if err != nil {
		return err
	}
	id := self.ID.String()
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, peerKey(ns, id), data, r.ttl)
		pipe.SAdd(ctx, membersKey(ns), id)
		pipe.Expire(ctx, membersKey(ns), 2*r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis advertise: %w", err)
	}
	r.self, r.ns = self.ID, ns
	return nil
}

// FindPeers lists live registrations under ns. Members whose registration
// expired are pruned from the set.
func (r *RedisRendezvous) FindPeers(ctx context.Context, ns string) (<-chan peer.AddrInfo, error) {
	ids, err := r.client.SMembers(ctx, membersKey(ns)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis members: %w", err)
	}

	out := make(chan peer.AddrInfo, len(ids))
	defer close(out)
	for _, id := range ids {
		if id == r.self.String() {
			continue
		}
		data, err := r.client.Get(ctx, peerKey(ns, id)).Bytes()
		if errors.Is(err, redis.Nil) {
			r.client.SRem(ctx, membersKey(ns), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis lookup %s: %w", id, err)
		}
		var msg relayMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		pi, err := msg.addrInfo()
		if err != nil {
			continue
		}
		out <- pi
	}
	return out, nil
}

// Close removes the local registration and closes the client.
func (r *RedisRendezvous) Close() error {
	if r.ns != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r.client.Del(ctx, peerKey(r.ns, r.self.String()))
		r.client.SRem(ctx, membersKey(r.ns), r.self.String())
	}
	return r.client.Close()
}
