package engineinfra

import (
	"context"
	"log"
	"time"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/kanalhq/kanal/engine"
	"github.com/kanalhq/kanal/pkg/kernel"
)

// releaseScript deletes the lock only when it still holds our token, so an
// expired lock reclaimed by another process is never released from here.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisConversationLocker serializes event processing per contact across
// engine instances with a Redis SET NX lock. The TTL bounds how long a
// crashed holder can block a contact.
type RedisConversationLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
}

var _ engine.ConversationLocker = (*RedisConversationLocker)(nil)

func NewRedisConversationLocker(client *redis.Client, ttl, retryInterval time.Duration) *RedisConversationLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if retryInterval <= 0 {
		retryInterval = 50 * time.Millisecond
	}
	return &RedisConversationLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: retryInterval,
	}
}

func (l *RedisConversationLocker) Acquire(ctx context.Context, contactID kernel.ContactID) (func(), error) {
	key := "kanal:contact-lock:" + contactID.String()
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, errx.Wrap(err, "failed to acquire contact lock", errx.TypeInternal).
				WithDetail("contact_id", contactID.String())
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, engine.ErrConversationLocked().
				WithDetail("contact_id", contactID.String()).
				WithCause(ctx.Err())
		case <-time.After(l.retryInterval):
		}
	}

	release := func() {
		// Release outlives the request context; use a short one of its own.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := l.client.Eval(releaseCtx, releaseScript, []string{key}, token).Err(); err != nil {
			log.Printf("⚠️ Failed to release contact lock %s: %v", key, err)
		}
	}

	return release, nil
}
