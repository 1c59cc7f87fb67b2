package stores

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisWatcher propagates policy-change notifications between enforcer
// instances through a Redis pub/sub channel. Each watcher publishes its
// own instance id and ignores messages carrying it, so the mutating
// instance does not reload its own change.
type RedisWatcher struct {
	client  redis.UniversalClient
	channel string
	id      string

	mu       sync.Mutex
	callback func(string)

	sub    *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisWatcher subscribes to the channel and starts the listen loop.
func NewRedisWatcher(client redis.UniversalClient, channel string) (*RedisWatcher, error) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &RedisWatcher{
		client:  client,
		channel: channel,
		id:      uuid.NewString(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	w.sub = client.Subscribe(ctx, channel)
	if _, err := w.sub.Receive(ctx); err != nil {
		cancel()
		return nil, err
	}
	go w.listen(ctx)
	return w, nil
}

func (w *RedisWatcher) listen(ctx context.Context) {
	defer close(w.done)
	ch := w.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Payload == w.id {
				continue
			}
			w.mu.Lock()
			cb := w.callback
			w.mu.Unlock()
			if cb != nil {
				cb(msg.Payload)
			}
		}
	}
}

// SetUpdateCallback registers the reload function invoked on foreign
// updates.
func (w *RedisWatcher) SetUpdateCallback(fn func(string)) error {
	w.mu.Lock()
	w.callback = fn
	w.mu.Unlock()
	return nil
}

// Update tells every other instance to reload.
func (w *RedisWatcher) Update() error {
	return w.client.Publish(context.Background(), w.channel, w.id).Err()
}

// Close stops the listen loop and unsubscribes.
func (w *RedisWatcher) Close() error {
	w.cancel()
	err := w.sub.Close()
	<-w.done
	return err
}
