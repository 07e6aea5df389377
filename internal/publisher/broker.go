package publisher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"photogallery/internal/models"
)

// Broker moves serialized events between publishers and live subscribers.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe delivers payloads published on topic until cancel is called
	// or ctx ends; the channel is closed afterwards.
	Subscribe(ctx context.Context, topic string) (msgs <-chan []byte, cancel func(), err error)
}

// RedisClient is the part of *redis.Client the broker needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisBroker fans events out over Redis pub/sub so every API replica's
// websocket clients see them.
type RedisBroker struct {
	client RedisClient
	log    zerolog.Logger
}

func NewRedisBroker(client RedisClient, log zerolog.Logger) *RedisBroker {
	return &RedisBroker{client: client, log: log.With().Str("component", "redis-broker").Logger()}
}

// NewRedisClient parses url and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	const op = "publisher.NewRedisClient"

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}
	return client, nil
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publisher.RedisBroker.Publish: %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error) {
	const op = "publisher.RedisBroker.Subscribe"

	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("%s: %s: %w", op, topic, err)
	}

	out := make(chan []byte, 16)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer ps.Close()
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					b.log.Warn().Str("topic", topic).Msg("subscriber is slow, dropping event")
				}
			}
		}
	}()
	return out, cancel, nil
}

// MemoryBroker is an in-process Broker for single-instance runs and tests.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[chan []byte]struct{})}
}

func (b *MemoryBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[chan []byte]struct{})
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], ch)
			b.mu.Unlock()
			close(done)
			close(ch)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}

// TopicFor returns the live topic for an image: its gallery's topic when
// attached, otherwise the uploader's own topic.
func TopicFor(gallery *models.Gallery, uploaderID int64) string {
	if gallery == nil {
		return UserTopic(uploaderID)
	}
	return GalleryTopic(gallery)
}

func GalleryTopic(g *models.Gallery) string {
	if g.Slug != "" {
		return galleryTopicPrefix + g.Slug
	}
	return galleryTopicPrefix + strconv.FormatInt(g.ID, 10)
}

const (
	galleryTopicPrefix = "gallery_"
	userTopicPrefix    = "gallery_user_"
)

func UserTopic(userID int64) string {
	return userTopicPrefix + strconv.FormatInt(userID, 10)
}

// UserTopicOwner returns the user a gallery_user_<id> topic belongs to.
func UserTopicOwner(topic string) (int64, bool) {
	rest, ok := strings.CutPrefix(topic, userTopicPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// GalleryTopicKey returns the slug or id a gallery topic is named after.
// User topics are not gallery topics.
func GalleryTopicKey(topic string) (string, bool) {
	if _, ok := UserTopicOwner(topic); ok {
		return "", false
	}
	key, ok := strings.CutPrefix(topic, galleryTopicPrefix)
	if !ok || key == "" {
		return "", false
	}
	return key, true
}
