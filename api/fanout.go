package api

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RevalidationChannel is the Redis pub/sub channel carrying table ids whose
// rows changed.
const RevalidationChannel = "gantt:revalidate"

// Announcer broadcasts a table revalidation to every instance.
type Announcer interface {
	Announce(ctx context.Context, tableID int) error
}

// RedisAnnouncer publishes revalidations on a Redis channel.
type RedisAnnouncer struct {
	client  *redis.Client
	channel string
}

func NewRedisAnnouncer(client *redis.Client, channel string) *RedisAnnouncer {
	if channel == "" {
		channel = RevalidationChannel
	}
	return &RedisAnnouncer{client: client, channel: channel}
}

func (a *RedisAnnouncer) Announce(ctx context.Context, tableID int) error {
	return a.client.Publish(ctx, a.channel, strconv.Itoa(tableID)).Err()
}

// SubscribeRevalidations relays revalidations published by any instance to
// notify until ctx is done, resubscribing when the channel drops.
func SubscribeRevalidations(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, notify func(tableID int)) {
	if channel == "" {
		channel = RevalidationChannel
	}
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				id, valid := parseID(msg.Payload)
				if !valid {
					logger.Warnf("ignoring revalidation payload %q", msg.Payload)
					continue
				}
				notify(id)
			}
		}
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("revalidation channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
