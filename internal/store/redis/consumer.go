package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"barsignal/internal/model"
	"barsignal/internal/strategy"

	goredis "github.com/go-redis/redis/v8"
)

// Config configures the Redis clients.
type Config struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // consumer group name, e.g. "barsignal"
	ConsumerName  string // unique consumer name, e.g. hostname
}

func dial(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Consumer reads closed bars from Redis Streams via a consumer group.
type Consumer struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string
}

// NewConsumer connects to Redis and pings the server.
func NewConsumer(cfg Config) (*Consumer, error) {
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = "barsignal"
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "worker-1"
	}

	log.Printf("[redis-consumer] connected to %s (group=%s, consumer=%s)", cfg.Addr, group, consumer)
	return &Consumer{
		client:        client,
		consumerGroup: group,
		consumerName:  consumer,
	}, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// EnsureConsumerGroup creates the consumer group on every stream if missing.
// Fresh groups start at "$" so only new bars are delivered.
func (c *Consumer) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := c.client.XGroupCreateMkStream(ctx, stream, c.consumerGroup, "$").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// Consume blocks on XREADGROUP and sends decoded bars to out, ACKing each
// message once it has been handed over. Returns when ctx is cancelled.
func (c *Consumer) Consume(ctx context.Context, streams []string, out chan<- model.Bar) error {
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		results, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    c.consumerGroup,
			Consumer: c.consumerName,
			Streams:  args,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Printf("[redis-consumer] xreadgroup error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			if err := c.deliver(ctx, stream.Stream, stream.Messages, out); err != nil {
				return err
			}
		}
	}
}

// RecoverPending re-delivers messages this consumer read but never ACKed,
// giving at-least-once delivery across restarts. Engines drop the
// duplicates by timestamp. Returns how many messages were re-delivered.
func (c *Consumer) RecoverPending(ctx context.Context, streams []string, out chan<- model.Bar) (int, error) {
	n := 0
	for _, stream := range streams {
		start := "0"
		for {
			res, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
				Group:    c.consumerGroup,
				Consumer: c.consumerName,
				Streams:  []string{stream, start},
				Count:    100,
			}).Result()
			if err != nil {
				if errors.Is(err, goredis.Nil) {
					break
				}
				return n, fmt.Errorf("recover pending %s: %w", stream, err)
			}
			if len(res) == 0 || len(res[0].Messages) == 0 {
				break
			}
			msgs := res[0].Messages
			if err := c.deliver(ctx, stream, msgs, out); err != nil {
				return n, err
			}
			n += len(msgs)
			start = msgs[len(msgs)-1].ID
		}
	}
	return n, nil
}

func (c *Consumer) deliver(ctx context.Context, stream string, msgs []goredis.XMessage, out chan<- model.Bar) error {
	for _, msg := range msgs {
		bar, err := DecodeBar(stream, msg.Values)
		if err != nil {
			log.Printf("[redis-consumer] %s %s: %v", stream, msg.ID, err)
			// ACK poison messages so they are not redelivered forever
			c.client.XAck(ctx, stream, c.consumerGroup, msg.ID)
			continue
		}

		select {
		case out <- bar:
		case <-ctx.Done():
			return ctx.Err()
		}

		c.client.XAck(ctx, stream, c.consumerGroup, msg.ID)
	}
	return nil
}

// ReadCheckpoints loads the latest checkpoint of each instrument.
// Instruments without one are skipped.
func (c *Consumer) ReadCheckpoints(ctx context.Context, instruments []string) ([]strategy.Checkpoint, error) {
	var out []strategy.Checkpoint
	for _, inst := range instruments {
		data, err := c.client.Get(ctx, CheckpointKey(inst)).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			return nil, fmt.Errorf("redis get checkpoint %s: %w", inst, err)
		}
		var cp strategy.Checkpoint
		if err := json.Unmarshal([]byte(data), &cp); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint %s: %w", inst, err)
		}
		out = append(out, cp)
	}
	return out, nil
}

// Close closes the Redis client.
func (c *Consumer) Close() error {
	return c.client.Close()
}
