package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/audit-agent/backend/internal/catalog"
	"github.com/audit-agent/backend/internal/metrics"
	"github.com/audit-agent/backend/internal/storage/models"
	"github.com/audit-agent/backend/pkg/logger"
)

const (
	catalogKey          = "catalog:snapshot"
	EngineerTaskChannel = "engineer:tasks"
)

type Client struct {
	client      *redis.Client
	snapshotTTL time.Duration
}

func NewClient(host string, port int, password string, db int, snapshotTTL time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Ping(ctx).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, snapshotTTL: snapshotTTL}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// SaveCatalog stores the last good catalog data. A zero TTL keeps it forever.
func (c *Client) SaveCatalog(ctx context.Context, data *catalog.Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}

	err = c.client.Set(ctx, catalogKey, raw, c.snapshotTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set catalog cache: %w", err)
	}

	logger.Debug("Catalog cached",
		zap.Int("audits", len(data.Audits)),
		zap.Duration("ttl", c.snapshotTTL),
	)
	return nil
}

func (c *Client) LoadCatalog(ctx context.Context) (*catalog.Data, bool, error) {
	raw, err := c.client.Get(ctx, catalogKey).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("catalog").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get catalog cache: %w", err)
	}

	var data catalog.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal catalog: %w", err)
	}

	metrics.CacheHits.WithLabelValues("catalog").Inc()
	logger.Debug("Catalog cache hit", zap.Int("audits", len(data.Audits)))
	return &data, true, nil
}

// PublishEngineerTask announces a new work item on the engineer channel.
func (c *Client) PublishEngineerTask(ctx context.Context, task models.EngineerTask) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal engineer task: %w", err)
	}

	receivers, err := c.client.Publish(ctx, EngineerTaskChannel, raw).Result()
	if err != nil {
		return fmt.Errorf("failed to publish engineer task: %w", err)
	}

	logger.Info("Engineer task published",
		zap.Int64("task_id", task.ID),
		zap.Int64("receivers", receivers),
	)
	return nil
}

// SubscribeEngineerTasks streams tasks published on the engineer channel until
// ctx is done.
func (c *Client) SubscribeEngineerTasks(ctx context.Context) (<-chan models.EngineerTask, error) {
	sub := c.client.Subscribe(ctx, EngineerTaskChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to engineer tasks: %w", err)
	}

	out := make(chan models.EngineerTask)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var task models.EngineerTask
				if err := json.Unmarshal([]byte(msg.Payload), &task); err != nil {
					logger.Warn("Dropping malformed engineer task", zap.Error(err))
					continue
				}
				select {
				case out <- task:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
