package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/ledger"
)

// Client submits stock tasks to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	if redisOpts.Addr == "" {
		return nil, fmt.Errorf("jobs: redis address is empty")
	}
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueReconcile queues a batch upload and returns the task id.
func (c *Client) EnqueueReconcile(ctx context.Context, source string, direction ledger.Direction, data []byte) (string, error) {
	task, err := NewReconcileTask(ReconcilePayload{
		Source:     source,
		Direction:  direction,
		Data:       data,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	return c.enqueue(ctx, task)
}

// EnqueueIntegrity queues an immediate integrity check.
func (c *Client) EnqueueIntegrity(ctx context.Context) (string, error) {
	task, err := NewIntegrityTask(time.Now().UTC())
	if err != nil {
		return "", err
	}
	return c.enqueue(ctx, task)
}

// EnqueueIdempotencyCleanup queues an immediate pruning of idempotency keys.
func (c *Client) EnqueueIdempotencyCleanup(ctx context.Context) (string, error) {
	task, err := NewIdempotencyCleanupTask(time.Now().UTC())
	if err != nil {
		return "", err
	}
	return c.enqueue(ctx, task)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task) (string, error) {
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("jobs: enqueue %s: %w", task.Type(), err)
	}
	return info.ID, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
