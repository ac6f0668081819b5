package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voxkit/batchd/types"
)

// Config configures the Redis-backed queue.
type Config struct {
	Addr      string `yaml:"addr" json:"addr"`
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"-"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	QueueName string `yaml:"queue_name" json:"queue_name"`
}

// envelope is the wire format of a queued job. Producers that omit the
// request field have their whole payload treated as the request.
type envelope struct {
	JobID   string          `json:"job_id"`
	Request json.RawMessage `json:"request"`
}

// RedisQueue implements Queue on a Redis list: LPUSH to enqueue, BRPOP for
// the blocking pop, RPOPCOUNT for the non-blocking drain.
type RedisQueue struct {
	client *redis.Client
	name   string
	logger *zap.Logger
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(cfg Config, logger *zap.Logger) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	name := cfg.QueueName
	if name == "" {
		name = "transcription_queue"
	}

	return &RedisQueue{
		client: client,
		name:   name,
		logger: logger.With(zap.String("component", "queue"), zap.String("queue", name)),
	}, nil
}

// Close closes the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Ping checks queue health.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue pushes a job envelope onto the left of the list.
func (q *RedisQueue) Enqueue(ctx context.Context, job *types.Job) error {
	payload, err := json.Marshal(envelope{JobID: job.ID, Request: job.Payload})
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to marshal job envelope").WithCause(err)
	}
	if err := q.client.LPush(ctx, q.name, payload).Err(); err != nil {
		return types.NewError(types.ErrQueueUnavailable, "failed to enqueue job").WithCause(err)
	}
	q.logger.Debug("job enqueued", zap.String("job_id", job.ID))
	return nil
}

// PopBlocking blocks up to timeout for the next job. ErrEmpty on timeout.
func (q *RedisQueue) PopBlocking(ctx context.Context, timeout time.Duration) (*types.Job, error) {
	res, err := q.client.BRPop(ctx, timeout, q.name).Result()
	if err == redis.Nil {
		return nil, ErrEmpty
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrQueueUnavailable, "blocking pop failed").WithCause(err)
	}
	// BRPOP returns [key, value].
	return q.decode([]byte(res[1])), nil
}

// Drain pops whatever is immediately available, up to max, without blocking.
func (q *RedisQueue) Drain(ctx context.Context, max int) ([]*types.Job, error) {
	if max <= 0 {
		return nil, nil
	}
	res, err := q.client.RPopCount(ctx, q.name, max).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrQueueUnavailable, "drain failed").WithCause(err)
	}
	jobs := make([]*types.Job, 0, len(res))
	for _, payload := range res {
		jobs = append(jobs, q.decode([]byte(payload)))
	}
	return jobs, nil
}

// Len returns the number of pending jobs.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, types.NewError(types.ErrQueueUnavailable, "queue length failed").WithCause(err)
	}
	return n, nil
}

// decode turns a raw list entry into a Job. A malformed payload is not
// dropped: it becomes an invalid job so its failure is still delivered.
func (q *RedisQueue) decode(raw []byte) *types.Job {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		q.logger.Error("invalid job payload received from queue", zap.Error(err))
		job := types.NewInvalidJob(raw, err)
		job.ArrivalTime = time.Now()
		return job
	}
	request := env.Request
	if len(request) == 0 {
		// Bare payloads without an envelope are treated as the request.
		request = json.RawMessage(raw)
	}
	id := env.JobID
	if id == "" {
		// Producers without an envelope still get processed; assign an ID
		// so delivery stays addressable.
		id = uuid.New().String()
		q.logger.Warn("queued job missing job_id, assigned one", zap.String("job_id", id))
	}
	job := types.NewJob(id, request)
	job.ArrivalTime = time.Now()
	return job
}

var _ Queue = (*RedisQueue)(nil)
