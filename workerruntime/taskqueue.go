// Package workerruntime implements C15, the worker process shell around the
// orchestrator (spec.md §4.15): a task-queue poller standing in for the
// activity-worker side of a Temporal-style task queue, plus the /health,
// /drain, /metrics, /status HTTP control surface. Grounded on the teacher's
// worker.Pool/worker.Queue shape (worker/pool.go), generalized from
// interface{} jobs to a typed Task, and on http/server.go for the control
// port.
package workerruntime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"
)

// Task is one unit of work handed to a syncworker process: run one sync
// job. This is the payload a real deployment would instead receive
// as a Temporal activity invocation (spec.md §4.15's Non-goals explicitly
// substitute a plain task queue for Temporal).
type Task struct {
	JobID           string `json:"job_id"`
	SyncID          string `json:"sync_id"`
	ForceFullSync   bool   `json:"force_full_sync"`
	SourceShortName string `json:"source_short_name"` // for bounded-cardinality metrics labels only

	// deliveryTag identifies this task's AMQP delivery for Ack/Nack; unused
	// (zero) for tasks sourced from RedisTaskQueue.
	deliveryTag uint64
}

// TaskQueue is the Dequeue/Enqueue/ack contract a Runtime polls, mirroring
// worker.Queue's Dequeue/MarkProcessing/CompleteJob/FailJob shape from
// worker/pool.go but typed to Task instead of interface{}.
type TaskQueue interface {
	// Enqueue publishes a new task.
	Enqueue(ctx context.Context, task Task) error

	// Dequeue blocks up to timeout for the next task. A nil Task with a nil
	// error means "timed out, nothing available" (worker.Queue's contract).
	Dequeue(ctx context.Context, timeout time.Duration) (*Task, error)

	// Ack marks a successfully processed task done.
	Ack(ctx context.Context, task Task) error

	// Nack returns a failed task to the queue (or dead-letters it, driver's
	// choice) so the cleanup job or a retry policy can pick it up later.
	Nack(ctx context.Context, task Task, cause error) error

	Close() error
}

const redisQueueKey = "syncengine:tasks"

// RedisTaskQueue is a TaskQueue backed by a Redis list, used via BLPOP for a
// blocking dequeue — the same engine the teacher's ratelimit package already
// depends on for distributed state, reused here for the task queue.
type RedisTaskQueue struct {
	client *redis.Client
	key    string
}

// NewRedisTaskQueue wraps an existing redis.Client. key defaults to
// redisQueueKey if empty, letting multiple deployments share one Redis
// instance under distinct queue names.
func NewRedisTaskQueue(client *redis.Client, key string) *RedisTaskQueue {
	if key == "" {
		key = redisQueueKey
	}
	return &RedisTaskQueue{client: client, key: key}
}

func (q *RedisTaskQueue) Enqueue(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("workerruntime: marshal task: %w", err)
	}
	return q.client.RPush(ctx, q.key, data).Err()
}

func (q *RedisTaskQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	result, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workerruntime: dequeue: %w", err)
	}
	// BLPOP returns [key, value]; result[0] is q.key.
	var task Task
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return nil, fmt.Errorf("workerruntime: unmarshal task: %w", err)
	}
	return &task, nil
}

// Ack is a no-op: once BLPOP pops an element it is already removed from the
// list, so there is nothing left to acknowledge (at-most-once delivery,
// same tradeoff the teacher's RabbitMQService accepts by not using manual
// acks).
func (q *RedisTaskQueue) Ack(ctx context.Context, task Task) error { return nil }

// Nack re-enqueues the task at the tail so another worker can retry it.
func (q *RedisTaskQueue) Nack(ctx context.Context, task Task, cause error) error {
	return q.Enqueue(ctx, task)
}

func (q *RedisTaskQueue) Close() error { return q.client.Close() }

// AMQPTaskQueue is a TaskQueue backed by a durable RabbitMQ queue, grounded
// on queue/rabbit.go's RabbitMQService (connection/channel/QueueDeclare
// shape) but typed to Task instead of the teacher's eve.FlowProcessMessage,
// and extended with a blocking Consume-based Dequeue since the control flow
// here is pull (worker polls) rather than push (publish only).
type AMQPTaskQueue struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queueName  string
	deliveries <-chan amqp.Delivery
	pending    pendingDeliveries
}

// pendingDeliveries tracks in-flight AMQP deliveries by tag between Dequeue
// and the matching Ack/Nack call.
type pendingDeliveries struct {
	mu   sync.Mutex
	byID map[uint64]amqp.Delivery
}

func (p *pendingDeliveries) store(tag uint64, d amqp.Delivery) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.byID == nil {
		p.byID = map[uint64]amqp.Delivery{}
	}
	p.byID[tag] = d
}

func (p *pendingDeliveries) load(tag uint64) (amqp.Delivery, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.byID[tag]
	return d, ok
}

func (p *pendingDeliveries) delete(tag uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.byID, tag)
}

// NewAMQPTaskQueue dials url, declares a durable queue named queueName, and
// opens a consumer channel.
func NewAMQPTaskQueue(url, queueName string) (*AMQPTaskQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("workerruntime: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("workerruntime: amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("workerruntime: amqp declare queue: %w", err)
	}
	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("workerruntime: amqp consume: %w", err)
	}
	return &AMQPTaskQueue{conn: conn, channel: ch, queueName: queueName, deliveries: deliveries}, nil
}

func (q *AMQPTaskQueue) Enqueue(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("workerruntime: marshal task: %w", err)
	}
	return q.channel.Publish("", q.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp.Persistent,
	})
}

func (q *AMQPTaskQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	select {
	case d, ok := <-q.deliveries:
		if !ok {
			return nil, fmt.Errorf("workerruntime: amqp delivery channel closed")
		}
		var task Task
		if err := json.Unmarshal(d.Body, &task); err != nil {
			d.Nack(false, false)
			return nil, fmt.Errorf("workerruntime: unmarshal task: %w", err)
		}
		task.deliveryTag = d.DeliveryTag
		q.pending.store(task.deliveryTag, d)
		return &task, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *AMQPTaskQueue) Ack(ctx context.Context, task Task) error {
	d, ok := q.pending.load(task.deliveryTag)
	if !ok {
		return nil
	}
	q.pending.delete(task.deliveryTag)
	return d.Ack(false)
}

func (q *AMQPTaskQueue) Nack(ctx context.Context, task Task, cause error) error {
	d, ok := q.pending.load(task.deliveryTag)
	if !ok {
		return nil
	}
	q.pending.delete(task.deliveryTag)
	return d.Nack(false, true)
}

func (q *AMQPTaskQueue) Close() error {
	q.channel.Close()
	return q.conn.Close()
}
