package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"synscope/geo"
	"synscope/scanner"
)

// TaskStore defines persistence operations for scan tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *ScanTask) error
	GetTask(ctx context.Context, id string) (*ScanTask, error)
	UpdateTask(ctx context.Context, task *ScanTask) error
	PushToQueue(ctx context.Context, taskID string) error
	PopFromQueue(ctx context.Context, wait time.Duration) (string, error)
	Ping(ctx context.Context) error
}

// HostInfoCache stores host info answers so repeated lookups do not hit the
// rate limited upstream API.
type HostInfoCache interface {
	GetHostInfo(ctx context.Context, ip string) (*geo.HostInfo, error)
	SetHostInfo(ctx context.Context, ip string, info *geo.HostInfo, ttl time.Duration) error
}

var (
	// ErrTaskNotFound indicates the requested task doesn't exist in the store.
	ErrTaskNotFound = errors.New("task not found")
	// ErrQueueEmpty is returned by PopFromQueue when nothing arrived in time.
	ErrQueueEmpty = errors.New("queue empty")
	// ErrCacheMiss is returned by GetHostInfo for unknown or expired entries.
	ErrCacheMiss = errors.New("host info not cached")
)

const queueKey = "scans:queue"

// RedisStore implements TaskStore and HostInfoCache using Redis as backend.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed task store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) taskKey(id string) string {
	return fmt.Sprintf("scan:%s", id)
}

func (s *RedisStore) hostInfoKey(ip string) string {
	return fmt.Sprintf("hostinfo:%s", ip)
}

// CreateTask persists a new scan task in Redis.
func (s *RedisStore) CreateTask(ctx context.Context, task *ScanTask) error {
	data, err := serializeTask(task)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.taskKey(task.ID), data).Err()
}

// GetTask retrieves a task by ID.
func (s *RedisStore) GetTask(ctx context.Context, id string) (*ScanTask, error) {
	res, err := s.client.HGetAll(ctx, s.taskKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrTaskNotFound
	}
	return deserializeTask(res)
}

// UpdateTask updates an existing task in Redis.
func (s *RedisStore) UpdateTask(ctx context.Context, task *ScanTask) error {
	data, err := serializeTask(task)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.taskKey(task.ID), data).Err()
}

// PushToQueue enqueues a task ID for workers to process.
func (s *RedisStore) PushToQueue(ctx context.Context, taskID string) error {
	return s.client.LPush(ctx, queueKey, taskID).Err()
}

// PopFromQueue blocks for up to wait until a task ID is available.
func (s *RedisStore) PopFromQueue(ctx context.Context, wait time.Duration) (string, error) {
	res, err := s.client.BRPop(ctx, wait, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrQueueEmpty
	}
	if err != nil {
		return "", err
	}
	if len(res) != 2 {
		return "", errors.New("unexpected response size from BRPOP")
	}
	return res[1], nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetHostInfo returns a cached host info answer.
func (s *RedisStore) GetHostInfo(ctx context.Context, ip string) (*geo.HostInfo, error) {
	raw, err := s.client.Get(ctx, s.hostInfoKey(ip)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var info geo.HostInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode cached host info: %w", err)
	}
	return &info, nil
}

// SetHostInfo caches a host info answer for ttl.
func (s *RedisStore) SetHostInfo(ctx context.Context, ip string, info *geo.HostInfo, ttl time.Duration) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.hostInfoKey(ip), data, ttl).Err()
}

func serializeTask(task *ScanTask) (map[string]interface{}, error) {
	var reportData string
	if task.Report != nil {
		encoded, err := json.Marshal(task.Report)
		if err != nil {
			return nil, err
		}
		reportData = string(encoded)
	}

	createdAt := task.CreatedAt.Format(time.RFC3339Nano)
	completedAt := ""
	if task.CompletedAt != nil {
		completedAt = task.CompletedAt.Format(time.RFC3339Nano)
	}

	return map[string]interface{}{
		"id":           task.ID,
		"status":       task.Status,
		"target":       task.Target,
		"ports":        task.Ports,
		"timeout":      strconv.FormatFloat(task.TimeoutSeconds, 'f', -1, 64),
		"workers":      strconv.Itoa(task.Workers),
		"report":       reportData,
		"created_at":   createdAt,
		"completed_at": completedAt,
		"error":        task.Error,
	}, nil
}

func deserializeTask(data map[string]string) (*ScanTask, error) {
	var report *scanner.ScanReport
	if raw, ok := data["report"]; ok && raw != "" {
		report = &scanner.ScanReport{}
		if err := json.Unmarshal([]byte(raw), report); err != nil {
			return nil, err
		}
	}

	var timeout float64
	if raw, ok := data["timeout"]; ok && raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", raw, err)
		}
		timeout = v
	}

	var workers int
	if raw, ok := data["workers"]; ok && raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid workers %q: %w", raw, err)
		}
		workers = v
	}

	createdAt := time.Time{}
	if raw, ok := data["created_at"]; ok && raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, err
		}
		createdAt = t
	}

	var completedAt *time.Time
	if raw, ok := data["completed_at"]; ok && raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, err
		}
		completedAt = &t
	}

	task := &ScanTask{
		ID:             data["id"],
		Status:         data["status"],
		Target:         data["target"],
		Ports:          data["ports"],
		TimeoutSeconds: timeout,
		Workers:        workers,
		Report:         report,
		CreatedAt:      createdAt,
		CompletedAt:    completedAt,
		Error:          data["error"],
	}

	return task, nil
}
