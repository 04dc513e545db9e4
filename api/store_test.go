package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"synscope/geo"
	"synscope/scanner"
)

func newMiniredisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr, client
}

func TestRedisStoreTaskRoundTrip(t *testing.T) {
	store, _, _ := newMiniredisStore(t)
	ctx := context.Background()

	created := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	task := &ScanTask{
		ID:             "a3f5c62e-1234-4f72-a84a-1c2d3e4f5678",
		Status:         StatusPending,
		Target:         "192.0.2.10",
		Ports:          "22,80-81",
		TimeoutSeconds: 0.25,
		Workers:        8,
		CreatedAt:      created,
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Target != task.Target || got.Ports != task.Ports || got.TimeoutSeconds != 0.25 || got.Workers != 8 {
		t.Fatalf("task fields lost: %+v", got)
	}
	if !got.CreatedAt.Equal(created) || got.CompletedAt != nil || got.Report != nil {
		t.Fatalf("unexpected timestamps or report: %+v", got)
	}

	done := created.Add(time.Minute)
	task.Status = StatusCompleted
	task.CompletedAt = &done
	task.Report = &scanner.ScanReport{
		Target:    "192.0.2.10",
		Requested: 3,
		Results: []scanner.ProbeResult{
			{Port: 22, State: scanner.StateOpen, Service: "ssh"},
			{Port: 80, State: scanner.StateClosed},
			{Port: 81, State: scanner.StateFiltered},
		},
	}
	if err := store.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	got, err = store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask after update: %v", err)
	}
	if got.Status != StatusCompleted || got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Fatalf("completion not persisted: %+v", got)
	}
	if got.Report == nil || len(got.Report.Results) != 3 || got.Report.Results[0].Service != "ssh" {
		t.Fatalf("report not persisted: %+v", got.Report)
	}
}

func TestRedisStoreGetMissingTask(t *testing.T) {
	store, _, _ := newMiniredisStore(t)
	if _, err := store.GetTask(context.Background(), "nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestRedisStoreQueueIsFIFO(t *testing.T) {
	store, _, _ := newMiniredisStore(t)
	ctx := context.Background()

	for _, id := range []string{"first", "second"} {
		if err := store.PushToQueue(ctx, id); err != nil {
			t.Fatalf("PushToQueue: %v", err)
		}
	}
	for _, want := range []string{"first", "second"} {
		got, err := store.PopFromQueue(ctx, time.Second)
		if err != nil {
			t.Fatalf("PopFromQueue: %v", err)
		}
		if got != want {
			t.Fatalf("popped %q, want %q", got, want)
		}
	}

	if _, err := store.PopFromQueue(ctx, time.Second); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("err = %v, want ErrQueueEmpty", err)
	}
}

func TestRedisStoreHostInfoCache(t *testing.T) {
	store, mr, _ := newMiniredisStore(t)
	ctx := context.Background()

	if _, err := store.GetHostInfo(ctx, "8.8.8.8"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("err = %v, want ErrCacheMiss", err)
	}

	info := &geo.HostInfo{Country: "United States", Region: "Virginia", City: "Ashburn", Latitude: 39.03, Longitude: -77.5, Organization: "Google LLC"}
	if err := store.SetHostInfo(ctx, "8.8.8.8", info, time.Hour); err != nil {
		t.Fatalf("SetHostInfo: %v", err)
	}
	if !mr.Exists("hostinfo:8.8.8.8") {
		t.Fatal("expected hostinfo:8.8.8.8 key")
	}

	got, err := store.GetHostInfo(ctx, "8.8.8.8")
	if err != nil {
		t.Fatalf("GetHostInfo: %v", err)
	}
	if *got != *info {
		t.Fatalf("cached = %+v, want %+v", *got, *info)
	}

	mr.FastForward(time.Hour + time.Second)
	if _, err := store.GetHostInfo(ctx, "8.8.8.8"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("err after expiry = %v, want ErrCacheMiss", err)
	}
}

func TestRedisStorePing(t *testing.T) {
	store, mr, _ := newMiniredisStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	mr.Close()
	if err := store.Ping(context.Background()); err == nil {
		t.Fatal("expected ping to fail once redis is gone")
	}
}
