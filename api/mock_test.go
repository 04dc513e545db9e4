package api

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"synscope/geo"
	"synscope/scanner"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memStore is an in-memory TaskStore.
type memStore struct {
	mu      sync.Mutex
	tasks   map[string]ScanTask
	queue   []string
	pushErr error
	pingErr error
	updates []string
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[string]ScanTask)}
}

func (m *memStore) CreateTask(ctx context.Context, task *ScanTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = *task
	return nil
}

func (m *memStore) GetTask(ctx context.Context, id string) (*ScanTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return &task, nil
}

func (m *memStore) UpdateTask(ctx context.Context, task *ScanTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = *task
	m.updates = append(m.updates, task.Status)
	return nil
}

func (m *memStore) PushToQueue(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pushErr != nil {
		return m.pushErr
	}
	m.queue = append(m.queue, taskID)
	return nil
}

func (m *memStore) PopFromQueue(ctx context.Context, wait time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return "", ErrQueueEmpty
	}
	id := m.queue[0]
	m.queue = m.queue[1:]
	return id, nil
}

func (m *memStore) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *memStore) task(id string) ScanTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id]
}

// stubLookup answers host info queries from fixed values and counts calls.
type stubLookup struct {
	mu    sync.Mutex
	info  *geo.HostInfo
	err   error
	calls int
}

func (s *stubLookup) Lookup(ctx context.Context, ip string) (*geo.HostInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	info := *s.info
	return &info, nil
}

// silentTransport swallows every SYN and never delivers a reply.
type silentTransport struct{}

func (silentTransport) LocalAddr(dst net.IP) (net.IP, error) { return net.IPv4(10, 0, 0, 1), nil }

func (silentTransport) Listen(src net.IP, srcPort, dstPort uint16) (scanner.Listener, error) {
	return silentListener{ch: make(chan scanner.CapturedPacket)}, nil
}

func (silentTransport) Send(dst net.IP, packet []byte) error { return nil }
func (silentTransport) Close() error                         { return nil }

type silentListener struct {
	ch chan scanner.CapturedPacket
}

func (l silentListener) Packets() <-chan scanner.CapturedPacket { return l.ch }
func (l silentListener) Close() error                          { return nil }
