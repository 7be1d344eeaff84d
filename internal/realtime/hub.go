// Package realtime fans workflow progress and status events out to
// websocket subscribers, either per workflow or globally.
package realtime

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldservice/pkg/log"
)

type EventType string

const (
	ExecutionStarted   EventType = "execution_started"
	NodeExecuting      EventType = "node_executing"
	NodeCompleted      EventType = "node_completed"
	ExecutionCompleted EventType = "execution_completed"
	ExecutionError     EventType = "execution_error"
	StatusChanged      EventType = "status_changed"
)

type Event struct {
	Type        EventType `json:"type"`
	WorkflowID  string    `json:"workflowId"`
	ExecutionID string    `json:"executionId,omitempty"`
	NodeID      string    `json:"nodeId,omitempty"`
	Message     string    `json:"message,omitempty"`
	Error       string    `json:"error,omitempty"`
	Data        any       `json:"data,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

const defaultBuffer = 64

type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	logger *slog.Logger
}

type Subscriber struct {
	ch chan Event

	mu        sync.Mutex
	global    bool
	workflows map[string]struct{}
	closed    bool
	dropped   int
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: map[*Subscriber]struct{}{}, logger: logger}
}

// Subscribe registers a subscriber that receives nothing until it joins a
// workflow or the global feed.
func (h *Hub) Subscribe(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &Subscriber{ch: make(chan Event, buffer), workflows: map[string]struct{}{}}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Publish delivers ev to every matching subscriber without blocking. A
// subscriber whose buffer is full misses the event.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if !s.deliver(ev) {
			h.logger.Warn("realtime subscriber lagging, event dropped",
				log.WorkflowID(ev.WorkflowID), slog.String("type", string(ev.Type)))
		}
	}
}

// Close unsubscribes everyone. Connected websocket clients receive a close
// frame.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		h.Unsubscribe(s)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Join subscribes to one workflow, or to every event when workflowID is empty.
func (s *Subscriber) Join(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if workflowID == "" {
		s.global = true
		return
	}
	s.workflows[workflowID] = struct{}{}
}

func (s *Subscriber) Leave(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if workflowID == "" {
		s.global = false
		return
	}
	delete(s.workflows, workflowID)
}

func (s *Subscriber) Events() <-chan Event { return s.ch }

func (s *Subscriber) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// deliver reports false only when the event matched but was dropped.
func (s *Subscriber) deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	if _, ok := s.workflows[ev.WorkflowID]; !ok && !s.global {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		s.dropped++
		return false
	}
}

// Execution reports the progress of one multi-step run of a workflow.
type Execution struct {
	hub        *Hub
	WorkflowID string
	ID         string
}

func (h *Hub) Start(workflowID string, data any) *Execution {
	e := &Execution{hub: h, WorkflowID: workflowID, ID: uuid.NewString()}
	h.Publish(Event{Type: ExecutionStarted, WorkflowID: workflowID, ExecutionID: e.ID, Data: data})
	return e
}

// Node runs fn as the named step, publishing its start and outcome. A
// failing step ends the execution with execution_error.
func (e *Execution) Node(nodeID string, fn func() error) error {
	e.hub.Publish(Event{Type: NodeExecuting, WorkflowID: e.WorkflowID, ExecutionID: e.ID, NodeID: nodeID})
	if err := fn(); err != nil {
		e.fail(nodeID, err)
		return err
	}
	e.hub.Publish(Event{Type: NodeCompleted, WorkflowID: e.WorkflowID, ExecutionID: e.ID, NodeID: nodeID})
	return nil
}

func (e *Execution) Complete(data any) {
	e.hub.Publish(Event{Type: ExecutionCompleted, WorkflowID: e.WorkflowID, ExecutionID: e.ID, Data: data})
}

func (e *Execution) Fail(err error) {
	e.fail("", err)
}

func (e *Execution) fail(nodeID string, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	e.hub.Publish(Event{
		Type: ExecutionError, WorkflowID: e.WorkflowID, ExecutionID: e.ID,
		NodeID: nodeID, Error: err.Error(),
	})
}
