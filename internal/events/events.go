package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/trendreview/trendreview/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventLog         EventType = "log"
	EventProgress    EventType = "progress"     // One status check of a running job
	EventStateChange EventType = "state_change" // Workflow stage transition
	EventAttention   EventType = "attention"    // Highlight a control the user should use next
	EventError       EventType = "error"
	EventComplete    EventType = "complete" // Analysis reached a terminal outcome
)

// LogLevel defines log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

func newBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// LogEvent represents log messages
type LogEvent struct {
	BaseEvent
	Level   LogLevel
	Message string
	Stage   string
	JobID   string
	Error   error
}

// ProgressEvent reports one status check of a running analysis job
type ProgressEvent struct {
	BaseEvent
	JobID       string
	Attempt     int
	MaxAttempts int
	Errors      int
	MaxErrors   int
	Status      string // Server status string, empty on transport errors
	Message     string
	Elapsed     time.Duration
}

// StateChangeEvent represents workflow stage transitions
type StateChangeEvent struct {
	BaseEvent
	OldStage     string
	NewStage     string
	JobID        string
	ErrorMessage string
}

// AttentionEvent asks the presentation layer to highlight a control for a while
type AttentionEvent struct {
	BaseEvent
	Control  string // "start_analysis", "materialize_selection", ...
	Reason   string
	Duration time.Duration
}

// ErrorEvent represents error conditions
type ErrorEvent struct {
	BaseEvent
	Stage     string
	JobID     string
	Error     error
	Retryable bool
}

// CompleteEvent represents the terminal outcome of one analysis job
type CompleteEvent struct {
	BaseEvent
	JobID    string
	Outcome  string // "completed", "failed", "timed_out"
	Attempts int
	Errors   int
	Duration time.Duration
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking. Events that do
// not fit into a subscriber's buffer are dropped and counted.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishLog is a convenience method for publishing log events
func (eb *EventBus) PublishLog(level LogLevel, message, stage, jobID string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: newBase(EventLog),
		Level:     level,
		Message:   message,
		Stage:     stage,
		JobID:     jobID,
		Error:     err,
	})
}

// PublishStateChange is a convenience method for publishing stage transitions
func (eb *EventBus) PublishStateChange(oldStage, newStage, jobID, errorMsg string) {
	eb.Publish(&StateChangeEvent{
		BaseEvent:    newBase(EventStateChange),
		OldStage:     oldStage,
		NewStage:     newStage,
		JobID:        jobID,
		ErrorMessage: errorMsg,
	})
}

// PublishAttention is a convenience method for publishing highlight requests
func (eb *EventBus) PublishAttention(control, reason string, d time.Duration) {
	eb.Publish(&AttentionEvent{
		BaseEvent: newBase(EventAttention),
		Control:   control,
		Reason:    reason,
		Duration:  d,
	})
}

// PublishProgress is a convenience method for publishing poll progress
func (eb *EventBus) PublishProgress(p ProgressEvent) {
	p.BaseEvent = newBase(EventProgress)
	eb.Publish(&p)
}

// PublishComplete is a convenience method for publishing terminal job outcomes
func (eb *EventBus) PublishComplete(jobID, outcome string, attempts, errs int, d time.Duration) {
	eb.Publish(&CompleteEvent{
		BaseEvent: newBase(EventComplete),
		JobID:     jobID,
		Outcome:   outcome,
		Attempts:  attempts,
		Errors:    errs,
		Duration:  d,
	})
}

// PublishError is a convenience method for publishing errors
func (eb *EventBus) PublishError(stage, jobID string, err error, retryable bool) {
	eb.Publish(&ErrorEvent{
		BaseEvent: newBase(EventError),
		Stage:     stage,
		JobID:     jobID,
		Error:     err,
		Retryable: retryable,
	})
}

// Unsubscribe removes a subscription channel from a specific event type
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel from all event types
// Use this when cleaning up a subscriber that subscribed to multiple event types
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// ResetDroppedEventCount resets the dropped event counter to zero
func (eb *EventBus) ResetDroppedEventCount() int64 {
	return eb.droppedEvents.Swap(0)
}
