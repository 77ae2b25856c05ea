package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notification is a high-level record of something a workspace did: an
// operation started or finished, a stack was created, the guard denied an
// operation. Engine events are not notifications; they are delivered through
// the operation's event handler.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id"`

	// Timestamp is when it was published.
	Timestamp time.Time `json:"timestamp"`

	// Type is the notification type.
	Type string `json:"type"`

	// Stack is the fully qualified stack name, if any.
	Stack string `json:"stack,omitempty"`

	// OperationID is the journal id of the operation, if any.
	OperationID string `json:"operation_id,omitempty"`

	// Message is a human-readable message.
	Message string `json:"message"`

	// Level is the severity (info, warning, error).
	Level string `json:"level"`

	// Data contains type-specific fields.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Notification types.
const (
	NotifyOperationStarted   = "operation.started"
	NotifyOperationSucceeded = "operation.succeeded"
	NotifyOperationFailed    = "operation.failed"
	NotifyStackCreated       = "stack.created"
	NotifyStackRemoved       = "stack.removed"
	NotifyPolicyViolation    = "policy.violation"
)

// Notification levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Subscriber handles notifications.
type Subscriber func(n Notification)

// Filter decides whether a notification is delivered.
type Filter func(n Notification) bool

// Publisher delivers notifications to subscribers, synchronously or from a
// background goroutine.
type Publisher struct {
	config      EventsConfig
	buffer      chan Notification
	subscribers []subscriberEntry
	mu          sync.RWMutex
	wg          sync.WaitGroup
	done        chan struct{}
	closeOnce   sync.Once
}

type subscriberEntry struct {
	subscriber Subscriber
	filter     Filter
}

// NewPublisher creates a publisher. A disabled publisher drops everything.
func NewPublisher(cfg EventsConfig) *Publisher {
	p := &Publisher{
		config: cfg,
		done:   make(chan struct{}),
	}
	if !cfg.Enabled || !cfg.EnableAsync {
		return p
	}

	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}
	p.buffer = make(chan Notification, size)
	p.wg.Add(1)
	go p.process()
	return p
}

// Subscribe registers a subscriber. A nil filter accepts everything.
func (p *Publisher) Subscribe(subscriber Subscriber, filter Filter) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subscribers = append(p.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// Publish delivers n. In async mode a full buffer drops the notification and
// returns an error.
func (p *Publisher) Publish(n Notification) error {
	if !p.config.Enabled {
		return nil
	}

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	if n.Level == "" {
		n.Level = LevelInfo
	}

	if p.buffer == nil {
		p.deliver(n)
		return nil
	}

	select {
	case <-p.done:
		return fmt.Errorf("notification publisher stopped")
	default:
	}

	select {
	case p.buffer <- n:
		return nil
	case <-p.done:
		return fmt.Errorf("notification publisher stopped")
	default:
		return fmt.Errorf("notification buffer full, %s dropped", n.Type)
	}
}

// OperationStarted publishes an operation.started notification.
func (p *Publisher) OperationStarted(stack, kind, operationID string) error {
	return p.Publish(Notification{
		Type:        NotifyOperationStarted,
		Stack:       stack,
		OperationID: operationID,
		Message:     fmt.Sprintf("%s started on stack %s", kind, stack),
		Data:        map[string]interface{}{"kind": kind},
	})
}

// OperationFinished publishes operation.succeeded or operation.failed.
func (p *Publisher) OperationFinished(stack, kind, operationID string, duration time.Duration, err error) error {
	n := Notification{
		Type:        NotifyOperationSucceeded,
		Stack:       stack,
		OperationID: operationID,
		Message:     fmt.Sprintf("%s succeeded on stack %s", kind, stack),
		Data: map[string]interface{}{
			"kind":     kind,
			"duration": duration.Seconds(),
		},
	}
	if err != nil {
		n.Type = NotifyOperationFailed
		n.Level = LevelError
		n.Message = fmt.Sprintf("%s failed on stack %s: %v", kind, stack, err)
		n.Data["error"] = err.Error()
	}
	return p.Publish(n)
}

// StackChanged publishes stack.created or stack.removed.
func (p *Publisher) StackChanged(stack string, removed bool) error {
	n := Notification{
		Type:    NotifyStackCreated,
		Stack:   stack,
		Message: fmt.Sprintf("stack %s created", stack),
	}
	if removed {
		n.Type = NotifyStackRemoved
		n.Message = fmt.Sprintf("stack %s removed", stack)
	}
	return p.Publish(n)
}

// PolicyViolation publishes a policy.violation notification.
func (p *Publisher) PolicyViolation(stack, kind, policy, reason string) error {
	return p.Publish(Notification{
		Type:    NotifyPolicyViolation,
		Stack:   stack,
		Level:   LevelError,
		Message: fmt.Sprintf("%s on stack %s denied by %s: %s", kind, stack, policy, reason),
		Data: map[string]interface{}{
			"kind":   kind,
			"policy": policy,
			"reason": reason,
		},
	})
}

func (p *Publisher) process() {
	defer p.wg.Done()

	batchSize := p.config.MaxBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	batch := make([]Notification, 0, batchSize)
	flush := func() {
		for _, n := range batch {
			p.deliver(n)
		}
		batch = batch[:0]
	}

	for {
		select {
		case n := <-p.buffer:
			batch = append(batch, n)
			// deliver as soon as the buffer is momentarily empty
			if len(batch) >= batchSize || len(p.buffer) == 0 {
				flush()
			}
		case <-p.done:
			for {
				select {
				case n := <-p.buffer:
					batch = append(batch, n)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (p *Publisher) deliver(n Notification) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, entry := range p.subscribers {
		if entry.filter != nil && !entry.filter(n) {
			continue
		}
		entry.subscriber(n)
	}
}

// Shutdown stops the background goroutine after delivering buffered
// notifications.
func (p *Publisher) Shutdown(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.done) })

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification publisher shutdown timeout")
	}
}

// FilterByType accepts notifications of the given types.
func FilterByType(types ...string) Filter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(n Notification) bool {
		return set[n.Type]
	}
}

// FilterByStack accepts notifications for one stack.
func FilterByStack(stack string) Filter {
	return func(n Notification) bool {
		return n.Stack == stack
	}
}
