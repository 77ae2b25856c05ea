package events

import "sync"

// Fanout returns a handler that calls each non-nil handler in order.
func Fanout(handlers ...Handler) Handler {
	active := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			active = append(active, h)
		}
	}
	return func(ev EngineEvent) {
		for _, h := range active {
			h(ev)
		}
	}
}

// ToChannels returns a handler that sends every event to each channel. Sends
// block, so a slow consumer slows the stream instead of losing events.
// The caller owns the channels and closes them after the operation.
func ToChannels(chs ...chan<- EngineEvent) Handler {
	return func(ev EngineEvent) {
		for _, ch := range chs {
			ch <- ev
		}
	}
}

// Collector retains every event it sees.
type Collector struct {
	mu     sync.Mutex
	events []EngineEvent
}

// Handle records ev. It has the Handler signature.
func (c *Collector) Handle(ev EngineEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of the recorded events.
func (c *Collector) Events() []EngineEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]EngineEvent(nil), c.events...)
}

// Summary returns the last summary event, or nil when none was seen.
func (c *Collector) Summary() *SummaryEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].SummaryEvent != nil {
			return c.events[i].SummaryEvent
		}
	}
	return nil
}

// Diagnostics returns diagnostic events at or above the given severity order
// (debug < info < warning < error).
func (c *Collector) Diagnostics(min Severity) []DiagnosticEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []DiagnosticEvent
	for _, ev := range c.events {
		if d := ev.DiagnosticEvent; d != nil && severityRank(d.Severity) >= severityRank(min) {
			out = append(out, *d)
		}
	}
	return out
}

func severityRank(s Severity) int {
	switch s {
	case SeverityDebug:
		return 0
	case SeverityInfo, SeverityInfoErr:
		return 1
	case SeverityWarning:
		return 2
	case SeverityError:
		return 3
	default:
		return 1
	}
}
