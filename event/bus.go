package event

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/id"
)

// Source describes a registered event name.
type Source struct {
	Name        string
	Description string
}

// Bus fans notifications out to subscribers. Event names are declared
// up front with Register; publishing to an undeclared name is a
// programming error surfaced in the log rather than a panic.
//
// Delivery is best-effort: each subscriber gets a buffered channel and
// notifications to a full buffer are dropped, so one stalled consumer
// cannot block the engine.
type Bus struct {
	logger  *slog.Logger
	bufSize int

	mu      sync.RWMutex
	sources map[string]Source
	subs    map[string]map[int]chan Notification
	nextSub int
}

// NewBus creates a bus whose subscriber channels buffer bufSize
// notifications.
func NewBus(logger *slog.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Bus{
		logger:  logger,
		bufSize: bufSize,
		sources: make(map[string]Source),
		subs:    make(map[string]map[int]chan Notification),
	}
}

// Register declares an event name. Re-registering a name is an error
// so two services cannot claim the same source.
func (b *Bus) Register(name, description string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sources[name]; ok {
		return fmt.Errorf("event %q already registered", name)
	}
	b.sources[name] = Source{Name: name, Description: description}
	return nil
}

// Sources lists the declared event names.
func (b *Bus) Sources() []Source {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Source, 0, len(b.sources))
	for _, s := range b.sources {
		out = append(out, s)
	}
	return out
}

// Publish sends a notification to every subscriber of name.
// Subscribers whose buffer is full miss it.
func (b *Bus) Publish(name string, action Action, key any, fields coreplane.Record) {
	n := Notification{
		ID:      id.NewEventID(),
		Name:    name,
		Action:  action,
		Key:     key,
		Fields:  fields,
		Created: time.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.sources[name]; !ok {
		b.logger.Warn("publish to unregistered event", slog.String("event", name))
		return
	}
	for subID, ch := range b.subs[name] {
		select {
		case ch <- n:
		default:
			b.logger.Warn("event dropped, subscriber buffer full",
				slog.String("event", name),
				slog.Int("subscriber", subID),
			)
		}
	}
}

// Subscribe returns a channel of notifications for name and a cancel
// function that closes it. Subscribing to a name that is not yet
// registered is allowed; notifications start flowing once it is.
func (b *Bus) Subscribe(name string) (<-chan Notification, func()) {
	ch := make(chan Notification, b.bufSize)

	b.mu.Lock()
	subID := b.nextSub
	b.nextSub++
	if b.subs[name] == nil {
		b.subs[name] = make(map[int]chan Notification)
	}
	b.subs[name][subID] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[name], subID)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
