package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Reloader is the gallery operation a debounced template-change event
// triggers.
type Reloader interface {
	ReloadFromStore(ctx context.Context) (int, error)
}

// ChangeBus publishes and subscribes to the three template-change
// events (enrolled, bulk_enrolled, deleted) on a single configurable
// subject.
type ChangeBus struct {
	conn    *Conn
	subject string
}

// NewChangeBus binds a ChangeBus to subject on conn.
func NewChangeBus(conn *Conn, subject string) *ChangeBus {
	return &ChangeBus{conn: conn, subject: subject}
}

func (b *ChangeBus) publish(event Event) error {
	event.NodeID = b.conn.nodeID
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.conn.nc.Publish(b.subject, payload)
}

// PublishEnrolled announces a single new template.
func (b *ChangeBus) PublishEnrolled(templateID, identityID uuid.UUID) error {
	return b.publish(Event{Event: EventEnrolled, TemplateID: &templateID, IdentityID: &identityID})
}

// PublishBulkEnrolled announces the completion of a batch enrollment.
func (b *ChangeBus) PublishBulkEnrolled(count int) error {
	return b.publish(Event{Event: EventBulkEnrolled, Count: &count})
}

// PublishDeleted announces an identity deletion.
func (b *ChangeBus) PublishDeleted(identityID uuid.UUID) error {
	return b.publish(Event{Event: EventDeleted, IdentityID: &identityID})
}

// Subscribe starts listening for change events from other nodes.
// Events originating from this node are ignored. Any other event
// (re)starts a debounce timer of debounce; if it fires without being
// canceled by a later event, reloader.ReloadFromStore is called.
// Subscribe returns an unsubscribe function.
func (b *ChangeBus) Subscribe(reloader Reloader, debounce time.Duration, storeAvailable func() bool) (func() error, error) {
	var mu sync.Mutex
	var timer *time.Timer

	fireReload := func() {
		if !storeAvailable() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		reloader.ReloadFromStore(ctx)
	}

	sub, err := b.conn.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		if event.NodeID == b.conn.nodeID {
			return
		}

		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, fireReload)
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}

	return func() error {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		return sub.Unsubscribe()
	}, nil
}
