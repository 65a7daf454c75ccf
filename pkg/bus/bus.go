// Package bus implements the NATS-backed change notification pub/sub
// and doubles as the request/reply transport used
// by pkg/matcher's HE remote-decrypt path, grounded on
// original_source/nats_service.py and key_client.py.
package bus

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Event is one change-bus message: exactly one of the event-specific
// fields (TemplateID+IdentityID, or Count) is populated depending on
// Event.
type Event struct {
	NodeID     string     `json:"node_id"`
	Event      string     `json:"event"`
	TemplateID *uuid.UUID `json:"template_id,omitempty"`
	IdentityID *uuid.UUID `json:"identity_id,omitempty"`
	Count      *int       `json:"count,omitempty"`
}

const (
	EventEnrolled     = "enrolled"
	EventBulkEnrolled = "bulk_enrolled"
	EventDeleted      = "deleted"
)

// Conn wraps a NATS connection with the node identity used for
// self-exclusion and the slow-consumer backoff logging original_source
// applies.
type Conn struct {
	nc     *nats.Conn
	nodeID string
	log    *logrus.Entry

	mu                 sync.Mutex
	slowConsumerCount  int
	slowConsumerLastAt time.Time
}

// slowConsumerLogInterval throttles the "slow consumer" warning to at
// most once per window, matching the 10s window in nats_service.py.
const slowConsumerLogInterval = 10 * time.Second

// Connect dials url, generating a random 12-hex-character node ID the
// same way original_source derives one (uuid4().hex[:12]).
func Connect(url string, log *logrus.Entry) (*Conn, error) {
	c := &Conn{nodeID: strings.ReplaceAll(uuid.NewString(), "-", "")[:12], log: log}
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ErrorHandler(c.onError),
		nats.DisconnectErrHandler(func(*nats.Conn, error) {
			log.Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			log.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	c.nc = nc
	return c, nil
}

func (c *Conn) onError(_ *nats.Conn, _ *nats.Subscription, err error) {
	if err == nats.ErrSlowConsumer {
		c.mu.Lock()
		c.slowConsumerCount++
		now := time.Now()
		if now.Sub(c.slowConsumerLastAt) >= slowConsumerLogInterval {
			count := c.slowConsumerCount
			c.slowConsumerCount = 0
			c.slowConsumerLastAt = now
			c.mu.Unlock()
			c.log.WithField("dropped", count).Warn("NATS slow consumer: messages dropped")
			return
		}
		c.mu.Unlock()
		return
	}
	c.log.WithError(err).Error("NATS error")
}

// NodeID returns this connection's node identity.
func (c *Conn) NodeID() string {
	return c.nodeID
}

// IsConnected reports whether the underlying connection is currently
// connected.
func (c *Conn) IsConnected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// Drain flushes and closes the connection.
func (c *Conn) Drain() error {
	return c.nc.Drain()
}

// RawConn exposes the underlying *nats.Conn for Request/reply use by
// pkg/matcher's HE remote-decrypt client, which owns its own wire
// formats and does not belong in this package.
func (c *Conn) RawConn() *nats.Conn {
	return c.nc
}
