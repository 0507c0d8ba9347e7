package livetracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrack/pkg/ctdf"
	"github.com/travigo/livetrack/pkg/identity"
)

// Sender is the outbound half of a transport connection. Send must not block.
type Sender interface {
	Send(frame []byte) error
	Close() error
}

type Connection struct {
	ID string

	sender Sender

	mu       sync.RWMutex
	identity *ctdf.Identity
	lastSeen time.Time
}

// Identity returns the identity bound to the connection, if any
func (c *Connection) Identity() (ctdf.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.identity == nil {
		return ctdf.Identity{}, false
	}
	return *c.identity, true
}

func (c *Connection) LastSeen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}

// ConnectionRegistry owns every live connection and the identity bound to it.
// A connection leaves the registry and all route groups exactly once, when
// its transport closes or the liveness monitor evicts it.
type ConnectionRegistry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	bySubject   map[string]map[string]struct{}

	subscriptions *SubscriptionRegistry
	verifier      identity.Verifier
	verifyTimeout time.Duration

	metrics *Collector
	now     func() time.Time
}

func NewConnectionRegistry(verifier identity.Verifier, subscriptions *SubscriptionRegistry, config Config, metrics *Collector) *ConnectionRegistry {
	return &ConnectionRegistry{
		connections:   map[string]*Connection{},
		bySubject:     map[string]map[string]struct{}{},
		subscriptions: subscriptions,
		verifier:      verifier,
		verifyTimeout: config.VerifyTimeout,
		metrics:       metrics,
		now:           time.Now,
	}
}

// Register adds a new unauthenticated connection and returns its id
func (r *ConnectionRegistry) Register(sender Sender) string {
	connection := &Connection{
		ID:       uuid.NewString(),
		sender:   sender,
		lastSeen: r.now(),
	}

	r.mu.Lock()
	r.connections[connection.ID] = connection
	r.mu.Unlock()

	r.metrics.Connections.Inc()

	log.Debug().Str("connection", connection.ID).Msg("Connection registered")

	return connection.ID
}

// Authenticate verifies the token and binds the resulting identity to the
// connection, replacing any earlier one. On failure the connection stays open
// and is left unauthenticated.
func (r *ConnectionRegistry) Authenticate(ctx context.Context, connectionID string, token string) (ctdf.Identity, error) {
	if token == "" {
		r.unbind(connectionID)
		return ctdf.Identity{}, fmt.Errorf("%w: authentication token required", ctdf.ErrAuth)
	}

	if r.verifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.verifyTimeout)
		defer cancel()
	}

	verified, err := r.verifier.Verify(ctx, token)
	if err != nil {
		r.unbind(connectionID)

		if errors.Is(err, context.DeadlineExceeded) {
			return ctdf.Identity{}, fmt.Errorf("%w: verification timed out", ctdf.ErrAuth)
		}
		return ctdf.Identity{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	connection, exists := r.connections[connectionID]
	if !exists {
		return ctdf.Identity{}, fmt.Errorf("%w: connection closed", ctdf.ErrNotFound)
	}

	r.unbindLocked(connection)

	connection.mu.Lock()
	connection.identity = &verified
	connection.mu.Unlock()

	subjectConnections, exists := r.bySubject[verified.SubjectID]
	if !exists {
		subjectConnections = map[string]struct{}{}
		r.bySubject[verified.SubjectID] = subjectConnections
	}
	subjectConnections[connectionID] = struct{}{}

	r.metrics.AuthenticatedConnections.Inc()

	return verified, nil
}

func (r *ConnectionRegistry) unbind(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if connection, exists := r.connections[connectionID]; exists {
		r.unbindLocked(connection)
	}
}

// unbindLocked clears the identity of a connection. Caller holds r.mu.
func (r *ConnectionRegistry) unbindLocked(connection *Connection) {
	connection.mu.Lock()
	previous := connection.identity
	connection.identity = nil
	connection.mu.Unlock()

	if previous == nil {
		return
	}

	if subjectConnections, exists := r.bySubject[previous.SubjectID]; exists {
		delete(subjectConnections, connection.ID)
		if len(subjectConnections) == 0 {
			delete(r.bySubject, previous.SubjectID)
		}
	}

	r.metrics.AuthenticatedConnections.Dec()
}

// Deregister removes the connection from the registry, the subject index and
// every route group, then closes its sender. Returns false if it was already gone.
func (r *ConnectionRegistry) Deregister(connectionID string) bool {
	r.mu.Lock()
	connection, exists := r.connections[connectionID]
	if !exists {
		r.mu.Unlock()
		return false
	}

	r.unbindLocked(connection)
	delete(r.connections, connectionID)
	r.mu.Unlock()

	left := r.subscriptions.RemoveAll(connectionID)

	if err := connection.sender.Close(); err != nil {
		log.Debug().Err(err).Str("connection", connectionID).Msg("Closing connection")
	}

	r.metrics.Connections.Dec()

	log.Debug().
		Str("connection", connectionID).
		Strs("routes", left).
		Msg("Connection deregistered")

	return true
}

// Subscribe joins a live connection to a route group. The registry lock is
// held across the join so a concurrent Deregister either sees the membership
// in RemoveAll or the join is refused.
func (r *ConnectionRegistry) Subscribe(connectionID string, routeNumber string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.connections[connectionID]; !exists {
		return false, fmt.Errorf("%w: connection closed", ctdf.ErrNotFound)
	}

	return r.subscriptions.Join(connectionID, routeNumber), nil
}

func (r *ConnectionRegistry) Get(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connection, exists := r.connections[connectionID]
	return connection, exists
}

// Identity returns the identity bound to a live connection
func (r *ConnectionRegistry) Identity(connectionID string) (ctdf.Identity, bool) {
	connection, exists := r.Get(connectionID)
	if !exists {
		return ctdf.Identity{}, false
	}
	return connection.Identity()
}

// Send hands a frame to one connection. Unknown connections are ignored.
func (r *ConnectionRegistry) Send(connectionID string, frame []byte) bool {
	connection, exists := r.Get(connectionID)
	if !exists {
		return false
	}

	if err := connection.sender.Send(frame); err != nil {
		r.metrics.DroppedSends.Inc()
		log.Debug().Err(err).Str("connection", connectionID).Msg("Dropped frame")
		return false
	}

	return true
}

// SendMany hands a frame to each listed connection and returns the number accepted
func (r *ConnectionRegistry) SendMany(connectionIDs []string, frame []byte) int {
	delivered := 0
	for _, connectionID := range connectionIDs {
		if r.Send(connectionID, frame) {
			delivered++
		}
	}
	return delivered
}

// IDs is a snapshot of every live connection id
func (r *ConnectionRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.connections))
	for connectionID := range r.connections {
		ids = append(ids, connectionID)
	}
	return ids
}

// ConnectionsForSubject lists the live connections authenticated as subjectID
func (r *ConnectionRegistry) ConnectionsForSubject(subjectID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.bySubject[subjectID]))
	for connectionID := range r.bySubject[subjectID] {
		ids = append(ids, connectionID)
	}
	return ids
}

// Touch records inbound activity on a connection
func (r *ConnectionRegistry) Touch(connectionID string) {
	connection, exists := r.Get(connectionID)
	if !exists {
		return
	}

	now := r.now()
	connection.mu.Lock()
	connection.lastSeen = now
	connection.mu.Unlock()
}

// Stale lists connections with no activity since cutoff
func (r *ConnectionRegistry) Stale(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []string
	for connectionID, connection := range r.connections {
		if connection.LastSeen().Before(cutoff) {
			stale = append(stale, connectionID)
		}
	}
	return stale
}

func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}
