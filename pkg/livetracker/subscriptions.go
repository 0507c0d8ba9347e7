package livetracker

import "sync"

// SubscriptionRegistry maps routes to the connections following them, with a
// reverse index so a closing connection can leave every group at once.
type SubscriptionRegistry struct {
	mu sync.RWMutex

	groups      map[string]map[string]struct{} // route -> connections
	memberships map[string]map[string]struct{} // connection -> routes

	metrics *Collector
}

func NewSubscriptionRegistry(metrics *Collector) *SubscriptionRegistry {
	return &SubscriptionRegistry{
		groups:      map[string]map[string]struct{}{},
		memberships: map[string]map[string]struct{}{},
		metrics:     metrics,
	}
}

// Join adds the connection to the route group. Returns false when it was already a member.
func (s *SubscriptionRegistry) Join(connectionID string, routeNumber string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, exists := s.groups[routeNumber]
	if !exists {
		members = map[string]struct{}{}
		s.groups[routeNumber] = members
	}
	if _, member := members[connectionID]; member {
		return false
	}
	members[connectionID] = struct{}{}

	routes, exists := s.memberships[connectionID]
	if !exists {
		routes = map[string]struct{}{}
		s.memberships[connectionID] = routes
	}
	routes[routeNumber] = struct{}{}

	s.metrics.Subscriptions.Inc()

	return true
}

// Leave removes the connection from the route group. Returns false when it was not a member.
func (s *SubscriptionRegistry) Leave(connectionID string, routeNumber string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.leave(connectionID, routeNumber)
}

func (s *SubscriptionRegistry) leave(connectionID string, routeNumber string) bool {
	members := s.groups[routeNumber]
	if _, member := members[connectionID]; !member {
		return false
	}

	delete(members, connectionID)
	if len(members) == 0 {
		delete(s.groups, routeNumber)
	}

	routes := s.memberships[connectionID]
	delete(routes, routeNumber)
	if len(routes) == 0 {
		delete(s.memberships, connectionID)
	}

	s.metrics.Subscriptions.Dec()

	return true
}

// RemoveAll takes the connection out of every group and returns the routes it left
func (s *SubscriptionRegistry) RemoveAll(connectionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var left []string
	for routeNumber := range s.memberships[connectionID] {
		left = append(left, routeNumber)
	}
	for _, routeNumber := range left {
		s.leave(connectionID, routeNumber)
	}

	return left
}

func (s *SubscriptionRegistry) MembersOf(routeNumber string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]string, 0, len(s.groups[routeNumber]))
	for connectionID := range s.groups[routeNumber] {
		members = append(members, connectionID)
	}

	return members
}

func (s *SubscriptionRegistry) RoutesOf(connectionID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	routes := make([]string, 0, len(s.memberships[connectionID]))
	for routeNumber := range s.memberships[connectionID] {
		routes = append(routes, routeNumber)
	}

	return routes
}

func (s *SubscriptionRegistry) IsMember(connectionID string, routeNumber string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, member := s.groups[routeNumber][connectionID]
	return member
}

// Count is the total number of memberships across all groups
func (s *SubscriptionRegistry) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, routes := range s.memberships {
		count += len(routes)
	}
	return count
}
