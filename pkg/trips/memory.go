package trips

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/travigo/livetrack/pkg/ctdf"
	"golang.org/x/exp/slices"
)

// MemoryStore keeps trips in process memory. Used for local runs and tests,
// it offers the same guarantees as MongoStore within a single instance.
type MemoryStore struct {
	mu sync.RWMutex

	trips          map[string]*ctdf.Trip
	activeByDriver map[string]string

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:          map[string]*ctdf.Trip{},
		activeByDriver: map[string]string{},
		now:            time.Now,
	}
}

func (m *MemoryStore) StartTrip(ctx context.Context, params StartTripParams) (*ctdf.Trip, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.activeByDriver[params.DriverRef]; exists {
		return nil, ctdf.ErrConflict
	}

	trip := newTrip(params, m.now())
	m.trips[trip.PrimaryIdentifier] = &trip
	m.activeByDriver[trip.DriverRef] = trip.PrimaryIdentifier

	return cloneTrip(&trip), nil
}

func (m *MemoryStore) FindActive(ctx context.Context, driverRef string) (*ctdf.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tripRef, exists := m.activeByDriver[driverRef]
	if !exists {
		return nil, nil
	}

	return cloneTrip(m.trips[tripRef]), nil
}

func (m *MemoryStore) GetTrip(ctx context.Context, tripRef string) (*ctdf.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	trip, exists := m.trips[tripRef]
	if !exists {
		return nil, ctdf.ErrNotFound
	}

	return cloneTrip(trip), nil
}

func (m *MemoryStore) ListActive(ctx context.Context, routeNumber string) ([]ctdf.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	trips := []ctdf.Trip{}
	for _, tripRef := range m.activeByDriver {
		trip := m.trips[tripRef]
		if routeNumber != "" && trip.RouteNumber != routeNumber {
			continue
		}
		trips = append(trips, trip.WithoutHistory())
	}

	sort.Slice(trips, func(i, j int) bool {
		return trips[i].StartTime.Before(trips[j].StartTime)
	})

	return trips, nil
}

func (m *MemoryStore) AppendLocation(ctx context.Context, tripRef string, driverRef string, sample ctdf.LocationSample) (*ctdf.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	trip, err := m.ownedActiveTrip(tripRef, driverRef)
	if err != nil {
		return nil, err
	}

	updated := Ingest(*trip, sample)
	updated.ModificationDateTime = m.now()
	m.trips[tripRef] = &updated

	return cloneTrip(&updated), nil
}

func (m *MemoryStore) EndTrip(ctx context.Context, tripRef string, driverRef string) (*ctdf.Trip, error) {
	return m.finish(tripRef, driverRef, ctdf.TripStatusCompleted)
}

func (m *MemoryStore) CancelTrip(ctx context.Context, tripRef string, driverRef string) (*ctdf.Trip, error) {
	return m.finish(tripRef, driverRef, ctdf.TripStatusCancelled)
}

func (m *MemoryStore) finish(tripRef string, driverRef string, status ctdf.TripStatus) (*ctdf.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	trip, err := m.ownedActiveTrip(tripRef, driverRef)
	if err != nil {
		return nil, err
	}

	now := m.now()
	trip.Status = status
	trip.ModificationDateTime = now
	if status == ctdf.TripStatusCompleted {
		trip.EndTime = &now
	}

	delete(m.activeByDriver, driverRef)

	return cloneTrip(trip), nil
}

func (m *MemoryStore) ListHistory(ctx context.Context, query HistoryQuery) (*HistoryPage, error) {
	query = query.Normalise()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matching []ctdf.Trip
	for _, trip := range m.trips {
		if trip.DriverRef != query.DriverRef || !slices.Contains(query.Statuses, trip.Status) {
			continue
		}
		matching = append(matching, trip.WithoutHistory())
	}

	sort.Slice(matching, func(i, j int) bool {
		return matching[i].StartTime.After(matching[j].StartTime)
	})

	total := int64(len(matching))
	start := query.skip()
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + int64(query.PageSize)
	if end > total {
		end = total
	}

	return newHistoryPage(query, matching[start:end], total), nil
}

func (m *MemoryStore) ownedActiveTrip(tripRef string, driverRef string) (*ctdf.Trip, error) {
	trip, exists := m.trips[tripRef]
	if !exists || !trip.OwnedBy(driverRef) {
		return nil, ctdf.ErrNotFound
	}
	return trip, nil
}

// cloneTrip copies a trip so callers never share memory with the store
func cloneTrip(trip *ctdf.Trip) *ctdf.Trip {
	clone := *trip

	if trip.EndTime != nil {
		endTime := *trip.EndTime
		clone.EndTime = &endTime
	}
	if trip.CurrentLocation != nil {
		current := *trip.CurrentLocation
		clone.CurrentLocation = &current
	}
	if trip.LocationHistory != nil {
		clone.LocationHistory = make([]ctdf.LocationSample, len(trip.LocationHistory))
		copy(clone.LocationHistory, trip.LocationHistory)
	}

	return &clone
}
