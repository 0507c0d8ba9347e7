package trips

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/travigo/livetrack/pkg/ctdf"
	"golang.org/x/exp/slices"
)

const (
	DefaultHistoryPageSize = 10
	MaxHistoryPageSize     = 100

	// MaxHistoryPage keeps the page offset well inside int range
	MaxHistoryPage = 1_000_000
)

// Store is the authoritative record of trips.
//
// A driver has at most one active trip at any time. Location updates and
// closure are only accepted for a trip that is active and owned by the caller;
// anything else is reported as ctdf.ErrNotFound.
type Store interface {
	StartTrip(ctx context.Context, params StartTripParams) (*ctdf.Trip, error)
	// FindActive returns the driver's active trip, or nil when there is none
	FindActive(ctx context.Context, driverRef string) (*ctdf.Trip, error)
	GetTrip(ctx context.Context, tripRef string) (*ctdf.Trip, error)
	// ListActive returns active trips without their location history, optionally for one route
	ListActive(ctx context.Context, routeNumber string) ([]ctdf.Trip, error)
	AppendLocation(ctx context.Context, tripRef string, driverRef string, sample ctdf.LocationSample) (*ctdf.Trip, error)
	EndTrip(ctx context.Context, tripRef string, driverRef string) (*ctdf.Trip, error)
	CancelTrip(ctx context.Context, tripRef string, driverRef string) (*ctdf.Trip, error)
	ListHistory(ctx context.Context, query HistoryQuery) (*HistoryPage, error)
}

type StartTripParams struct {
	DriverRef       string
	BusNumber       string
	RouteNumber     string
	RouteName       string
	InitialLocation ctdf.LocationSample
}

func (p *StartTripParams) validate() error {
	var missing []string
	if p.DriverRef == "" {
		missing = append(missing, "driverId")
	}
	if p.BusNumber == "" {
		missing = append(missing, "busNumber")
	}
	if p.RouteNumber == "" {
		missing = append(missing, "routeNumber")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ctdf.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// newTrip builds the initial document for a trip. The initial location goes
// through the same ingest path as every later sample.
func newTrip(params StartTripParams, now time.Time) ctdf.Trip {
	trip := ctdf.Trip{
		PrimaryIdentifier:    uuid.NewString(),
		DriverRef:            params.DriverRef,
		BusNumber:            params.BusNumber,
		RouteNumber:          params.RouteNumber,
		RouteName:            params.RouteName,
		Status:               ctdf.TripStatusActive,
		StartTime:            now,
		CreationDateTime:     now,
		ModificationDateTime: now,
	}

	return Ingest(trip, params.InitialLocation)
}

// HistoryQuery selects a page of a driver's finished trips
type HistoryQuery struct {
	DriverRef string
	Statuses  []ctdf.TripStatus
	Page      int
	PageSize  int
}

// Normalise applies the paging defaults and limits the statuses to terminal ones
func (q HistoryQuery) Normalise() HistoryQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Page > MaxHistoryPage {
		q.Page = MaxHistoryPage
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultHistoryPageSize
	}
	if q.PageSize > MaxHistoryPageSize {
		q.PageSize = MaxHistoryPageSize
	}

	var statuses []ctdf.TripStatus
	for _, status := range q.Statuses {
		if status.IsTerminal() && !slices.Contains(statuses, status) {
			statuses = append(statuses, status)
		}
	}
	if len(statuses) == 0 {
		statuses = []ctdf.TripStatus{ctdf.TripStatusCompleted, ctdf.TripStatusCancelled}
	}
	q.Statuses = statuses

	return q
}

func (q HistoryQuery) skip() int64 {
	return int64((q.Page - 1) * q.PageSize)
}

// HistoryPage is one page of finished trips, newest start first, without location history
type HistoryPage struct {
	Trips       []ctdf.Trip `json:"trips"`
	Total       int64       `json:"total"`
	TotalPages  int64       `json:"totalPages"`
	CurrentPage int         `json:"currentPage"`
}

func newHistoryPage(query HistoryQuery, trips []ctdf.Trip, total int64) *HistoryPage {
	if trips == nil {
		trips = []ctdf.Trip{}
	}

	pageSize := int64(query.PageSize)

	return &HistoryPage{
		Trips:       trips,
		Total:       total,
		TotalPages:  (total + pageSize - 1) / pageSize,
		CurrentPage: query.Page,
	}
}
