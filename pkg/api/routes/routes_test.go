package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/livetrack/pkg/ctdf"
	"github.com/travigo/livetrack/pkg/trips"
)

type publishedEvent struct {
	eventType ctdf.EventType
	tripRef   string
}

type recordingPublisher struct {
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) PublishTrip(eventType ctdf.EventType, trip *ctdf.Trip) error {
	p.events = append(p.events, publishedEvent{eventType: eventType, tripRef: trip.PrimaryIdentifier})
	return p.err
}

type invalidatingLister struct {
	trips.Store
	invalidated []string
}

func (l *invalidatingLister) Invalidate(ctx context.Context, routeNumber string) {
	l.invalidated = append(l.invalidated, routeNumber)
}

type failingLister struct{}

func (failingLister) ListActive(ctx context.Context, routeNumber string) ([]ctdf.Trip, error) {
	return nil, errors.New("connection refused")
}

type testServer struct {
	app       *fiber.App
	store     *trips.MemoryStore
	lister    *invalidatingLister
	publisher *recordingPublisher
}

// withIdentity stands in for the token middleware, reading "role:subject" from the Authorization header
func withIdentity(c *fiber.Ctx) error {
	role, subject, _ := strings.Cut(c.Get(fiber.HeaderAuthorization), ":")
	c.Locals(IdentityLocal, ctdf.Identity{SubjectID: subject, Role: ctdf.Role(role)})
	return c.Next()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := trips.NewMemoryStore()
	lister := &invalidatingLister{Store: store}
	publisher := &recordingPublisher{}

	tripRoutes := &TripRoutes{
		Store:       store,
		ActiveTrips: lister,
		Events:      publisher,
		Now:         func() time.Time { return time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC) },
	}

	app := fiber.New()
	group := app.Group("/api")
	tripRoutes.DriverRouter(group.Group("/driver", withIdentity))
	tripRoutes.TripsRouter(group.Group("/trips", withIdentity))

	return &testServer{app: app, store: store, lister: lister, publisher: publisher}
}

func (s *testServer) do(t *testing.T, method string, path string, account string, body string) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if account != "" {
		req.Header.Set(fiber.HeaderAuthorization, account)
	}

	resp, err := s.app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))

	return resp.StatusCode, decoded
}

func (s *testServer) startTrip(t *testing.T, driver string, route string) string {
	t.Helper()

	status, body := s.do(t, "POST", "/api/driver/trip/start", "driver:"+driver,
		`{"busNumber":"101","routeNumber":"`+route+`","routeName":"City Loop","location":{"latitude":51.5007,"longitude":-0.1246,"speed":12}}`)
	require.Equal(t, fiber.StatusCreated, status, body)

	trip := body["trip"].(map[string]interface{})
	return trip["id"].(string)
}

func TestStartTrip(t *testing.T) {
	server := newTestServer(t)

	status, body := server.do(t, "POST", "/api/driver/trip/start", "driver:d1",
		`{"busNumber":"101","routeNumber":"R1","location":{"latitude":51.5007,"longitude":-0.1246,"speed":12}}`)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "Trip started successfully", body["message"])

	trip := body["trip"].(map[string]interface{})
	assert.Equal(t, "d1", trip["driverId"])
	assert.Equal(t, "R1", trip["routeNumber"])
	assert.Equal(t, "active", trip["status"])
	assert.Equal(t, 12.0, trip["averageSpeed"])
	assert.Equal(t, 0.0, trip["totalDistance"])
	assert.NotContains(t, trip, "locationHistory")
	assert.NotContains(t, trip, "endTime")

	location := trip["currentLocation"].(map[string]interface{})
	assert.Equal(t, 51.5007, location["latitude"])

	assert.Equal(t, []publishedEvent{{eventType: ctdf.EventTypeTripStarted, tripRef: trip["id"].(string)}}, server.publisher.events)
	assert.Equal(t, []string{"R1"}, server.lister.invalidated)
}

func TestStartTripConflict(t *testing.T) {
	server := newTestServer(t)
	server.startTrip(t, "d1", "R1")

	status, body := server.do(t, "POST", "/api/driver/trip/start", "driver:d1",
		`{"busNumber":"102","routeNumber":"R2","location":{"latitude":51.5,"longitude":-0.12}}`)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "You already have an active trip", body["error"])
	assert.Equal(t, "CONFLICT", body["code"])
	assert.Len(t, server.publisher.events, 1)
}

func TestStartTripValidation(t *testing.T) {
	server := newTestServer(t)

	for name, payload := range map[string]string{
		"missing bus number": `{"routeNumber":"R1","location":{"latitude":51.5,"longitude":-0.12}}`,
		"missing location":   `{"busNumber":"101","routeNumber":"R1"}`,
		"missing latitude":   `{"busNumber":"101","routeNumber":"R1","location":{"longitude":-0.12}}`,
		"latitude range":     `{"busNumber":"101","routeNumber":"R1","location":{"latitude":91,"longitude":-0.12}}`,
		"negative speed":     `{"busNumber":"101","routeNumber":"R1","location":{"latitude":51.5,"longitude":-0.12,"speed":-3}}`,
		"malformed json":     `{"busNumber":`,
	} {
		t.Run(name, func(t *testing.T) {
			status, body := server.do(t, "POST", "/api/driver/trip/start", "driver:d1", payload)
			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.Equal(t, "VALIDATION", body["code"])
		})
	}

	assert.Empty(t, server.publisher.events)
}

func TestUpdateLocation(t *testing.T) {
	server := newTestServer(t)
	tripRef := server.startTrip(t, "d1", "R1")

	status, body := server.do(t, "POST", "/api/driver/trip/location", "driver:d1",
		`{"tripId":"`+tripRef+`","location":{"latitude":51.5081,"longitude":-0.0759,"speed":20,"heading":-90}}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Location updated successfully", body["message"])

	location := body["currentLocation"].(map[string]interface{})
	assert.Equal(t, 51.5081, location["latitude"])
	assert.Equal(t, 270.0, location["heading"])

	trip, err := server.store.GetTrip(context.Background(), tripRef)
	require.NoError(t, err)
	assert.Len(t, trip.LocationHistory, 2)
	assert.Equal(t, 16.0, trip.AverageSpeed)
	assert.InDelta(t, 3.47, trip.TotalDistance, 0.05)
}

func TestUpdateLocationOtherDriver(t *testing.T) {
	server := newTestServer(t)
	tripRef := server.startTrip(t, "d1", "R1")

	status, body := server.do(t, "POST", "/api/driver/trip/location", "driver:d2",
		`{"tripId":"`+tripRef+`","location":{"latitude":51.5,"longitude":-0.12}}`)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestEndTrip(t *testing.T) {
	server := newTestServer(t)
	tripRef := server.startTrip(t, "d1", "R1")

	status, body := server.do(t, "POST", "/api/driver/trip/end", "driver:d1", `{"tripId":"`+tripRef+`"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Trip ended successfully", body["message"])

	trip := body["trip"].(map[string]interface{})
	assert.Equal(t, "completed", trip["status"])
	assert.Contains(t, trip, "endTime")

	assert.Equal(t, ctdf.EventTypeTripEnded, server.publisher.events[1].eventType)
	assert.Equal(t, []string{"R1", "R1"}, server.lister.invalidated)

	status, body = server.do(t, "POST", "/api/driver/trip/end", "driver:d1", `{"tripId":"`+tripRef+`"}`)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestCancelTrip(t *testing.T) {
	server := newTestServer(t)
	tripRef := server.startTrip(t, "d1", "R1")

	status, body := server.do(t, "POST", "/api/driver/trip/cancel", "driver:d1", `{"tripId":"`+tripRef+`"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Trip cancelled successfully", body["message"])

	trip := body["trip"].(map[string]interface{})
	assert.Equal(t, "cancelled", trip["status"])
	assert.NotContains(t, trip, "endTime")

	assert.Equal(t, ctdf.EventTypeTripCancelled, server.publisher.events[1].eventType)
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	server := newTestServer(t)
	server.publisher.err = errors.New("queue unavailable")

	status, _ := server.do(t, "POST", "/api/driver/trip/start", "driver:d1",
		`{"busNumber":"101","routeNumber":"R1","location":{"latitude":51.5,"longitude":-0.12}}`)
	assert.Equal(t, fiber.StatusCreated, status)
}

func TestGetActiveTrip(t *testing.T) {
	server := newTestServer(t)

	status, body := server.do(t, "GET", "/api/driver/trip/active", "driver:d1", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, "trip")
	assert.Nil(t, body["trip"])

	tripRef := server.startTrip(t, "d1", "R1")

	status, body = server.do(t, "GET", "/api/driver/trip/active", "driver:d1", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, tripRef, body["trip"].(map[string]interface{})["id"])
}

func TestGetTripHistory(t *testing.T) {
	server := newTestServer(t)

	for i := 0; i < 3; i++ {
		tripRef := server.startTrip(t, "d1", "R1")
		action := "end"
		if i == 1 {
			action = "cancel"
		}
		status, _ := server.do(t, "POST", "/api/driver/trip/"+action, "driver:d1", `{"tripId":"`+tripRef+`"}`)
		require.Equal(t, fiber.StatusOK, status)
	}
	server.startTrip(t, "d1", "R1")

	status, body := server.do(t, "GET", "/api/driver/trips/history?page=1&limit=2", "driver:d1", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["trips"], 2)
	assert.Equal(t, 3.0, body["total"])
	assert.Equal(t, 2.0, body["totalPages"])
	assert.Equal(t, 1.0, body["currentPage"])

	status, body = server.do(t, "GET", "/api/driver/trips/history?status=cancelled", "driver:d1", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, 1.0, body["total"])

	status, body = server.do(t, "GET", "/api/driver/trips/history?status=active", "driver:d1", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", body["code"])

	status, _ = server.do(t, "GET", "/api/driver/trips/history?page=abc", "driver:d1", "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = server.do(t, "GET", "/api/driver/trips/history?page=1000000000000000000&limit=10", "driver:d1", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []interface{}{}, body["trips"])
	assert.Equal(t, 3.0, body["total"])

	status, body = server.do(t, "GET", "/api/driver/trips/history", "driver:d2", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []interface{}{}, body["trips"])
	assert.Equal(t, 0.0, body["total"])
}

func TestListActiveTrips(t *testing.T) {
	server := newTestServer(t)

	status, body := server.do(t, "GET", "/api/trips/active", "passenger:p1", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []interface{}{}, body["trips"])

	server.startTrip(t, "d1", "R1")
	server.startTrip(t, "d2", "R2")

	status, body = server.do(t, "GET", "/api/trips/active", "passenger:p1", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["trips"], 2)

	status, body = server.do(t, "GET", "/api/trips/active?routeNumber=R2", "passenger:p1", "")
	require.Equal(t, fiber.StatusOK, status)
	activeTrips := body["trips"].([]interface{})
	require.Len(t, activeTrips, 1)
	assert.Equal(t, "d2", activeTrips[0].(map[string]interface{})["driverId"])
	assert.NotContains(t, activeTrips[0], "locationHistory")
}

func TestListActiveTripsFailure(t *testing.T) {
	tripRoutes := &TripRoutes{Store: trips.NewMemoryStore(), ActiveTrips: failingLister{}}

	app := fiber.New()
	tripRoutes.TripsRouter(app.Group("/trips"))

	resp, err := app.Test(httptest.NewRequest("GET", "/trips/active", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Server error while fetching active trips", body["error"])
	assert.Equal(t, "INTERNAL", body["code"])
}

func TestGetTrip(t *testing.T) {
	server := newTestServer(t)
	tripRef := server.startTrip(t, "d1", "R1")

	status, body := server.do(t, "GET", "/api/trips/"+tripRef, "passenger:p1", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, tripRef, body["trip"].(map[string]interface{})["id"])

	status, body = server.do(t, "GET", "/api/trips/missing", "passenger:p1", "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestHealth(t *testing.T) {
	app := fiber.New()
	app.Get("/health", Health(time.Now().Add(-time.Minute)))

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "OK", body["status"])
	assert.GreaterOrEqual(t, body["uptime"].(float64), 60.0)
	assert.NotEmpty(t, body["timestamp"])
}
