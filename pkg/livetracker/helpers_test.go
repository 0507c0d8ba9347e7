package livetracker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/travigo/livetrack/pkg/ctdf"
	"github.com/travigo/livetrack/pkg/trips"
)

type recordingSender struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  int
	sendErr error
}

func (s *recordingSender) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sendErr != nil {
		return s.sendErr
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *recordingSender) received(t *testing.T) []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := make([]Frame, 0, len(s.frames))
	for _, raw := range s.frames {
		frame, err := DecodeFrame(raw)
		require.NoError(t, err)
		frames = append(frames, *frame)
	}
	return frames
}

func (s *recordingSender) eventsNamed(t *testing.T, event string) []Frame {
	var matching []Frame
	for _, frame := range s.received(t) {
		if frame.Event == event {
			matching = append(matching, frame)
		}
	}
	return matching
}

func (s *recordingSender) last(t *testing.T) Frame {
	frames := s.received(t)
	require.NotEmpty(t, frames)
	return frames[len(frames)-1]
}

func (s *recordingSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}

type fakeVerifier struct {
	verifyFn func(ctx context.Context, token string) (ctdf.Identity, error)
}

func (f *fakeVerifier) Verify(ctx context.Context, token string) (ctdf.Identity, error) {
	return f.verifyFn(ctx, token)
}

// tokenVerifier accepts tokens of the form "<role>:<subject>"
func tokenVerifier() *fakeVerifier {
	return &fakeVerifier{
		verifyFn: func(ctx context.Context, token string) (ctdf.Identity, error) {
			role, subject, found := strings.Cut(token, ":")
			if !found || subject == "" {
				return ctdf.Identity{}, fmt.Errorf("%w: invalid token", ctdf.ErrAuth)
			}
			return ctdf.Identity{SubjectID: subject, Role: ctdf.Role(role)}, nil
		},
	}
}

type testTracker struct {
	*Tracker
	store *trips.MemoryStore
}

func newTestTracker(t *testing.T, scope BroadcastScope) *testTracker {
	config := DefaultConfig()
	config.BroadcastScope = scope

	store := trips.NewMemoryStore()

	return &testTracker{
		Tracker: New(config, tokenVerifier(), store),
		store:   store,
	}
}

func (tt *testTracker) connect() (string, *recordingSender) {
	sender := &recordingSender{}
	return tt.Connections.Register(sender), sender
}

func (tt *testTracker) handle(t *testing.T, connectionID string, event string, data interface{}) {
	raw, err := EncodeFrame(event, data)
	require.NoError(t, err)

	tt.Dispatcher.HandleMessage(context.Background(), connectionID, raw)
}

func (tt *testTracker) authenticate(t *testing.T, connectionID string, token string) {
	_, err := tt.Connections.Authenticate(context.Background(), connectionID, token)
	require.NoError(t, err)
}

func decodeData(t *testing.T, frame Frame, into interface{}) {
	require.NoError(t, json.Unmarshal(frame.Data, into))
}
