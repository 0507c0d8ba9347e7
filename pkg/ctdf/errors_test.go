package ctdf

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrorCodeAuth, CodeOf(fmt.Errorf("%w: token expired", ErrAuth)))
	assert.Equal(t, ErrorCodeConflict, CodeOf(ErrConflict))
	assert.Equal(t, ErrorCodeNotFound, CodeOf(fmt.Errorf("end trip: %w", ErrNotFound)))
	assert.Equal(t, ErrorCodeValidation, CodeOf(ErrValidation))
	assert.Equal(t, ErrorCodeForbidden, CodeOf(ErrForbidden))
	assert.Equal(t, ErrorCodeInternal, CodeOf(errors.New("connection refused")))
}

func TestTripOwnedBy(t *testing.T) {
	trip := Trip{DriverRef: "D1", Status: TripStatusActive}
	assert.True(t, trip.OwnedBy("D1"))
	assert.False(t, trip.OwnedBy("D2"))

	trip.Status = TripStatusCompleted
	assert.False(t, trip.OwnedBy("D1"))
	assert.True(t, trip.Status.IsTerminal())
}
