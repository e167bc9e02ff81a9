package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsHelpers_Wrapped(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"validation", Validation("value", "must be positive"), IsValidation},
		{"not found", NotFound(KindOverride, "abc"), IsNotFound},
		{"conflict", Conflict("override already active"), IsConflict},
		{"concurrency", &ConcurrencyError{Op: "record usage", Attempts: 3}, IsConcurrency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(wrapped))
			assert.False(t, tt.check(errors.New("plain")))
		})
	}
}

func TestIsNotFoundKind(t *testing.T) {
	err := fmt.Errorf("resolve: %w", NotFound(KindUser, "u1"))

	assert.True(t, IsNotFoundKind(err, KindUser))
	assert.False(t, IsNotFoundKind(err, KindOrganization))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "validation failed for value: must be positive", Validation("value", "must be positive").Error())
	assert.Equal(t, "validation failed: bad input", (&ValidationError{Message: "bad input"}).Error())
	assert.Equal(t, "feature not found: export_data", NotFound(KindFeature, "export_data").Error())
	assert.Equal(t, "record usage: contention not resolved after 5 attempts",
		(&ConcurrencyError{Op: "record usage", Attempts: 5}).Error())
}
