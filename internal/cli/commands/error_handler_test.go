package commands

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "hostfleet/internal/errors"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"explicit", &ExitError{Code: 1}, 1},
		{"wrapped explicit", fmt.Errorf("batch: %w", &ExitError{Code: 2}), 2},
		{"invalid input", apperrors.InvalidInput("bad id"), ExitAborted},
		{"locked", apperrors.New(apperrors.ErrLocked, "held"), ExitAborted},
		{"missing prerequisite", apperrors.New(apperrors.ErrMissingPrerequisite, "no .env"), ExitAborted},
		{"other", apperrors.New(apperrors.ErrExecutionFailure, "boom"), ExitFailure},
		{"plain", fmt.Errorf("boom"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestHandleError(t *testing.T) {
	assert.NoError(t, HandleError(nil))
	assert.NoError(t, HandleError(&ExitError{Code: 1}))

	err := HandleError(apperrors.New(apperrors.ErrLocked, "held"))
	assert.Contains(t, err.Error(), "another hostfleet batch")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrLocked))
}

func TestSplitReference(t *testing.T) {
	tests := []struct {
		ref, image, tag string
	}{
		{"ghcr.io/org/app:v1", "ghcr.io/org/app", "v1"},
		{"ghcr.io/org/app", "ghcr.io/org/app", ""},
		{"localhost:5000/app", "localhost:5000/app", ""},
		{"localhost:5000/app:v2", "localhost:5000/app", "v2"},
	}
	for _, tt := range tests {
		image, tag := splitReference(tt.ref)
		assert.Equal(t, tt.image, image, tt.ref)
		assert.Equal(t, tt.tag, tag, tt.ref)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
