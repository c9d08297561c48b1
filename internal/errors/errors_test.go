package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		category Category
		severity Severity
	}{
		{"config is fatal", ErrCodeConfigInvalid, CategoryConfig, SeverityFatal},
		{"storage is error", ErrCodeQueueStore, CategoryStorage, SeverityError},
		{"collaborator is error", ErrCodeTriplestore, CategoryCollaborator, SeverityError},
		{"validation is error", ErrCodeFieldCardinality, CategoryValidation, SeverityError},
		{"internal is error", ErrCodeInternal, CategoryInternal, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
		})
	}
}

func TestSyncError_Unwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := TriplestoreError("query failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeTriplestore, GetCode(err))
}

func TestSyncError_IsMatchesByCode(t *testing.T) {
	a := New(ErrCodeSearchEngine, "bulk failed", nil)
	b := New(ErrCodeSearchEngine, "different message", nil)

	assert.True(t, stderrors.Is(a, b))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(TriplestoreError("timeout", nil)))
	assert.True(t, IsRetryable(SearchEngineError("429", nil)))
	assert.False(t, IsRetryable(ValidationError("bad filter", nil)))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ConfigError("unknown type", nil)))
	assert.False(t, IsFatal(SearchEngineError("down", nil)))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestWithDetail_Chains(t *testing.T) {
	err := SearchEngineError("bulk failed", nil).
		WithDetail("index", "abc123").
		WithDetail("documents", "64")

	assert.Equal(t, "abc123", err.Details["index"])
	assert.Equal(t, "64", err.Details["documents"])
}
