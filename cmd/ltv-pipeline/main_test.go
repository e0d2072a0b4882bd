package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubChecker struct {
	err error
}

func (s stubChecker) Health(ctx context.Context) error { return s.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]healthChecker
		wantStatus int
	}{
		{
			name:       "all healthy",
			checks:     map[string]healthChecker{"postgres": stubChecker{}, "redis": stubChecker{}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "one failing",
			checks:     map[string]healthChecker{"postgres": stubChecker{err: errors.New("down")}},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "no checks",
			checks:     nil,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			healthHandler(tt.checks)(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
