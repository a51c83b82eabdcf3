package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestRouter(health map[string]HealthCheck) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router, NewAPI(nil, NewConnectionManager(), health))
	return router
}

func TestPostMessageRejectsBadPayload(t *testing.T) {
	router := newTestRouter(nil)

	// channel_id and text missing.
	body := strings.NewReader(`{"user_id": "u1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestWebSocketRequiresChannelID(t *testing.T) {
	router := newTestRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/ws/subscribe", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestHealthzReportsPerStoreStatus(t *testing.T) {
	router := newTestRouter(map[string]HealthCheck{
		"neo4j":  func(ctx context.Context) error { return nil },
		"milvus": func(ctx context.Context) error { return errors.New("connection refused") },
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "connection refused") {
		t.Errorf("expected failing store error in body, got %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"neo4j":"ok"`) {
		t.Errorf("expected healthy store status in body, got %s", rec.Body.String())
	}
}

func TestHealthzAllStoresHealthy(t *testing.T) {
	router := newTestRouter(map[string]HealthCheck{
		"neo4j": func(ctx context.Context) error { return nil },
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}
