package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithContextAnnotatesLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := ContextWithRequestID(context.Background(), "req-123")
	ctx = ContextWithAssetID(ctx, "asset-456")

	WithContext(ctx, logger).Info("annotated")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("expected request_id field, got %v", entry["request_id"])
	}
	if entry["asset_id"] != "asset-456" {
		t.Fatalf("expected asset_id field, got %v", entry["asset_id"])
	}
}

func TestRequestLoggerEmitsRequestMetadata(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestLogger(RequestLoggerConfig{Logger: logger, DisableRemoteAddr: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/assets", nil)
	req = req.WithContext(ContextWithRequestID(req.Context(), "req-789"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["method"] != http.MethodGet {
		t.Fatalf("expected method field, got %v", entry["method"])
	}
	if entry["path"] != "/api/assets" {
		t.Fatalf("expected path field, got %v", entry["path"])
	}
	if entry["status"] != float64(http.StatusNotFound) {
		t.Fatalf("expected status field, got %v", entry["status"])
	}
	if entry["request_id"] != "req-789" {
		t.Fatalf("expected request_id field, got %v", entry["request_id"])
	}
	if _, ok := entry["remote_addr"]; ok {
		t.Fatal("expected remote_addr to be suppressed")
	}
}
