package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := L()
	Replace(zap.New(core))
	t.Cleanup(func() { Replace(prev) })
	return logs
}

func TestWithFieldsCarriesFields(t *testing.T) {
	logs := observe(t)

	ctx := WithFields(context.Background(), zap.String("job", "sizer"))
	ctx = WithFields(ctx, zap.String("run_id", "r1"))
	WithContext(ctx).Info("done")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["job"] != "sizer" || fields["run_id"] != "r1" {
		t.Errorf("fields = %v", fields)
	}
}

func TestWithContextFallsBackToGlobal(t *testing.T) {
	logs := observe(t)
	WithContext(context.Background()).Warn("plain")
	if logs.FilterMessage("plain").Len() != 1 {
		t.Error("expected entry on the global logger")
	}
}

func TestNamedAddsComponent(t *testing.T) {
	logs := observe(t)
	Named("reaper").Info("tick")
	if got := logs.All()[0].ContextMap()["component"]; got != "reaper" {
		t.Errorf("component = %v", got)
	}
}

func TestMiddlewareLogsRouteNotPath(t *testing.T) {
	logs := observe(t)

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/static/cache/{token}/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("hi"))
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/static/cache/s3cr3t/a.txt", nil)
	req.Header.Set("X-Request-ID", "req-42")
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q", got)
	}

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("got %d request entries", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["route"] != "/static/cache/{token}/{name}" {
		t.Errorf("route = %v", fields["route"])
	}
	if fields["status"] != int64(http.StatusTeapot) || fields["size"] != int64(2) {
		t.Errorf("status/size = %v/%v", fields["status"], fields["size"])
	}
	if fields["request_id"] != "req-42" {
		t.Errorf("request_id = %v", fields["request_id"])
	}
	for _, v := range fields {
		if s, ok := v.(string); ok && strings.Contains(s, "s3cr3t") {
			t.Errorf("token leaked into log field %q", s)
		}
	}
}

func TestSetLevel(t *testing.T) {
	defer globalLevel.SetLevel(globalLevel.Level())
	SetLevel("error")
	if globalLevel.Level() != zapcore.ErrorLevel {
		t.Errorf("level = %v", globalLevel.Level())
	}
	SetLevel("bogus")
	if globalLevel.Level() != zapcore.ErrorLevel {
		t.Error("invalid level should be ignored")
	}
}
