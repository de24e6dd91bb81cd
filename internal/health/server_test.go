package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
	"github.com/vietddude/workflow-monitor/internal/ledger"
	"github.com/vietddude/workflow-monitor/internal/remediation/policy"
)

type brokenLedger struct{}

func (brokenLedger) Snapshot(context.Context) (*ledger.Document, error) {
	return nil, errors.New("ledger unreachable")
}
func (brokenLedger) Now() time.Time { return now }

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestServer_Health(t *testing.T) {
	doc := ledger.NewDocument()
	if err := doc.Append(rec("stock-news", time.Hour, domain.FailureKindPermissionDenied, domain.ActionEscalate, domain.OutcomeSucceeded)); err != nil {
		t.Fatal(err)
	}
	s := NewServer(NewMonitor(&stubLedger{doc: doc, now: now}, policy.Default()), ":0")

	rr := serve(t, s, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != string(StatusCritical) {
		t.Errorf("expected critical, got %q", body["status"])
	}

	rr = serve(t, s, "/health/detailed")
	var report HealthReport
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(report.Jobs) != 1 || report.Jobs[0].JobID != "stock-news" {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestServer_LedgerUnavailable(t *testing.T) {
	s := NewServer(NewMonitor(brokenLedger{}, policy.Default()), ":0")

	rr := serve(t, s, "/health")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "ledger unreachable") {
		t.Errorf("unexpected body %s", rr.Body.String())
	}
}

func TestServer_Metrics(t *testing.T) {
	s := NewServer(NewMonitor(brokenLedger{}, policy.Default()), ":0")

	rr := serve(t, s, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestServer_StartStops(t *testing.T) {
	s := NewServer(NewMonitor(brokenLedger{}, policy.Default()), "127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
