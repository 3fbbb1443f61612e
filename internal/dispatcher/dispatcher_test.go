package dispatcher_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cronicorn/cronicorn/internal/dispatcher"
	"github.com/cronicorn/cronicorn/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecuteSuccessCapturesJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	d := dispatcher.New(discardLogger())
	outcome := d.Execute(context.Background(), &domain.Endpoint{URL: srv.URL, Method: domain.MethodGET})

	if outcome.Status != domain.RunSuccess {
		t.Fatalf("expected success, got %s (%v)", outcome.Status, outcome.ErrorMessage)
	}
	if outcome.ResponseBody == nil || *outcome.ResponseBody != `{"ok":true}` {
		t.Fatalf("expected captured JSON body, got %v", outcome.ResponseBody)
	}
	if outcome.StatusCode == nil || *outcome.StatusCode != http.StatusOK {
		t.Fatalf("expected status code 200, got %v", outcome.StatusCode)
	}
}

func TestExecuteNonJSONBodyNotCaptured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	d := dispatcher.New(discardLogger())
	outcome := d.Execute(context.Background(), &domain.Endpoint{URL: srv.URL, Method: domain.MethodGET})

	if outcome.Status != domain.RunSuccess {
		t.Fatalf("expected success, got %s", outcome.Status)
	}
	if outcome.ResponseBody != nil {
		t.Fatalf("expected no captured body for non-JSON content type, got %v", *outcome.ResponseBody)
	}
}

func TestExecuteHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := dispatcher.New(discardLogger())
	outcome := d.Execute(context.Background(), &domain.Endpoint{URL: srv.URL, Method: domain.MethodGET})

	if outcome.Status != domain.RunFailed {
		t.Fatalf("expected failed status, got %s", outcome.Status)
	}
	if outcome.ErrorMessage == nil || !strings.Contains(*outcome.ErrorMessage, "500") {
		t.Fatalf("expected error message to mention 500, got %v", outcome.ErrorMessage)
	}
}

func TestExecuteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	timeoutMs := int64(50)
	d := dispatcher.New(discardLogger())
	outcome := d.Execute(context.Background(), &domain.Endpoint{URL: srv.URL, Method: domain.MethodGET, TimeoutMs: &timeoutMs})

	if outcome.Status != domain.RunFailed {
		t.Fatalf("expected failed status on timeout, got %s", outcome.Status)
	}
	if outcome.ErrorMessage == nil || !strings.Contains(*outcome.ErrorMessage, "timed out") {
		t.Fatalf("expected timeout error message, got %v", outcome.ErrorMessage)
	}
}

func TestExecuteEmptyURLFailsFast(t *testing.T) {
	d := dispatcher.New(discardLogger())
	outcome := d.Execute(context.Background(), &domain.Endpoint{})

	if outcome.Status != domain.RunFailed {
		t.Fatalf("expected failed status for empty URL, got %s", outcome.Status)
	}
}

func TestExecuteSendsHeadersAndBody(t *testing.T) {
	var gotHeader, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Custom")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	body := `{"hello":"world"}`
	d := dispatcher.New(discardLogger())
	outcome := d.Execute(context.Background(), &domain.Endpoint{
		URL:      srv.URL,
		Method:   domain.MethodPOST,
		Headers:  map[string]string{"X-Custom": "value"},
		BodyJSON: &body,
	})

	if outcome.Status != domain.RunSuccess {
		t.Fatalf("expected success, got %s", outcome.Status)
	}
	if gotHeader != "value" {
		t.Fatalf("expected custom header to be sent, got %q", gotHeader)
	}
	if gotBody != body {
		t.Fatalf("expected body %q, got %q", body, gotBody)
	}
}
