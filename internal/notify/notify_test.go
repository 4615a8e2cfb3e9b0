package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newCaptureServer(t *testing.T, status int, body string) (*httptest.Server, *[]graphqlRequest) {
	t.Helper()
	var seen []graphqlRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		var req graphqlRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		seen = append(seen, req)
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return server, &seen
}

func TestSendCollapsesQueryWhitespace(t *testing.T) {
	server, seen := newCaptureServer(t, http.StatusOK, `{}`)
	relay := NewRelay(Config{URL: server.URL})
	err := relay.Send(context.Background(), ThreatsMutation, map[string]any{"diagramId": "d1"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(*seen) != 1 {
		t.Fatalf("got %d requests, want 1", len(*seen))
	}
	query := (*seen)[0].Query
	if strings.Contains(query, "\n") || strings.Contains(query, "\t") {
		t.Fatalf("query not collapsed: %q", query)
	}
	if (*seen)[0].Variables["diagramId"] != "d1" {
		t.Fatalf("variables = %v", (*seen)[0].Variables)
	}
}

func TestSendNonOKStatusIsError(t *testing.T) {
	server, _ := newCaptureServer(t, http.StatusBadGateway, "upstream down")
	relay := NewRelay(Config{URL: server.URL})
	err := relay.Send(context.Background(), AllThreatsGeneratedMutation, nil)
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSendWithoutURLIsNoop(t *testing.T) {
	relay := NewRelay(Config{})
	if err := relay.Send(context.Background(), ThreatsMutation, nil); err != nil {
		t.Fatalf("Send without URL: %v", err)
	}
}

func TestNotifiedRelaysOnSuccess(t *testing.T) {
	server, seen := newCaptureServer(t, http.StatusOK, `{}`)
	relay := NewRelay(Config{URL: server.URL})
	resolver := Notified(relay, ThreatsMutation, nil,
		func(in string, out int) map[string]any { return map[string]any{"in": in, "out": out} },
		func(ctx context.Context, in string) (int, error) { return 42, nil })
	out, err := resolver(context.Background(), "d1")
	if err != nil || out != 42 {
		t.Fatalf("resolver = (%d, %v), want (42, nil)", out, err)
	}
	if len(*seen) != 1 {
		t.Fatalf("got %d relays, want 1", len(*seen))
	}
}

func TestNotifiedWrapsRetryableErrors(t *testing.T) {
	relay := NewRelay(Config{})
	boom := errors.New("throttled")
	resolver := Notified(relay, ThreatsMutation,
		func(err error) bool { return errors.Is(err, boom) },
		func(in string, out int) map[string]any { return nil },
		func(ctx context.Context, in string) (int, error) { return 0, boom })
	_, err := resolver(context.Background(), "d1")
	var retryable *RetryableError
	if !errors.As(err, &retryable) {
		t.Fatalf("error = %v, want RetryableError", err)
	}
	if !errors.Is(err, boom) {
		t.Fatal("wrapped cause lost")
	}
}

func TestNotifiedSwallowsFatalErrorsAndRelaysThem(t *testing.T) {
	server, seen := newCaptureServer(t, http.StatusOK, `{}`)
	relay := NewRelay(Config{URL: server.URL})
	resolver := Notified(relay, ThreatsMutation, nil,
		func(in string, out int) map[string]any { return map[string]any{} },
		func(ctx context.Context, in string) (int, error) { return 0, errors.New("bad input") })
	out, err := resolver(context.Background(), "d1")
	if err != nil {
		t.Fatalf("fatal error should be swallowed, got %v", err)
	}
	if out != 0 {
		t.Fatalf("out = %d, want zero value", out)
	}
	if len(*seen) != 1 {
		t.Fatalf("got %d relays, want 1 error relay", len(*seen))
	}
	if !strings.Contains((*seen)[0].Query, "NotifyError") {
		t.Fatalf("relayed query = %q, want error mutation", (*seen)[0].Query)
	}
}

func TestNotifiedSkipsRelayWhenVarsNil(t *testing.T) {
	server, seen := newCaptureServer(t, http.StatusOK, `{}`)
	relay := NewRelay(Config{URL: server.URL})
	resolver := Notified(relay, ThreatsMutation, nil,
		func(in string, out int) map[string]any { return nil },
		func(ctx context.Context, in string) (int, error) { return 1, nil })
	if _, err := resolver(context.Background(), "d1"); err != nil {
		t.Fatalf("resolver: %v", err)
	}
	if len(*seen) != 0 {
		t.Fatalf("got %d relays, want 0", len(*seen))
	}
}
