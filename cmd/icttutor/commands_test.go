package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type apiCall struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type stubAPI struct {
	*httptest.Server
	calls []apiCall
}

// newStubAPI serves canned JSON keyed by "METHOD /path" and records every
// call it receives. Unknown paths get the server's 404 envelope.
func newStubAPI(t *testing.T, responses map[string]string) *stubAPI {
	t.Helper()
	stub := &stubAPI{}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		stub.calls = append(stub.calls, apiCall{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   string(raw),
			Auth:   r.Header.Get("Authorization"),
		})

		if body, ok := responses[r.Method+" "+r.URL.Path]; ok {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, body)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"message":"not found","type":"not_found"}}`)
	}))

	t.Cleanup(stub.Close)
	return stub
}

func (s *stubAPI) client() *apiClient {
	return &apiClient{baseURL: s.URL, token: "test-token", httpClient: s.Client()}
}

var ctx = context.Background()

func TestSessionRecordRequest(t *testing.T) {
	ts := newStubAPI(t, map[string]string{
		"POST /sessions": `{"level":"beginner","accuracy":80,"questions_answered":10,"study_hours":0.5,"streak_days":1,"weak_topics":[],"strong_topics":[],"chapter_progress":{}}`,
	})

	client := ts.client()

	req := map[string]any{
		"answers": []map[string]any{
			{"topic": "Capítulo I", "difficulty": "medium", "correct": true},
		},
		"study_minutes": 30,
	}

	resp, err := client.post(ctx, "/sessions", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var summary map[string]any
	if err := decodeJSON(resp, &summary); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if summary["level"] != "beginner" {
		t.Errorf("level = %v, want beginner", summary["level"])
	}

	if len(ts.calls) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.calls))
	}
	call := ts.calls[0]
	if call.Method != "POST" || call.Path != "/sessions" {
		t.Errorf("request = %s %s", call.Method, call.Path)
	}
	if call.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", call.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(call.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["study_minutes"] != float64(30) {
		t.Errorf("body.study_minutes = %v, want 30", body["study_minutes"])
	}
}

func TestAuthHeaderOmittedWithoutToken(t *testing.T) {
	ts := newStubAPI(t, map[string]string{
		"GET /summary": `{"level":"beginner"}`,
	})

	client := ts.client()
	client.token = ""

	resp, err := client.get(ctx, "/summary")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if ts.calls[0].Auth != "" {
		t.Errorf("auth = %q, want empty", ts.calls[0].Auth)
	}
}

func TestDecodeJSONErrorEnvelope(t *testing.T) {
	ts := newStubAPI(t, nil)

	resp, err := ts.client().get(ctx, "/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out map[string]any
	decodeErr := decodeJSON(resp, &out)
	if decodeErr == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(decodeErr.Error(), "404") {
		t.Errorf("error = %q, want it to mention 404", decodeErr.Error())
	}
}

func TestCacheAddRequest(t *testing.T) {
	ts := newStubAPI(t, map[string]string{
		"POST /cache/urls": `{"status":"cached","urls":["/a.json"]}`,
	})

	resp, err := ts.client().post(ctx, "/cache/urls", map[string]any{"urls": []string{"/a.json"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]any
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "cached" {
		t.Errorf("status = %v", result["status"])
	}
}

func TestSyncOnlineRequest(t *testing.T) {
	ts := newStubAPI(t, map[string]string{
		"PUT /sync/online": `{"online":true}`,
	})

	resp, err := ts.client().put(ctx, "/sync/online", map[string]bool{"online": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]bool
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !result["online"] {
		t.Error("online = false, want true")
	}

	var body map[string]bool
	if err := json.Unmarshal([]byte(ts.calls[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if !body["online"] {
		t.Error("request body online = false, want true")
	}
}

func TestSessionRecordMissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"session", "record"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}
