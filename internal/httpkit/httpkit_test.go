package httpkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSHeadersOnEveryResponse(t *testing.T) {
	handler := CORS(CORSOptions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteErr(w, http.StatusBadRequest, "URL is required")
	}))

	for _, method := range []string{http.MethodPost, http.MethodGet, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(method, "/", nil))

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("expected origin '*', got %q", got)
			}
			want := "authorization, x-client-info, apikey, content-type"
			if got := rec.Header().Get("Access-Control-Allow-Headers"); got != want {
				t.Errorf("expected allow headers %q, got %q", want, got)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	handler := CORS(CORSOptions{MaxAgeSeconds: 600})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/anything", nil))

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if called {
		t.Error("preflight must not reach the handler")
	}
	if rec.Header().Get("Access-Control-Max-Age") != "600" {
		t.Errorf("expected max age 600, got %q", rec.Header().Get("Access-Control-Max-Age"))
	}
}

func TestWriteUpstreamErr(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteUpstreamErr(rec, http.StatusTooManyRequests, "slow down")

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["error"] != "Browserless API request failed" || body["status"] != float64(429) || body["details"] != "slow down" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestWriteUpstreamErrKeepsEmptyDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteUpstreamErr(rec, http.StatusBadGateway, "")

	want := "{\"error\":\"Browserless API request failed\",\"status\":502,\"details\":\"\"}\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestWriteErrOmitsUpstreamFields(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErr(rec, http.StatusBadRequest, "URL is required")

	if got := rec.Body.String(); got != "{\"error\":\"URL is required\"}\n" {
		t.Errorf("unexpected body %q", got)
	}
}

func TestWriteBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteBytes(rec, http.StatusOK, "image/png", []byte{1, 2, 3, 4})

	if rec.Header().Get("Content-Length") != "4" {
		t.Errorf("expected Content-Length 4, got %q", rec.Header().Get("Content-Length"))
	}
	if rec.Header().Get("Content-Type") != "image/png" {
		t.Errorf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if rec.Body.Len() != 4 {
		t.Errorf("expected 4 bytes, got %d", rec.Body.Len())
	}
}
