package httpkit

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorBody is the flat error payload.
type ErrorBody struct {
	Error string `json:"error"`
}

// UpstreamErrorBody reports a failed provider call. Details is the raw
// provider body and is always present, even when empty.
type UpstreamErrorBody struct {
	Error   string `json:"error"`
	Status  int    `json:"status"`
	Details string `json:"details"`
}

// DecodeJSON decodes the request body into v. Unknown fields are ignored.
func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func WriteErr(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg})
}

// WriteUpstreamErr writes a failed provider call with its status and raw
// body.
func WriteUpstreamErr(w http.ResponseWriter, status int, details string) {
	WriteJSON(w, status, UpstreamErrorBody{
		Error:   "Browserless API request failed",
		Status:  status,
		Details: details,
	})
}

// WriteBytes writes body as-is with an explicit Content-Length.
func WriteBytes(w http.ResponseWriter, status int, contentType string, body []byte) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
