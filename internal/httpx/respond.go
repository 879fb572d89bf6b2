package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"github.com/ariefcatur/go-marketplace-orders/internal/auth"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBody = 1 << 20

type errorBody struct {
	Error   string         `json:"error"`
	Kind    string         `json:"kind"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto its status code; internal errors are logged
// with the request id and reported generically.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("request_id=%s %s %s: %v", middleware.GetReqID(r.Context()), r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorBody{
		Error:   apperr.Message(err),
		Kind:    apperr.Kind(err),
		Details: apperr.DetailsOf(err),
	})
}

// writeStatus is the auth middleware's error sink.
func writeStatus(w http.ResponseWriter, status int, msg string) {
	kind := "unauthorized"
	if status == http.StatusForbidden {
		kind = "forbidden"
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("invalid json: %v", err)
	}
	return nil
}

func caller(r *http.Request) string {
	id, _ := auth.FromContext(r.Context())
	return id.UserID
}
