package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/learncore/internal/apperr"
	"github.com/mind-engage/learncore/internal/rbac"
)

const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, err error) { apperr.WriteJSON(w, err) }

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("body", "empty request body")
		}
		return &apperr.Error{Kind: apperr.KindValidation, Code: "bad_json", Message: "bad json: " + err.Error()}
	}
	return nil
}

func param(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}

func queryInt64(r *http.Request, name string, def int64) int64 {
	if v, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64); err == nil {
		return v
	}
	return def
}

// learner returns the verified subject of the request.
func learner(r *http.Request) string {
	return rbac.IdentityFromContext(r.Context()).Subject
}

// seesKeys reports whether the caller may read answer keys and
// unpublished content.
func seesKeys(r *http.Request) bool {
	return rbac.Can(r, "content:keys")
}
