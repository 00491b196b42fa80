package apperr

import (
	"encoding/json"
	"errors"
	"net/http"
)

type body struct {
	Error payload `json:"error"`
}

type payload struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// WriteJSON renders err as {"error":{code,message,fields}} with the status
// of its kind. Internal errors never leak their text.
func WriteJSON(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	p := payload{Code: string(KindInternal), Message: "internal error"}
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		p.Code = e.Code
		if p.Code == "" {
			p.Code = string(e.Kind)
		}
		p.Message = e.Message
		if p.Message == "" {
			p.Message = string(e.Kind)
		}
		p.Fields = e.Fields
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body{Error: p})
}
