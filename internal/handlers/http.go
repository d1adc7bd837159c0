package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/rlarsen/althing/internal/errors"
	"github.com/rlarsen/althing/internal/logger"
)

// APIError is the wire shape of a failed request
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

type errorEnvelope struct {
	Error APIError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// writeError maps application error kinds onto stable API codes
func writeError(w http.ResponseWriter, log logger.Logger, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		log.Error("unclassified error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{
			Error: APIError{Code: "internal", Message: "internal error"},
		})
		return
	}

	var status int
	var code string
	switch appErr.Kind {
	case apperrors.ErrValidation:
		status, code = http.StatusBadRequest, "validation"
	case apperrors.ErrCapacity:
		status, code = http.StatusBadRequest, "capacity"
	case apperrors.ErrNotFound:
		status, code = http.StatusNotFound, "not_found"
	case apperrors.ErrStateConflict:
		status, code = http.StatusConflict, "state_conflict"
	case apperrors.ErrPartialFailure:
		status, code = http.StatusInternalServerError, "partial_failure"
	default:
		status, code = http.StatusInternalServerError, "internal"
		log.Error("internal error", "error", err)
	}

	writeJSON(w, status, errorEnvelope{
		Error: APIError{Code: code, Message: appErr.Message, Stage: appErr.Stage},
	})
}

// decode parses a JSON request body into v
func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Validationf("invalid request body: %v", err)
	}
	return nil
}
