package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/artobs/taxongrid/internal/apperr"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusForCode maps the error taxonomy to an HTTP status.
func statusForCode(code apperr.Code) int {
	switch code {
	case apperr.BadRequest:
		return http.StatusBadRequest
	case apperr.StoreBusy:
		return http.StatusServiceUnavailable
	case apperr.BuildBusy:
		return http.StatusConflict
	case apperr.UpstreamFatal, apperr.UpstreamTransient, apperr.UpstreamTooBig:
		return http.StatusBadGateway
	case apperr.MissingInput:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeAPIError renders err as the standard error body, classifying it via
// apperr when possible and otherwise treating it as Internal.
func writeAPIError(w http.ResponseWriter, err error) {
	if ae, ok := apperr.As(err); ok {
		writeError(w, statusForCode(ae.Code), string(ae.Code), ae.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, string(apperr.Internal), err.Error())
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
