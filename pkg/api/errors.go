package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"cmsgateway/pkg/upstream"
)

// Error categories exposed in the "error" field of JSON error bodies.
const (
	categoryInvalid     = "Invalid parameter"
	categoryRateLimited = "Too many requests"
	categoryNotFound    = "Not found"
	categoryUpstream    = "Upstream error"
	categoryTimeout     = "Gateway timeout"
	categoryConfig      = "Configuration error"
	categoryInternal    = "Internal server error"

	messageInternal = "An unexpected error occurred"
)

// statusClientClosedRequest is logged for requests the client abandoned.
// Nothing reaches the client; the status only feeds the access log.
const statusClientClosedRequest = 499

// ErrNotFound marks content the upstream confirmed as absent.
var ErrNotFound = errors.New("content not found")

// ValidationError names the offending request parameter.
type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
}

func invalid(param, reason string) error {
	return &ValidationError{Param: param, Reason: reason}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("[writeJSON] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, category, message string) {
	writeJSON(w, status, errorResponse{Error: category, Message: message})
}

// handleError translates err into a JSON error response. Internal details
// are logged, never sent.
func (api *API) handleError(w http.ResponseWriter, r *http.Request, handler string, err error) {
	sID := shorten(GetRequestID(r.Context()))

	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		log.Debugf("[%s][%s] %v", handler, sID, err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: categoryInvalid, Message: verr.Error(), Param: verr.Param})

	case errors.Is(err, ErrNotFound):
		log.Debugf("[%s][%s] %v", handler, sID, err)
		writeError(w, http.StatusNotFound, categoryNotFound, "The requested content does not exist")

	case errors.Is(err, ErrNotConfigured):
		log.Errorf("[config] %v (handler %s, request %s)", err, handler, sID)
		writeError(w, http.StatusInternalServerError, categoryConfig, "The content service is not configured")

	case upstream.IsTimeout(err):
		log.Errorf("[%s][%s] %v", handler, sID, err)
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusGatewayTimeout, categoryTimeout, "The content service did not respond in time, please retry in a few seconds")

	case errors.Is(err, context.Canceled):
		log.Debugf("[%s][%s] client went away: %v", handler, sID, err)
		w.WriteHeader(statusClientClosedRequest)

	default:
		if status, ok := upstream.StatusCode(err); ok {
			if status < http.StatusBadRequest {
				status = http.StatusBadGateway
			}
			log.Errorf("[%s][%s] %v", handler, sID, err)
			writeError(w, status, categoryUpstream, fmt.Sprintf("The content service responded with status %d", status))
			return
		}
		log.Errorf("[%s][%s] %v", handler, sID, err)
		writeError(w, http.StatusInternalServerError, categoryInternal, messageInternal)
	}
}
