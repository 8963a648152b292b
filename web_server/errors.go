package web_server

import (
	"encoding/json"
	"fmt"
	"github.com/lefinal/event-status-server/errors"
	"go.uber.org/zap"
	"net/http"
)

// ErrorPayload is the response body for failed requests.
type ErrorPayload struct {
	Code    string         `json:"code"`
	Kind    string         `json:"kind,omitempty"`
	Message string         `json:"message"`
	Details errors.Details `json:"details,omitempty"`
}

// ErrorPayloadFromError creates an ErrorPayload from the given error. Details
// of errors the user is not to blame for are hidden.
func ErrorPayloadFromError(err error) ErrorPayload {
	e, _ := errors.Cast(err)
	if !errors.BlameUser(err) {
		return ErrorPayload{
			Code:    string(e.Code),
			Message: "internal server error",
		}
	}
	return ErrorPayload{
		Code:    string(e.Code),
		Kind:    string(e.Kind),
		Message: e.Message,
		Details: e.Details,
	}
}

func newRateLimitedError(route string) error {
	return errors.Error{
		Code:    errors.ErrTooManyRequests,
		Kind:    errors.KindRateLimited,
		Message: fmt.Sprintf("too many requests for %s", route),
	}
}

// respondJSON writes the given payload with the given status code.
func (server *WebServer) respondJSON(w http.ResponseWriter, r *http.Request, code int, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		server.respondError(w, r, errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindEncodeJSON,
			Err:     err,
			Message: "encode response",
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, err = w.Write(raw)
	if err != nil {
		server.logger.Debug("write response", zap.Error(err), zap.String("request_id", requestID(r.Context())))
	}
}

// respondError logs the error and writes the ErrorPayload with the matching
// status code.
func (server *WebServer) respondError(w http.ResponseWriter, r *http.Request, err error) {
	errors.Log(server.logger.With(zap.String("request_id", requestID(r.Context()))), err)
	raw, marshalErr := json.Marshal(ErrorPayloadFromError(err))
	if marshalErr != nil {
		raw = []byte(`{"code":"internal","message":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errors.HTTPStatus(err))
	_, _ = w.Write(raw)
}
