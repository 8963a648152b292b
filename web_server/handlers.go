package web_server

import (
	"encoding/json"
	"fmt"
	"github.com/gorilla/mux"
	"github.com/lefinal/event-status-server/errors"
	"github.com/lefinal/event-status-server/event"
	"github.com/lefinal/event-status-server/gatekeeping"
	"github.com/lefinal/event-status-server/metrics"
	"net/http"
)

// maxUpdateBodySize limits the body of update requests.
const maxUpdateBodySize = 4096

// updateRequest is the body for the update route without path parameters.
type updateRequest struct {
	EventName string `json:"eventName"`
	Status    string `json:"status"`
}

// healthResponse is the body of the health route.
type healthResponse struct {
	Status   string `json:"status"`
	Events   int    `json:"events"`
	Revision uint64 `json:"revision"`
}

func (server *WebServer) handleNotFound(w http.ResponseWriter, r *http.Request) {
	server.respondError(w, r, errors.NewResourceNotFoundError(fmt.Sprintf("no route for %s %s", r.Method, r.URL.EscapedPath()), nil))
}

func (server *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	board := server.store.Snapshot()
	server.respondJSON(w, r, http.StatusOK, healthResponse{
		Status:   "ok",
		Events:   len(board.Events),
		Revision: board.Revision,
	})
}

func (server *WebServer) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	server.respondJSON(w, r, http.StatusOK, server.store.ListAll())
}

func (server *WebServer) handleUpdateFromPath(w http.ResponseWriter, r *http.Request) {
	credential, err := gatekeeping.CredentialFromRequest(r)
	if err != nil {
		server.respondError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	server.update(w, r, credential, vars["eventName"], vars["status"])
}

func (server *WebServer) handleUpdateFromBody(w http.ResponseWriter, r *http.Request) {
	credential, err := gatekeeping.CredentialFromRequest(r)
	if err != nil {
		server.respondError(w, r, err)
		return
	}
	var req updateRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBodySize))
	decoder.DisallowUnknownFields()
	err = decoder.Decode(&req)
	if err != nil {
		server.respondError(w, r, errors.NewDecodeJSONError(err, "decode update request"))
		return
	}
	if req.EventName == "" {
		server.respondError(w, r, errors.Error{
			Code:    errors.ErrBadRequest,
			Kind:    errors.KindDecodeJSON,
			Message: "missing event name",
		})
		return
	}
	server.update(w, r, credential, req.EventName, req.Status)
}

// update authorizes the credential for the event and applies the status.
// Unknown status text and unknown event names are answered with the current
// event list unless strict status mode is enabled.
func (server *WebServer) update(w http.ResponseWriter, r *http.Request, credential string, eventName string, statusText string) {
	if !server.authorizer.Authorize(credential, eventName) {
		server.trackStatusUpdate(metrics.OutcomeDenied)
		server.respondError(w, r, gatekeeping.NewCredentialDeniedError(eventName))
		return
	}
	status, err := event.ParseStatus(statusText)
	if err != nil {
		server.trackStatusUpdate(metrics.OutcomeInvalid)
		if server.config.StrictStatus {
			server.respondError(w, r, err)
			return
		}
		server.respondJSON(w, r, http.StatusOK, server.store.ListAll())
		return
	}
	events, updated, err := server.store.UpdateStatus(r.Context(), eventName, status)
	if err != nil {
		server.trackStatusUpdate(metrics.OutcomeFailed)
		server.respondError(w, r, errors.Wrap(err, "update status", nil))
		return
	}
	if !updated {
		server.trackStatusUpdate(metrics.OutcomeUnknownEvent)
	} else {
		server.trackStatusUpdate(metrics.OutcomeUpdated)
	}
	server.respondJSON(w, r, http.StatusOK, events)
}

func (server *WebServer) trackStatusUpdate(outcome string) {
	if server.metrics != nil {
		server.metrics.TrackStatusUpdate(outcome)
	}
}
