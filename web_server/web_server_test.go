package web_server

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/gorilla/websocket"
	"github.com/lefinal/event-status-server/errors"
	"github.com/lefinal/event-status-server/event"
	"github.com/lefinal/event-status-server/eventstore"
	"github.com/lefinal/event-status-server/gatekeeping"
	"github.com/lefinal/event-status-server/metrics"
	"github.com/lefinal/event-status-server/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const (
	rootSecret  = "root-secret"
	yuktiSecret = "yukti-secret"
)

// persisterStub mocks eventstore.Persister.
type persisterStub struct {
	mock.Mock
}

func (p *persisterStub) Persist(ctx context.Context, events []event.Event) error {
	return p.Called(ctx, event.CopyEvents(events)).Error(0)
}

func testEvents() []event.Event {
	return []event.Event{
		{Name: "Yukti", Status: event.StatusSoon},
		{Name: "Nataka", Status: event.StatusRound1},
	}
}

func newTestGatekeeper(t *testing.T) *gatekeeping.Gatekeeper {
	g, err := gatekeeping.NewGatekeeper(rootSecret, map[string]string{"Yukti": yuktiSecret})
	require.NoError(t, err, "create gatekeeper")
	return g
}

func decodeEvents(t *testing.T, rr *httptest.ResponseRecorder) []event.Event {
	var events []event.Event
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &events), "should return event list")
	return events
}

func decodeErrorPayload(t *testing.T, rr *httptest.ResponseRecorder) ErrorPayload {
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload), "should return error payload")
	return payload
}

func TestNewWebServer(t *testing.T) {
	logger := zap.New(zapcore.NewNopCore())
	_, err := NewWebServer(logger, Config{}, nil, nil, nil)
	assert.Error(t, err, "should fail without addr")
	_, err = NewWebServer(logger, Config{ServeAddr: ":0", RequestsPerSecond: -1}, nil, nil, nil)
	assert.Error(t, err, "should fail with negative quota")
	s, err := NewWebServer(logger, Config{ServeAddr: ":0", RequestsPerSecond: 1}, nil, nil, nil)
	require.NoError(t, err, "should not fail")
	assert.Equal(t, 1, s.config.Burst, "should default burst")
}

// webServerSuite tests the API with a real store.
type webServerSuite struct {
	suite.Suite
	persister *persisterStub
	store     *eventstore.Store
	metrics   *metrics.Metrics
	config    Config
	server    *WebServer
}

func (suite *webServerSuite) SetupTest() {
	suite.persister = &persisterStub{}
	suite.store = eventstore.New(zap.New(zapcore.NewNopCore()), suite.persister, testEvents())
	suite.metrics = metrics.New(nil)
	suite.config = Config{
		ServeAddr:      ":0",
		AllowedOrigins: []string{"https://adharvaa.com"},
	}
	suite.createServer()
}

func (suite *webServerSuite) createServer() {
	var err error
	suite.server, err = NewWebServer(zap.New(zapcore.NewNopCore()), suite.config, suite.store,
		newTestGatekeeper(suite.T()), suite.metrics)
	suite.Require().NoError(err, "create web server")
}

func (suite *webServerSuite) do(method string, target string, credential string, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	if credential != "" {
		r.Header.Set("Authorization", "Bearer "+credential)
	}
	rr := httptest.NewRecorder()
	suite.server.Handler().ServeHTTP(rr, r)
	return rr
}

func (suite *webServerSuite) TestGetEvents() {
	for _, path := range []string{"/api/v3/get/events", "/api/v3/get/event-detail"} {
		rr := suite.do(http.MethodGet, path, "", "")
		suite.Equal(http.StatusOK, rr.Code, "should succeed for %s", path)
		suite.Equal("application/json", rr.Header().Get("Content-Type"))
		suite.Contains(rr.Header().Get("Cache-Control"), "no-cache", "should disable caching")
		suite.NotEmpty(rr.Header().Get(requestIDHeader), "should set request id")
		suite.Equal(testEvents(), decodeEvents(suite.T(), rr))
	}
}

func (suite *webServerSuite) TestGetEventsEmpty() {
	suite.store = eventstore.New(zap.New(zapcore.NewNopCore()), suite.persister, nil)
	suite.createServer()
	rr := suite.do(http.MethodGet, "/api/v3/get/events", "", "")
	suite.Equal(http.StatusOK, rr.Code)
	suite.JSONEq(`[]`, rr.Body.String(), "should encode empty list as array")
}

func (suite *webServerSuite) TestUpdateWithRootSecret() {
	expect := testEvents()
	expect[1].Status = event.StatusEnded
	suite.persister.On("Persist", mock.Anything, expect).Return(nil).Once()
	defer suite.persister.AssertExpectations(suite.T())
	rr := suite.do(http.MethodPost, "/api/v3/update/Nataka/ended", rootSecret, "")
	suite.Equal(http.StatusOK, rr.Code)
	suite.Equal(expect, decodeEvents(suite.T(), rr))
	suite.Equal(expect, suite.store.ListAll(), "should update store")
	suite.assertStatusUpdates(metrics.OutcomeUpdated, 1)
}

func (suite *webServerSuite) TestUpdateWithEventSecret() {
	expect := testEvents()
	expect[0].Status = event.StatusRound3
	suite.persister.On("Persist", mock.Anything, expect).Return(nil).Once()
	defer suite.persister.AssertExpectations(suite.T())
	rr := suite.do(http.MethodPost, "/api/v3/update/Yukti/ROUND3", yuktiSecret, "")
	suite.Equal(http.StatusOK, rr.Code)
	suite.Equal(expect, decodeEvents(suite.T(), rr))
}

func (suite *webServerSuite) TestUpdateEventSecretForOtherEvent() {
	rr := suite.do(http.MethodPost, "/api/v3/update/Nataka/Ended", yuktiSecret, "")
	suite.Equal(http.StatusForbidden, rr.Code)
	payload := decodeErrorPayload(suite.T(), rr)
	suite.Equal(string(errors.ErrForbidden), payload.Code)
	suite.Equal(string(errors.KindCredentialDenied), payload.Kind)
	suite.Equal(testEvents(), suite.store.ListAll(), "should not touch store")
	suite.persister.AssertNotCalled(suite.T(), "Persist", mock.Anything, mock.Anything)
}

func (suite *webServerSuite) TestUpdateWrongSecret() {
	rr := suite.do(http.MethodPost, "/api/v3/update/Yukti/Ended", "guess", "")
	suite.Equal(http.StatusForbidden, rr.Code)
	suite.Equal(testEvents(), suite.store.ListAll(), "should not touch store")
}

func (suite *webServerSuite) TestUpdateMissingCredential() {
	rr := suite.do(http.MethodPost, "/api/v3/update/Yukti/Ended", "", "")
	suite.Equal(http.StatusUnauthorized, rr.Code)
	payload := decodeErrorPayload(suite.T(), rr)
	suite.Equal(string(errors.ErrUnauthorized), payload.Code)
	suite.Equal(string(errors.KindMissingCredential), payload.Kind)
	suite.Equal(testEvents(), suite.store.ListAll(), "should not touch store")
}

func (suite *webServerSuite) TestUpdateMalformedCredential() {
	r := httptest.NewRequest(http.MethodPost, "/api/v3/update/Yukti/Ended", nil)
	r.Header.Set("Authorization", "Basic "+rootSecret)
	rr := httptest.NewRecorder()
	suite.server.Handler().ServeHTTP(rr, r)
	suite.Equal(http.StatusUnauthorized, rr.Code)
}

func (suite *webServerSuite) TestUpdateInvalidStatus() {
	rr := suite.do(http.MethodPost, "/api/v3/update/Yukti/Finished", rootSecret, "")
	suite.Equal(http.StatusOK, rr.Code, "should answer with list")
	suite.Equal(testEvents(), decodeEvents(suite.T(), rr), "should not change")
	suite.persister.AssertNotCalled(suite.T(), "Persist", mock.Anything, mock.Anything)
	suite.assertStatusUpdates(metrics.OutcomeInvalid, 1)
}

func (suite *webServerSuite) TestUpdateInvalidStatusStrict() {
	suite.config.StrictStatus = true
	suite.createServer()
	rr := suite.do(http.MethodPost, "/api/v3/update/Yukti/Finished", rootSecret, "")
	suite.Equal(http.StatusBadRequest, rr.Code)
	payload := decodeErrorPayload(suite.T(), rr)
	suite.Equal(string(errors.ErrBadRequest), payload.Code)
	suite.Equal(string(errors.KindInvalidStatus), payload.Kind)
	suite.Equal(testEvents(), suite.store.ListAll(), "should not change")
}

// TestUpdateInvalidStatusUnauthorized assures that authorization is checked
// before the status.
func (suite *webServerSuite) TestUpdateInvalidStatusUnauthorized() {
	rr := suite.do(http.MethodPost, "/api/v3/update/Yukti/Finished", "guess", "")
	suite.Equal(http.StatusForbidden, rr.Code)
}

func (suite *webServerSuite) TestUpdateUnknownEvent() {
	rr := suite.do(http.MethodPost, "/api/v3/update/Unknown/Ended", rootSecret, "")
	suite.Equal(http.StatusOK, rr.Code)
	suite.Equal(testEvents(), decodeEvents(suite.T(), rr))
	suite.persister.AssertNotCalled(suite.T(), "Persist", mock.Anything, mock.Anything)
	suite.assertStatusUpdates(metrics.OutcomeUnknownEvent, 1)
}

func (suite *webServerSuite) TestUpdatePersistFail() {
	suite.persister.On("Persist", mock.Anything, mock.Anything).Return(errors.Error{
		Code:    errors.ErrInternal,
		Kind:    errors.KindWriteSnapshot,
		Message: "save snapshot",
		Details: errors.Details{"path": "/secret/location"},
	}).Once()
	rr := suite.do(http.MethodPost, "/api/v3/update/Yukti/Ended", rootSecret, "")
	suite.Equal(http.StatusInternalServerError, rr.Code)
	payload := decodeErrorPayload(suite.T(), rr)
	suite.Equal(string(errors.ErrInternal), payload.Code)
	suite.Equal("internal server error", payload.Message, "should hide message")
	suite.Empty(payload.Details, "should hide details")
	suite.assertStatusUpdates(metrics.OutcomeFailed, 1)
}

func (suite *webServerSuite) TestUpdateFromBody() {
	expect := testEvents()
	expect[0].Status = event.StatusDelayed
	suite.persister.On("Persist", mock.Anything, expect).Return(nil).Once()
	defer suite.persister.AssertExpectations(suite.T())
	rr := suite.do(http.MethodPost, "/api/v3/update", yuktiSecret, `{"eventName":"Yukti","status":"delayed"}`)
	suite.Equal(http.StatusOK, rr.Code)
	suite.Equal(expect, decodeEvents(suite.T(), rr))
}

func (suite *webServerSuite) TestUpdateFromBodyInvalid() {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `Yukti=Ended`},
		{name: "unknown field", body: `{"eventName":"Yukti","status":"Ended","force":true}`},
		{name: "missing name", body: `{"status":"Ended"}`},
	}
	for _, tt := range tests {
		rr := suite.do(http.MethodPost, "/api/v3/update", rootSecret, tt.body)
		suite.Equal(http.StatusBadRequest, rr.Code, "should fail for %s", tt.name)
		suite.Equal(string(errors.KindDecodeJSON), decodeErrorPayload(suite.T(), rr).Kind, "should fail for %s", tt.name)
	}
	suite.Equal(testEvents(), suite.store.ListAll(), "should not change")
}

func (suite *webServerSuite) TestUpdateFromBodyMissingCredential() {
	rr := suite.do(http.MethodPost, "/api/v3/update", "", `{"eventName":"Yukti","status":"Ended"}`)
	suite.Equal(http.StatusUnauthorized, rr.Code)
}

func (suite *webServerSuite) TestWrongMethod() {
	rr := suite.do(http.MethodGet, "/api/v3/update/Yukti/Ended", rootSecret, "")
	suite.Equal(http.StatusMethodNotAllowed, rr.Code)
}

func (suite *webServerSuite) TestNotFound() {
	rr := suite.do(http.MethodGet, "/api/v2/get/events", "", "")
	suite.Equal(http.StatusNotFound, rr.Code)
	suite.Equal(string(errors.ErrNotFound), decodeErrorPayload(suite.T(), rr).Code)
}

func (suite *webServerSuite) TestHealth() {
	rr := suite.do(http.MethodGet, "/health", "", "")
	suite.Equal(http.StatusOK, rr.Code)
	suite.JSONEq(`{"status":"ok","events":2,"revision":0}`, rr.Body.String())
}

func (suite *webServerSuite) TestMetrics() {
	suite.do(http.MethodGet, "/api/v3/get/events", "", "")
	rr := suite.do(http.MethodGet, "/metrics", "", "")
	suite.Equal(http.StatusOK, rr.Code)
	suite.Contains(rr.Body.String(), `route="/api/v3/get/events"`, "should track route template")
}

func (suite *webServerSuite) TestMetricsRouteTemplate() {
	suite.persister.On("Persist", mock.Anything, mock.Anything).Return(nil)
	suite.do(http.MethodPost, "/api/v3/update/Yukti/Ended", rootSecret, "")
	rr := suite.do(http.MethodGet, "/metrics", "", "")
	suite.Contains(rr.Body.String(), `route="/api/v3/update/{eventName}/{status}"`, "should not use raw path")
}

func (suite *webServerSuite) TestCORS() {
	r := httptest.NewRequest(http.MethodOptions, "/api/v3/update/Yukti/Ended", nil)
	r.Header.Set("Origin", "https://adharvaa.com")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	r.Header.Set("Access-Control-Request-Headers", "Authorization")
	rr := httptest.NewRecorder()
	suite.server.Handler().ServeHTTP(rr, r)
	suite.Equal("https://adharvaa.com", rr.Header().Get("Access-Control-Allow-Origin"))
	suite.Equal("true", rr.Header().Get("Access-Control-Allow-Credentials"))
}

func (suite *webServerSuite) TestCORSForeignOrigin() {
	r := httptest.NewRequest(http.MethodGet, "/api/v3/get/events", nil)
	r.Header.Set("Origin", "https://evil.example")
	rr := httptest.NewRecorder()
	suite.server.Handler().ServeHTTP(rr, r)
	suite.Empty(rr.Header().Get("Access-Control-Allow-Origin"), "should not allow foreign origin")
}

func (suite *webServerSuite) TestRateLimit() {
	suite.config.RequestsPerSecond = 1
	suite.config.Burst = 1
	suite.createServer()
	rr := suite.do(http.MethodGet, "/api/v3/get/events", "", "")
	suite.Equal(http.StatusOK, rr.Code, "first should pass")
	rr = suite.do(http.MethodGet, "/api/v3/get/events", "", "")
	suite.Equal(http.StatusTooManyRequests, rr.Code, "second should be limited")
	suite.Equal(string(errors.ErrTooManyRequests), decodeErrorPayload(suite.T(), rr).Code)
	// Other routes have their own quota.
	rr = suite.do(http.MethodGet, "/api/v3/get/event-detail", "", "")
	suite.Equal(http.StatusOK, rr.Code, "other route should pass")
	// Health is not limited.
	for i := 0; i < 3; i++ {
		suite.Equal(http.StatusOK, suite.do(http.MethodGet, "/health", "", "").Code)
	}
}

// TestWebsocket assures that the websocket route can upgrade through all
// middlewares.
func (suite *webServerSuite) TestWebsocket() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	hub := ws.NewHub(zap.New(zapcore.NewNopCore()), suite.store, nil)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		_ = hub.Run(ctx)
	}()
	suite.server.HandleWS(ws.HandleWS(ctx, zap.New(zapcore.NewNopCore()), hub, suite.config.AllowedOrigins))
	httpServer := httptest.NewServer(suite.server.Handler())
	defer httpServer.Close()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx,
		"ws"+strings.TrimPrefix(httpServer.URL, "http")+"/api/v3/ws", http.Header{"Origin": []string{"https://adharvaa.com"}})
	suite.Require().NoError(err, "dial should not fail")
	defer func() { _ = conn.Close() }()
	suite.Require().NoError(conn.SetReadDeadline(time.Now().Add(3 * time.Second)))
	var m struct {
		Type    string      `json:"type"`
		Payload event.Board `json:"payload"`
	}
	suite.Require().NoError(conn.ReadJSON(&m), "should receive board")
	suite.Equal(ws.MessageTypeBoard, m.Type)
	suite.Equal(testEvents(), m.Payload.Events)
	cancel()
	<-hubDone
}

// assertStatusUpdates checks the status update counter for the given outcome.
func (suite *webServerSuite) assertStatusUpdates(outcome string, expect int) {
	rr := httptest.NewRecorder()
	suite.metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	suite.Contains(rr.Body.String(), fmt.Sprintf(`event_status_status_updates_total{outcome="%s"} %d`, outcome, expect))
}

func TestWebServer(t *testing.T) {
	suite.Run(t, new(webServerSuite))
}
