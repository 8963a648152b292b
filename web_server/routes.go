package web_server

import "net/http"

// populateRoutes sets up all routes except the websocket one, which is added
// with HandleWS.
func (server *WebServer) populateRoutes() {
	server.router.Use(requestIDMiddleware)
	server.router.Use(server.loggingMiddleware)
	server.router.Use(noCacheMiddleware)
	server.router.NotFoundHandler = requestIDMiddleware(noCacheMiddleware(http.HandlerFunc(server.handleNotFound)))
	server.router.HandleFunc("/health", server.handleHealth).Methods(http.MethodGet).Name("health")
	if server.metrics != nil {
		server.router.Handle("/metrics", server.metrics.Handler()).Methods(http.MethodGet).Name("metrics")
	}
	// API stuff.
	apiRouter := server.router.PathPrefix("/api/v3").Subrouter()
	apiRouter.Use(server.rateLimitMiddleware)
	apiRouter.HandleFunc("/get/events", server.handleGetEvents).Methods(http.MethodGet).Name("get-events")
	apiRouter.HandleFunc("/get/event-detail", server.handleGetEvents).Methods(http.MethodGet).Name("get-event-detail")
	apiRouter.HandleFunc("/update/{eventName}/{status}", server.handleUpdateFromPath).Methods(http.MethodPost).Name("update")
	apiRouter.HandleFunc("/update", server.handleUpdateFromBody).Methods(http.MethodPost).Name("update-body")
	server.apiRouter = apiRouter
}
