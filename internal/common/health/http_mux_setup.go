package health

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupHttpMux serves checker on GET /health.
func SetupHttpMux(router *mux.Router, checker Checker) {
	router.Handle("/health", NewHealthCheckHttpHandler(checker)).Methods(http.MethodGet)
}
