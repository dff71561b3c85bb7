package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestMultiChecker(t *testing.T) {
	ok := CheckerFunc(func() error { return nil })
	assert.NoError(t, NewMultiChecker(ok, ok).Check())

	checker := NewMultiChecker(ok)
	checker.Add(CheckerFunc(func() error { return errors.New("control plane down") }))
	checker.Add(CheckerFunc(func() error { return errors.New("disk full") }))
	err := checker.Check()
	assert.ErrorContains(t, err, "control plane down")
	assert.ErrorContains(t, err, "disk full")
}

func TestHealthCheckHttpHandler(t *testing.T) {
	healthy := true
	router := mux.NewRouter()
	SetupHttpMux(router, CheckerFunc(func() error {
		if healthy {
			return nil
		}
		return errors.New("not connected")
	}))

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, recorder.Code)

	healthy = false
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.Equal(t, "not connected", recorder.Body.String())
}
