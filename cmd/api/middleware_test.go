package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorsPreflightSkipsRouter(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/service-orders", func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight reached the route")
	}).Methods("POST")

	handler := corsMiddleware("https://app.hoken.com.br")(router)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/service-orders", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.hoken.com.br", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCorsDefaultsToAnyOrigin(t *testing.T) {
	handler := corsMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()

	router := mux.NewRouter()
	router.HandleFunc("/service-orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	router.Use(loggingMiddleware(logger))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/service-orders/x", nil))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Request completed", entry.Message)
	assert.Equal(t, http.StatusNotFound, entry.Data["status"])
	assert.Equal(t, "/service-orders/x", entry.Data["path"])
}
