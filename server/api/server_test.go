package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestServer_MiddlewareChainRunsInRegistrationOrder(t *testing.T) {
	log := zerolog.New(io.Discard).Level(zerolog.Disabled)
	s := NewServer(Config{ListenAddr: ":0"}, log)

	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	s.Use(mw("first"))
	s.Use(mw("second"))
	s.Router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	require.Equal(t, []string{"first", "second", "handler"}, order)
}

func TestServer_EnableCORSAddsAllowOriginHeader(t *testing.T) {
	log := zerolog.New(io.Discard).Level(zerolog.Disabled)
	s := NewServer(Config{ListenAddr: ":0"}, log)
	s.EnableCORS()
	s.Router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
