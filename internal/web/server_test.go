package web

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Laisky/lellostore/library/log"
)

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodOptions, "/api/admin/apps", nil)
	req.Header.Set("Origin", "https://store.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := s.do(req, "")

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "GET, POST, PUT, DELETE", w.Header().Get("Access-Control-Allow-Methods"))
	require.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")
}

func TestCORSHeadersOnResponses(t *testing.T) {
	s := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/apps", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := s.do(req, "user")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	// error responses carry them too, so browsers can read the reason
	req = httptest.NewRequest(http.MethodGet, "/api/apps", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w = s.do(req, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = s.get("/health", "")
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthIsPublic(t *testing.T) {
	for _, withAuth := range []bool{true, false} {
		s := newTestServer(t, withAuth)
		require.Equal(t, http.StatusOK, s.get("/health", "").Code)
	}
}

func TestServeShutsDownWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(ctx, "test", addr, http.HandlerFunc(teapot), Settings{}, log.Logger)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusTeapot
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeReportsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close() // nolint: errcheck

	err = Serve(context.Background(), "test", ln.Addr().String(), http.NotFoundHandler(), Settings{}, log.Logger)
	require.Error(t, err)
}

// teapot answers every request with 418 so the test can tell its server apart.
func teapot(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusTeapot)
}
