package cli

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/brasilcep/cepbench/internal/cep"
	"github.com/brasilcep/cepbench/internal/mockapi"
)

// cepHandler serves the lookup routes, stripping hyphens before the
// lookup like the real service.
func cepHandler(delay time.Duration) http.Handler {
	return mockapi.New(mockapi.Options{Latency: delay, Version: "1.0.0"})
}

// targetArgs starts handler and returns the --host/--port flags pointing
// at it.
func targetArgs(t *testing.T, handler http.Handler) []string {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	target, err := cep.ParseTarget(srv.URL)
	if err != nil {
		t.Fatalf("ParseTarget(%q) error = %v", srv.URL, err)
	}
	return []string{"--host", target.Host, "--port", strconv.Itoa(target.Port)}
}
