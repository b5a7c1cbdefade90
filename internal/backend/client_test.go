package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCall() Call {
	return Call{
		SubmissionID: "abc123",
		Design:       []byte("design-bytes"),
		DesignName:   "adder.zip",
		Bundle:       []byte("bundle-bytes"),
	}
}

func newTestClient(url string, timeout time.Duration) *Client {
	return New("verilator", url, "/simulate_and_evaluate", "verilator_bundle", "evaluator_log", timeout)
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func readPart(r *http.Request, field string) (string, string) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return "", ""
	}
	defer f.Close()
	b, _ := io.ReadAll(f)
	return string(b), hdr.Filename
}

func TestInvokeSendsMultipartFields(t *testing.T) {
	var gotPath, gotID, gotDesign, gotBundle, gotDesignName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		gotID = r.FormValue("submission_id")
		gotDesign, gotDesignName = readPart(r, "design_zip")
		gotBundle, _ = readPart(r, "verilator_bundle")
		respondJSON(w, 200, map[string]any{"success": true, "results": map[string]any{"functionality_score": 0.5}})
	}))
	defer srv.Close()

	out := newTestClient(srv.URL, time.Second).Invoke(context.Background(), testCall())

	require.IsType(t, Success{}, out)
	assert.Equal(t, KindSuccess, out.Kind())
	assert.Equal(t, "/simulate_and_evaluate", gotPath)
	assert.Equal(t, "abc123", gotID)
	assert.Equal(t, "design-bytes", gotDesign)
	assert.Equal(t, "adder.zip", gotDesignName)
	assert.Equal(t, "bundle-bytes", gotBundle)
	assert.Equal(t, true, out.Payload()["success"])
}

func TestInvokeBackendReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, 200, map[string]any{
			"success":       false,
			"error_message": "run.py failed",
			"evaluator_log": "syntax error in rtl/alu.v",
		})
	}))
	defer srv.Close()

	out := newTestClient(srv.URL, time.Second).Invoke(context.Background(), testCall())

	f, ok := out.(BackendFailure)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, "run.py failed", f.Message)
	assert.Equal(t, "syntax error in rtl/alu.v", f.Log)
	p := out.Payload()
	assert.Equal(t, false, p["success"])
	assert.Equal(t, "backend_failure", p["error_type"])
	assert.Equal(t, "syntax error in rtl/alu.v", p["evaluator_log"], "raw body is preserved")
}

func TestInvokeMissingSuccessFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, 200, map[string]any{"results": map[string]any{}})
	}))
	defer srv.Close()

	out := newTestClient(srv.URL, time.Second).Invoke(context.Background(), testCall())
	assert.Equal(t, KindBackendFailure, out.Kind())
}

func TestInvokeNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "field required"})
	}))
	defer srv.Close()

	out := newTestClient(srv.URL, time.Second).Invoke(context.Background(), testCall())

	f, ok := out.(BackendFailure)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, http.StatusUnprocessableEntity, f.StatusCode)
	assert.Contains(t, f.Message, "field required")
}

func TestInvokeInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer srv.Close()

	out := newTestClient(srv.URL, time.Second).Invoke(context.Background(), testCall())

	f, ok := out.(BackendFailure)
	require.True(t, ok, "got %T", out)
	assert.Contains(t, f.Message, "invalid JSON")
	assert.Contains(t, f.Log, "oops")
}

func TestInvokeConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out := newTestClient(url, time.Second).Invoke(context.Background(), testCall())
	require.IsType(t, TransportFailure{}, out)
	assert.Equal(t, "transport_failure", out.Payload()["error_type"])
}

func TestInvokeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	out := newTestClient(srv.URL, 50*time.Millisecond).Invoke(context.Background(), testCall())

	require.IsType(t, Timeout{}, out)
	assert.Equal(t, 50*time.Millisecond, out.(Timeout).After)
	assert.Less(t, time.Since(start), time.Second)
}

func TestInvokeParentCancelIsNotTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	out := newTestClient(srv.URL, 5*time.Second).Invoke(ctx, testCall())

	f, ok := out.(TransportFailure)
	require.True(t, ok, "got %T", out)
	assert.ErrorIs(t, f.Err, context.Canceled)
}

func TestHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		respondJSON(w, 200, map[string]any{"status": "healthy"})
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()
	gone := httptest.NewServer(http.NotFoundHandler())
	goneURL := gone.URL
	gone.Close()

	ctx := context.Background()
	assert.Equal(t, map[string]any{"status": "healthy"}, newTestClient(healthy.URL, time.Second).Health(ctx))
	assert.Equal(t, "unhealthy", newTestClient(broken.URL, time.Second).Health(ctx))
	assert.Equal(t, "unreachable", newTestClient(goneURL, time.Second).Health(ctx))
}

func TestSkippedPayload(t *testing.T) {
	p := Skipped{Reason: "area and performance weights are zero"}.Payload()
	assert.Equal(t, true, p["skipped"])
	assert.NotContains(t, p, "error_type", "a skip is not a failure")
}
