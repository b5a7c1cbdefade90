package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassed(t *testing.T) {
	tests := []struct {
		name string
		doc  map[string]any
		want bool
	}{
		{"both succeeded", map[string]any{
			"success":           true,
			"verilator_results": map[string]any{"success": true},
			"openlane_results":  map[string]any{"success": true},
		}, true},
		{"synthesis skipped", map[string]any{
			"success":           true,
			"verilator_results": map[string]any{"success": true},
			"openlane_results":  map[string]any{"skipped": true},
		}, true},
		{"synthesis failed", map[string]any{
			"success":           true,
			"verilator_results": map[string]any{"success": true},
			"openlane_results":  map[string]any{"success": false},
		}, false},
		{"request failed", map[string]any{"success": false}, false},
		{"empty", map[string]any{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, passed(tt.doc))
		})
	}
}

func TestPostSendsMultipart(t *testing.T) {
	dir := t.TempDir()
	design := filepath.Join(dir, "design.zip")
	evaluator := filepath.Join(dir, "evaluator.zip")
	require.NoError(t, os.WriteFile(design, []byte("D"), 0o644))
	require.NoError(t, os.WriteFile(evaluator, []byte("E"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/evaluate", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "sub-7", r.FormValue("submission_id"))
		assert.Equal(t, `{"weights":{}}`, r.FormValue("scoring"))
		f, hdr, err := r.FormFile("design_zip")
		if assert.NoError(t, err) {
			defer f.Close()
			assert.Equal(t, "design.zip", hdr.Filename)
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	status, body, err := post(context.Background(), srv.Client(), submission{
		URL:          srv.URL + "/",
		Token:        "k",
		DesignPath:   design,
		EvalPath:     evaluator,
		SubmissionID: "sub-7",
		Scoring:      []byte(`{"weights":{}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"success":true}`, string(body))
}

func TestIDCommand(t *testing.T) {
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"id", "--length", "12"})
	require.NoError(t, rootCmd.Execute())
	assert.Regexp(t, `^[0-9a-f]{12}\n$`, out.String())
}
