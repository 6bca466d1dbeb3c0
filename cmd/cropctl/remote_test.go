package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cropsight/platform/pkg/ingestion"
	"github.com/cropsight/platform/pkg/progress"
	"github.com/stretchr/testify/require"
)

func fakeAPI(t *testing.T, final string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/ingest", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(ingestion.UploadResult{
			Status:        ingestion.UploadSuccess,
			Message:       "Ingestion workflow started for sample.geojson. Track run ID.",
			WorkflowRunID: "run-42",
		})
	})
	mux.HandleFunc("/api/v1/workflows/run-42/stream", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"inserting","message":"Inserted 3 of 4","totalFeatures":4,"inserted":3,"skipped":0}`+"\n"+final+"\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestUploadFollowCommand(t *testing.T) {
	srv := fakeAPI(t, `{"status":"completed","message":"Done","inserted":3,"skipped":1}`)
	path := filepath.Join(t.TempDir(), "sample.geojson")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"upload", path, "--capture-date", "2024-05-01", "--api", srv.URL + "/api/v1", "--token", "tok", "--follow"})
	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), "run: run-42")
	require.Contains(t, out.String(), "[inserting] Inserted 3 of 4 (inserted 3, skipped 0 of 4)")
	require.Contains(t, out.String(), "[completed] Done (inserted 3, skipped 1)")
}

func TestWatchCommandReportsFailedRun(t *testing.T) {
	srv := fakeAPI(t, `{"status":"error","message":"No features contained a crop identifier (dn)."}`)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"watch", "run-42", "--api", srv.URL + "/api/v1"})
	err := root.Execute()
	require.EqualError(t, err, "run run-42 failed: No features contained a crop identifier (dn).")
	require.Contains(t, out.String(), "[error]")
}

func TestFormatEvent(t *testing.T) {
	require.Equal(t, "[queued] Queued", formatEvent(progress.Event{Status: progress.StatusQueued, Message: "Queued"}))
}
