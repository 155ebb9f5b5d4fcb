package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.viam.com/test"

	"github.com/tendant/ortho-idmaker/pkg/pipeline"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/process":
			var req pipeline.ProcessRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Job == "" {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(pipeline.ProcessResponse{RunID: req.DedupeKey() + "-1", DedupeSeenCount: 1})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/runs/identify:croz-1":
			json.NewEncoder(w).Encode(pipeline.RunStatus{RunID: "identify:croz-1", State: "running"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProcess(t *testing.T) {
	c := New(newServer(t).URL)
	ctx := context.Background()

	resp, err := c.Process(ctx, pipeline.ProcessRequest{Site: "croz", Job: pipeline.JobIdentify})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.RunID, test.ShouldEqual, "identify:croz-1")
	test.That(t, resp.DedupeSeenCount, test.ShouldEqual, 1)

	_, err = c.Process(ctx, pipeline.ProcessRequest{Site: "croz"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unexpected status 400")
}

func TestStatus(t *testing.T) {
	c := NewWithHTTPClient(newServer(t).URL, http.DefaultClient)
	ctx := context.Background()

	status, err := c.Status(ctx, "identify:croz-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, status.State, test.ShouldEqual, "running")

	_, err = c.Status(ctx, "identify:royd-1")
	test.That(t, errors.Is(err, ErrRunNotFound), test.ShouldBeTrue)
}
