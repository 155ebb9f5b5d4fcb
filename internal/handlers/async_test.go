package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/tendant/ortho-idmaker/internal/dbosruntime"
	"github.com/tendant/ortho-idmaker/pkg/pipeline"
)

type fakeRunner struct {
	enqueued []pipeline.ProcessRequest
	enqErr   error
	statuses map[string]*pipeline.RunStatus
}

func (f *fakeRunner) RunAsync(_ context.Context, req pipeline.ProcessRequest) (string, error) {
	if f.enqErr != nil {
		return "", f.enqErr
	}
	f.enqueued = append(f.enqueued, req)
	return req.DedupeKey() + "-run", nil
}

func (f *fakeRunner) GetStatus(_ context.Context, runID string) (*pipeline.RunStatus, error) {
	if s, ok := f.statuses[runID]; ok {
		return s, nil
	}
	return nil, errors.Wrap(dbosruntime.ErrWorkflowNotFound, runID)
}

type countingRecorder map[string]int

func (c countingRecorder) Record(_ context.Context, req pipeline.ProcessRequest) (int, error) {
	c[req.DedupeKey()]++
	return c[req.DedupeKey()], nil
}

func identifyBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(pipeline.ProcessRequest{
		Site: "croz",
		Job:  pipeline.JobIdentify,
		Identify: &pipeline.IdentifyParams{
			OrthoPath:      "/data/croz.tif",
			TileTablePath:  "/data/tiles/GeorefTable.csv",
			PredictionsDir: "/data/labels",
			TileWidth:      512,
			TileHeight:     256,
			Radius:         20,
		},
	})
	test.That(t, err, test.ShouldBeNil)
	return body
}

func TestHandleProcessAsync(t *testing.T) {
	runner := &fakeRunner{}
	h := NewAsyncHandler(runner, countingRecorder{}, nil)

	for want := 1; want <= 2; want++ {
		rec := httptest.NewRecorder()
		h.HandleProcessAsync(rec, httptest.NewRequest(http.MethodPost, "/v1/process", bytes.NewReader(identifyBody(t))))
		test.That(t, rec.Code, test.ShouldEqual, http.StatusAccepted)

		var resp pipeline.ProcessResponse
		test.That(t, json.NewDecoder(rec.Body).Decode(&resp), test.ShouldBeNil)
		test.That(t, resp.RunID, test.ShouldEqual, "identify:croz-run")
		test.That(t, resp.DedupeSeenCount, test.ShouldEqual, want)
	}
	test.That(t, runner.enqueued, test.ShouldHaveLength, 2)
	test.That(t, runner.enqueued[0].Identify.Radius, test.ShouldEqual, 20.0)
}

func TestHandleProcessAsyncRejects(t *testing.T) {
	h := NewAsyncHandler(&fakeRunner{}, nil, nil)

	rec := httptest.NewRecorder()
	h.HandleProcessAsync(rec, httptest.NewRequest(http.MethodGet, "/v1/process", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusMethodNotAllowed)

	rec = httptest.NewRecorder()
	h.HandleProcessAsync(rec, httptest.NewRequest(http.MethodPost, "/v1/process", bytes.NewReader([]byte("{"))))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusBadRequest)

	rec = httptest.NewRecorder()
	h.HandleProcessAsync(rec, httptest.NewRequest(http.MethodPost, "/v1/process", bytes.NewReader([]byte(`{"job":"identify"}`))))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusBadRequest)
	test.That(t, rec.Body.String(), test.ShouldContainSubstring, "invalid request")
}

func TestHandleProcessAsyncEnqueueFailure(t *testing.T) {
	h := NewAsyncHandler(&fakeRunner{enqErr: errors.New("queue down")}, nil, nil)
	rec := httptest.NewRecorder()
	h.HandleProcessAsync(rec, httptest.NewRequest(http.MethodPost, "/v1/process", bytes.NewReader(identifyBody(t))))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusInternalServerError)
}

func TestHandleStatus(t *testing.T) {
	runner := &fakeRunner{statuses: map[string]*pipeline.RunStatus{
		"run-1": {RunID: "run-1", State: "succeeded"},
	}}
	h := NewAsyncHandler(runner, nil, nil)

	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/run-1", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	var status pipeline.RunStatus
	test.That(t, json.NewDecoder(rec.Body).Decode(&status), test.ShouldBeNil)
	test.That(t, status.State, test.ShouldEqual, "succeeded")

	rec = httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/run-2", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusNotFound)

	rec = httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusBadRequest)
}
