package opsserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/cloud-rollout/internal/models"
	"github.com/Sh00ty/cloud-rollout/internal/reconciler"
	"github.com/Sh00ty/cloud-rollout/internal/storage/inmemory"
)

type fakeDeployer struct {
	rollbackErr error
	clearErr    error
	rollbacks   []string
	cleared     []string
}

func (d *fakeDeployer) Rollback(_ context.Context, service string) error {
	d.rollbacks = append(d.rollbacks, service)
	return d.rollbackErr
}

func (d *fakeDeployer) ClearPoison(_ context.Context, service string) error {
	d.cleared = append(d.cleared, service)
	return d.clearErr
}

type fakeHistory struct {
	transitions []models.Transition
	err         error
	lastLimit   int
}

func (h *fakeHistory) History(_ context.Context, _ string, limit int) ([]models.Transition, error) {
	h.lastLimit = limit
	return h.transitions, h.err
}

type kickCounter struct {
	n int
}

func (k *kickCounter) Kick() {
	k.n++
}

type apiFixture struct {
	store    *inmemory.Store
	deployer *fakeDeployer
	history  *fakeHistory
	kicks    *kickCounter
	mux      *http.ServeMux
}

func newAPIFixture() *apiFixture {
	f := &apiFixture{
		store:    inmemory.NewStore(),
		deployer: &fakeDeployer{},
		history:  &fakeHistory{},
		kicks:    &kickCounter{},
	}
	srv := NewServer("127.0.0.1:0", f.store, f.deployer, f.history, f.kicks, zerolog.Nop())
	f.mux = srv.routes()
	return f
}

func (f *apiFixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, httptest.NewRequest(method, target, rd))
	return w
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), "body: %s", w.Body.String())
}

func validRegisterBody(name string) registerServiceRequest {
	return registerServiceRequest{
		Name:          name,
		Artifact:      name + "-releases",
		PollInterval:  "30s",
		ProbeKind:     "mock",
		ProbeSettings: json.RawMessage(`{}`),
	}
}

func TestRegisterServiceAppliesDefaults(t *testing.T) {
	f := newAPIFixture()

	w := f.do(t, http.MethodPost, "/v1/services", validRegisterBody("billing"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var dto serviceDto
	decodeInto(t, w, &dto)
	assert.Equal(t, "billing", dto.Name)
	assert.Equal(t, "billing-releases", dto.Artifact)
	assert.Equal(t, "30s", dto.PollInterval)
	assert.Equal(t, "2s", dto.ProbeInterval)
	assert.Equal(t, 3, dto.RequiredSuccesses)
	assert.Equal(t, "30s", dto.ValidationWindow)
	assert.Equal(t, "1m30s", dto.ReadyTimeout)
	assert.Equal(t, "30s", dto.DrainGrace)
	assert.Equal(t, "1m0s", dto.FailureCooldown)
	assert.False(t, dto.CreatedAt.IsZero())
	assert.Equal(t, 1, f.kicks.n)

	spec, err := f.store.GetService(context.Background(), "billing")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, spec.PollInterval)
	assert.Equal(t, models.DefaultRequiredSuccesses, spec.RequiredSuccesses)
}

func TestRegisterServiceRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*registerServiceRequest)
	}{
		{"missing name", func(r *registerServiceRequest) { r.Name = "" }},
		{"missing artifact", func(r *registerServiceRequest) { r.Artifact = "" }},
		{"missing probe kind", func(r *registerServiceRequest) { r.ProbeKind = "" }},
		{"unknown probe kind", func(r *registerServiceRequest) { r.ProbeKind = "carrier-pigeon" }},
		{"broken probe settings", func(r *registerServiceRequest) { r.ProbeSettings = json.RawMessage(`{"fail_first":"many"}`) }},
		{"malformed duration", func(r *registerServiceRequest) { r.PollInterval = "soon" }},
		{"negative duration", func(r *registerServiceRequest) { r.ValidationWindow = "-5s" }},
		{"negative successes", func(r *registerServiceRequest) { r.RequiredSuccesses = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAPIFixture()
			req := validRegisterBody("broken")
			tc.mod(&req)

			w := f.do(t, http.MethodPost, "/v1/services", req)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			var resp errorResponse
			decodeInto(t, w, &resp)
			assert.NotEmpty(t, resp.Error)
			assert.Zero(t, f.kicks.n)
		})
	}
}

func TestRegisterServiceDuplicateConflict(t *testing.T) {
	f := newAPIFixture()

	w := f.do(t, http.MethodPost, "/v1/services", validRegisterBody("billing"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/v1/services", validRegisterBody("billing"))
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 1, f.kicks.n)
}

func TestGetServiceShowsDeploymentRecord(t *testing.T) {
	f := newAPIFixture()
	f.do(t, http.MethodPost, "/v1/services", validRegisterBody("billing"))

	// Registered but never deployed: no record yet.
	w := f.do(t, http.MethodGet, "/v1/services/billing", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp serviceStatusResponse
	decodeInto(t, w, &resp)
	assert.Equal(t, "billing", resp.Spec.Name)
	assert.Nil(t, resp.Record)

	require.NoError(t, f.store.UpsertRecord(context.Background(), models.DeploymentRecord{
		Service:        "billing",
		State:          models.StateValidating,
		Current:        "sha-1",
		Candidate:      "sha-2",
		LastTransition: time.Now(),
	}))

	w = f.do(t, http.MethodGet, "/v1/services/billing", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = serviceStatusResponse{}
	decodeInto(t, w, &resp)
	require.NotNil(t, resp.Record)
	assert.Equal(t, "validating", resp.Record.State)
	assert.Equal(t, "sha-1", resp.Record.Current)
	assert.Equal(t, "sha-2", resp.Record.Candidate)
	assert.Nil(t, resp.Record.CooldownUntil)

	w = f.do(t, http.MethodGet, "/v1/services/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListServicesSorted(t *testing.T) {
	f := newAPIFixture()
	f.do(t, http.MethodPost, "/v1/services", validRegisterBody("zebra"))
	f.do(t, http.MethodPost, "/v1/services", validRegisterBody("alpaca"))

	w := f.do(t, http.MethodGet, "/v1/services", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp listServicesResponse
	decodeInto(t, w, &resp)
	require.Len(t, resp.Services, 2)
	assert.Equal(t, "alpaca", resp.Services[0].Name)
	assert.Equal(t, "zebra", resp.Services[1].Name)
}

func TestRemoveService(t *testing.T) {
	f := newAPIFixture()
	f.do(t, http.MethodPost, "/v1/services", validRegisterBody("billing"))

	w := f.do(t, http.MethodDelete, "/v1/services/billing", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 2, f.kicks.n)

	w = f.do(t, http.MethodGet, "/v1/services/billing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodDelete, "/v1/services/billing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRollbackStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"unknown service", reconciler.ErrUnknownService, http.StatusNotFound},
		{"nothing in flight", reconciler.ErrNotCancellable, http.StatusConflict},
		{"shutting down", reconciler.ErrStopped, http.StatusServiceUnavailable},
		{"engine failure", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAPIFixture()
			f.deployer.rollbackErr = tc.err

			w := f.do(t, http.MethodPost, "/v1/services/checkout/rollback", nil)
			require.Equal(t, tc.code, w.Code, w.Body.String())
			require.Equal(t, []string{"checkout"}, f.deployer.rollbacks)

			if tc.err == nil {
				var resp map[string]string
				decodeInto(t, w, &resp)
				assert.Equal(t, "rolling-back", resp["status"])
			}
		})
	}
}

func TestClearPoisonStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"cleared", nil, http.StatusNoContent},
		{"unknown service", reconciler.ErrUnknownService, http.StatusNotFound},
		{"shutting down", reconciler.ErrStopped, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAPIFixture()
			f.deployer.clearErr = tc.err

			w := f.do(t, http.MethodDelete, "/v1/services/checkout/poison", nil)
			require.Equal(t, tc.code, w.Code, w.Body.String())
			require.Equal(t, []string{"checkout"}, f.deployer.cleared)
		})
	}
}

func TestHistoryEndpoint(t *testing.T) {
	f := newAPIFixture()
	now := time.Now()
	f.history.transitions = []models.Transition{
		{Service: "billing", From: models.StateStable, To: models.StateStaging, Fingerprint: "sha-2", Reason: "new fingerprint discovered in registry", Time: now},
		{Service: "billing", From: models.StateStaging, To: models.StateValidating, Fingerprint: "sha-2", Reason: "candidate ready, validation started", Time: now},
	}

	w := f.do(t, http.MethodGet, "/v1/services/billing/history", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp historyResponse
	decodeInto(t, w, &resp)
	assert.Equal(t, "billing", resp.Service)
	require.Len(t, resp.Transitions, 2)
	assert.Equal(t, "stable", resp.Transitions[0].From)
	assert.Equal(t, "staging", resp.Transitions[0].To)
	assert.Equal(t, "sha-2", resp.Transitions[0].Fingerprint)
	assert.Zero(t, f.history.lastLimit)

	f.do(t, http.MethodGet, "/v1/services/billing/history?limit=3", nil)
	assert.Equal(t, 3, f.history.lastLimit)

	// Oversized limits are capped, not rejected.
	f.do(t, http.MethodGet, "/v1/services/billing/history?limit=100000", nil)
	assert.Equal(t, 500, f.history.lastLimit)

	w = f.do(t, http.MethodGet, "/v1/services/billing/history?limit=banana", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.history.err = errors.New("journal unavailable")
	w = f.do(t, http.MethodGet, "/v1/services/billing/history", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}