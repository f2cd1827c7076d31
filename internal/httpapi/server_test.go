package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentd/internal/assemble"
	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/fault"
	"github.com/fyrsmithlabs/agentd/internal/flow"
	"github.com/fyrsmithlabs/agentd/internal/model"
	"github.com/fyrsmithlabs/agentd/internal/optimize"
	"github.com/fyrsmithlabs/agentd/internal/resource"
	"github.com/fyrsmithlabs/agentd/internal/source"
)

func newTestServer(t *testing.T, invoker model.Invoker) *Server {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Retry.Model.Attempts = 0

	history := source.NewHistoryStore(nil)
	coordinator := flow.New(cfg, flow.Deps{
		Resources: resource.NewManager(cfg.Resource, nil),
		Assembler: assemble.New(cfg.Assembly, optimize.New(cfg.Optimize), []source.Adapter{history}, nil),
		Invoker:   invoker,
		History:   history,
	})
	return NewServer(cfg.Server, coordinator, nil, nil)
}

func submit(t *testing.T, s *Server, body string) (*httptest.ResponseRecorder, SubmitResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/requests", strings.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

const echoContentType = "Content-Type"

func TestSubmitCompletes(t *testing.T) {
	s := newTestServer(t, model.NewScriptedInvoker(&model.Response{Text: "hello there"}))

	rec, resp := submit(t, s, `{"type":"chat","payload":"hi"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", string(resp.State))
	assert.Equal(t, "hello there", resp.Output)
	assert.NotEmpty(t, resp.ID)
	assert.Nil(t, resp.Error)
}

func TestSubmitValidationError(t *testing.T) {
	s := newTestServer(t, model.NewScriptedInvoker())

	rec, resp := submit(t, s, `{"type":"chat","payload":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "failed", string(resp.State))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(fault.KindValidation), resp.Error.Code)
}

func TestSubmitMalformedBody(t *testing.T) {
	s := newTestServer(t, model.NewScriptedInvoker())

	req := httptest.NewRequest(http.MethodPost, "/v1/requests", strings.NewReader("{not json"))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitDependencyFailure(t *testing.T) {
	invoker := model.NewScriptedInvoker().FailWith(
		fault.Dependency("model.generate", assert.AnError))
	s := newTestServer(t, invoker)

	rec, resp := submit(t, s, `{"type":"chat","payload":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(fault.KindDependency), resp.Error.Code)
}

func TestGetRequestNotFound(t *testing.T) {
	s := newTestServer(t, model.NewScriptedInvoker())

	req := httptest.NewRequest(http.MethodGet, "/v1/requests/nope", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelNotFound(t *testing.T) {
	s := newTestServer(t, model.NewScriptedInvoker())

	req := httptest.NewRequest(http.MethodPost, "/v1/requests/nope/cancel", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	cfg := config.NewDefault()
	rm := resource.NewManager(cfg.Resource, nil)
	checker := resource.NewChecker(rm, 0, nil)
	s := newTestServer(t, model.NewScriptedInvoker())
	s.checker = checker

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body HealthBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	require.NotNil(t, body.Resource)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, model.NewScriptedInvoker())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agentd_resource_pool_limit")
}
