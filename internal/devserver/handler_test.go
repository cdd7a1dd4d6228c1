package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/storefront/internal/metrics"
)

type testServer struct {
	handler http.Handler
	state   *RedisState
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := setupTestDB(t)
	state, _ := setupTestRedis(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := NewHandler(repo, state, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &testServer{
		handler: NewRouter(Config{}, h, reg, m),
		state:   state,
		metrics: m,
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "crio.do", "password": "learnbydoing"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetProducts(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/products", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var products []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	require.Len(t, products, 10)
	assert.Equal(t, "BW0jAAeDJmlZCF8i", products[0]["_id"])
	assert.Equal(t, 1, testutil.CollectAndCount(s.metrics.ServerRequests))
}

func TestSearchProducts(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/products/search?value=sports", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var products []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	assert.Len(t, products, 2)

	rec = s.do(t, http.MethodGet, "/api/v1/products/search?value=zzz-nomatch", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errorResponse{Success: false, Message: MsgNoProducts}, decodeError(t, rec))
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name     string
		body     map[string]string
		wantCode int
		wantMsg  string
	}{
		{"missing username", map[string]string{"password": "x"}, http.StatusBadRequest, "Username is a required field"},
		{"missing password", map[string]string{"username": "crio.do"}, http.StatusBadRequest, "Password is a required field"},
		{"unknown user", map[string]string{"username": "nobody", "password": "x"}, http.StatusBadRequest, MsgUserNotFound},
		{"wrong password", map[string]string{"username": "crio.do", "password": "x"}, http.StatusBadRequest, MsgBadPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantMsg, decodeError(t, rec).Message)
		})
	}
}

func TestLogin_Success(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "crio.do", "password": "learnbydoing"})

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "crio.do", resp["username"])
	assert.Equal(t, 5000.0, resp["balance"])

	username, err := s.state.Resolve(context.Background(), resp["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "crio.do", username)
}

func TestCart_RequiresBearer(t *testing.T) {
	s := newTestServer(t)

	for _, token := range []string{"", "not-issued"} {
		rec := s.do(t, http.MethodGet, "/api/v1/cart", token, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, MsgBearerMissing, decodeError(t, rec).Message)
	}
}

func TestCart_Flow(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	rec := s.do(t, http.MethodGet, "/api/v1/cart", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/cart", token, map[string]any{"productId": "v4sLtEcMpzabRyfx", "qty": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"productId":"v4sLtEcMpzabRyfx","qty":1}]`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/cart", token, map[string]any{"productId": "upLK9JbQ4rMhTwt4", "qty": 3})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/cart", token, map[string]any{"productId": "v4sLtEcMpzabRyfx", "qty": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"productId":"upLK9JbQ4rMhTwt4","qty":3}]`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/cart", token, nil)
	assert.JSONEq(t, `[{"productId":"upLK9JbQ4rMhTwt4","qty":3}]`, rec.Body.String())
}

func TestUpsertCart_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantCode int
		wantMsg  string
	}{
		{"unknown product", map[string]any{"productId": "missing", "qty": 1}, http.StatusNotFound, MsgProductNotFound},
		{"missing product id", map[string]any{"qty": 1}, http.StatusBadRequest, "productId is a required field"},
		{"missing qty", map[string]any{"productId": "v4sLtEcMpzabRyfx"}, http.StatusBadRequest, "qty must be a non-negative integer"},
		{"negative qty", map[string]any{"productId": "v4sLtEcMpzabRyfx", "qty": -1}, http.StatusBadRequest, "qty must be a non-negative integer"},
		{"not json", "just a string", http.StatusBadRequest, "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			token := s.login(t)
			rec := s.do(t, http.MethodPost, "/api/v1/cart", token, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantMsg, decodeError(t, rec).Message)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/v1/products/search?value=zzz", "", nil)

	rec := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `storefront_devserver_requests_total{method="GET",route="/api/v1/products/search",status="404"} 1`))
}
