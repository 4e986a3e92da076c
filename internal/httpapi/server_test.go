package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"shop-assistant/internal/metrics"
)

type recordingHandler struct {
	got  events.APIGatewayProxyRequest
	resp events.APIGatewayProxyResponse
	err  error
}

func (h *recordingHandler) Handle(_ context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	h.got = req
	return h.resp, h.err
}

var testRoutes = []string{"/", "/health", "/products", "/products/available", "/products/{id}", "/chat", "/chat/history/{sessionId}"}

func newTestServer(t *testing.T, h ProxyHandler, m *metrics.Metrics) *httptest.Server {
	t.Helper()
	s, err := NewServer(h, testRoutes, m)
	require.NoError(t, err)
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewServer_NilHandler(t *testing.T) {
	_, err := NewServer(nil, testRoutes, nil)
	require.Error(t, err)
}

func TestServer_ConvertsRequest(t *testing.T) {
	h := &recordingHandler{resp: events.APIGatewayProxyResponse{
		StatusCode: http.StatusCreated,
		Headers:    map[string]string{"Content-Type": "application/json", "X-Correlation-Id": "c-1"},
		Body:       `{"ok":true}`,
	}}
	srv := newTestServer(t, h, nil)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/chat?debug=1&debug=2", strings.NewReader(`{"sessionId":"s1"}`))
	require.NoError(t, err)
	req.Header.Set("X-Correlation-Id", "c-1")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, `{"ok":true}`, string(body))
	require.Equal(t, "c-1", resp.Header.Get("X-Correlation-Id"))

	require.Equal(t, "/chat", h.got.Resource)
	require.Equal(t, "/chat", h.got.Path)
	require.Equal(t, http.MethodPost, h.got.HTTPMethod)
	require.Equal(t, `{"sessionId":"s1"}`, h.got.Body)
	require.Equal(t, "c-1", h.got.Headers["X-Correlation-Id"])
	require.Equal(t, "1", h.got.QueryStringParameters["debug"])
	require.Equal(t, []string{"1", "2"}, h.got.MultiValueQueryStringParameters["debug"])
}

func TestServer_PathParameters(t *testing.T) {
	h := &recordingHandler{resp: events.APIGatewayProxyResponse{StatusCode: http.StatusOK}}
	srv := newTestServer(t, h, nil)

	resp, err := srv.Client().Get(srv.URL + "/chat/history/abc-123?limit=5")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "/chat/history/{sessionId}", h.got.Resource)
	require.Equal(t, map[string]string{"sessionId": "abc-123"}, h.got.PathParameters)
	require.Equal(t, "5", h.got.QueryStringParameters["limit"])

	resp, err = srv.Client().Get(srv.URL + "/products/available")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "/products/available", h.got.Resource)
}

func TestServer_UnknownRouteReachesHandler(t *testing.T) {
	h := &recordingHandler{resp: events.APIGatewayProxyResponse{StatusCode: http.StatusNotFound}}
	srv := newTestServer(t, h, nil)

	resp, err := srv.Client().Get(srv.URL + "/orders/1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Empty(t, h.got.Resource)
	require.Equal(t, "/orders/1", h.got.Path)
}

func TestServer_HandlerError(t *testing.T) {
	srv := newTestServer(t, &recordingHandler{err: errors.New("boom")}, nil)

	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	m := metrics.New()
	m.RecordTurn("success", 0)
	srv := newTestServer(t, &recordingHandler{}, m)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "shop_chat_turns_total")
}
