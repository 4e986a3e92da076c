// Package httpapi runs the API Gateway handler behind a plain net/http server
// for local development.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gorilla/mux"

	"shop-assistant/internal/metrics"
)

const maxBodyBytes = 1 << 20

type ProxyHandler interface {
	Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)
}

type Server struct {
	Router  *mux.Router
	handler ProxyHandler
}

// NewServer registers every resource template on a mux router. Methods are not
// restricted here so the proxy handler answers 404 and 405 itself.
func NewServer(h ProxyHandler, routes []string, m *metrics.Metrics) (*Server, error) {
	if h == nil {
		return nil, errors.New("httpapi: handler must not be nil")
	}
	s := &Server{Router: mux.NewRouter(), handler: h}
	if m != nil {
		s.Router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}
	for _, tpl := range routes {
		s.Router.Handle(tpl, s.proxy(tpl))
	}
	s.Router.NotFoundHandler = s.proxy("")
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) proxy(resource string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := toProxyRequest(r, resource)
		if err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		resp, err := s.handler.Handle(r.Context(), req)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeProxyResponse(w, resp)
	})
}

func toProxyRequest(r *http.Request, resource string) (events.APIGatewayProxyRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return events.APIGatewayProxyRequest{}, err
	}
	req := events.APIGatewayProxyRequest{
		Resource:   resource,
		Path:       r.URL.Path,
		HTTPMethod: r.Method,
		Body:       string(body),

		Headers:                         map[string]string{},
		MultiValueHeaders:               map[string][]string{},
		QueryStringParameters:           map[string]string{},
		MultiValueQueryStringParameters: map[string][]string{},
	}
	if resource != "" {
		req.PathParameters = mux.Vars(r)
	}
	for k, vs := range r.Header {
		req.Headers[k] = strings.Join(vs, ",")
		req.MultiValueHeaders[k] = vs
	}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			req.QueryStringParameters[k] = vs[0]
		}
		req.MultiValueQueryStringParameters[k] = vs
	}
	return req, nil
}

func writeProxyResponse(w http.ResponseWriter, resp events.APIGatewayProxyResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	for k, vs := range resp.MultiValueHeaders {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, resp.Body)
}
