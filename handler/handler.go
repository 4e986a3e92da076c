// Package handler serves the shop API as an API Gateway proxy integration.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"shop-assistant/internal/domain"
	"shop-assistant/internal/logger"
	"shop-assistant/internal/metrics"
	"shop-assistant/internal/usecase"
)

const (
	correlationHeader   = "X-Correlation-Id"
	defaultHistoryLimit = 10
	serviceName         = "shop-assistant"
)

type ChatUseCase interface {
	SendMessage(ctx context.Context, in usecase.SendMessageInput) (usecase.SendMessageOutput, error)
	History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
	ClearHistory(ctx context.Context, sessionID string) (int, error)
}

type CatalogUseCase interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	AvailableProducts(ctx context.Context) ([]domain.Product, error)
	SearchProducts(ctx context.Context, f usecase.ProductFilter) ([]domain.Product, error)
}

type Options struct {
	Version string
	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type Handler struct {
	chat    ChatUseCase
	catalog CatalogUseCase
	routes  []route
	version string
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewHandler(chat ChatUseCase, catalog CatalogUseCase, opts Options) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if catalog == nil {
		return nil, errors.New("handler: catalog use case must not be nil")
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &Handler{
		chat:    chat,
		catalog: catalog,
		version: opts.Version,
		log:     logger.Component(logger.OrNop(opts.Logger), "http"),
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	h.routes = h.buildRoutes()
	return h, nil
}

// Routes lists the resource templates served by Handle, in match order.
func (h *Handler) Routes() []string {
	out := make([]string, 0, len(h.routes))
	for _, r := range h.routes {
		out = append(out, r.template)
	}
	return out
}

// Handle routes one API Gateway proxy request. It never returns an error:
// failures are reported through the status code and an errorResponse body.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx = logger.WithCorrelationID(ctx, correlationID)
	log := logger.FromContext(ctx, h.log)

	rt, params, allowed := h.match(req)
	var resp events.APIGatewayProxyResponse
	label := "unmatched"
	switch {
	case rt != nil:
		label = rt.template
		resp = rt.handlers[req.HTTPMethod](ctx, request{APIGatewayProxyRequest: req, params: params})
	case len(allowed) > 0:
		resp = h.errorJSON(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		resp.Headers["Allow"] = strings.Join(allowed, ", ")
	default:
		resp = h.errorJSON(http.StatusNotFound, string(usecase.ErrorNotFound), "route not found")
	}
	resp.Headers[correlationHeader] = correlationID

	h.metrics.RecordHTTPRequest(label, resp.StatusCode)
	log.Info().
		Str("method", req.HTTPMethod).
		Str("route", label).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("request handled")
	return resp, nil
}

// ---- Routes ----

type request struct {
	events.APIGatewayProxyRequest
	params map[string]string
}

type handlerFunc func(ctx context.Context, req request) events.APIGatewayProxyResponse

type route struct {
	template string
	segments []string
	handlers map[string]handlerFunc
}

func (h *Handler) buildRoutes() []route {
	defs := []struct {
		template string
		handlers map[string]handlerFunc
	}{
		{"/", map[string]handlerFunc{http.MethodGet: h.info}},
		{"/health", map[string]handlerFunc{http.MethodGet: h.health}},
		{"/products", map[string]handlerFunc{http.MethodGet: h.listProducts}},
		{"/products/available", map[string]handlerFunc{http.MethodGet: h.availableProducts}},
		{"/products/{id}", map[string]handlerFunc{http.MethodGet: h.getProduct}},
		{"/chat", map[string]handlerFunc{http.MethodPost: h.sendMessage}},
		{"/chat/history/{sessionId}", map[string]handlerFunc{
			http.MethodGet:    h.history,
			http.MethodDelete: h.clearHistory,
		}},
	}
	routes := make([]route, 0, len(defs))
	for _, d := range defs {
		routes = append(routes, route{template: d.template, segments: splitPath(d.template), handlers: d.handlers})
	}
	return routes
}

// match resolves the route by resource template first and by path otherwise,
// which covers greedy {proxy+} integrations. When the path matches but the
// method does not, the allowed methods are returned instead.
func (h *Handler) match(req events.APIGatewayProxyRequest) (*route, map[string]string, []string) {
	for i := range h.routes {
		rt := &h.routes[i]
		var params map[string]string
		var ok bool
		if req.Resource != "" && req.Resource == rt.template {
			params, ok = req.PathParameters, true
		} else {
			params, ok = rt.matchPath(req.Path)
		}
		if !ok {
			continue
		}
		if _, found := rt.handlers[req.HTTPMethod]; found {
			return rt, params, nil
		}
		return nil, nil, rt.methods()
	}
	return nil, nil, nil
}

func (r route) matchPath(path string) (map[string]string, bool) {
	segs := splitPath(path)
	if len(segs) != len(r.segments) {
		return nil, false
	}
	params := map[string]string{}
	for i, s := range r.segments {
		if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
			if segs[i] == "" {
				return nil, false
			}
			params[strings.Trim(s, "{}")] = segs[i]
			continue
		}
		if s != segs[i] {
			return nil, false
		}
	}
	return params, true
}

func (r route) methods() []string {
	out := make([]string, 0, len(r.handlers))
	for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		if _, ok := r.handlers[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// ---- Endpoints ----

func (h *Handler) info(context.Context, request) events.APIGatewayProxyResponse {
	return h.json(http.StatusOK, infoResponse{
		Name:      serviceName,
		Version:   h.version,
		Endpoints: h.Routes(),
		Timestamp: h.now().UTC(),
	})
}

func (h *Handler) health(context.Context, request) events.APIGatewayProxyResponse {
	return h.json(http.StatusOK, healthResponse{Status: "ok", Timestamp: h.now().UTC()})
}

func (h *Handler) listProducts(ctx context.Context, req request) events.APIGatewayProxyResponse {
	filter, err := parseFilter(req.QueryStringParameters)
	if err != nil {
		return h.fail(ctx, err)
	}
	var products []domain.Product
	if filter == (usecase.ProductFilter{}) {
		products, err = h.catalog.ListProducts(ctx)
	} else {
		products, err = h.catalog.SearchProducts(ctx, filter)
	}
	if err != nil {
		return h.fail(ctx, err)
	}
	return h.json(http.StatusOK, toProductResponses(products))
}

func (h *Handler) availableProducts(ctx context.Context, _ request) events.APIGatewayProxyResponse {
	products, err := h.catalog.AvailableProducts(ctx)
	if err != nil {
		return h.fail(ctx, err)
	}
	return h.json(http.StatusOK, toProductResponses(products))
}

func (h *Handler) getProduct(ctx context.Context, req request) events.APIGatewayProxyResponse {
	id, err := strconv.ParseInt(req.params["id"], 10, 64)
	if err != nil {
		return h.fail(ctx, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_product_id", Err: err})
	}
	p, err := h.catalog.GetProduct(ctx, id)
	if err != nil {
		return h.fail(ctx, err)
	}
	return h.json(http.StatusOK, toProductResponse(p))
}

func (h *Handler) sendMessage(ctx context.Context, req request) events.APIGatewayProxyResponse {
	var body chatRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return h.fail(ctx, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err})
	}
	out, err := h.chat.SendMessage(ctx, usecase.SendMessageInput{SessionID: body.SessionID, Message: body.Message})
	if err != nil {
		return h.fail(ctx, err)
	}
	return h.json(http.StatusOK, chatResponse{
		SessionID:        out.SessionID,
		UserMessage:      out.UserMessage,
		AssistantMessage: out.AssistantMessage,
		Timestamp:        out.Timestamp,
	})
}

func (h *Handler) history(ctx context.Context, req request) events.APIGatewayProxyResponse {
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(req.QueryStringParameters["limit"]); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return h.fail(ctx, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_limit", Err: err})
		}
		limit = n
	}
	msgs, err := h.chat.History(ctx, req.params["sessionId"], limit)
	if err != nil {
		return h.fail(ctx, err)
	}
	out := make([]historyItem, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, historyItem{ID: m.ID, Role: string(m.Role), Message: m.Text, Timestamp: m.Timestamp})
	}
	return h.json(http.StatusOK, out)
}

func (h *Handler) clearHistory(ctx context.Context, req request) events.APIGatewayProxyResponse {
	n, err := h.chat.ClearHistory(ctx, req.params["sessionId"])
	if err != nil {
		return h.fail(ctx, err)
	}
	return h.json(http.StatusOK, deleteResponse{Deleted: n})
}

func parseFilter(q map[string]string) (usecase.ProductFilter, error) {
	f := usecase.ProductFilter{
		Brand:    strings.TrimSpace(q["brand"]),
		Category: strings.TrimSpace(q["category"]),
		Size:     strings.TrimSpace(q["size"]),
		Color:    strings.TrimSpace(q["color"]),
	}
	var err error
	if f.MinPrice, err = parsePrice(q["min_price"]); err != nil {
		return usecase.ProductFilter{}, err
	}
	if f.MaxPrice, err = parsePrice(q["max_price"]); err != nil {
		return usecase.ProductFilter{}, err
	}
	return f, nil
}

func parsePrice(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_price", Err: err}
	}
	return v, nil
}

// ---- Responses ----

func (h *Handler) fail(ctx context.Context, err error) events.APIGatewayProxyResponse {
	code := usecase.CodeOf(err)
	status, message := errorStatus(code)
	log := logger.FromContext(ctx, h.log)
	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	var uerr *usecase.Error
	if errors.As(err, &uerr) {
		ev = ev.Str("reason", uerr.Reason)
	}
	ev.Err(err).Str("code", string(code)).Msg("request failed")

	resp := errorResponse{Error: string(code), Message: message}
	if status < http.StatusInternalServerError && status != http.StatusTooManyRequests {
		resp.Detail = violatedRule(err)
	}
	return h.json(status, resp)
}

// violatedRule names the rule a 4xx request broke. Entity validation failures
// report field and rule; other failures report the use case reason.
func violatedRule(err error) string {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return verr.Field + ": " + verr.Rule
	}
	var uerr *usecase.Error
	if errors.As(err, &uerr) {
		return uerr.Reason
	}
	return ""
}

// errorStatus maps a use case code to a status and a fixed client message.
// Upstream error text is never passed through to the client.
func errorStatus(code usecase.ErrorCode) (int, string) {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, "the request is invalid"
	case usecase.ErrorNotFound:
		return http.StatusNotFound, "resource not found"
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, "too many requests, try again later"
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, "the assistant is unavailable right now"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) errorJSON(status int, code, message string) events.APIGatewayProxyResponse {
	return h.json(status, errorResponse{Error: code, Message: message})
}

func (h *Handler) json(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("encode response")
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR","message":"internal error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
