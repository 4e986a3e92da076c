package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"shop-assistant/internal/domain"
	"shop-assistant/internal/metrics"
)

type statusErr struct {
	code int
	msg  string
}

func (e *statusErr) Error() string       { return e.msg }
func (e *statusErr) HTTPStatusCode() int { return e.code }

type completion struct {
	text string
	err  error
}

// fakeCompleter answers per model and records every call.
type fakeCompleter struct {
	mu      sync.Mutex
	byModel map[string]completion
	calls   []string
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, model, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, model)
	f.prompts = append(f.prompts, prompt)
	c, ok := f.byModel[model]
	if !ok {
		return "", fmt.Errorf("no completion configured for %s", model)
	}
	return c.text, c.err
}

// blockingCompleter ignores cancellation until release is closed.
type blockingCompleter struct {
	release chan struct{}
}

func (b blockingCompleter) Complete(_ context.Context, _, _ string) (string, error) {
	<-b.release
	return "too late", nil
}

func newTestResponder(t *testing.T, c Completer, m *metrics.Metrics) *Responder {
	t.Helper()
	r, err := New(c, Options{Model: "primary", FallbackModel: "fallback", Metrics: m})
	require.NoError(t, err)
	return r
}

func sampleProducts() []domain.Product {
	return []domain.Product{
		{ID: 1, Name: "Pegasus 40", Brand: "Nike", Size: "42", Color: "Black", Price: 120, Stock: 8},
		{ID: 2, Name: "Ultraboost Light", Brand: "Adidas", Size: "42", Color: "White", Price: 150.5, Stock: 0},
	}
}

func TestNew_Defaults(t *testing.T) {
	_, err := New(nil, Options{})
	require.Error(t, err)

	r, err := New(&fakeCompleter{}, Options{})
	require.NoError(t, err)
	require.Equal(t, DefaultModel, r.ActiveModel())
	require.Equal(t, DefaultFallbackModel, r.fallbackModel)
	require.Equal(t, DefaultTimeout, r.timeout)
}

func TestGenerate_HappyPath_TrimsOutput(t *testing.T) {
	c := &fakeCompleter{byModel: map[string]completion{"primary": {text: "  Try the Pegasus 40.  "}}}
	r := newTestResponder(t, c, nil)

	out, err := r.Generate(context.Background(), Request{
		UserMessage: "I need running shoes",
		Products:    sampleProducts(),
		Transcript:  "user: hi\nassistant: hello",
	})
	require.NoError(t, err)
	require.Equal(t, "Try the Pegasus 40.", out)
	require.Equal(t, []string{"primary"}, c.calls)
}

func TestGenerate_PromptLayout(t *testing.T) {
	c := &fakeCompleter{byModel: map[string]completion{"primary": {text: "ok"}}}
	r := newTestResponder(t, c, nil)

	_, err := r.Generate(context.Background(), Request{
		UserMessage: "Do you have size 42?",
		Products:    sampleProducts(),
		Transcript:  "user: hi\nassistant: hello",
	})
	require.NoError(t, err)
	prompt := c.prompts[0]

	require.Contains(t, prompt, "- Pegasus 40 | Nike | $120.00 | Stock: 8 | Size: 42 | Color: Black")
	require.Contains(t, prompt, "- Ultraboost Light | Adidas | $150.50 | Stock: 0 | Size: 42 | Color: White")
	require.True(t, strings.HasSuffix(prompt, "User: Do you have size 42?\n\nAssistant:"))

	persona := strings.Index(prompt, "virtual sales assistant")
	catalog := strings.Index(prompt, "AVAILABLE PRODUCTS:")
	rules := strings.Index(prompt, "INSTRUCTIONS:")
	transcript := strings.Index(prompt, "user: hi\nassistant: hello")
	user := strings.Index(prompt, "User: Do you have size 42?")
	require.True(t, persona < catalog && catalog < rules && rules < transcript && transcript < user)
}

func TestGenerate_EmptyCatalogPlaceholderLine(t *testing.T) {
	c := &fakeCompleter{byModel: map[string]completion{"primary": {text: "ok"}}}
	r := newTestResponder(t, c, nil)

	_, err := r.Generate(context.Background(), Request{UserMessage: "hi"})
	require.NoError(t, err)
	require.Contains(t, c.prompts[0], "AVAILABLE PRODUCTS:\n- (no products)\n")
}

func TestGenerate_FormatsRawHistoryWhenNoTranscript(t *testing.T) {
	c := &fakeCompleter{byModel: map[string]completion{"primary": {text: "ok"}}}
	r := newTestResponder(t, c, nil)

	history := make([]domain.Message, 0, 8)
	for i := 1; i <= 8; i++ {
		role := domain.RoleUser
		if i%2 == 0 {
			role = domain.RoleAssistant
		}
		history = append(history, domain.Message{Role: role, Text: fmt.Sprintf("turn-%d", i)})
	}

	_, err := r.Generate(context.Background(), Request{UserMessage: "hi", History: history})
	require.NoError(t, err)
	require.NotContains(t, c.prompts[0], "turn-2")
	require.Contains(t, c.prompts[0], "user: turn-3")
	require.Contains(t, c.prompts[0], "assistant: turn-8")
}

func TestGenerate_BlankOutputBecomesPlaceholder(t *testing.T) {
	c := &fakeCompleter{byModel: map[string]completion{"primary": {text: " \n\t "}}}
	r := newTestResponder(t, c, nil)

	out, err := r.Generate(context.Background(), Request{UserMessage: "hi"})
	require.NoError(t, err)
	require.Equal(t, Placeholder, out)
}

func TestGenerate_StickyFallbackOnModelNotFound(t *testing.T) {
	m := metrics.New()
	c := &fakeCompleter{byModel: map[string]completion{
		"primary":  {err: &statusErr{code: http.StatusNotFound, msg: "models/primary is not found"}},
		"fallback": {text: "from fallback"},
	}}
	r := newTestResponder(t, c, m)

	out, err := r.Generate(context.Background(), Request{UserMessage: "hi"})
	require.NoError(t, err)
	require.Equal(t, "from fallback", out)
	require.Equal(t, []string{"primary", "fallback"}, c.calls)
	require.Equal(t, "fallback", r.ActiveModel())
	require.Equal(t, c.prompts[0], c.prompts[1])

	// Later turns go straight to the fallback model.
	_, err = r.Generate(context.Background(), Request{UserMessage: "again"})
	require.NoError(t, err)
	require.Equal(t, []string{"primary", "fallback", "fallback"}, c.calls)
	require.Equal(t, 1.0, testutil.ToFloat64(m.ProviderFallbackTotal))
}

func TestGenerate_FallbackOnUnsupportedMessage(t *testing.T) {
	c := &fakeCompleter{byModel: map[string]completion{
		"primary":  {err: errors.New("model is UNSUPPORTED for generateContent")},
		"fallback": {text: ""},
	}}
	r := newTestResponder(t, c, nil)

	out, err := r.Generate(context.Background(), Request{UserMessage: "hi"})
	require.NoError(t, err)
	require.Equal(t, Placeholder, out)
	require.Equal(t, "fallback", r.ActiveModel())
}

func TestGenerate_FallbackFailurePropagates(t *testing.T) {
	c := &fakeCompleter{byModel: map[string]completion{
		"primary":  {err: &statusErr{code: http.StatusNotFound, msg: "not found"}},
		"fallback": {err: &statusErr{code: http.StatusServiceUnavailable, msg: "overloaded"}},
	}}
	r := newTestResponder(t, c, nil)

	_, err := r.Generate(context.Background(), Request{UserMessage: "hi"})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "fallback", pe.Model)
	require.Equal(t, http.StatusServiceUnavailable, pe.HTTPStatusCode())
	require.Equal(t, "primary", r.ActiveModel(), "failed fallback must not switch the active model")
	require.Len(t, c.calls, 2)
}

func TestGenerate_OtherErrorsAreNotRetried(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{name: "quota", err: &statusErr{code: http.StatusTooManyRequests, msg: "quota exceeded"}, code: http.StatusTooManyRequests},
		{name: "auth", err: &statusErr{code: http.StatusUnauthorized, msg: "bad key"}, code: http.StatusUnauthorized},
		{name: "bad request", err: &statusErr{code: http.StatusBadRequest, msg: "malformed"}, code: http.StatusBadRequest},
		{name: "network", err: errors.New("dial tcp: connection refused"), code: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &fakeCompleter{byModel: map[string]completion{
				"primary":  {err: tc.err},
				"fallback": {text: "never"},
			}}
			r := newTestResponder(t, c, nil)

			_, err := r.Generate(context.Background(), Request{UserMessage: "hi"})
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			require.Equal(t, tc.code, pe.StatusCode)
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, []string{"primary"}, c.calls)
			require.Equal(t, "primary", r.ActiveModel())
		})
	}
}

func TestGenerate_NoRetryWhenAlreadyOnFallback(t *testing.T) {
	c := &fakeCompleter{byModel: map[string]completion{
		"fallback": {err: &statusErr{code: http.StatusNotFound, msg: "not found"}},
	}}
	r, err := New(c, Options{Model: "fallback", FallbackModel: "fallback"})
	require.NoError(t, err)

	_, err = r.Generate(context.Background(), Request{UserMessage: "hi"})
	require.Error(t, err)
	require.Equal(t, []string{"fallback"}, c.calls)
}

func TestGenerate_Timeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	r, err := New(blockingCompleter{release: release}, Options{Model: "primary", Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = r.Generate(context.Background(), Request{UserMessage: "hi"})
	require.ErrorIs(t, err, ErrTimeout)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, "primary", r.ActiveModel())
}

func TestGenerate_ConcurrentFallbackSwitchesOnce(t *testing.T) {
	m := metrics.New()
	c := &fakeCompleter{byModel: map[string]completion{
		"primary":  {err: &statusErr{code: http.StatusNotFound, msg: "not found"}},
		"fallback": {text: "ok"},
	}}
	r := newTestResponder(t, c, m)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Generate(context.Background(), Request{UserMessage: "hi"})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, "fallback", r.ActiveModel())
	require.Equal(t, 1.0, testutil.ToFloat64(m.ProviderFallbackTotal))
}
