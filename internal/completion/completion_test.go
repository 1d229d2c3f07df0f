package completion

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/ubuygold/gosparklio/internal/config"
	"github.com/ubuygold/gosparklio/internal/failure"
	"github.com/ubuygold/gosparklio/internal/logger"
	"github.com/ubuygold/gosparklio/internal/model"
)

const goodJSON = `{"hook":"Wake up to better coffee","caption":"Three tweaks to your morning brew.","hashtags":["#coffee","morning","Coffee","#brew"],"stylePrompt":"steaming mug on a wooden table"}`

type MockCredentials struct {
	mock.Mock
}

func (m *MockCredentials) Resolve(ctx context.Context, userID string) (string, error) {
	args := m.Called(userID)
	return args.String(0), args.Error(1)
}

func (m *MockCredentials) MarkStatus(ctx context.Context, userID string, status model.CredentialStatus, reason string) error {
	args := m.Called(userID, status, reason)
	return args.Error(0)
}

// scriptedGenerator returns responses in order, repeating the last one.
type scriptedGenerator struct {
	mu        sync.Mutex
	calls     int
	responses []string
	errs      []error
}

func (g *scriptedGenerator) Generate(ctx context.Context, apiKey, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	g.calls++
	if i >= len(g.responses) && i >= len(g.errs) {
		i = max(len(g.responses), len(g.errs)) - 1
	}
	var resp string
	var err error
	if i < len(g.responses) {
		resp = g.responses[i]
	}
	if i < len(g.errs) {
		err = g.errs[i]
	}
	return resp, err
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

var testRequest = model.GenerationRequest{
	ID:           "req-1",
	Topic:        "morning coffee rituals",
	Channel:      model.ChannelInstagram,
	Style:        model.StyleMinimal,
	VariantCount: 3,
}

func newTestOrchestrator(creds Credentials, gen TextGenerator) *Orchestrator {
	return NewOrchestrator(creds, gen, config.RetryConfig{MaxAttempts: 3, BaseDelay: "1ms"}, nil, logger.Discard())
}

func TestGenerate_Success(t *testing.T) {
	creds := new(MockCredentials)
	creds.On("Resolve", "u1").Return("AIzaKEY", nil)
	gen := &scriptedGenerator{responses: []string{"```json\n" + goodJSON + "\n```"}}

	res, err := newTestOrchestrator(creds, gen).Generate(context.Background(), testRequest, "u1")
	require.NoError(t, err)

	assert.Equal(t, "Wake up to better coffee", res.Hook)
	assert.Equal(t, "Three tweaks to your morning brew.", res.Caption)
	assert.Equal(t, []string{"coffee", "morning", "brew"}, res.Hashtags)
	assert.Equal(t, "steaming mug on a wooden table", res.StylePrompt)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, model.ChannelInstagram, res.Channel)
	assert.Equal(t, model.StyleMinimal, res.Style)
	assert.Equal(t, testRequest.Topic, res.Topic)
	assert.False(t, res.Fallback)
	assert.False(t, res.CreatedAt.IsZero())
	assert.Equal(t, 1, gen.Calls())
	creds.AssertNotCalled(t, "MarkStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerate_NeedsCredentialMakesNoProviderCall(t *testing.T) {
	creds := new(MockCredentials)
	creds.On("Resolve", "u1").Return("", failure.ErrNeedsCredential)
	gen := &scriptedGenerator{responses: []string{goodJSON}}

	_, err := newTestOrchestrator(creds, gen).Generate(context.Background(), testRequest, "u1")
	assert.ErrorIs(t, err, failure.ErrNeedsCredential)
	assert.Equal(t, 0, gen.Calls())
}

type keyRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (k *keyRecorder) Generate(ctx context.Context, apiKey, prompt string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = append(k.keys, apiKey)
	return goodJSON, nil
}

func TestGenerateWithKey_SkipsResolve(t *testing.T) {
	creds := new(MockCredentials)
	gen := &keyRecorder{}

	res, err := newTestOrchestrator(creds, gen).GenerateWithKey(context.Background(), testRequest, "u1", "AIzaRESOLVED")
	require.NoError(t, err)
	assert.Equal(t, "Wake up to better coffee", res.Hook)
	assert.Equal(t, []string{"AIzaRESOLVED"}, gen.keys)
	creds.AssertNotCalled(t, "Resolve", mock.Anything)
}

func TestGenerateWithKey_StillMarksRejectedKey(t *testing.T) {
	creds := new(MockCredentials)
	creds.On("MarkStatus", "u1", model.StatusInvalid, mock.AnythingOfType("string")).Return(nil).Once()
	gen := &scriptedGenerator{errs: []error{&googleapi.Error{Code: http.StatusBadRequest, Message: "API key not valid. Please pass a valid API key."}}}

	_, err := newTestOrchestrator(creds, gen).GenerateWithKey(context.Background(), testRequest, "u1", "AIzaSTALE")
	assert.ErrorIs(t, err, failure.ErrInvalidCredential)
	assert.Equal(t, 1, gen.Calls())
	creds.AssertExpectations(t)
}

func TestGenerate_QuotaOnEveryAttempt(t *testing.T) {
	creds := new(MockCredentials)
	creds.On("Resolve", "u1").Return("AIzaKEY", nil)
	creds.On("MarkStatus", "u1", model.StatusQuotaExceeded, mock.AnythingOfType("string")).Return(nil).Once()
	quotaErr := &googleapi.Error{Code: http.StatusTooManyRequests, Message: "Resource has been exhausted (e.g. check quota)."}
	gen := &scriptedGenerator{errs: []error{quotaErr}}

	_, err := newTestOrchestrator(creds, gen).Generate(context.Background(), testRequest, "u1")
	assert.ErrorIs(t, err, failure.ErrQuotaExceeded)
	assert.ErrorIs(t, err, quotaErr)
	assert.Equal(t, 3, gen.Calls())
	creds.AssertExpectations(t)
}

func TestGenerate_InvalidKeyIsNotRetried(t *testing.T) {
	creds := new(MockCredentials)
	creds.On("Resolve", "u1").Return("AIzaKEY", nil)
	creds.On("MarkStatus", "u1", model.StatusInvalid, mock.MatchedBy(func(r string) bool {
		return strings.Contains(r, "API_KEY_INVALID")
	})).Return(nil).Once()
	gen := &scriptedGenerator{errs: []error{errors.New("API key not valid. Please pass a valid API key. API_KEY_INVALID")}}

	_, err := newTestOrchestrator(creds, gen).Generate(context.Background(), testRequest, "u1")
	assert.ErrorIs(t, err, failure.ErrInvalidCredential)
	assert.True(t, failure.NeedsOnboarding(err))
	assert.Equal(t, 1, gen.Calls())
	creds.AssertExpectations(t)
}

func TestGenerate_TransientThenSuccess(t *testing.T) {
	creds := new(MockCredentials)
	creds.On("Resolve", "u1").Return("AIzaKEY", nil)
	gen := &scriptedGenerator{
		responses: []string{"", "", goodJSON},
		errs:      []error{errors.New("connection reset by peer"), errors.New("connection reset by peer"), nil},
	}

	res, err := newTestOrchestrator(creds, gen).Generate(context.Background(), testRequest, "u1")
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, 3, gen.Calls())
}

func TestGenerate_NetworkExhausted(t *testing.T) {
	creds := new(MockCredentials)
	creds.On("Resolve", "u1").Return("AIzaKEY", nil)
	gen := &scriptedGenerator{errs: []error{errors.New("dial tcp: no such host")}}

	_, err := newTestOrchestrator(creds, gen).Generate(context.Background(), testRequest, "u1")
	assert.ErrorIs(t, err, failure.ErrNetwork)
	creds.AssertNotCalled(t, "MarkStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerate_FallbackIsTotal(t *testing.T) {
	inputs := []string{
		"",
		"not json at all",
		"{",
		`{"hook":"","caption":"x","hashtags":[],"stylePrompt":"y"}`,
		`{"hook":"h","caption":"c","hashtags":"not-a-list","stylePrompt":"s"}`,
		`{"hook":"h","caption":"c","stylePrompt":"s"}`,
		"```json\n{\"hook\": 42}\n```",
		`{"hook":"<script></script>","caption":"c","hashtags":[],"stylePrompt":"s"}`,
		"HOOK:\n\nCAPTION:\nonly caption",
	}
	for _, channel := range model.Channels {
		for _, in := range inputs {
			creds := new(MockCredentials)
			creds.On("Resolve", "u1").Return("AIzaKEY", nil)
			req := testRequest
			req.Channel = channel

			res, err := newTestOrchestrator(creds, &scriptedGenerator{responses: []string{in}}).Generate(context.Background(), req, "u1")
			require.NoError(t, err, "input %q", in)
			assert.True(t, res.Fallback, "input %q", in)
			assert.NotEmpty(t, res.Hook)
			assert.NotEmpty(t, res.Caption)
			assert.NotEmpty(t, res.StylePrompt)
			assert.GreaterOrEqual(t, len(res.Hashtags), MinHashtags)
			assert.Contains(t, res.Caption, req.Topic)
		}
	}
}

func TestGenerate_EmptyProviderResponseFallsBack(t *testing.T) {
	creds := new(MockCredentials)
	creds.On("Resolve", "u1").Return("AIzaKEY", nil)
	gen := &scriptedGenerator{errs: []error{failure.New(failure.KindParse, "empty response from model")}}

	res, err := newTestOrchestrator(creds, gen).Generate(context.Background(), testRequest, "u1")
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, 1, gen.Calls())
}

func TestGenerate_SanitisesMarkup(t *testing.T) {
	creds := new(MockCredentials)
	creds.On("Resolve", "u1").Return("AIzaKEY", nil)
	resp := `{"hook":"<b>Bold</b> move","caption":"Coffee &amp; cake <img src=x onerror=alert(1)>","hashtags":["a"],"stylePrompt":"cafe"}`

	res, err := newTestOrchestrator(creds, &scriptedGenerator{responses: []string{resp}}).Generate(context.Background(), testRequest, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Bold move", res.Hook)
	assert.Equal(t, "Coffee & cake", res.Caption)
}
