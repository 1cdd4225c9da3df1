package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github-maintainer/internal/common"
	"github-maintainer/internal/port"
)

const defaultModel = "gemini-2.5-flash-lite"

// Generator implements port.Generator on top of the Gemini API. The model is
// forced into JSON response mode, and the returned text is still scrubbed for
// stray markdown fences before decoding.
type Generator struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	log     *zap.Logger
	retry   []common.Option
	onCall  func()
	extract func(string) (string, error)
}

// Option configures the generator.
type Option func(*Generator)

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(g *Generator) { g.log = log }
}

// WithModel selects a model other than the default.
func WithModel(name string) Option {
	return func(g *Generator) {
		g.model = g.client.GenerativeModel(name)
		g.model.ResponseMIMEType = "application/json"
	}
}

// WithRetryOptions overrides the retry policy wrapped around each call.
func WithRetryOptions(opts ...common.Option) Option {
	return func(g *Generator) { g.retry = opts }
}

// WithCallHook installs a hook invoked once per generation call, typically a
// metrics counter.
func WithCallHook(fn func()) Option {
	return func(g *Generator) { g.onCall = fn }
}

// NewGenerator builds a client for the generation service. An empty API key is
// rejected up front.
func NewGenerator(ctx context.Context, apiKey string, opts ...Option) (*Generator, error) {
	if apiKey == "" {
		return nil, common.AuthError("gemini api key is required", nil)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	model := client.GenerativeModel(defaultModel)
	model.ResponseMIMEType = "application/json"

	g := &Generator{
		client:  client,
		model:   model,
		log:     zap.NewNop(),
		extract: extractJSON,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

var _ port.Generator = (*Generator)(nil)

// Close releases the underlying connection.
func (g *Generator) Close() error {
	return g.client.Close()
}

// GenerateStructured sends the prompt, retries transport failures, then
// decodes and validates the response into out. Parse and schema failures are
// content problems: they surface as generation-parsing errors and are never
// retried.
func (g *Generator) GenerateStructured(ctx context.Context, prompt string, out port.Validatable) error {
	var raw string
	err := common.Do(ctx, func() error {
		if g.onCall != nil {
			g.onCall()
		}
		resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return classify(err)
		}
		text, err := responseText(resp)
		if err != nil {
			return err
		}
		raw = text
		return nil
	}, append([]common.Option{common.WithRetryIf(common.Retryable)}, g.retry...)...)
	if err != nil {
		return err
	}

	clean, err := g.extract(raw)
	if err != nil {
		g.log.Debug("generation output had no json window", zap.String("raw", truncate(raw, 200)))
		return err
	}
	if err := json.Unmarshal([]byte(clean), out); err != nil {
		return common.ParsingError("generated json did not decode", err)
	}
	if err := out.Validate(); err != nil {
		return common.ParsingError("generated payload failed validation", err)
	}
	return nil
}

// responseText pulls the first text part out of the response. An empty
// candidate list counts as a parsing failure, not a transport one.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 {
		return "", common.ParsingError("generation returned no candidates", nil)
	}
	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", common.ParsingError("generation returned a non-text part", nil)
	}
	return string(text), nil
}

// extractJSON cuts the outermost brace window out of the raw text, so stray
// markdown fences around the payload do not break decoding.
func extractJSON(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return "", common.ParsingError("generation output contained no json object", nil)
	}
	return raw[start : end+1], nil
}

// classify maps transport errors from the generation service onto the error
// taxonomy.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests:
			return common.NewError(common.KindRateLimit, "gemini rate limit exceeded", err)
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return common.AuthError("gemini rejected the api key", err)
		case gerr.Code >= 500:
			return common.TransientError(fmt.Sprintf("gemini server error %d", gerr.Code), err)
		case gerr.Code >= 400:
			return common.NewError(common.KindRejected, fmt.Sprintf("gemini rejected the request with %d", gerr.Code), err)
		}
	}
	return common.TransientError("gemini request failed", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
