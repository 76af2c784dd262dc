package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/chenziqing0111/agent-core-2/internal/infrastructure/resilience"
)

const DefaultModel = "text-embedding-3-small"

// Embedder calls an OpenAI-compatible embeddings endpoint.
type Embedder struct {
	client   *goopenai.Client
	model    string
	executor *resilience.Executor
}

// New builds an embedder; an empty baseURL keeps the public OpenAI endpoint.
func New(apiKey, baseURL, model string, executor *resilience.Executor) *Embedder {
	cfg := goopenai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &Embedder{
		client:   goopenai.NewClientWithConfig(cfg),
		model:    model,
		executor: executor,
	}
}

func (e *Embedder) Name() string {
	return "openai:" + e.model
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := resilience.Do(ctx, e.executor, "openai_embed", func(ctx context.Context) ([][]float32, error) {
		resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
			Input: texts,
			Model: goopenai.EmbeddingModel(e.model),
		})
		if err != nil {
			return nil, fmt.Errorf("openai embed request: %w", err)
		}
		out := make([][]float32, len(texts))
		for _, data := range resp.Data {
			if data.Index < 0 || data.Index >= len(out) {
				return nil, fmt.Errorf("openai embed: index %d out of range", data.Index)
			}
			out[data.Index] = data.Embedding
		}
		for i, v := range out {
			if len(v) == 0 {
				return nil, fmt.Errorf("openai embed: missing vector %d", i)
			}
		}
		return out, nil
	}, classifyOpenAIError)
	if err != nil {
		return nil, resilience.WrapTemporary("openai embed", err, classifyOpenAIError)
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// classifyOpenAIError maps client errors onto HTTP status classification.
func classifyOpenAIError(err error) resilience.ErrorClassification {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return resilience.ClassifyHTTP(&resilience.StatusError{
			Service:    "openai",
			Operation:  "embed",
			StatusCode: apiErr.HTTPStatusCode,
			Status:     http.StatusText(apiErr.HTTPStatusCode),
			Body:       apiErr.Message,
		})
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return resilience.ClassifyHTTP(&resilience.StatusError{
			Service:    "openai",
			Operation:  "embed",
			StatusCode: reqErr.HTTPStatusCode,
			Status:     http.StatusText(reqErr.HTTPStatusCode),
		})
	}
	return resilience.ClassifyHTTP(err)
}
