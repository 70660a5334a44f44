package embedding

import (
	"context"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIModel embeds through any OpenAI-compatible endpoint (OpenAI, Ollama,
// vLLM and the like).
type OpenAIModel struct {
	embedder embeddings.Embedder
}

var _ Model = (*OpenAIModel)(nil)

// NewOpenAIModel configures the client. Local servers that need no key
// accept any token value.
func NewOpenAIModel(host, token, model string) (*OpenAIModel, error) {
	client, err := openai.New(
		openai.WithBaseURL(host),
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}
	return &OpenAIModel{embedder: embedder}, nil
}

// Embed ignores task for documents; single queries use the query path.
func (o *OpenAIModel) Embed(ctx context.Context, task Task, texts []string) ([][]float32, error) {
	if task == TaskQuery && len(texts) == 1 {
		vec, err := o.embedder.EmbedQuery(ctx, texts[0])
		if err != nil {
			return nil, err
		}
		return [][]float32{vec}, nil
	}
	return o.embedder.EmbedDocuments(ctx, texts)
}

// Close is a no-op; the HTTP client holds no dedicated resources.
func (o *OpenAIModel) Close() error { return nil }
