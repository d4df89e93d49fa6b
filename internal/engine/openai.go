package engine

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

// OpenAIEmbedder uses the OpenAI embeddings API, or any compatible endpoint
// when a base URL is set. It is immutable after construction.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
	dims   int
}

// NewOpenAIEmbedder creates an embedder for the given model.
// An empty model defaults to text-embedding-3-small.
func NewOpenAIEmbedder(apiKey, baseURL, model string) *OpenAIEmbedder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(opts...),
		model:  model,
		dims:   openAIDimensions(model),
	}
}

func (o *OpenAIEmbedder) Model() string   { return "openai:" + o.model }
func (o *OpenAIEmbedder) Dimensions() int { return o.dims }

func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(o.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai returned empty embedding data")
	}
	return resp.Data[0].Embedding, nil
}

func openAIDimensions(model string) int {
	switch model {
	case string(openai.EmbeddingModelTextEmbedding3Large):
		return 3072
	default:
		return 1536
	}
}
