package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/mohammad-safakhou/ragchat/config"
	"github.com/mohammad-safakhou/ragchat/provider"
)

// Client implements provider.Provider against any OpenAI-compatible endpoint.
type Client struct {
	client         *goopenai.Client
	chatModel      string
	embeddingModel string
	temperature    float32
	maxTokens      int
	timeout        time.Duration
}

var _ provider.Provider = (*Client)(nil)

// NewClient creates a new OpenAI client from the llm config section.
func NewClient(cfg config.LLMConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &Client{
		client:         goopenai.NewClientWithConfig(clientConfig),
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		timeout:        cfg.Timeout,
	}, nil
}

func (c *Client) request(messages []provider.Message, stream bool) goopenai.ChatCompletionRequest {
	converted := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return goopenai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    converted,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      stream,
	}
}

// Chat implements non-streaming chat.
func (c *Client) Chat(ctx context.Context, messages []provider.Message) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.client.CreateChatCompletion(ctx, c.request(messages, false))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// StreamChat implements streaming chat. The stream is bound to ctx only; the
// request timeout does not apply.
func (c *Client) StreamChat(ctx context.Context, messages []provider.Message) (<-chan provider.StreamResponse, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(messages, true))
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}

	out := make(chan provider.StreamResponse)
	go func() {
		defer close(out)
		defer stream.Close()

		send := func(r provider.StreamResponse) bool {
			select {
			case out <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				send(provider.StreamResponse{Done: true})
				return
			}
			if err != nil {
				send(provider.StreamResponse{Error: fmt.Errorf("stream error: %w", err)})
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(provider.StreamResponse{Content: resp.Choices[0].Delta.Content}) {
				return
			}
		}
	}()
	return out, nil
}

// Embed implements batched embeddings.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("create embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	vecs := make([][]float32, len(data))
	for i, d := range data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}
