package generate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Fragment is one streamed piece of a reply.
type Fragment struct {
	Content string
	Final   bool
}

// Generator streams a reply for a normalized conversation. The consumer is
// invoked once per fragment; returning an error aborts the stream.
type Generator interface {
	Generate(ctx context.Context, conv Conversation, consumer func(Fragment) error) error
	Close() error
}

// OllamaOptions configure the ollama backend.
type OllamaOptions struct {
	Endpoint    string
	Model       string
	Temperature float64
	MaxTokens   int
}

type ollamaGenerator struct {
	opts   OllamaOptions
	client *http.Client
}

// NewOllamaGenerator returns a Generator speaking the ollama streaming API.
func NewOllamaGenerator(opts OllamaOptions) Generator {
	if opts.Endpoint == "" {
		opts.Endpoint = "http://localhost:11434"
	}
	if opts.Model == "" {
		opts.Model = "llama3.2:latest"
	}
	return &ollamaGenerator{opts: opts, client: http.DefaultClient}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaStreamResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (g *ollamaGenerator) Generate(ctx context.Context, conv Conversation, consumer func(Fragment) error) error {
	payload := ollamaRequest{
		Model:  g.opts.Model,
		Prompt: conv.Prompt(),
		System: conv.System(),
		Stream: true,
		Options: ollamaOptions{
			Temperature: g.opts.Temperature,
			NumPredict:  g.opts.MaxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, g.opts.Endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ollama returned status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return err
		}
		if err := consumer(Fragment{Content: chunk.Response, Final: chunk.Done}); err != nil {
			return err
		}
		if chunk.Done {
			return nil
		}
	}
	return scanner.Err()
}

func (g *ollamaGenerator) Close() error { return nil }
