// Package generate wraps the chat-completion API used to write proactive
// messages.
package generate

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"tendbot/internal/proactive"
	logx "tendbot/pkg/logx"
)

const defaultPersona = "You are a warm, concise conversation partner in a one-on-one chat. " +
	"You write the way people text: short, casual, no lists or headings."

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Persona string
}

type Client struct {
	cfg Config
	api *openai.Client
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("generate: api key is empty")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("generate: model is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &Client{
		cfg: cfg,
		api: openai.NewClientWithConfig(oc),
		log: log,
	}, nil
}

// Generate produces one proactive message from the built prompt.
// OK=false with nil error means the model returned nothing usable.
func (c *Client) Generate(ctx context.Context, prompt string) (proactive.Generation, error) {
	persona := strings.TrimSpace(c.cfg.Persona)
	if persona == "" {
		persona = defaultPersona
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: persona},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.9,
	})
	if err != nil {
		return proactive.Generation{}, err
	}
	if len(resp.Choices) == 0 {
		return proactive.Generation{Model: resp.Model}, nil
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	return proactive.Generation{
		OK:    text != "",
		Text:  text,
		Model: resp.Model,
	}, nil
}
