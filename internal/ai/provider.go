package ai

import (
	"context"
	"errors"
	"fmt"
)

// Embedder maps text to fixed-length vectors. Output is deterministic for
// the same input and model, and EmbedBatch keeps input order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
	Close() error
}

// Generator turns a prompt into an answer.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
	Model() string
	Close() error
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is a system instruction, prior turns oldest first, and the new
// user turn.
type Prompt struct {
	System  string
	History []ChatMessage
	User    string
}

// Messages flattens the prompt into chat-completion order.
func (p Prompt) Messages() []ChatMessage {
	out := make([]ChatMessage, 0, len(p.History)+2)
	if p.System != "" {
		out = append(out, ChatMessage{Role: "system", Content: p.System})
	}
	out = append(out, p.History...)
	return append(out, ChatMessage{Role: "user", Content: p.User})
}

var ErrEmptyInput = errors.New("embedding input is empty")

// GenerationError wraps any failure of a generation provider: transport,
// quota, timeout or an unusable reply.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func IsGenerationError(err error) bool {
	var target *GenerationError
	return errors.As(err, &target)
}
