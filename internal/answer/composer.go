// Package answer builds the grounded prompt for a question and turns the
// generator's reply into an answer with citations.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"intellixdoc/internal/ai"
	"intellixdoc/internal/logger"
	"intellixdoc/internal/model"
	"intellixdoc/internal/retrieval"
)

const DefaultHistoryWindow = 10

const (
	systemInstruction = "You are IntellixDoc, an assistant that answers questions about the user's PDF documents. " +
		"Answer only from the numbered context passages below. " +
		"If the passages do not contain the answer, say that the documents do not cover it. " +
		"When you use a passage, cite it by its filename and page, for example (report.pdf, page 3). " +
		"Do not invent facts."

	// NoContextReply is returned when nothing relevant was retrieved.
	NoContextReply = "I couldn't find anything in your documents that answers this question. " +
		"Try rephrasing it, or upload a document that covers the topic."

	// FallbackReply is returned when the language model could not answer.
	FallbackReply = "I'm sorry, I couldn't generate an answer right now. Please try again in a moment."
)

type Answer struct {
	Content   string
	Citations []model.Citation
	Fallback  bool
}

type Composer struct {
	generator ai.Generator
	window    int
}

func NewComposer(generator ai.Generator, historyWindow int) *Composer {
	if historyWindow <= 0 {
		historyWindow = DefaultHistoryWindow
	}
	return &Composer{generator: generator, window: historyWindow}
}

// Compose never fails: an empty context yields NoContextReply and a
// generator error yields FallbackReply.
func (c *Composer) Compose(ctx context.Context, question string, history []model.Message, retrieved retrieval.Result) Answer {
	if retrieved.Empty() {
		return Answer{Content: NoContextReply}
	}

	prompt := ai.Prompt{
		System:  systemInstruction + "\n\nContext:\n" + ContextBlock(retrieved.Citations),
		History: c.recent(history),
		User:    strings.TrimSpace(question),
	}

	reply, err := c.generator.Generate(ctx, prompt)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = &ai.GenerationError{Provider: c.generator.Model(), Err: errors.New("empty reply")}
	}
	if err != nil {
		logger.Warn("answer: generation with %s failed, returning fallback: %v", c.generator.Model(), err)
		return Answer{Content: FallbackReply, Fallback: true}
	}

	return Answer{
		Content:   strings.TrimSpace(reply),
		Citations: retrieved.Citations,
	}
}

// recent keeps the last window turns, oldest first.
func (c *Composer) recent(history []model.Message) []ai.ChatMessage {
	if len(history) > c.window {
		history = history[len(history)-c.window:]
	}
	out := make([]ai.ChatMessage, 0, len(history))
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := m.Role
		if role != model.RoleAssistant {
			role = model.RoleUser
		}
		out = append(out, ai.ChatMessage{Role: role, Content: m.Content})
	}
	return out
}

// ContextBlock renders citations as numbered passages labelled with their
// source file and page.
func ContextBlock(citations []model.Citation) string {
	var b strings.Builder
	for i, c := range citations {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s, page %d\n%s", i+1, c.Filename, c.PageNumber, strings.TrimSpace(c.ChunkText))
	}
	return b.String()
}
