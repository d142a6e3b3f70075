package prompt

import (
	"errors"
	"strings"
	"unicode/utf8"

	"dialogd/pkg/models"
)

// ErrBudgetExceeded is returned when the system prompt alone does not fit
// the token budget; the caller must reconfigure around this.
var ErrBudgetExceeded = errors.New("system prompt alone exceeds token budget")

// TokenCounter abstracts the tokenizer; the real token accounting lives
// with the generation backend.
type TokenCounter interface {
	CountTokens(text string) int
}

// TokenCounterFunc adapts a plain function to the TokenCounter interface.
type TokenCounterFunc func(string) int

func (f TokenCounterFunc) CountTokens(text string) int { return f(text) }

// Estimate is a cheap tokenizer-free approximation (about four runes per
// token) used when no backend tokenizer is wired in.
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// Render serializes the system prompt followed by the window into backend
// text. The system prompt always occupies the first position.
func Render(t Template, system models.Message, msgs []models.Message) string {
	var b strings.Builder
	b.WriteString(t.formatMessage(system))
	for _, m := range msgs {
		b.WriteString(t.formatMessage(m))
	}
	return b.String()
}

// ShrinkToBudget drops the two oldest non-system messages (a user/bot
// pair) until the rendered prompt fits maxTokens. Dropping single
// messages would desynchronize turn alternation, so pairs go together.
// The system prompt is never dropped.
func ShrinkToBudget(t Template, system models.Message, msgs []models.Message, maxTokens int, tc TokenCounter) ([]models.Message, error) {
	for {
		if tc.CountTokens(Render(t, system, msgs)) <= maxTokens {
			return msgs, nil
		}
		if len(msgs) == 0 {
			return nil, ErrBudgetExceeded
		}
		if len(msgs) < 2 {
			msgs = msgs[len(msgs):]
		} else {
			msgs = msgs[2:]
		}
	}
}

// RenderForGeneration shrinks the window to the budget, renders it and
// appends the generation-priming suffix. Trailing whitespace is trimmed.
func RenderForGeneration(t Template, system models.Message, msgs []models.Message, maxTokens int, tc TokenCounter) (string, error) {
	kept, err := ShrinkToBudget(t, system, msgs, maxTokens, tc)
	if err != nil {
		return "", err
	}
	text := Render(t, system, kept) + t.GenerationSuffix
	return strings.TrimRight(text, " \t\r\n"), nil
}
