package prompt

import (
	"errors"
	"strings"
	"testing"

	"dialogd/pkg/models"
)

var counter = TokenCounterFunc(Estimate)

func sys(text string) models.Message {
	return models.Message{ID: "sys", Role: models.RoleSystem, Text: text}
}

func pair(userText, botText string) []models.Message {
	return []models.Message{
		{ID: "u", Role: models.RoleUser, Text: userText},
		{ID: "b", Role: models.RoleBot, Text: botText},
	}
}

func TestRenderFormat(t *testing.T) {
	out := Render(Default(), sys("be nice"), pair("hi", "hello"))
	want := "<s>system\nbe nice</s>\n<s>user\nhi</s>\n<s>bot\nhello</s>\n"
	if out != want {
		t.Fatalf("render mismatch:\n got %q\nwant %q", out, want)
	}
}

func TestRenderRoleMapping(t *testing.T) {
	tmpl := Default()
	tmpl.RoleMapping = map[string]string{"bot": "assistant"}
	out := Render(tmpl, sys("s"), pair("hi", "hello"))
	if !strings.Contains(out, "<s>assistant\nhello</s>") {
		t.Fatalf("role mapping not applied: %q", out)
	}
}

func TestShrinkKeepsFittingWindow(t *testing.T) {
	msgs := append(pair("one", "two"), pair("three", "four")...)
	kept, err := ShrinkToBudget(Default(), sys("s"), msgs, 1000, counter)
	if err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if len(kept) != len(msgs) {
		t.Fatalf("fitting window must be untouched, kept %d of %d", len(kept), len(msgs))
	}
}

func TestShrinkDropsOldestPairs(t *testing.T) {
	long := strings.Repeat("word ", 40)
	msgs := append(pair(long, long), pair("recent question", "recent answer")...)
	tmpl := Default()

	budget := counter.CountTokens(Render(tmpl, sys("s"), msgs[2:]))
	kept, err := ShrinkToBudget(tmpl, sys("s"), msgs, budget, counter)
	if err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if len(kept) != 2 || kept[0].Text != "recent question" {
		t.Fatalf("expected only the recent pair, got %v", kept)
	}

	// shrinking an already fitting window is a no-op
	again, err := ShrinkToBudget(tmpl, sys("s"), kept, budget, counter)
	if err != nil {
		t.Fatalf("second shrink: %v", err)
	}
	if len(again) != len(kept) {
		t.Fatalf("shrink not idempotent: %d vs %d", len(again), len(kept))
	}
}

func TestShrinkBudgetUnsatisfiable(t *testing.T) {
	huge := sys(strings.Repeat("policy ", 100))
	_, err := ShrinkToBudget(Default(), huge, pair("hi", "hello"), 10, counter)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
}

func TestRenderForGeneration(t *testing.T) {
	out, err := RenderForGeneration(Default(), sys("be nice"), pair("hi", "hello"), 1000, counter)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.HasSuffix(out, "<s>bot") {
		t.Fatalf("expected trimmed generation suffix, got %q", out)
	}
	if strings.HasSuffix(out, "\n") || strings.HasSuffix(out, " ") {
		t.Fatalf("trailing whitespace not trimmed: %q", out)
	}
}
