package connectors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/huh"
)

// HuhPrompter renders interactive UI requests in the terminal.
type HuhPrompter struct{}

func title(req UIRequest) string {
	if req.Title == "" {
		return fmt.Sprintf("%s asks", req.Extension)
	}
	return fmt.Sprintf("[%s] %s", req.Extension, req.Title)
}

func run(ctx context.Context, field huh.Field) error {
	return huh.NewForm(huh.NewGroup(field)).RunWithContext(ctx)
}

// Confirm asks a yes/no question.
func (HuhPrompter) Confirm(ctx context.Context, req UIRequest) (bool, error) {
	var ok bool
	field := huh.NewConfirm().
		Title(title(req)).
		Description(req.Message).
		Affirmative("Yes").
		Negative("No").
		Value(&ok)
	err := run(ctx, field)
	if err != nil {
		return false, fmt.Errorf("ui confirm: %w", err)
	}
	return ok, nil
}

// Select offers req.Options and returns the chosen value.
func (HuhPrompter) Select(ctx context.Context, req UIRequest) (json.RawMessage, error) {
	opts := make([]huh.Option[int], len(req.Options))
	for i, o := range req.Options {
		opts[i] = huh.NewOption(o.Label, i)
	}
	var chosen int
	field := huh.NewSelect[int]().
		Title(title(req)).
		Description(req.Message).
		Options(opts...).
		Value(&chosen)
	err := run(ctx, field)
	if err != nil {
		return nil, fmt.Errorf("ui select: %w", err)
	}
	return req.Options[chosen].Value, nil
}

// Input reads a line of text.
func (HuhPrompter) Input(ctx context.Context, req UIRequest) (string, error) {
	var text string
	field := huh.NewInput().
		Title(title(req)).
		Description(req.Message).
		Placeholder(req.Placeholder).
		Value(&text)
	err := run(ctx, field)
	if err != nil {
		return "", fmt.Errorf("ui input: %w", err)
	}
	return text, nil
}
