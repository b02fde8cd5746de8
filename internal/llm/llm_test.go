package llm

import (
	"context"
	"errors"
	"testing"
)

func TestPlaceholderClientFails(t *testing.T) {
	_, err := PlaceholderClient{}.Generate(context.Background(), "prompt")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestClientFunc(t *testing.T) {
	var c Client = ClientFunc(func(ctx context.Context, prompt string) (string, error) {
		return "echo:" + prompt, nil
	})
	out, err := c.Generate(context.Background(), "hi")
	if err != nil || out != "echo:hi" {
		t.Fatalf("unexpected %q %v", out, err)
	}
}
