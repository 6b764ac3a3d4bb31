package render

import (
	"errors"
	"testing"
)

func TestRenderImage(t *testing.T) {
	img, err := NewQRRenderer().RenderImage("TKT1.eyJ0aWNrZXRJZCI6IjEifQ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(img) == 0 {
		t.Fatal("expected a non-empty image")
	}
}

func TestRenderImage_EmptyToken(t *testing.T) {
	if _, err := NewQRRenderer().RenderImage("  "); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
}
