package sticker

import (
	"bytes"
	"image/png"
	"reflect"
	"testing"

	"github.com/omochice/chat-bridge/internal/command"
)

func TestRenderer_Render(t *testing.T) {
	r := New()
	data, err := r.Render("BRO?!", command.RenderOptions{MaxChars: 12, FontSize: 72, Padding: 40, Width: 512})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to decode rendered PNG: %v", err)
	}
	if got := img.Bounds().Dx(); got != 512 {
		t.Errorf("width = %d, want 512", got)
	}
	if got := img.Bounds().Dy(); got != 512 {
		t.Errorf("height = %d, want 512", got)
	}
}

func TestRenderer_Render_EmptyText(t *testing.T) {
	r := New()
	if _, err := r.Render("   ", command.RenderOptions{}); err == nil {
		t.Error("Render() error = nil for empty text, want error")
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxChars int
		want     []string
	}{
		{
			name:     "single short word",
			text:     "halo",
			maxChars: 12,
			want:     []string{"halo"},
		},
		{
			name:     "wraps on spaces",
			text:     "satu dua tiga empat",
			maxChars: 8,
			want:     []string{"satu dua", "tiga", "empat"},
		},
		{
			name:     "hard breaks long word",
			text:     "abcdefghij",
			maxChars: 4,
			want:     []string{"abcd", "efgh", "ij"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := wrap(tt.text, tt.maxChars); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("wrap(%q, %d) = %v, want %v", tt.text, tt.maxChars, got, tt.want)
			}
		})
	}
}
