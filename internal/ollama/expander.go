package ollama

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Expansion is the result of expanding a short pad prompt.
type Expansion struct {
	Caption string
	Name    string
}

// PromptExpander turns short pad prompts ("deep kick") into detailed
// sound-design captions and short pad names. Any failure falls back to the
// raw prompt, so generation never depends on the LLM being up.
type PromptExpander struct {
	client *Client

	mu   sync.Mutex
	last map[string]string // prompt -> last caption used
}

// NewPromptExpander creates an expander backed by an Ollama client.
func NewPromptExpander(client *Client) *PromptExpander {
	return &PromptExpander{
		client: client,
		last:   make(map[string]string),
	}
}

const captionSystemPrompt = `You write captions for an AI text-to-audio model that renders short one-shot sounds for a drum pad.

Given a short description, output ONE caption of 10-30 words describing a single sound.

Rules:
- Describe the SOUND: source, timbre, attack, decay, space, processing.
- Be specific: "tight analog kick with short punchy decay and soft sub tail" not "kick".
- One hit or one short phrase, no song structure, no tempo changes.
- Never mention vocals, lyrics, artists or titles.

Output ONLY the caption text. No quotes, no preamble.

/no_think`

const nameSystemPrompt = `You name pads on a sampler.

Given a sound description, output a pad label of 1-3 words.

Rules:
- Short and literal enough to recognise on a 4x4 grid ("Dusty Snare", "Sub Drop").
- Title case, no numbers, no quotes.

Output ONLY the label.

/no_think`

// Expand returns a caption and a pad name for text. Empty fields in the
// LLM output are replaced by the fallbacks.
func (x *PromptExpander) Expand(ctx context.Context, text string) Expansion {
	text = strings.TrimSpace(text)
	out := Expansion{Caption: text, Name: FallbackName(text)}
	if text == "" {
		return out
	}

	if caption := x.caption(ctx, text); caption != "" {
		out.Caption = caption
	}
	if name := x.name(ctx, text); name != "" {
		out.Name = name
	}
	return out
}

func (x *PromptExpander) caption(ctx context.Context, text string) string {
	x.mu.Lock()
	prev := x.last[text]
	x.mu.Unlock()

	prompt := fmt.Sprintf("Sound: %s", text)
	if prev != "" {
		prompt += fmt.Sprintf("\nPrevious caption (write a different variation): %s", prev)
	}

	caption, err := x.client.Generate(ctx, captionSystemPrompt, prompt, Limits{Temperature: 0.8, MaxTokens: 96})
	if err != nil {
		log.Printf("Ollama caption failed: %v", err)
		return ""
	}
	caption = cleanOutput(caption)
	if len(caption) < len(text) || len(caption) > 400 {
		log.Printf("Ollama returned unusable caption: %q", caption)
		return ""
	}

	x.mu.Lock()
	x.last[text] = caption
	x.mu.Unlock()

	log.Printf("LLM caption [%s]: %s", text, caption)
	return caption
}

func (x *PromptExpander) name(ctx context.Context, text string) string {
	name, err := x.client.Generate(ctx, nameSystemPrompt, fmt.Sprintf("Sound: %s", text), Limits{Temperature: 0.6, MaxTokens: 16})
	if err != nil {
		log.Printf("Ollama name failed: %v", err)
		return ""
	}
	name = cleanOutput(name)
	if name == "" || len(name) > 24 || strings.Count(name, " ") > 2 {
		log.Printf("Ollama returned unusable name: %q", name)
		return ""
	}
	return name
}

// FallbackName builds a pad label from the first words of a prompt.
func FallbackName(text string) string {
	words := strings.Fields(text)
	if len(words) > 2 {
		words = words[:2]
	}
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	name := []rune(strings.Join(words, " "))
	if len(name) > 24 {
		name = name[:24]
	}
	return string(name)
}

// cleanOutput strips common LLM artifacts.
func cleanOutput(s string) string {
	s = strings.TrimSpace(s)

	// Qwen 3 thinking mode leakage
	if idx := strings.Index(s, "</think>"); idx >= 0 {
		s = strings.TrimSpace(s[idx+len("</think>"):])
	}

	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}

	lower := strings.ToLower(s)
	for _, p := range []string{"here's a caption:", "here is a caption:", "caption:", "label:", "name:"} {
		if strings.HasPrefix(lower, p) {
			s = strings.TrimSpace(s[len(p):])
			lower = strings.ToLower(s)
		}
	}

	// Keep the first line only
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
