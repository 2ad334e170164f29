package llm

import (
	"context"
	"errors"
)

// ErrNoVision is returned by providers whose models cannot take image input.
var ErrNoVision = errors.New("provider does not support image input")

// Image is one page image or picture attachment sent to a vision-capable model.
type Image struct {
	Data     []byte
	MIMEType string
	Name     string
}

// Provider is the interface for all LLM providers.
//
// Recognized options: "model" (string), "temperature" (float64),
// "max_tokens" (int), "response_format" (map with "type": "json_object").
type Provider interface {
	GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error)
	// GenerateWithImages sends the prompt together with image parts.
	GenerateWithImages(ctx context.Context, prompt string, systemPrompt string, images []Image, options map[string]interface{}) (string, error)
	// AdaptInstructions transforms raw instructions into model-specific formats
	AdaptInstructions(rawInstructions string) string
}

func optString(options map[string]interface{}, key, def string) string {
	if val, ok := options[key].(string); ok && val != "" {
		return val
	}
	return def
}

func optFloat(options map[string]interface{}, key string, def float64) float64 {
	switch v := options[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return def
}

func optInt(options map[string]interface{}, key string, def int) int {
	switch v := options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func wantsJSON(options map[string]interface{}) bool {
	if val, ok := options["response_format"].(map[string]interface{}); ok {
		return val["type"] == "json_object"
	}
	return false
}
