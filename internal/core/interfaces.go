// Package core defines the core business types and interfaces for the voiceover service.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	// Reference returns a stable locator for key that observers can resolve later.
	Reference(key string) string
}

// SEOMetadata is the publishing metadata produced alongside a generated script.
type SEOMetadata struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Tags          []string `json:"tags"`
	PinnedComment string   `json:"pinnedComment"`
}

// ScriptResult is the structured answer of a script generation request.
type ScriptResult struct {
	Script string      `json:"script"`
	SEO    SEOMetadata `json:"seo"`
}

// GenerationClient is the remote generative backend. Both calls may take seconds and
// cannot be cancelled server-side once issued.
type GenerationClient interface {
	RequestScript(ctx context.Context, topic, credential string) (ScriptResult, error)
	// RequestSpeech returns base64 encoded little-endian 16-bit PCM.
	RequestSpeech(ctx context.Context, text string, voice Voice, credential string) (string, error)
}

// Credentials resolves the API key handed to the GenerationClient on every call.
type Credentials interface {
	APIKey() (string, error)
}
