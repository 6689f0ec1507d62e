// Package project holds the in-memory collection of voiceover projects.
package project

import (
	"strings"
	"time"

	"github.com/book-expert/voiceover-service/internal/core"
)

// Status is a project's position in the generation state machine.
type Status string

const (
	StatusIdle             Status = "IDLE"
	StatusGeneratingScript Status = "GENERATING_SCRIPT"
	StatusGeneratingAudio  Status = "GENERATING_AUDIO"
	StatusCompleted        Status = "COMPLETED"
	StatusError            Status = "ERROR"
)

// Generating reports whether a remote call is outstanding in this state.
func (s Status) Generating() bool {
	return s == StatusGeneratingScript || s == StatusGeneratingAudio
}

// Terminal reports whether an attempt has finished in this state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// WorkflowKind selects which remote operations a project runs.
type WorkflowKind string

const (
	WorkflowTopicToVideo      WorkflowKind = "TOPIC_TO_VIDEO"
	WorkflowTranscriptToAudio WorkflowKind = "TRANSCRIPT_TO_AUDIO"
)

const (
	topicNameLimit      = 30
	transcriptNameLimit = 20
	nameEllipsis        = "..."
)

// AudioPayload is a rendered container and the stable reference to its stored copy.
type AudioPayload struct {
	Key        string        `json:"key"`
	URL        string        `json:"url"`
	Size       int           `json:"size"`
	SampleRate int           `json:"sampleRate"`
	Duration   time.Duration `json:"duration"`
	Data       []byte        `json:"-"`
}

// Project is the unit of work.
type Project struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Kind               WorkflowKind      `json:"type"`
	CreatedAt          time.Time         `json:"createdAt"`
	Status             Status            `json:"status"`
	Topic              string            `json:"topic,omitempty"`
	OriginalTranscript string            `json:"originalTranscript,omitempty"`
	Script             string            `json:"script"`
	SEO                *core.SEOMetadata `json:"seoMetadata,omitempty"`
	Audio              *AudioPayload     `json:"audio,omitempty"`
	SelectedVoice      core.Voice        `json:"selectedVoice"`
	Error              string            `json:"error,omitempty"`
}

// NewTopicProject starts a topic flow project in GeneratingScript.
func NewTopicProject(id, topic string, voice core.Voice, now time.Time) Project {
	return Project{
		ID:            id,
		Name:          displayName(topic, topicNameLimit, false),
		Kind:          WorkflowTopicToVideo,
		CreatedAt:     now,
		Status:        StatusGeneratingScript,
		Topic:         topic,
		SelectedVoice: voice,
	}
}

// NewTranscriptProject starts a transcript flow project in GeneratingAudio with the
// transcript as its working script.
func NewTranscriptProject(id, transcript string, voice core.Voice, now time.Time) Project {
	return Project{
		ID:                 id,
		Name:               displayName(transcript, transcriptNameLimit, true),
		Kind:               WorkflowTranscriptToAudio,
		CreatedAt:          now,
		Status:             StatusGeneratingAudio,
		OriginalTranscript: transcript,
		Script:             transcript,
		SelectedVoice:      voice,
	}
}

// Input returns the text that triggered the project.
func (p Project) Input() string {
	if p.Kind == WorkflowTopicToVideo {
		return p.Topic
	}

	return p.OriginalTranscript
}

func (p Project) clone() Project {
	out := p
	if p.SEO != nil {
		seo := *p.SEO
		seo.Tags = append([]string(nil), p.SEO.Tags...)
		out.SEO = &seo
	}

	if p.Audio != nil {
		payload := *p.Audio
		out.Audio = &payload
	}

	return out
}

// displayName truncates by rune. Transcript names are always suffixed with an ellipsis.
func displayName(input string, limit int, alwaysEllipsis bool) string {
	trimmed := strings.TrimSpace(input)
	runes := []rune(trimmed)

	if len(runes) > limit {
		return string(runes[:limit]) + nameEllipsis
	}

	if alwaysEllipsis {
		return trimmed + nameEllipsis
	}

	return trimmed
}
