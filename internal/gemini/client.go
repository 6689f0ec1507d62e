// Package gemini implements core.GenerationClient on top of the Google Gen AI SDK.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceover-service/internal/core"
	"google.golang.org/genai"
)

const (
	opScript          = "script"
	opSpeech          = "speech"
	mimeTypeJSON      = "application/json"
	errEmptyBody      = "empty response body"
	errInvalidSchema  = "response body is not valid structured data matching the expected schema"
	errNoAudioPayload = "no audio payload present in response"
)

// contentGenerator is the part of genai.Models used here.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// generatorFactory builds a generator bound to one API key.
type generatorFactory func(ctx context.Context, apiKey string) (contentGenerator, error)

// Client calls Gemini for scripts and speech. The credential is supplied per call, so a
// fresh SDK client is built for each request.
type Client struct {
	scriptModel  string
	speechModel  string
	log          *logger.Logger
	newGenerator generatorFactory
}

// New creates a Client for the given model ids.
func New(scriptModel, speechModel string, log *logger.Logger) *Client {
	return &Client{
		scriptModel:  scriptModel,
		speechModel:  speechModel,
		log:          log,
		newGenerator: newSDKGenerator,
	}
}

func newSDKGenerator(ctx context.Context, apiKey string) (contentGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}

	return client.Models, nil
}

// RequestScript asks the script model for a tutorial script and SEO metadata.
func (c *Client) RequestScript(ctx context.Context, topic, credential string) (core.ScriptResult, error) {
	generator, err := c.generator(ctx, opScript, credential)
	if err != nil {
		return core.ScriptResult{}, err
	}

	resp, err := generator.GenerateContent(ctx, c.scriptModel, genai.Text("Topic: "+topic), scriptConfig())
	if err != nil {
		c.log.Error("Script generation request failed: %v", err)

		return core.ScriptResult{}, remoteError(opScript, err)
	}

	return parseScriptResponse(resp)
}

// RequestSpeech asks the speech model to read text with voice and returns the PCM as
// standard base64.
func (c *Client) RequestSpeech(ctx context.Context, text string, voice core.Voice, credential string) (string, error) {
	generator, err := c.generator(ctx, opSpeech, credential)
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{{Parts: []*genai.Part{{Text: text}}, Role: string(genai.RoleUser)}}

	resp, err := generator.GenerateContent(ctx, c.speechModel, contents, speechConfig(voice))
	if err != nil {
		c.log.Error("Speech generation request failed: %v", err)

		return "", remoteError(opSpeech, err)
	}

	return extractAudio(resp)
}

func (c *Client) generator(ctx context.Context, op, credential string) (contentGenerator, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, &core.RemoteError{Op: op, Message: core.ErrMissingCredential.Error(), Err: core.ErrMissingCredential}
	}

	generator, err := c.newGenerator(ctx, credential)
	if err != nil {
		return nil, remoteError(op, err)
	}

	return generator, nil
}

func scriptConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: scriptSystemInstruction}}},
		ResponseMIMEType:  mimeTypeJSON,
		ResponseSchema:    scriptSchema(),
	}
}

func scriptSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"script": {
				Type:        genai.TypeString,
				Description: "The full spoken script with natural fillers.",
			},
			"seo": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"title":         {Type: genai.TypeString},
					"description":   {Type: genai.TypeString},
					"tags":          {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
					"pinnedComment": {Type: genai.TypeString},
				},
			},
		},
		Required: []string{"script", "seo"},
	}
}

func speechConfig(voice core.Voice) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice.Name()},
			},
		},
	}
}

func parseScriptResponse(resp *genai.GenerateContentResponse) (core.ScriptResult, error) {
	body := responseText(resp)
	if strings.TrimSpace(body) == "" {
		return core.ScriptResult{}, &core.RemoteError{Op: opScript, Message: errEmptyBody}
	}

	var result core.ScriptResult

	err := json.Unmarshal([]byte(body), &result)
	if err != nil {
		return core.ScriptResult{}, &core.RemoteError{Op: opScript, Message: errInvalidSchema, Err: err}
	}

	if strings.TrimSpace(result.Script) == "" {
		return core.ScriptResult{}, &core.RemoteError{Op: opScript, Message: errInvalidSchema}
	}

	return result, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}

	return sb.String()
}

func extractAudio(resp *genai.GenerateContentResponse) (string, error) {
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return base64.StdEncoding.EncodeToString(part.InlineData.Data), nil
			}
		}
	}

	return "", &core.RemoteError{Op: opSpeech, Message: errNoAudioPayload}
}

func remoteError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &core.RemoteError{Op: op, Message: err.Error(), Err: err}
	}

	return core.NewRemoteError(op, err)
}
