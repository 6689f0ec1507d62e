// Package pipeline drives voiceover projects through script generation, speech
// generation, and completion.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceover-service/internal/audio"
	"github.com/book-expert/voiceover-service/internal/core"
	"github.com/book-expert/voiceover-service/internal/project"
	"github.com/google/uuid"
)

const (
	defaultTimeout  = 2 * time.Minute
	releaseTimeout  = 10 * time.Second
	artifactKeyFmt  = "%s/%s.wav"
	opScript        = "script"
	opSpeech        = "speech"
	errFmtTimeout   = "%s generation timed out after %s"
	errFmtEmptyText = "%w: %s must not be empty"
)

// Options configures an Orchestrator.
type Options struct {
	Store       *project.Store
	Client      core.GenerationClient
	Artifacts   core.ObjectStore
	Credentials core.Credentials
	Log         *logger.Logger
	// SampleRate of the PCM returned by the speech backend.
	SampleRate int
	// Timeout bounds each remote call.
	Timeout time.Duration
	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() string
}

// Orchestrator runs project pipelines in the background and writes their results back to
// the store, keyed by project id and guarded by the attempt token.
type Orchestrator struct {
	store       *project.Store
	client      core.GenerationClient
	artifacts   core.ObjectStore
	credentials core.Credentials
	log         *logger.Logger
	format      audio.Format
	timeout     time.Duration
	now         func() time.Time
	newID       func() string

	baseCtx context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// New validates opts and creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil || opts.Client == nil || opts.Artifacts == nil || opts.Credentials == nil || opts.Log == nil {
		return nil, fmt.Errorf("%w: store, client, artifacts, credentials and log are required", core.ErrValidation)
	}

	if opts.SampleRate == 0 {
		opts.SampleRate = audio.DefaultSampleRate
	}

	format := audio.MonoFormat(opts.SampleRate)

	err := format.Validate()
	if err != nil {
		return nil, err
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		store:       opts.Store,
		client:      opts.Client,
		artifacts:   opts.Artifacts,
		credentials: opts.Credentials,
		log:         opts.Log,
		format:      format,
		timeout:     opts.Timeout,
		now:         opts.Now,
		newID:       opts.NewID,
		baseCtx:     ctx,
		cancel:      cancel,
	}, nil
}

// CreateTopicProject registers a TopicToVideo project in GeneratingScript and starts the
// script then speech chain in the background.
func (o *Orchestrator) CreateTopicProject(topic string, voice core.Voice) (project.Project, error) {
	if strings.TrimSpace(topic) == "" {
		return project.Project{}, fmt.Errorf(errFmtEmptyText, core.ErrValidation, "topic")
	}

	if !voice.Valid() {
		return project.Project{}, fmt.Errorf("%w: unsupported voice '%s'", core.ErrValidation, voice)
	}

	created := project.NewTopicProject(o.newID(), topic, voice, o.now())

	token, err := o.store.Add(created)
	if err != nil {
		return project.Project{}, err
	}

	o.log.Info("Created topic project %s with voice %s", created.ID, voice)
	o.spawn(func(ctx context.Context) { o.runTopic(ctx, created.ID, token, topic, voice) })

	return created, nil
}

// CreateTranscriptProject registers a TranscriptToAudio project in GeneratingAudio and
// starts speech generation in the background.
func (o *Orchestrator) CreateTranscriptProject(transcript string, voice core.Voice) (project.Project, error) {
	if strings.TrimSpace(transcript) == "" {
		return project.Project{}, fmt.Errorf(errFmtEmptyText, core.ErrValidation, "transcript")
	}

	if !voice.Valid() {
		return project.Project{}, fmt.Errorf("%w: unsupported voice '%s'", core.ErrValidation, voice)
	}

	created := project.NewTranscriptProject(o.newID(), transcript, voice, o.now())

	token, err := o.store.Add(created)
	if err != nil {
		return project.Project{}, err
	}

	o.log.Info("Created transcript project %s with voice %s", created.ID, voice)
	o.spawn(func(ctx context.Context) { o.runSpeech(ctx, created.ID, token, transcript, voice) })

	return created, nil
}

// UpdateScript replaces the working script without touching the status.
func (o *Orchestrator) UpdateScript(id, script string) (project.Project, error) {
	return o.store.Update(id, func(p *project.Project) { p.Script = script })
}

// RegenerateAudio starts a new speech attempt with script and voice, superseding any
// attempt still in flight for id. An empty or whitespace-only script is rejected with
// core.ErrValidation and leaves the project untouched. The previous audio stays in place
// until the new one is ready.
func (o *Orchestrator) RegenerateAudio(id, script string, voice core.Voice) (project.Project, error) {
	if strings.TrimSpace(script) == "" {
		return project.Project{}, fmt.Errorf(errFmtEmptyText, core.ErrValidation, "script")
	}

	if !voice.Valid() {
		return project.Project{}, fmt.Errorf("%w: unsupported voice '%s'", core.ErrValidation, voice)
	}

	token, updated, err := o.store.BeginAttempt(id, func(p *project.Project) {
		p.Error = ""
		p.SelectedVoice = voice
		p.Script = script
		p.Status = project.StatusGeneratingAudio
	})
	if err != nil {
		return project.Project{}, err
	}

	o.log.Info("Regenerating audio for project %s (attempt %d, voice %s)", id, token, voice)
	o.spawn(func(ctx context.Context) { o.runSpeech(ctx, id, token, script, voice) })

	return updated, nil
}

// DeleteProject removes id and releases its audio. Results still in flight for id are
// discarded when they arrive.
func (o *Orchestrator) DeleteProject(id string) error {
	removed, err := o.store.Delete(id)
	if err != nil {
		return err
	}

	o.log.Info("Deleted project %s", id)
	o.release(removed.Audio)

	return nil
}

// SetActive selects id, or clears the selection when id is empty.
func (o *Orchestrator) SetActive(id string) error {
	return o.store.SetActive(id)
}

// Project returns a snapshot of id.
func (o *Orchestrator) Project(id string) (project.Project, error) {
	p, ok := o.store.Get(id)
	if !ok {
		return project.Project{}, fmt.Errorf("%w: '%s'", core.ErrProjectNotFound, id)
	}

	return p, nil
}

// Projects returns every project, newest first.
func (o *Orchestrator) Projects() []project.Project {
	return o.store.List()
}

// ActiveID returns the selected project id.
func (o *Orchestrator) ActiveID() string {
	return o.store.ActiveID()
}

// Events exposes store change notifications.
func (o *Orchestrator) Events() *project.EventBus {
	return o.store.Events()
}

// Wait blocks until every background attempt has finished.
func (o *Orchestrator) Wait() {
	o.running.Wait()
}

// Close abandons in-flight attempts and waits for their goroutines to exit.
func (o *Orchestrator) Close() {
	o.cancel()
	o.running.Wait()
}

func (o *Orchestrator) spawn(run func(ctx context.Context)) {
	o.running.Add(1)

	go func() {
		defer o.running.Done()

		run(o.baseCtx)
	}()
}

func (o *Orchestrator) runTopic(ctx context.Context, id string, token uint64, topic string, voice core.Voice) {
	credential, err := o.credentials.APIKey()
	if err != nil {
		o.fail(id, token, opScript, err)

		return
	}

	result, err := o.requestScript(ctx, topic, credential)
	if err != nil {
		o.fail(id, token, opScript, err)

		return
	}

	seo := result.SEO
	seo.Tags = append([]string(nil), result.SEO.Tags...)

	updated, applied := o.store.ApplyAttempt(id, token, func(p *project.Project) {
		p.Script = result.Script
		p.SEO = &seo
		p.Status = project.StatusGeneratingAudio
	})
	if !applied {
		o.log.Warn("Discarding script result for project %s: attempt %d is no longer current", id, token)

		return
	}

	o.runSpeech(ctx, id, token, updated.Script, voice)
}

func (o *Orchestrator) runSpeech(ctx context.Context, id string, token uint64, script string, voice core.Voice) {
	credential, err := o.credentials.APIKey()
	if err != nil {
		o.fail(id, token, opSpeech, err)

		return
	}

	encoded, err := o.requestSpeech(ctx, script, voice, credential)
	if err != nil {
		o.fail(id, token, opSpeech, err)

		return
	}

	if !o.store.Current(id, token) {
		o.log.Warn("Discarding speech result for project %s: attempt %d is no longer current", id, token)

		return
	}

	payload, err := o.render(ctx, id, encoded)
	if err != nil {
		o.fail(id, token, opSpeech, err)

		return
	}

	var previous *project.AudioPayload

	_, applied := o.store.ApplyAttempt(id, token, func(p *project.Project) {
		previous = p.Audio
		p.Audio = payload
		p.Error = ""
		p.Status = project.StatusCompleted
	})
	if !applied {
		o.log.Warn("Discarding audio for project %s: attempt %d is no longer current", id, token)
		o.release(payload)

		return
	}

	if previous != nil && previous.Key != payload.Key {
		o.release(previous)
	}

	o.log.Info("Project %s completed: %d bytes, %s of audio", id, payload.Size, payload.Duration)
}

// render decodes the PCM, wraps it in a WAV container, and stores the container.
func (o *Orchestrator) render(ctx context.Context, id, encoded string) (*project.AudioPayload, error) {
	samples, err := audio.DecodePCM16(encoded)
	if err != nil {
		return nil, err
	}

	container, err := audio.EncodeWAV(samples, o.format)
	if err != nil {
		return nil, fmt.Errorf("failed to encode wav container: %w", err)
	}

	key := fmt.Sprintf(artifactKeyFmt, id, uuid.NewString())

	err = o.artifacts.Upload(ctx, key, container)
	if err != nil {
		return nil, fmt.Errorf("failed to store audio for project %s: %w", id, err)
	}

	return &project.AudioPayload{
		Key:        key,
		URL:        o.artifacts.Reference(key),
		Size:       len(container),
		SampleRate: o.format.SampleRate,
		Duration:   o.format.Duration(len(samples)),
		Data:       container,
	}, nil
}

func (o *Orchestrator) requestScript(ctx context.Context, topic, credential string) (core.ScriptResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	result, err := o.client.RequestScript(callCtx, topic, credential)
	if err != nil {
		return core.ScriptResult{}, o.remoteError(callCtx, opScript, err)
	}

	if strings.TrimSpace(result.Script) == "" {
		return core.ScriptResult{}, &core.RemoteError{Op: opScript, Message: "response contained an empty script"}
	}

	return result, nil
}

func (o *Orchestrator) requestSpeech(ctx context.Context, text string, voice core.Voice, credential string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	encoded, err := o.client.RequestSpeech(callCtx, text, voice, credential)
	if err != nil {
		return "", o.remoteError(callCtx, opSpeech, err)
	}

	return encoded, nil
}

func (o *Orchestrator) remoteError(callCtx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &core.RemoteError{Op: op, Message: fmt.Sprintf(errFmtTimeout, op, o.timeout), Err: err}
	}

	return core.NewRemoteError(op, err)
}

// fail records err on the project when token is still its latest attempt. Script, SEO,
// and any previous audio are left in place.
func (o *Orchestrator) fail(id string, token uint64, op string, err error) {
	message := err.Error()
	if message == "" {
		message = op + " generation failed"
	}

	_, applied := o.store.ApplyAttempt(id, token, func(p *project.Project) {
		p.Error = message
		p.Status = project.StatusError
	})
	if !applied {
		o.log.Warn("Discarding %s failure for project %s (attempt %d superseded): %v", op, id, token, err)

		return
	}

	o.log.Error("Project %s %s step failed: %v", id, op, err)
}

func (o *Orchestrator) release(payload *project.AudioPayload) {
	if payload == nil || payload.Key == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	err := o.artifacts.Delete(ctx, payload.Key)
	if err != nil {
		o.log.Warn("Failed to release audio object '%s': %v", payload.Key, err)
	}
}
