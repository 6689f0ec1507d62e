package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceover-service/internal/audio"
	"github.com/book-expert/voiceover-service/internal/core"
	"github.com/book-expert/voiceover-service/internal/objectstore"
	"github.com/book-expert/voiceover-service/internal/pipeline"
	"github.com/book-expert/voiceover-service/internal/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTopic = "How to tie a knot"

type speechCall struct {
	text  string
	voice core.Voice
}

// fakeClient is a scriptable core.GenerationClient. Speech calls for a voice that has a
// gate block until the gate is closed or the context ends.
type fakeClient struct {
	mu          sync.Mutex
	script      core.ScriptResult
	scriptErr   error
	speechErr   error
	speechRaw   string
	gates       map[core.Voice]chan struct{}
	scriptCalls []string
	speechCalls []speechCall
	credentials []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		script: core.ScriptResult{
			Script: "First, cross the ends. Next, pull tight. Like and subscribe!",
			SEO: core.SEOMetadata{
				Title:         "Tie Any Knot in 60 Seconds",
				Description:   "A quick knot tutorial.",
				Tags:          []string{"knots", "how to"},
				PinnedComment: "Which knot next?",
			},
		},
		gates: make(map[core.Voice]chan struct{}),
	}
}

func (f *fakeClient) gate(voice core.Voice) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	gate := make(chan struct{})
	f.gates[voice] = gate

	return gate
}

func (f *fakeClient) RequestScript(_ context.Context, topic, credential string) (core.ScriptResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.scriptCalls = append(f.scriptCalls, topic)
	f.credentials = append(f.credentials, credential)

	if f.scriptErr != nil {
		return core.ScriptResult{}, f.scriptErr
	}

	return f.script, nil
}

func (f *fakeClient) RequestSpeech(ctx context.Context, text string, voice core.Voice, credential string) (string, error) {
	f.mu.Lock()
	f.speechCalls = append(f.speechCalls, speechCall{text: text, voice: voice})
	f.credentials = append(f.credentials, credential)
	gate := f.gates[voice]
	speechErr := f.speechErr
	raw := f.speechRaw
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if speechErr != nil {
		return "", speechErr
	}

	if raw != "" {
		return raw, nil
	}

	return audio.EncodePCM16(samplesFor(voice)), nil
}

func (f *fakeClient) speechCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.speechCalls)
}

func (f *fakeClient) setSpeechErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.speechErr = err
}

// samplesFor gives every voice a distinct PCM payload.
func samplesFor(voice core.Voice) []int16 {
	samples := make([]int16, 0, len(voice))
	for _, r := range voice {
		samples = append(samples, int16(r)*100)
	}

	return samples
}

type staticCredentials struct {
	key string
	err error
}

func (s staticCredentials) APIKey() (string, error) {
	return s.key, s.err
}

type harness struct {
	orchestrator *pipeline.Orchestrator
	client       *fakeClient
	artifacts    *objectstore.MemoryStore
	store        *project.Store
}

func newHarness(t *testing.T, mutate func(*pipeline.Options)) *harness {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "pipeline-test.log")
	require.NoError(t, err)

	h := &harness{
		client:    newFakeClient(),
		artifacts: objectstore.NewMemoryStore(),
		store:     project.NewStore(project.NewEventBus(1000)),
	}

	opts := pipeline.Options{
		Store:       h.store,
		Client:      h.client,
		Artifacts:   h.artifacts,
		Credentials: staticCredentials{key: "test-key"},
		Log:         testLogger,
		SampleRate:  audio.DefaultSampleRate,
		Timeout:     5 * time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}

	h.orchestrator, err = pipeline.New(opts)
	require.NoError(t, err)

	t.Cleanup(h.orchestrator.Close)

	return h
}

// statuses returns the distinct consecutive statuses observed for id.
func (h *harness) statuses(id string) []project.Status {
	var out []project.Status

	for _, change := range h.store.Events().Since(0) {
		if change.ProjectID != id || change.Project == nil {
			continue
		}

		if len(out) == 0 || out[len(out)-1] != change.Project.Status {
			out = append(out, change.Project.Status)
		}
	}

	return out
}

func (h *harness) get(t *testing.T, id string) project.Project {
	t.Helper()

	p, err := h.orchestrator.Project(id)
	require.NoError(t, err)

	return p
}

func (h *harness) completedTranscript(t *testing.T, voice core.Voice) project.Project {
	t.Helper()

	created, err := h.orchestrator.CreateTranscriptProject("Today we replace a faucet.", voice)
	require.NoError(t, err)
	h.orchestrator.Wait()

	p := h.get(t, created.ID)
	require.Equal(t, project.StatusCompleted, p.Status)

	return p
}

func TestCreateTopicProject_HappyPath(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	created, err := h.orchestrator.CreateTopicProject(testTopic, core.VoiceKore)
	require.NoError(t, err)
	assert.Equal(t, project.StatusGeneratingScript, created.Status)
	assert.Equal(t, created.ID, h.orchestrator.ActiveID())

	h.orchestrator.Wait()

	assert.Equal(t, []project.Status{
		project.StatusGeneratingScript,
		project.StatusGeneratingAudio,
		project.StatusCompleted,
	}, h.statuses(created.ID))

	final := h.get(t, created.ID)
	assert.Equal(t, testTopic, final.Topic)
	assert.Equal(t, h.client.script.Script, final.Script)
	require.NotNil(t, final.SEO)
	assert.Equal(t, h.client.script.SEO, *final.SEO)
	require.NotNil(t, final.Audio)
	assert.Empty(t, final.Error)

	format, samples, err := audio.ParseWAV(final.Audio.Data)
	require.NoError(t, err)
	assert.Equal(t, audio.MonoFormat(audio.DefaultSampleRate), format)
	assert.Equal(t, samplesFor(core.VoiceKore), samples)
	assert.Equal(t, "objectstore://memory/"+final.Audio.Key, final.Audio.URL)

	stored, err := h.artifacts.Download(context.Background(), final.Audio.Key)
	require.NoError(t, err)
	assert.Equal(t, final.Audio.Data, stored)

	require.Len(t, h.client.speechCalls, 1)
	assert.Equal(t, h.client.script.Script, h.client.speechCalls[0].text)
	assert.Equal(t, core.VoiceKore, h.client.speechCalls[0].voice)
	assert.Equal(t, []string{"test-key", "test-key"}, h.client.credentials)
}

func TestCreateTopicProject_ScriptFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.client.scriptErr = errors.New("quota exceeded")

	created, err := h.orchestrator.CreateTopicProject(testTopic, core.VoiceKore)
	require.NoError(t, err)
	h.orchestrator.Wait()

	final := h.get(t, created.ID)
	assert.Equal(t, project.StatusError, final.Status)
	assert.Equal(t, "quota exceeded", final.Error)
	assert.Nil(t, final.Audio)
	assert.Nil(t, final.SEO)
	assert.Equal(t, 0, h.client.speechCount(), "speech must not be requested after a script failure")
}

func TestCreateTranscriptProject(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	transcript := "Welcome back. Today we replace a faucet."

	created, err := h.orchestrator.CreateTranscriptProject(transcript, core.VoicePuck)
	require.NoError(t, err)
	assert.Equal(t, project.StatusGeneratingAudio, created.Status)
	assert.Equal(t, transcript, created.Script)

	h.orchestrator.Wait()

	assert.Equal(t, []project.Status{
		project.StatusGeneratingAudio,
		project.StatusCompleted,
	}, h.statuses(created.ID))

	final := h.get(t, created.ID)
	assert.Equal(t, transcript, final.OriginalTranscript)
	assert.Nil(t, final.SEO)
	require.NotNil(t, final.Audio)
	assert.Empty(t, h.client.scriptCalls)
	require.Len(t, h.client.speechCalls, 1)
	assert.Equal(t, transcript, h.client.speechCalls[0].text)
}

func TestCreate_Validation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	_, err := h.orchestrator.CreateTopicProject("   ", core.VoiceKore)
	require.ErrorIs(t, err, core.ErrValidation)

	_, err = h.orchestrator.CreateTranscriptProject("text", core.Voice("robot"))
	require.ErrorIs(t, err, core.ErrValidation)

	assert.Empty(t, h.orchestrator.Projects())
}

func TestSpeechFailure_KeepsScriptAndPreviousAudio(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	created, err := h.orchestrator.CreateTopicProject(testTopic, core.VoiceKore)
	require.NoError(t, err)
	h.orchestrator.Wait()

	before := h.get(t, created.ID)
	require.NotNil(t, before.Audio)

	h.client.setSpeechErr(errors.New("upstream unavailable"))

	_, err = h.orchestrator.RegenerateAudio(created.ID, before.Script, core.VoiceCharon)
	require.NoError(t, err)
	h.orchestrator.Wait()

	after := h.get(t, created.ID)
	assert.Equal(t, project.StatusError, after.Status)
	assert.Equal(t, "upstream unavailable", after.Error)
	assert.Equal(t, before.Script, after.Script)
	assert.Equal(t, before.SEO, after.SEO)
	require.NotNil(t, after.Audio)
	assert.Equal(t, before.Audio.Key, after.Audio.Key, "previous audio is retained on failure")
	assert.Equal(t, 1, h.artifacts.Len())

	// A successful retry clears the error and replaces the audio.
	h.client.setSpeechErr(nil)

	_, err = h.orchestrator.RegenerateAudio(created.ID, "A shorter script.", core.VoiceCharon)
	require.NoError(t, err)
	h.orchestrator.Wait()

	retried := h.get(t, created.ID)
	assert.Equal(t, project.StatusCompleted, retried.Status)
	assert.Empty(t, retried.Error)
	assert.Equal(t, "A shorter script.", retried.Script)
	assert.NotEqual(t, before.Audio.Key, retried.Audio.Key)
	assert.Equal(t, 1, h.artifacts.Len(), "superseded audio is released")

	_, err = h.artifacts.Download(context.Background(), before.Audio.Key)
	assert.ErrorIs(t, err, objectstore.ErrObjectNotFound)
}

func TestRegenerateAudio_StaleAttemptDiscarded(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	p := h.completedTranscript(t, core.VoiceZephyr)

	gateA := h.client.gate(core.VoiceKore)

	_, err := h.orchestrator.RegenerateAudio(p.ID, p.Script, core.VoiceKore)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.client.speechCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	_, err = h.orchestrator.RegenerateAudio(p.ID, p.Script, core.VoicePuck)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current := h.get(t, p.ID)

		return current.Status == project.StatusCompleted && current.SelectedVoice == core.VoicePuck
	}, 2*time.Second, 5*time.Millisecond)

	close(gateA)
	h.orchestrator.Wait()

	final := h.get(t, p.ID)
	assert.Equal(t, project.StatusCompleted, final.Status)
	assert.Equal(t, core.VoicePuck, final.SelectedVoice)

	_, samples, err := audio.ParseWAV(final.Audio.Data)
	require.NoError(t, err)
	assert.Equal(t, samplesFor(core.VoicePuck), samples, "the stale attempt must not overwrite the newer audio")
	assert.Equal(t, 1, h.artifacts.Len())
}

func TestDeleteProject_DuringFlight(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	gate := h.client.gate(core.VoiceFenrir)

	created, err := h.orchestrator.CreateTranscriptProject("Some narration.", core.VoiceFenrir)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.client.speechCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.orchestrator.DeleteProject(created.ID))
	assert.Empty(t, h.orchestrator.ActiveID())

	close(gate)
	h.orchestrator.Wait()

	_, err = h.orchestrator.Project(created.ID)
	require.ErrorIs(t, err, core.ErrProjectNotFound)
	assert.Empty(t, h.orchestrator.Projects())
	assert.Equal(t, 0, h.artifacts.Len())

	assert.ErrorIs(t, h.orchestrator.DeleteProject(created.ID), core.ErrProjectNotFound)
}

func TestDeleteProject_ReleasesAudio(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	p := h.completedTranscript(t, core.VoiceLeda)
	require.Equal(t, 1, h.artifacts.Len())

	require.NoError(t, h.orchestrator.DeleteProject(p.ID))
	assert.Equal(t, 0, h.artifacts.Len())
}

func TestRegenerateAudio_EmptyScriptIsNoOp(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	p := h.completedTranscript(t, core.VoiceOrus)
	seq := h.store.Events().LastSeq()

	for _, script := range []string{"", "  \n\t"} {
		_, err := h.orchestrator.RegenerateAudio(p.ID, script, core.VoiceKore)
		require.ErrorIs(t, err, core.ErrValidation)
	}

	h.orchestrator.Wait()

	assert.Equal(t, p, h.get(t, p.ID))
	assert.Empty(t, h.store.Events().Since(seq))
	assert.Equal(t, 1, h.client.speechCount())
}

func TestRegenerateAudio_UnknownProject(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	_, err := h.orchestrator.RegenerateAudio("missing", "script", core.VoiceKore)
	assert.ErrorIs(t, err, core.ErrProjectNotFound)
}

func TestUpdateScript_KeepsStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	p := h.completedTranscript(t, core.VoiceAoede)

	updated, err := h.orchestrator.UpdateScript(p.ID, "Edited narration.")
	require.NoError(t, err)
	assert.Equal(t, "Edited narration.", updated.Script)
	assert.Equal(t, project.StatusCompleted, updated.Status)
	assert.Equal(t, p.Audio.Key, updated.Audio.Key)

	_, err = h.orchestrator.UpdateScript("missing", "x")
	assert.ErrorIs(t, err, core.ErrProjectNotFound)
}

func TestRemoteCallTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(opts *pipeline.Options) { opts.Timeout = 50 * time.Millisecond })
	h.client.gate(core.VoiceGacrux)

	created, err := h.orchestrator.CreateTranscriptProject("Slow narration.", core.VoiceGacrux)
	require.NoError(t, err)
	h.orchestrator.Wait()

	final := h.get(t, created.ID)
	assert.Equal(t, project.StatusError, final.Status)
	assert.Contains(t, final.Error, "timed out")
}

func TestMissingCredential(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(opts *pipeline.Options) {
		opts.Credentials = staticCredentials{err: core.ErrMissingCredential}
	})

	created, err := h.orchestrator.CreateTopicProject(testTopic, core.VoiceKore)
	require.NoError(t, err)
	h.orchestrator.Wait()

	final := h.get(t, created.ID)
	assert.Equal(t, project.StatusError, final.Status)
	assert.Equal(t, core.ErrMissingCredential.Error(), final.Error)
	assert.Empty(t, h.client.scriptCalls)
	assert.Equal(t, 0, h.client.speechCount())
}

func TestCorruptSpeechPayload(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.client.speechRaw = "QQ==" // a single 0x41 byte

	created, err := h.orchestrator.CreateTranscriptProject("Narration.", core.VoiceKore)
	require.NoError(t, err)
	h.orchestrator.Wait()

	final := h.get(t, created.ID)
	assert.Equal(t, project.StatusError, final.Status)
	assert.Contains(t, final.Error, core.ErrDecode.Error())
	assert.Nil(t, final.Audio)
	assert.Equal(t, 0, h.artifacts.Len())
}

func TestEmptyScriptResponse(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.client.script = core.ScriptResult{}

	created, err := h.orchestrator.CreateTopicProject(testTopic, core.VoiceKore)
	require.NoError(t, err)
	h.orchestrator.Wait()

	final := h.get(t, created.ID)
	assert.Equal(t, project.StatusError, final.Status)
	assert.Equal(t, 0, h.client.speechCount())
}

func TestIndependentProjects(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	slow := h.client.gate(core.VoiceSchedar)

	blocked, err := h.orchestrator.CreateTranscriptProject("Blocked narration.", core.VoiceSchedar)
	require.NoError(t, err)

	free, err := h.orchestrator.CreateTranscriptProject("Free narration.", core.VoiceUmbriel)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.get(t, free.ID).Status == project.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, project.StatusGeneratingAudio, h.get(t, blocked.ID).Status)

	close(slow)
	h.orchestrator.Wait()

	assert.Equal(t, project.StatusCompleted, h.get(t, blocked.ID).Status)

	ids := []string{}
	for _, p := range h.orchestrator.Projects() {
		ids = append(ids, p.ID)
	}

	assert.Equal(t, []string{free.ID, blocked.ID}, ids)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := pipeline.New(pipeline.Options{})
	require.ErrorIs(t, err, core.ErrValidation)
}
