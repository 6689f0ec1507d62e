// Package worker exposes the voiceover pipeline over NATS request/reply and publishes
// project changes as events.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voiceover-service/internal/core"
	"github.com/book-expert/voiceover-service/internal/project"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Command operations, addressed as <command subject>.<op>.
const (
	OpCreateTopic      = "create_topic"
	OpCreateTranscript = "create_transcript"
	OpUpdateScript     = "update_script"
	OpRegenerateAudio  = "regenerate_audio"
	OpDelete           = "delete"
	OpSetActive        = "set_active"
	OpGet              = "get"
	OpList             = "list"
	OpSetCredential    = "set_credential"
	OpVoices           = "voices"
)

// Error kinds carried in Response.ErrorKind.
const (
	ErrorKindValidation = "validation"
	ErrorKindNotFound   = "not_found"
	ErrorKindInternal   = "internal"
)

// ActiveSubjectToken is the event subject suffix for selection changes.
const ActiveSubjectToken = "active"

// ErrUnknownOperation indicates a command subject with no handler.
var ErrUnknownOperation = errors.New("unknown operation")

// Pipeline is the host-boundary surface of the orchestrator.
type Pipeline interface {
	CreateTopicProject(topic string, voice core.Voice) (project.Project, error)
	CreateTranscriptProject(transcript string, voice core.Voice) (project.Project, error)
	UpdateScript(id, script string) (project.Project, error)
	RegenerateAudio(id, script string, voice core.Voice) (project.Project, error)
	DeleteProject(id string) error
	SetActive(id string) error
	Project(id string) (project.Project, error)
	Projects() []project.Project
	ActiveID() string
	Events() *project.EventBus
}

// CredentialSetter stores a user-entered API key.
type CredentialSetter interface {
	Set(key string) error
}

// Request is the JSON body of every command.
type Request struct {
	ID         string `json:"id,omitempty"`
	Topic      string `json:"topic,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Script     string `json:"script,omitempty"`
	Voice      string `json:"voice,omitempty"`
	APIKey     string `json:"apiKey,omitempty"`
}

// Response is the JSON reply to every command.
type Response struct {
	OK        bool              `json:"ok"`
	Error     string            `json:"error,omitempty"`
	ErrorKind string            `json:"errorKind,omitempty"`
	Project   *project.Project  `json:"project,omitempty"`
	Projects  []project.Project `json:"projects,omitempty"`
	ActiveID  string            `json:"activeId,omitempty"`
	Voices    []core.Voice      `json:"voices,omitempty"`
}

// ProjectChangedEvent is published for every store change.
type ProjectChangedEvent struct {
	Header events.EventHeader `json:"header"`
	Change project.Change     `json:"change"`
}

// NatsWorker listens for commands on a NATS subject tree and forwards store changes.
type NatsWorker struct {
	natsConnection *nats.Conn
	commandSubject string
	eventSubject   string
	pipeline       Pipeline
	credentials    CredentialSetter
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	commandSubject string,
	eventSubject string,
	pipeline Pipeline,
	credentials CredentialSetter,
	log *logger.Logger,
) (*NatsWorker, error) {
	if natsConnection == nil || pipeline == nil || log == nil {
		return nil, fmt.Errorf("%w: nats connection, pipeline and logger are required", core.ErrValidation)
	}

	if commandSubject == "" || eventSubject == "" {
		return nil, fmt.Errorf("%w: command and event subjects are required", core.ErrValidation)
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		commandSubject: commandSubject,
		eventSubject:   eventSubject,
		pipeline:       pipeline,
		credentials:    credentials,
		log:            log,
	}, nil
}

// Run starts the worker and serves commands until ctx is done.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.commandSubject+".*", w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s.*: %w", w.commandSubject, err)
	}

	forwardDone := make(chan struct{})

	go func() {
		defer close(forwardDone)

		w.forwardChanges(ctx)
	}()

	w.log.Info("Serving commands on %s.* and publishing changes on %s.*", w.commandSubject, w.eventSubject)

	<-ctx.Done()
	<-forwardDone

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	op := msg.Subject[strings.LastIndex(msg.Subject, ".")+1:]

	var response Response

	request, err := parseRequest(msg)
	if err != nil {
		w.log.Error("Failed to parse %s request: %v", op, err)
		response = errorResponse(fmt.Errorf("%w: %w", core.ErrValidation, err))
	} else {
		response = w.dispatch(op, request)
	}

	err = w.respond(msg, response)
	if err != nil {
		w.log.Error("Failed to reply to %s request: %v", op, err)
	}
}

func (w *NatsWorker) dispatch(op string, request Request) Response {
	switch op {
	case OpCreateTopic:
		return w.withVoice(request, func(voice core.Voice) (project.Project, error) {
			return w.pipeline.CreateTopicProject(request.Topic, voice)
		})
	case OpCreateTranscript:
		return w.withVoice(request, func(voice core.Voice) (project.Project, error) {
			return w.pipeline.CreateTranscriptProject(request.Transcript, voice)
		})
	case OpRegenerateAudio:
		return w.withVoice(request, func(voice core.Voice) (project.Project, error) {
			return w.pipeline.RegenerateAudio(request.ID, request.Script, voice)
		})
	case OpUpdateScript:
		return projectResponse(w.pipeline.UpdateScript(request.ID, request.Script))
	case OpGet:
		return projectResponse(w.pipeline.Project(request.ID))
	case OpDelete:
		return statusResponse(w.pipeline.DeleteProject(request.ID), w.pipeline.ActiveID())
	case OpSetActive:
		return statusResponse(w.pipeline.SetActive(request.ID), w.pipeline.ActiveID())
	case OpList:
		return Response{OK: true, Projects: w.pipeline.Projects(), ActiveID: w.pipeline.ActiveID()}
	case OpVoices:
		return Response{OK: true, Voices: core.Voices()}
	case OpSetCredential:
		return w.setCredential(request.APIKey)
	default:
		return errorResponse(fmt.Errorf("%w: '%s'", ErrUnknownOperation, op))
	}
}

func (w *NatsWorker) withVoice(request Request, run func(core.Voice) (project.Project, error)) Response {
	voice, err := core.ParseVoice(request.Voice)
	if err != nil {
		return errorResponse(err)
	}

	return projectResponse(run(voice))
}

func (w *NatsWorker) setCredential(key string) Response {
	if w.credentials == nil {
		return errorResponse(errors.New("credential updates are not supported"))
	}

	if strings.TrimSpace(key) == "" {
		return errorResponse(fmt.Errorf("%w: apiKey must not be empty", core.ErrValidation))
	}

	err := w.credentials.Set(key)
	if err != nil {
		w.log.Error("Failed to store credential: %v", err)

		return errorResponse(err)
	}

	w.log.Info("API key updated")

	return Response{OK: true}
}

// forwardChanges publishes every store change as a ProjectChangedEvent.
func (w *NatsWorker) forwardChanges(ctx context.Context) {
	bus := w.pipeline.Events()
	wake, unsubscribe := bus.Subscribe()

	defer unsubscribe()

	lastSeq := bus.LastSeq()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}

		for _, change := range bus.Since(lastSeq) {
			lastSeq = change.Seq

			err := w.publishChange(change)
			if err != nil {
				w.log.Warn("Failed to publish change %d for project %s: %v", change.Seq, change.ProjectID, err)
			}
		}
	}
}

func (w *NatsWorker) publishChange(change project.Change) error {
	event := ProjectChangedEvent{
		Header: events.EventHeader{
			Timestamp:  change.Timestamp,
			WorkflowID: change.ProjectID,
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		Change: change,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	err = w.natsConnection.Publish(EventSubject(w.eventSubject, change), data)
	if err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}

	return nil
}

// EventSubject returns the subject a change is published on.
func EventSubject(prefix string, change project.Change) string {
	if change.Type == project.ChangeActive {
		return prefix + "." + ActiveSubjectToken
	}

	return prefix + "." + change.ProjectID
}

// respond marshals and responds with the Response.
func (w *NatsWorker) respond(msg *nats.Msg, response Response) error {
	replyData, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish response: %w", err)
	}

	return nil
}

func parseRequest(msg *nats.Msg) (Request, error) {
	var request Request

	if len(msg.Data) == 0 {
		return request, nil
	}

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		return Request{}, fmt.Errorf("failed to unmarshal request: %w", err)
	}

	return request, nil
}

func projectResponse(p project.Project, err error) Response {
	if err != nil {
		return errorResponse(err)
	}

	return Response{OK: true, Project: &p}
}

func statusResponse(err error, activeID string) Response {
	if err != nil {
		return errorResponse(err)
	}

	return Response{OK: true, ActiveID: activeID}
}

func errorResponse(err error) Response {
	kind := ErrorKindInternal

	switch {
	case errors.Is(err, core.ErrValidation), errors.Is(err, ErrUnknownOperation):
		kind = ErrorKindValidation
	case errors.Is(err, core.ErrProjectNotFound):
		kind = ErrorKindNotFound
	}

	return Response{OK: false, Error: err.Error(), ErrorKind: kind}
}
