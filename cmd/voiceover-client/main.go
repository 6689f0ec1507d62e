package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceover-service/internal/audio"
	"github.com/book-expert/voiceover-service/internal/config"
	"github.com/book-expert/voiceover-service/internal/core"
	"github.com/book-expert/voiceover-service/internal/objectstore"
	"github.com/book-expert/voiceover-service/internal/project"
	"github.com/book-expert/voiceover-service/internal/worker"
	"github.com/nats-io/nats.go"
)

// Flag descriptions.
const (
	flagTopicDesc      = "Topic to write a script for and voice"
	flagTranscriptDesc = "Transcript to voice as-is"
	flagVoiceDesc      = "Voice to speak with"
	flagOutputDesc     = "Output file path (.wav), defaults to voiceover-<unix-ms>.wav"
	flagNatsDesc       = "NATS server URL"
	flagCommandDesc    = "Command subject prefix"
	flagEventDesc      = "Event subject prefix"
	flagBucketDesc     = "Audio object store bucket"
	flagTimeoutDesc    = "How long to wait for the voiceover"
	flagVerboseDesc    = "Enable verbose logging"
)

// Flag names.
const (
	flagTopic      = "topic"
	flagTranscript = "transcript"
	flagVoice      = "voice"
	flagOutput     = "output"
	flagNats       = "nats"
	flagCommand    = "cmd-subject"
	flagEvent      = "event-subject"
	flagBucket     = "bucket"
	flagTimeout    = "timeout"
	flagVerbose    = "verbose"
)

// Error and log messages.
const (
	errEitherTopicOrTranscript = "either --topic or --transcript must be provided"
	errCannotSpecifyBoth       = "cannot specify both --topic and --transcript"
	errBucketRequired          = "--bucket is required to download the rendered audio"
	logSubmitted               = "Submitted project %s (%s)"
	logStatus                  = "Project %s is %s"
	logGenerated               = "Generated: %s (%s)\n"
)

const (
	logFileNameDefault = "voiceover-client.log"
	logFileNameVerbose = "voiceover-client-verbose.log"
	outputFilePrefix   = "voiceover-"
	outputFileExt      = ".wav"
	defaultWait        = 5 * time.Minute
	eventBufferSize    = 64
	requestTimeout     = 10 * time.Second
)

var (
	errFlagUsage       = errors.New("invalid flags")
	errGenerationError = errors.New("generation failed")
	errProjectDeleted  = errors.New("project was deleted")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	topic      string
	transcript string
	voice      string
	output     string
	natsURL    string
	command    string
	event      string
	bucket     string
	timeout    time.Duration
	verbose    bool
}

func main() {
	err := run(os.Args[1:])
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run(args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	logFileName := logFileNameDefault
	if flags.verbose {
		logFileName = logFileNameVerbose
	}

	clientLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer clientLog.Close()

	natsConnection, err := nats.Connect(flags.natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	// Subscribe before submitting so no change is missed.
	changes := make(chan *nats.Msg, eventBufferSize)

	sub, err := natsConnection.ChanSubscribe(flags.event+".*", changes)
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	created, err := submit(natsConnection, flags)
	if err != nil {
		return err
	}

	clientLog.Info(logSubmitted, created.ID, created.Name)

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	finished, err := waitForTerminal(ctx, changes, created.ID, func(p project.Project) {
		clientLog.Info(logStatus, p.ID, p.Status)
	})
	if err != nil {
		return err
	}

	return saveAudio(ctx, natsConnection, flags, finished, clientLog)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("voiceover-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.topic, flagTopic, "", flagTopicDesc)
	flagSet.StringVar(&flags.transcript, flagTranscript, "", flagTranscriptDesc)
	flagSet.StringVar(&flags.voice, flagVoice, string(core.VoiceKore), flagVoiceDesc)
	flagSet.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flagSet.StringVar(&flags.natsURL, flagNats, nats.DefaultURL, flagNatsDesc)
	flagSet.StringVar(&flags.command, flagCommand, config.DefaultCommandSubject, flagCommandDesc)
	flagSet.StringVar(&flags.event, flagEvent, config.DefaultEventSubject, flagEventDesc)
	flagSet.StringVar(&flags.bucket, flagBucket, "", flagBucketDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultWait, flagTimeoutDesc)
	flagSet.BoolVar(&flags.verbose, flagVerbose, false, flagVerboseDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("%w: %w", errFlagUsage, err)
	}

	err = flags.validate()
	if err != nil {
		return appFlags{}, err
	}

	return flags, nil
}

func (f appFlags) validate() error {
	if f.topic == "" && f.transcript == "" {
		return fmt.Errorf("%w: %s", errFlagUsage, errEitherTopicOrTranscript)
	}

	if f.topic != "" && f.transcript != "" {
		return fmt.Errorf("%w: %s", errFlagUsage, errCannotSpecifyBoth)
	}

	if f.bucket == "" {
		return fmt.Errorf("%w: %s", errFlagUsage, errBucketRequired)
	}

	_, err := core.ParseVoice(f.voice)
	if err != nil {
		return fmt.Errorf("%w: %w", errFlagUsage, err)
	}

	return nil
}

// submit sends the create command and returns the created project.
func submit(natsConnection *nats.Conn, flags appFlags) (project.Project, error) {
	op := worker.OpCreateTopic
	request := worker.Request{Topic: flags.topic, Voice: flags.voice}

	if flags.transcript != "" {
		op = worker.OpCreateTranscript
		request = worker.Request{Transcript: flags.transcript, Voice: flags.voice}
	}

	data, err := json.Marshal(request)
	if err != nil {
		return project.Project{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	msg, err := natsConnection.Request(flags.command+"."+op, data, requestTimeout)
	if err != nil {
		return project.Project{}, fmt.Errorf("failed to send %s request: %w", op, err)
	}

	var response worker.Response

	err = json.Unmarshal(msg.Data, &response)
	if err != nil {
		return project.Project{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !response.OK || response.Project == nil {
		return project.Project{}, fmt.Errorf("%s rejected: %s", op, response.Error)
	}

	return *response.Project, nil
}

// waitForTerminal reads change events until the project completes or fails.
func waitForTerminal(
	ctx context.Context,
	changes <-chan *nats.Msg,
	projectID string,
	onChange func(project.Project),
) (project.Project, error) {
	for {
		select {
		case <-ctx.Done():
			return project.Project{}, fmt.Errorf("waiting for project %s: %w", projectID, ctx.Err())
		case msg := <-changes:
			var event worker.ProjectChangedEvent

			err := json.Unmarshal(msg.Data, &event)
			if err != nil || event.Change.ProjectID != projectID {
				continue
			}

			if event.Change.Type == project.ChangeDeleted {
				return project.Project{}, fmt.Errorf("%w: %s", errProjectDeleted, projectID)
			}

			current := event.Change.Project
			if current == nil {
				continue
			}

			if onChange != nil {
				onChange(*current)
			}

			switch current.Status {
			case project.StatusCompleted:
				return *current, nil
			case project.StatusError:
				return *current, fmt.Errorf("%w: %s", errGenerationError, current.Error)
			default:
			}
		}
	}
}

// saveAudio downloads the rendered container and writes it to disk.
func saveAudio(
	ctx context.Context,
	natsConnection *nats.Conn,
	flags appFlags,
	finished project.Project,
	clientLog *logger.Logger,
) error {
	if finished.Audio == nil {
		return fmt.Errorf("project %s completed without audio", finished.ID)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, flags.bucket)
	if err != nil {
		return fmt.Errorf("failed to bind object store: %w", err)
	}

	data, err := store.Download(ctx, finished.Audio.Key)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", finished.Audio.Key, err)
	}

	format, samples, err := audio.ParseWAV(data)
	if err != nil {
		return fmt.Errorf("downloaded audio is not a valid container: %w", err)
	}

	outputPath := resolveOutputPath(flags.output, time.Now())

	err = os.MkdirAll(filepath.Dir(outputPath), 0o750)
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	err = os.WriteFile(outputPath, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	duration := format.Duration(len(samples))
	clientLog.Info("Wrote %s (%d bytes, %s)", outputPath, len(data), duration)
	fmt.Printf(logGenerated, outputPath, duration)

	return nil
}

// resolveOutputPath returns the explicit path or voiceover-<unix-ms>.wav.
func resolveOutputPath(explicit string, now time.Time) string {
	if explicit != "" {
		return explicit
	}

	return outputFilePrefix + strconv.FormatInt(now.UnixMilli(), 10) + outputFileExt
}
