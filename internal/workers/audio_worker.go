package workers

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// Transcriber turns an audio file into text. Implementations wrap whatever
// speech-to-text engine is deployed next to the service.
type Transcriber interface {
	Transcribe(ctx context.Context, filename, sourceLang, targetLang string) (string, error)
}

// CommandTranscriber shells out to an external transcription binary that
// prints the transcript on stdout.
type CommandTranscriber struct {
	Command string
}

func (t *CommandTranscriber) Transcribe(ctx context.Context, filename, sourceLang, targetLang string) (string, error) {
	if t.Command == "" {
		return "", fmt.Errorf("no transcriber command configured")
	}

	args := []string{filename}
	if sourceLang != "" {
		args = append(args, "--language", sourceLang)
	}
	cmd := exec.CommandContext(ctx, t.Command, args...)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("transcription command failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// AudioWorker transcribes audio files through a Transcriber collaborator
// and surfaces the text at structured_data.data.transcription.text.
type AudioWorker struct {
	transcriber Transcriber
	logger      arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.Handler = (*AudioWorker)(nil)

// NewAudioWorker creates the audio job handler
func NewAudioWorker(transcriber Transcriber, logger arbor.ILogger) *AudioWorker {
	return &AudioWorker{
		transcriber: transcriber,
		logger:      logger,
	}
}

func (w *AudioWorker) JobType() string {
	return "audio"
}

func (w *AudioWorker) Validate(job *models.Job) error {
	if job.GetParamString("filename", "") == "" {
		return validationError("parameter 'filename' is required for audio jobs")
	}
	return nil
}

func (w *AudioWorker) Execute(ctx context.Context, jc *interfaces.JobContext) error {
	filename := jc.Job.GetParamString("filename", "")
	if _, err := os.Stat(filename); err != nil {
		return fmt.Errorf("input file not readable: %w", err)
	}

	sourceLang := jc.Job.GetParamString("source_language", "")
	targetLang := jc.Job.GetParamString("target_language", "")

	reportProgress(ctx, jc, "transcribing", 20, "Transcribing audio")
	text, err := w.transcriber.Transcribe(ctx, filename, sourceLang, targetLang)
	if err != nil {
		return fmt.Errorf("transcription failed: %w", err)
	}
	logInfo(ctx, jc, fmt.Sprintf("Transcription finished: %d characters", len(text)))

	if err := checkCancelled(ctx); err != nil {
		return err
	}

	reportProgress(ctx, jc, "writing_output", 80, "Writing transcript")
	transcriptFile := filepath.Join(jc.ArtifactDir, "transcript.txt")
	if err := os.WriteFile(transcriptFile, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}

	markdown := "# Transcript: " + filepath.Base(filename) + "\n\n" + text + "\n"
	markdownFile := filepath.Join(jc.ArtifactDir, "document.md")
	if err := os.WriteFile(markdownFile, []byte(markdown), 0644); err != nil {
		return fmt.Errorf("failed to write markdown: %w", err)
	}

	jc.Job.Results = &models.JobResults{
		MarkdownFile:    markdownFile,
		MarkdownContent: markdown,
		Assets:          []string{filepath.Base(transcriptFile)},
		TargetDir:       jc.ArtifactDir,
		StructuredData: map[string]interface{}{
			"data": map[string]interface{}{
				"transcription": map[string]interface{}{
					"text":            text,
					"source_language": sourceLang,
					"target_language": targetLang,
				},
			},
		},
	}
	return nil
}
