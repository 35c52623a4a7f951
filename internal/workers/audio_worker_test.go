package workers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/models"
)

// fakeTranscriber returns canned text and records what it was asked for
type fakeTranscriber struct {
	text       string
	err        error
	filename   string
	sourceLang string
	targetLang string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, filename, sourceLang, targetLang string) (string, error) {
	f.filename = filename
	f.sourceLang = sourceLang
	f.targetLang = targetLang
	return f.text, f.err
}

func TestAudioWorkerValidate(t *testing.T) {
	w := NewAudioWorker(&fakeTranscriber{}, arbor.NewLogger())

	err := w.Validate(models.NewJob("audio", nil))
	require.Error(t, err)
	jobErr, ok := err.(*models.JobError)
	require.True(t, ok)
	assert.Equal(t, "ValidationError", jobErr.Code)

	err = w.Validate(models.NewJob("audio", map[string]interface{}{"filename": "talk.mp3"}))
	assert.NoError(t, err)
}

func TestAudioWorkerTranscribes(t *testing.T) {
	input := filepath.Join(t.TempDir(), "talk.mp3")
	require.NoError(t, os.WriteFile(input, []byte("fake audio"), 0644))

	transcriber := &fakeTranscriber{text: "hello from the recording"}
	w := NewAudioWorker(transcriber, arbor.NewLogger())

	job := models.NewJob("audio", map[string]interface{}{
		"filename":        input,
		"source_language": "de",
		"target_language": "en",
	})
	jc := newJobContext(t, job)

	require.NoError(t, w.Execute(context.Background(), jc))

	assert.Equal(t, input, transcriber.filename)
	assert.Equal(t, "de", transcriber.sourceLang)
	assert.Equal(t, "en", transcriber.targetLang)

	transcript, err := os.ReadFile(filepath.Join(jc.ArtifactDir, "transcript.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello from the recording", string(transcript))

	markdown, err := os.ReadFile(filepath.Join(jc.ArtifactDir, "document.md"))
	require.NoError(t, err)
	assert.Contains(t, string(markdown), "# Transcript: talk.mp3")
	assert.Contains(t, string(markdown), "hello from the recording")

	results := jc.Job.Results
	require.NotNil(t, results)
	assert.Equal(t, []string{"transcript.txt"}, results.Assets)

	inner := results.StructuredData["data"].(map[string]interface{})
	transcription := inner["transcription"].(map[string]interface{})
	assert.Equal(t, "hello from the recording", transcription["text"])
	assert.Equal(t, "de", transcription["source_language"])
	assert.Equal(t, "en", transcription["target_language"])
}

func TestAudioWorkerTranscriberError(t *testing.T) {
	input := filepath.Join(t.TempDir(), "talk.mp3")
	require.NoError(t, os.WriteFile(input, []byte("fake audio"), 0644))

	w := NewAudioWorker(&fakeTranscriber{err: errors.New("engine offline")}, arbor.NewLogger())
	job := models.NewJob("audio", map[string]interface{}{"filename": input})
	jc := newJobContext(t, job)

	err := w.Execute(context.Background(), jc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine offline")
}

func TestAudioWorkerMissingInputFile(t *testing.T) {
	w := NewAudioWorker(&fakeTranscriber{text: "unused"}, arbor.NewLogger())
	job := models.NewJob("audio", map[string]interface{}{
		"filename": filepath.Join(t.TempDir(), "missing.mp3"),
	})
	jc := newJobContext(t, job)

	assert.Error(t, w.Execute(context.Background(), jc))
}

func TestCommandTranscriberRequiresCommand(t *testing.T) {
	tr := &CommandTranscriber{}
	_, err := tr.Transcribe(context.Background(), "x.mp3", "", "")
	assert.Error(t, err)
}
