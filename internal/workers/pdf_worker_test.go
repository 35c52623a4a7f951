package workers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/models"
)

func TestPDFWorkerValidate(t *testing.T) {
	w := NewPDFWorker(arbor.NewLogger())

	err := w.Validate(models.NewJob("pdf", nil))
	require.Error(t, err)
	jobErr, ok := err.(*models.JobError)
	require.True(t, ok)
	assert.Equal(t, "ValidationError", jobErr.Code)

	assert.NoError(t, w.Validate(models.NewJob("pdf", map[string]interface{}{"filename": "doc.pdf"})))
}

func TestOfficeWorkerValidate(t *testing.T) {
	logger := arbor.NewLogger()
	direct := NewOfficeWorker("", logger)
	viaPDF := NewOfficeViaPDFWorker("", NewPDFWorker(logger), logger)

	assert.Equal(t, "office", direct.JobType())
	assert.Equal(t, "office_via_pdf", viaPDF.JobType())

	err := viaPDF.Validate(models.NewJob("office_via_pdf", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "office_via_pdf")

	assert.NoError(t, direct.Validate(models.NewJob("office", map[string]interface{}{"filename": "slides.pptx"})))
}

func TestComposePDFMarkdown(t *testing.T) {
	md := composePDFMarkdown("report.pdf", 3, map[int]string{
		1: "First page text",
		3: "Last page text",
	})

	assert.Contains(t, md, "# report.pdf")
	assert.Contains(t, md, "Pages: 3")
	assert.Contains(t, md, "## Page 1\n\nFirst page text")
	assert.Contains(t, md, "## Page 2\n\n_No extractable text_")
	assert.Contains(t, md, "## Page 3\n\nLast page text")
}
