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

// OfficeWorker converts office documents (docx, odt, xlsx, pptx) to
// markdown through an external LibreOffice invocation. The direct mode
// converts to plain text; the via-pdf mode converts to PDF first and then
// reuses the full PDF pipeline, which also recovers embedded images.
type OfficeWorker struct {
	jobType     string
	sofficePath string
	pdf         *PDFWorker
	logger      arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.Handler = (*OfficeWorker)(nil)

// NewOfficeWorker creates the direct office-to-markdown handler
func NewOfficeWorker(sofficePath string, logger arbor.ILogger) *OfficeWorker {
	return &OfficeWorker{
		jobType:     "office",
		sofficePath: sofficePath,
		logger:      logger,
	}
}

// NewOfficeViaPDFWorker creates the office handler that routes through the
// PDF pipeline
func NewOfficeViaPDFWorker(sofficePath string, pdf *PDFWorker, logger arbor.ILogger) *OfficeWorker {
	return &OfficeWorker{
		jobType:     "office_via_pdf",
		sofficePath: sofficePath,
		pdf:         pdf,
		logger:      logger,
	}
}

func (w *OfficeWorker) JobType() string {
	return w.jobType
}

func (w *OfficeWorker) Validate(job *models.Job) error {
	if job.GetParamString("filename", "") == "" {
		return validationError(fmt.Sprintf("parameter 'filename' is required for %s jobs", w.jobType))
	}
	return nil
}

func (w *OfficeWorker) Execute(ctx context.Context, jc *interfaces.JobContext) error {
	filename := jc.Job.GetParamString("filename", "")
	if _, err := os.Stat(filename); err != nil {
		return fmt.Errorf("input file not readable: %w", err)
	}

	if w.jobType == "office_via_pdf" {
		return w.executeViaPDF(ctx, jc, filename)
	}
	return w.executeDirect(ctx, jc, filename)
}

// executeViaPDF converts the document to PDF and hands off to the PDF
// pipeline, which reports its own progress from there.
func (w *OfficeWorker) executeViaPDF(ctx context.Context, jc *interfaces.JobContext, filename string) error {
	reportProgress(ctx, jc, "converting", 10, "Converting document to PDF")

	pdfPath, err := w.convert(ctx, filename, jc.ArtifactDir, "pdf")
	if err != nil {
		return err
	}
	logInfo(ctx, jc, fmt.Sprintf("Converted %s to PDF", filepath.Base(filename)))

	return w.pdf.processPDF(ctx, jc, pdfPath)
}

func (w *OfficeWorker) executeDirect(ctx context.Context, jc *interfaces.JobContext, filename string) error {
	reportProgress(ctx, jc, "converting", 20, "Converting document to text")

	txtPath, err := w.convert(ctx, filename, jc.ArtifactDir, "txt:Text")
	if err != nil {
		return err
	}

	if err := checkCancelled(ctx); err != nil {
		return err
	}

	reportProgress(ctx, jc, "writing_output", 70, "Writing markdown and archive")
	text, err := os.ReadFile(txtPath)
	if err != nil {
		return fmt.Errorf("failed to read converted text: %w", err)
	}

	markdown := "# " + filepath.Base(filename) + "\n\n" + strings.TrimSpace(string(text)) + "\n"
	markdownFile := filepath.Join(jc.ArtifactDir, "document.md")
	if err := os.WriteFile(markdownFile, []byte(markdown), 0644); err != nil {
		return fmt.Errorf("failed to write markdown: %w", err)
	}

	archiveName, err := buildArchive(jc.ArtifactDir, jc.Job.ID+".zip", []string{markdownFile})
	if err != nil {
		return err
	}

	jc.Job.Results = &models.JobResults{
		MarkdownFile:    markdownFile,
		MarkdownContent: markdown,
		Assets:          []string{},
		TargetDir:       jc.ArtifactDir,
		ArchiveFilename: archiveName,
		StructuredData: map[string]interface{}{
			"data": map[string]interface{}{
				"source_file": filepath.Base(filename),
				"converter":   "soffice",
			},
		},
	}

	logInfo(ctx, jc, fmt.Sprintf("Office document converted: %s", filepath.Base(filename)))
	return nil
}

// convert invokes soffice headless and returns the path of the converted
// file inside outDir
func (w *OfficeWorker) convert(ctx context.Context, filename, outDir, format string) (string, error) {
	soffice := w.sofficePath
	if soffice == "" {
		soffice = "soffice"
	}

	cmd := exec.CommandContext(ctx, soffice, "--headless", "--convert-to", format, "--outdir", outDir, filename)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("soffice conversion failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	ext := format
	if idx := strings.Index(format, ":"); idx > 0 {
		ext = format[:idx]
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	converted := filepath.Join(outDir, base+"."+ext)
	if _, err := os.Stat(converted); err != nil {
		return "", fmt.Errorf("soffice reported success but %s is missing: %w", converted, err)
	}
	return converted, nil
}
