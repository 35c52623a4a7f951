package workers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// PDFWorker converts a PDF file into markdown with extracted image assets.
// Text extraction goes through pdfcpu's content extraction; pages without
// recoverable text come out empty rather than failing the job.
type PDFWorker struct {
	logger arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.Handler = (*PDFWorker)(nil)

// NewPDFWorker creates the pdf job handler
func NewPDFWorker(logger arbor.ILogger) *PDFWorker {
	return &PDFWorker{logger: logger}
}

func (w *PDFWorker) JobType() string {
	return "pdf"
}

func (w *PDFWorker) Validate(job *models.Job) error {
	if job.GetParamString("filename", "") == "" {
		return validationError("parameter 'filename' is required for pdf jobs")
	}
	return nil
}

func (w *PDFWorker) Execute(ctx context.Context, jc *interfaces.JobContext) error {
	filename := jc.Job.GetParamString("filename", "")
	return w.processPDF(ctx, jc, filename)
}

// processPDF runs the full PDF pipeline against pdfPath. Shared with the
// office_via_pdf handler, which converts its input to PDF first.
func (w *PDFWorker) processPDF(ctx context.Context, jc *interfaces.JobContext, pdfPath string) error {
	if _, err := os.Stat(pdfPath); err != nil {
		return fmt.Errorf("input file not readable: %w", err)
	}

	reportProgress(ctx, jc, "initializing", 5, "Preparing PDF extraction")

	pdfCtx, err := api.ReadContextFile(pdfPath)
	if err != nil {
		return fmt.Errorf("failed to read PDF: %w", err)
	}
	pageCount := pdfCtx.PageCount
	logInfo(ctx, jc, fmt.Sprintf("PDF opened: %d pages", pageCount))

	if err := checkCancelled(ctx); err != nil {
		return err
	}

	reportProgress(ctx, jc, "extracting_text", 25, "Extracting text content")
	pageTexts, err := extractPageTexts(pdfPath, pageCount)
	if err != nil {
		// Text extraction is best effort; images and structure still have value
		logWarning(ctx, jc, fmt.Sprintf("Text extraction failed: %v", err))
		pageTexts = map[int]string{}
	}

	if err := checkCancelled(ctx); err != nil {
		return err
	}

	reportProgress(ctx, jc, "extracting_images", 60, "Extracting image assets")
	assetDir := filepath.Join(jc.ArtifactDir, "assets")
	if err := os.MkdirAll(assetDir, 0755); err != nil {
		return fmt.Errorf("failed to create asset directory: %w", err)
	}
	conf := model.NewDefaultConfiguration()
	if err := api.ExtractImagesFile(pdfPath, assetDir, nil, conf); err != nil {
		logWarning(ctx, jc, fmt.Sprintf("Image extraction failed: %v", err))
	}
	assets, err := listFiles(assetDir)
	if err != nil {
		return err
	}

	if err := checkCancelled(ctx); err != nil {
		return err
	}

	reportProgress(ctx, jc, "writing_output", 80, "Writing markdown and archive")
	markdown := composePDFMarkdown(filepath.Base(pdfPath), pageCount, pageTexts)
	markdownFile := filepath.Join(jc.ArtifactDir, "document.md")
	if err := os.WriteFile(markdownFile, []byte(markdown), 0644); err != nil {
		return fmt.Errorf("failed to write markdown: %w", err)
	}

	archiveFiles := append([]string{markdownFile}, assets...)
	archiveName, err := buildArchive(jc.ArtifactDir, jc.Job.ID+".zip", archiveFiles)
	if err != nil {
		return err
	}

	assetNames := make([]string, len(assets))
	for i, a := range assets {
		assetNames[i] = filepath.Base(a)
	}

	jc.Job.Results = &models.JobResults{
		MarkdownFile:    markdownFile,
		MarkdownContent: markdown,
		Assets:          assetNames,
		TargetDir:       jc.ArtifactDir,
		AssetDir:        assetDir,
		ArchiveFilename: archiveName,
		StructuredData: map[string]interface{}{
			"data": map[string]interface{}{
				"page_count":        pageCount,
				"asset_count":       len(assetNames),
				"extraction_method": jc.Job.GetParamString("extraction_method", "native"),
			},
		},
	}

	logInfo(ctx, jc, fmt.Sprintf("PDF processed: %d pages, %d assets", pageCount, len(assetNames)))
	return nil
}

// extractPageTexts pulls per-page content through pdfcpu into a temp
// directory and maps it back to page numbers
func extractPageTexts(pdfPath string, pageCount int) (map[int]string, error) {
	outDir, err := os.MkdirTemp("", "fabrica-pdf-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(pdfPath, outDir, nil, conf); err != nil {
		return nil, fmt.Errorf("failed to extract PDF content: %w", err)
	}

	pageTexts := make(map[int]string, pageCount)
	entries, _ := os.ReadDir(outDir)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		if err != nil {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(entry.Name(), "Content_page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(content)
		} else if _, err := fmt.Sscanf(entry.Name(), "page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(content)
		}
	}
	return pageTexts, nil
}

func composePDFMarkdown(sourceName string, pageCount int, pageTexts map[int]string) string {
	var b strings.Builder
	b.WriteString("# " + sourceName + "\n\n")
	b.WriteString(fmt.Sprintf("Pages: %d\n", pageCount))

	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		b.WriteString(fmt.Sprintf("\n## Page %d\n\n", pageNum))
		text := strings.TrimSpace(pageTexts[pageNum])
		if text == "" {
			b.WriteString("_No extractable text_\n")
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}
