package workers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// templatePlaceholder marks where the source text lands in a template
const templatePlaceholder = "{{text}}"

// TemplateWorker applies a text template to input text. The input comes
// from either an inline text parameter or a URL; the template from either
// a template file path or inline template_content. Each pair is mutually
// exclusive and exactly one side must be given.
type TemplateWorker struct {
	client *http.Client
	logger arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.Handler = (*TemplateWorker)(nil)

// NewTemplateWorker creates the transformer_template job handler
func NewTemplateWorker(logger arbor.ILogger) *TemplateWorker {
	return &TemplateWorker{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (w *TemplateWorker) JobType() string {
	return "transformer_template"
}

func (w *TemplateWorker) Validate(job *models.Job) error {
	text := job.GetParamString("text", "")
	url := job.GetParamString("url", "")
	if text == "" && url == "" {
		return validationError("one of 'text' or 'url' is required for transformer_template jobs")
	}
	if text != "" && url != "" {
		return validationError("'text' and 'url' are mutually exclusive")
	}

	template := job.GetParamString("template", "")
	templateContent := job.GetParamString("template_content", "")
	if template == "" && templateContent == "" {
		return validationError("one of 'template' or 'template_content' is required for transformer_template jobs")
	}
	if template != "" && templateContent != "" {
		return validationError("'template' and 'template_content' are mutually exclusive")
	}
	return nil
}

func (w *TemplateWorker) Execute(ctx context.Context, jc *interfaces.JobContext) error {
	reportProgress(ctx, jc, "loading_input", 10, "Loading input text")
	text, err := w.loadText(ctx, jc)
	if err != nil {
		return err
	}

	if err := checkCancelled(ctx); err != nil {
		return err
	}

	reportProgress(ctx, jc, "transforming", 50, "Applying template")
	template, templateName, err := w.loadTemplate(jc.Job)
	if err != nil {
		return err
	}

	transformed := applyTemplate(template, text)
	logInfo(ctx, jc, fmt.Sprintf("Template %q applied: %d characters in, %d out", templateName, len(text), len(transformed)))

	reportProgress(ctx, jc, "writing_output", 80, "Writing transformed text")
	markdownFile := filepath.Join(jc.ArtifactDir, "transformed.md")
	if err := os.WriteFile(markdownFile, []byte(transformed), 0644); err != nil {
		return fmt.Errorf("failed to write transformed text: %w", err)
	}

	jc.Job.Results = &models.JobResults{
		MarkdownFile:    markdownFile,
		MarkdownContent: transformed,
		Assets:          []string{},
		TargetDir:       jc.ArtifactDir,
		StructuredData: map[string]interface{}{
			"data": map[string]interface{}{
				"transformed_text": transformed,
				"template":         templateName,
			},
		},
	}
	return nil
}

// loadText resolves the input side: inline text, or a URL fetched and
// converted to markdown
func (w *TemplateWorker) loadText(ctx context.Context, jc *interfaces.JobContext) (string, error) {
	if text := jc.Job.GetParamString("text", ""); text != "" {
		return text, nil
	}

	pageURL := jc.Job.GetParamString("url", "")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("User-Agent", sessionUserAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("failed to fetch %s: unexpected status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", pageURL, err)
	}

	_, markdown, err := convertPage(string(body), pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to convert %s: %w", pageURL, err)
	}
	return markdown, nil
}

// loadTemplate resolves the template side and returns the template body
// with a display name
func (w *TemplateWorker) loadTemplate(job *models.Job) (string, string, error) {
	if content := job.GetParamString("template_content", ""); content != "" {
		return content, "inline", nil
	}

	templatePath := job.GetParamString("template", "")
	data, err := os.ReadFile(templatePath)
	if err != nil {
		return "", "", fmt.Errorf("failed to read template %s: %w", templatePath, err)
	}
	return string(data), filepath.Base(templatePath), nil
}

// applyTemplate substitutes the placeholder, or appends the text when the
// template has no placeholder at all
func applyTemplate(template, text string) string {
	if strings.Contains(template, templatePlaceholder) {
		return strings.ReplaceAll(template, templatePlaceholder, text)
	}
	return strings.TrimRight(template, "\n") + "\n\n" + text
}
