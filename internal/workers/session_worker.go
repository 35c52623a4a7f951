package workers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

const sessionUserAgent = "fabrica-session/1.0"

// SessionWorker captures a web page as markdown. The page body is fetched
// once, stripped of script and style noise with goquery, and converted
// with html-to-markdown. Attachment downloads are best effort: a dead
// attachment URL degrades the result, it does not fail the job.
type SessionWorker struct {
	client *http.Client
	logger arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.Handler = (*SessionWorker)(nil)

// NewSessionWorker creates the session job handler
func NewSessionWorker(logger arbor.ILogger) *SessionWorker {
	return &SessionWorker{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (w *SessionWorker) JobType() string {
	return "session"
}

func (w *SessionWorker) Validate(job *models.Job) error {
	rawURL := job.GetParamString("url", "")
	if rawURL == "" {
		return validationError("parameter 'url' is required for session jobs")
	}
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return validationError(fmt.Sprintf("parameter 'url' is not a valid URL: %v", err))
	}
	return nil
}

func (w *SessionWorker) Execute(ctx context.Context, jc *interfaces.JobContext) error {
	pageURL := jc.Job.GetParamString("url", "")

	reportProgress(ctx, jc, "fetching", 10, "Fetching page")
	html, err := w.fetch(ctx, pageURL)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}

	if err := checkCancelled(ctx); err != nil {
		return err
	}

	reportProgress(ctx, jc, "converting", 40, "Converting page to markdown")
	title, markdown, err := convertPage(html, pageURL)
	if err != nil {
		return fmt.Errorf("failed to convert page: %w", err)
	}
	if t := jc.Job.GetParamString("title", ""); t != "" {
		title = t
	}
	logInfo(ctx, jc, fmt.Sprintf("Page converted: %q, %d characters", title, len(markdown)))

	assetDir := filepath.Join(jc.ArtifactDir, "assets")
	assets := w.downloadAttachments(ctx, jc, assetDir)

	if err := checkCancelled(ctx); err != nil {
		return err
	}

	reportProgress(ctx, jc, "writing_output", 80, "Writing session document")
	document := "# " + title + "\n\nSource: " + pageURL + "\n\n" + markdown + "\n"
	markdownFile := filepath.Join(jc.ArtifactDir, "session.md")
	if err := os.WriteFile(markdownFile, []byte(document), 0644); err != nil {
		return fmt.Errorf("failed to write markdown: %w", err)
	}

	archiveFiles := []string{markdownFile}
	for _, a := range assets {
		archiveFiles = append(archiveFiles, filepath.Join(assetDir, a))
	}
	archiveName, err := buildArchive(jc.ArtifactDir, jc.Job.ID+".zip", archiveFiles)
	if err != nil {
		return err
	}

	structured := map[string]interface{}{
		"data": map[string]interface{}{
			"title": title,
			"url":   pageURL,
		},
	}
	if meta, ok := jc.Job.Parameters["metadata"].(map[string]interface{}); ok {
		structured["data"].(map[string]interface{})["metadata"] = meta
	}

	jc.Job.Results = &models.JobResults{
		MarkdownFile:    markdownFile,
		MarkdownContent: document,
		Assets:          assets,
		TargetDir:       jc.ArtifactDir,
		AssetDir:        assetDir,
		ArchiveFilename: archiveName,
		StructuredData:  structured,
	}
	return nil
}

func (w *SessionWorker) fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", sessionUserAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// convertPage extracts the title and converts the cleaned body to markdown
func convertPage(html, baseURL string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", err
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = baseURL
	}

	doc.Find("script, style, noscript, iframe").Remove()
	body, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(body) == "" {
		body = html
	}

	converter := md.NewConverter(baseURL, true, nil)
	markdown, err := converter.ConvertString(body)
	if err != nil {
		return title, "", err
	}
	return title, strings.TrimSpace(markdown), nil
}

// downloadAttachments fetches parameters.attachments into the asset
// directory. Failures are logged on the job and skipped.
func (w *SessionWorker) downloadAttachments(ctx context.Context, jc *interfaces.JobContext, assetDir string) []string {
	raw, ok := jc.Job.Parameters["attachments"].([]interface{})
	if !ok || len(raw) == 0 {
		return []string{}
	}

	if err := os.MkdirAll(assetDir, 0755); err != nil {
		logWarning(ctx, jc, fmt.Sprintf("Failed to create asset directory: %v", err))
		return []string{}
	}

	reportProgress(ctx, jc, "downloading_attachments", 60, fmt.Sprintf("Downloading %d attachments", len(raw)))

	saved := []string{}
	for i, item := range raw {
		attURL, ok := item.(string)
		if !ok || attURL == "" {
			continue
		}
		if err := checkCancelled(ctx); err != nil {
			return saved
		}

		name := attachmentName(attURL, i)
		if err := w.downloadFile(ctx, attURL, filepath.Join(assetDir, name)); err != nil {
			logWarning(ctx, jc, fmt.Sprintf("Attachment %s failed: %v", attURL, err))
			continue
		}
		saved = append(saved, name)
	}
	return saved
}

func (w *SessionWorker) downloadFile(ctx context.Context, fileURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", sessionUserAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, io.LimitReader(resp.Body, 50*1024*1024))
	return err
}

func attachmentName(attURL string, index int) string {
	if u, err := url.Parse(attURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			return base
		}
	}
	return fmt.Sprintf("attachment_%d", index+1)
}
