package workers

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// buildArchive zips the named files into targetDir/<archiveName> and
// returns the archive filename. Paths inside the zip are relative to
// targetDir so an extracted archive mirrors the artifact layout.
func buildArchive(targetDir, archiveName string, files []string) (string, error) {
	archivePath := filepath.Join(targetDir, archiveName)

	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	for _, file := range files {
		if err := addToArchive(zw, targetDir, file); err != nil {
			return "", err
		}
	}

	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize archive: %w", err)
	}
	return archiveName, nil
}

func addToArchive(zw *zip.Writer, targetDir, file string) error {
	rel, err := filepath.Rel(targetDir, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(file)
	}

	in, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open %s for archiving: %w", file, err)
	}
	defer in.Close()

	w, err := zw.Create(filepath.ToSlash(rel))
	if err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", rel, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("failed to write %s to archive: %w", rel, err)
	}
	return nil
}

// listFiles returns the regular files directly under dir, sorted by name.
// A missing directory yields an empty list.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}
