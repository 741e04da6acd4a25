package utils

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func FormatSpeed(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	formatted := FormatBytes(uint64(bytesPerSec))
	return formatted[:len(formatted)-1] + "B/s" // Slice off "B" and add "B/s"
}

// InferFileName derives a destination file name from the URL path.
func InferFileName(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return "download"
	}
	parts := strings.Split(parsed.Path, "/")
	name := parts[len(parts)-1]
	if name == "" {
		return "download"
	}
	return name
}

// RenewOutputPath returns a non-existing variant of outputPath, e.g. name-(1).ext.
func RenewOutputPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	index := 1
	for {
		outputPath = filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, index, ext))
		if _, err := os.Stat(outputPath); os.IsNotExist(err) {
			return outputPath
		}
		index++
	}
}

func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// CleanTempStores removes leftover fragment part files from tempDir. When
// baseName is empty every part file goes; otherwise only those belonging to
// that download.
func CleanTempStores(tempDir, baseName string) error {
	files, err := os.ReadDir(tempDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if !strings.Contains(file.Name(), ".part") {
			continue
		}
		if baseName != "" && !strings.HasPrefix(file.Name(), baseName+".part") {
			continue
		}
		if err := os.Remove(filepath.Join(tempDir, file.Name())); err != nil {
			return err
		}
	}
	remaining, err := os.ReadDir(tempDir)
	if err == nil && len(remaining) == 0 {
		os.Remove(tempDir)
	}
	return nil
}
