// Package files handles host-side inspection of shared files and client-side
// persistence of received artifacts.
package files

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/peerdrop/peerdrop/internal/protocol"
)

const defaultMediaType = "application/octet-stream"

// Shared pairs a file descriptor with the local path backing it.
type Shared struct {
	Descriptor protocol.FileDescriptor
	Path       string
}

// Open returns a ReaderAt over the file for the scheduler. The caller closes
// it when the transfer ends.
func (s *Shared) Open() (*os.File, error) {
	return os.Open(s.Path)
}

// Describe validates the given paths and builds descriptors for them. File
// IDs are sequential within one announcement; the host replaces the whole
// list to change it, so stability across announcements is not needed.
func Describe(paths []string) ([]*Shared, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files to share")
	}

	shared := make([]*Shared, 0, len(paths))
	for i, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory, only regular files can be shared", path)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%s is not a regular file", path)
		}

		mediaType := mime.TypeByExtension(filepath.Ext(path))
		if mediaType == "" {
			mediaType = defaultMediaType
		}

		shared = append(shared, &Shared{
			Descriptor: protocol.FileDescriptor{
				ID:   fmt.Sprintf("f%d", i+1),
				Name: filepath.Base(path),
				Size: info.Size(),
				Type: mediaType,
			},
			Path: path,
		})
	}
	return shared, nil
}

// Descriptors projects the descriptor list out of a shared set.
func Descriptors(shared []*Shared) []protocol.FileDescriptor {
	descriptors := make([]protocol.FileDescriptor, len(shared))
	for i, s := range shared {
		descriptors[i] = s.Descriptor
	}
	return descriptors
}

// Save writes a received artifact under outputDir, never clobbering an
// existing file.
func Save(name string, data []byte, outputDir string) (string, error) {
	filename := name
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return "", fmt.Errorf("create directory %s: %w", outputDir, err)
		}
		filename = filepath.Join(outputDir, name)
	}
	filename = UniqueFilename(filename)

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	return filename, nil
}

// UniqueFilename appends (1), (2), ... until the name is free.
func UniqueFilename(filename string) string {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return filename
	}

	ext := filepath.Ext(filename)
	base := filename[:len(filename)-len(ext)]

	counter := 1
	for {
		candidate := fmt.Sprintf("%s (%d)%s", base, counter, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		counter++
	}
}

// FormatSize formats bytes to a human readable string.
func FormatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatSpeed formats bytes per second to a human readable string.
func FormatSpeed(bytesPerSecond float64) string {
	const (
		KB = 1024.0
		MB = KB * 1024
	)

	switch {
	case bytesPerSecond >= MB:
		return fmt.Sprintf("%.2f MB/s", bytesPerSecond/MB)
	case bytesPerSecond >= KB:
		return fmt.Sprintf("%.2f KB/s", bytesPerSecond/KB)
	default:
		return fmt.Sprintf("%.0f B/s", bytesPerSecond)
	}
}
