package embedded

import (
	"archive/tar"
	"bytes"
	"embed"
	"fmt"
	"io"
	"sort"
	"time"
)

//go:embed image/*
var imageFS embed.FS

// DockerfileName is the Dockerfile's name inside the build context.
const DockerfileName = "Dockerfile"

// Asset returns one embedded sandbox image file by name.
func Asset(name string) ([]byte, error) {
	data, err := imageFS.ReadFile("image/" + name)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded asset %s: %w", name, err)
	}
	return data, nil
}

// AssetNames lists the embedded image files, sorted.
func AssetNames() ([]string, error) {
	entries, err := imageFS.ReadDir("image")
	if err != nil {
		return nil, fmt.Errorf("failed to list embedded assets: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// BuildContext assembles the embedded image files into an in-memory tar
// stream for the Docker image build API. The Dockerfile sits at the
// context root under DockerfileName.
func BuildContext() (io.Reader, error) {
	names, err := AssetNames()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	now := time.Now()
	for _, name := range names {
		data, err := Asset(name)
		if err != nil {
			return nil, err
		}
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: now,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("failed to write tar header for %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("failed to write tar entry for %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize build context: %w", err)
	}
	return &buf, nil
}
