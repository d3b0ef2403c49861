package runtime

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/client"
)

const (
	// sandboxUID and sandboxGID own files written into the container,
	// matching the unprivileged app user baked into the sandbox image.
	sandboxUID = 1000
	sandboxGID = 1000

	// putChunkSize is the chunk size for the base64 shell fallback.
	// Small enough to stay well under any command line length limit.
	putChunkSize = 4 * 1024

	copyOutAttempts = 5
	copyOutBackoff  = 50 * time.Millisecond
)

// PutBytes writes data to an absolute file path inside the container,
// replacing any existing file. The parent directory is created first.
// The primary path streams a single-entry tar archive through the
// engine's put-archive endpoint; if that fails the bytes are streamed
// through the shell in base64 chunks instead.
func (r *DockerRuntime) PutBytes(ctx context.Context, containerID, containerPath string, data []byte) error {
	if containerPath == "" || strings.HasSuffix(containerPath, "/") {
		return fmt.Errorf("container path %q must name a file, not a directory", containerPath)
	}

	parent := path.Dir(containerPath)
	name := path.Base(containerPath)

	// Parent may not exist yet on a fresh tmpfs
	code, out, err := r.ExecRun(ctx, containerID, []string{"/bin/sh", "-lc", "mkdir -p " + shellQuote(parent)}, "")
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("failed to create directory %s in container: %s", parent, strings.TrimSpace(string(out)))
	}

	archive, err := singleFileTar(name, data)
	if err != nil {
		return err
	}

	primaryErr := r.CopyTo(ctx, containerID, parent, archive)
	if primaryErr == nil {
		return nil
	}

	if err := r.putBytesChunked(ctx, containerID, containerPath, data); err != nil {
		return fmt.Errorf("failed to write %s to container: %w (archive upload failed: %v)", containerPath, err, primaryErr)
	}
	return nil
}

// putBytesChunked streams file content through the container's shell in
// base64 chunks, creating the file with the first chunk and appending
// the rest.
func (r *DockerRuntime) putBytesChunked(ctx context.Context, containerID, containerPath string, data []byte) error {
	quoted := shellQuote(containerPath)

	if len(data) == 0 {
		code, out, err := r.ExecRun(ctx, containerID, []string{"/bin/sh", "-lc", ": > " + quoted}, "")
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("failed to truncate %s: %s", containerPath, strings.TrimSpace(string(out)))
		}
		return nil
	}

	for off := 0; off < len(data); off += putChunkSize {
		end := off + putChunkSize
		if end > len(data) {
			end = len(data)
		}
		encoded := base64.StdEncoding.EncodeToString(data[off:end])

		redirect := ">"
		if off > 0 {
			redirect = ">>"
		}
		cmd := fmt.Sprintf("echo '%s' | base64 -d %s %s", encoded, redirect, quoted)

		code, out, err := r.ExecRun(ctx, containerID, []string{"/bin/sh", "-lc", cmd}, "")
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("failed to write chunk at offset %d: %s", off, strings.TrimSpace(string(out)))
		}
	}

	return nil
}

// FileExists reports whether a regular file exists at the given absolute
// path inside the container.
func (r *DockerRuntime) FileExists(ctx context.Context, containerID, containerPath string) (bool, error) {
	code, _, err := r.ExecRun(ctx, containerID, []string{"/bin/sh", "-lc", "test -f " + shellQuote(containerPath)}, "")
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

// ListFiles lists all regular files under dir inside the container and
// returns their paths relative to dir. A missing directory yields an
// empty list.
func (r *DockerRuntime) ListFiles(ctx context.Context, containerID, dir string) ([]string, error) {
	quoted := shellQuote(dir)
	cmd := fmt.Sprintf("set -euo pipefail; if [ -d %s ]; then find %s -type f -printf '%%P\\n'; fi", quoted, quoted)

	code, stdout, _, err := r.execCapture(ctx, containerID, []string{"bash", "-lc", cmd}, "")
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, nil
	}

	var files []string
	for _, line := range strings.Split(string(stdout), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		files = append(files, line)
	}
	return files, nil
}

// CopyOut extracts a single regular file from the container and writes it
// to dstDir/<basename>, returning the host path. Files on tmpfs mounts can
// lag behind their metadata briefly, so three strategies are tried with
// short backoff: get-archive on the file, get-archive on its parent, and
// an in-container tar to stdout.
func (r *DockerRuntime) CopyOut(ctx context.Context, containerID, srcPath, dstDir string) (string, error) {
	name := path.Base(srcPath)
	parent := path.Dir(srcPath)
	dst := filepath.Join(dstDir, name)

	for attempt := 0; attempt < copyOutAttempts; attempt++ {
		last := attempt == copyOutAttempts-1

		// Archive of the file itself
		reader, _, err := r.client.CopyFromContainer(ctx, containerID, srcPath)
		if err == nil {
			found, exErr := extractTarEntry(reader, name, dst)
			if exErr == nil && found {
				return dst, nil
			}
		} else if !client.IsErrNotFound(err) && last {
			return "", fmt.Errorf("failed to copy %s from container: %w", srcPath, err)
		}

		// Archive of the parent directory
		reader, _, err = r.client.CopyFromContainer(ctx, containerID, parent)
		if err == nil {
			found, exErr := extractTarEntry(reader, name, dst)
			if exErr == nil && found {
				return dst, nil
			}
		} else if !client.IsErrNotFound(err) && last {
			return "", fmt.Errorf("failed to copy %s from container: %w", parent, err)
		}

		// Tar to stdout inside the container
		cmd := fmt.Sprintf("set -euo pipefail; cd %s && tar -cf - %s", shellQuote(parent), shellQuote(name))
		code, stdout, _, err := r.execCapture(ctx, containerID, []string{"bash", "-lc", cmd}, "")
		if err == nil && code == 0 {
			found, exErr := extractTarEntry(io.NopCloser(bytes.NewReader(stdout)), name, dst)
			if exErr == nil && found {
				return dst, nil
			}
		} else if err != nil && last {
			return "", fmt.Errorf("failed to tar %s in container: %w", srcPath, err)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(copyOutBackoff):
		}
	}

	return "", fmt.Errorf("failed to copy %s out of container after %d attempts", srcPath, copyOutAttempts)
}

// extractTarEntry scans a tar stream for a regular file entry matching
// name (exactly or by basename) and writes it to dst. The reader is
// always closed.
func extractTarEntry(reader io.ReadCloser, name, dst string) (bool, error) {
	defer reader.Close()

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		entry := path.Clean(hdr.Name)
		if entry != name && path.Base(entry) != name {
			continue
		}

		out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return false, fmt.Errorf("failed to create %s: %w", dst, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return false, fmt.Errorf("failed to write %s: %w", dst, err)
		}
		if err := out.Close(); err != nil {
			return false, err
		}
		return true, nil
	}
}

// singleFileTar wraps data in an in-memory tar archive holding one entry
// named by the file's basename, owned by the sandbox app user.
func singleFileTar(name string, data []byte) (*bytes.Buffer, error) {
	base := path.Base(name)
	if base == "" || base == "." || base == "/" {
		return nil, fmt.Errorf("archive entry needs a filename")
	}

	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	hdr := &tar.Header{
		Name:    base,
		Size:    int64(len(data)),
		Mode:    0o644,
		ModTime: time.Now(),
		Uid:     sandboxUID,
		Gid:     sandboxGID,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("failed to write archive header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write archive data: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf, nil
}

// shellQuote wraps s in single quotes for safe interpolation into a
// shell command line, escaping any embedded single quotes.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
