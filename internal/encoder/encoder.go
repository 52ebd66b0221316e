// Package encoder wraps the external encoding tool behind a narrow
// interface so the pipeline can be exercised without ffmpeg installed.
package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Spec describes one rendition of the encoding ladder.
type Spec struct {
	Label       string
	Height      int
	BitrateKbps int
}

// Result reports how an encoding invocation finished.
type Result struct {
	ExitCode int
	Stderr   string
}

// Executor runs one encoding invocation: a pure function of
// (source, rendition spec, output directory) to success or failure.
type Executor interface {
	Encode(ctx context.Context, sourcePath string, spec Spec, outputDir string) (Result, error)
}

// FFmpeg shells out to the ffmpeg binary, producing an HLS playlist plus
// MPEG-TS segments in the output directory. The stream is copied rather
// than re-encoded; segment numbering always starts at zero.
type FFmpeg struct {
	path   string
	logger *slog.Logger
}

// NewFFmpeg builds an executor invoking the binary at path ("ffmpeg" when
// empty).
func NewFFmpeg(path string, logger *slog.Logger) *FFmpeg {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{path: trimmed, logger: logger}
}

// Encode runs ffmpeg until it exits or ctx expires; cancellation kills the
// process. A non-zero exit is returned as an error alongside the captured
// exit code and stderr tail.
func (f *FFmpeg) Encode(ctx context.Context, sourcePath string, spec Spec, outputDir string) (Result, error) {
	if strings.TrimSpace(sourcePath) == "" {
		return Result{ExitCode: -1}, fmt.Errorf("source path is required")
	}
	if strings.TrimSpace(outputDir) == "" {
		return Result{ExitCode: -1}, fmt.Errorf("output directory is required")
	}

	args := []string{
		"-y",
		"-i", sourcePath,
		"-codec", "copy",
		"-start_number", "0",
		"-hls_time", "10",
		"-hls_list_size", "0",
		"-f", "hls",
		filepath.Join(outputDir, "index.m3u8"),
	}

	stderr := newTailWriter(f.logger.With("rendition", spec.Label), 4096)
	cmd := exec.CommandContext(ctx, f.path, args...)
	cmd.Stdout = stderr
	cmd.Stderr = stderr

	err := cmd.Run()
	result := Result{ExitCode: exitCode(cmd, err), Stderr: stderr.Tail()}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("encode %s: %w", spec.Label, ctxErr)
		}
		return result, fmt.Errorf("encode %s: %w", spec.Label, err)
	}
	return result, nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// tailWriter splits process output into log lines while retaining the most
// recent bytes for error reporting.
type tailWriter struct {
	logger *slog.Logger
	limit  int

	mu   sync.Mutex
	tail []byte
	line []byte
}

func newTailWriter(logger *slog.Logger, limit int) *tailWriter {
	return &tailWriter{logger: logger, limit: limit}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.tail = append(w.tail, p...)
	if len(w.tail) > w.limit {
		w.tail = w.tail[len(w.tail)-w.limit:]
	}

	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		if idx == -1 {
			w.line = append(w.line, p...)
			break
		}
		w.line = append(w.line, p[:idx]...)
		if line := bytes.TrimSpace(w.line); len(line) > 0 {
			w.logger.Debug("ffmpeg", "line", string(line))
		}
		w.line = w.line[:0]
		p = p[idx+1:]
	}
	return total, nil
}

// Tail returns the retained end of the process output.
func (w *tailWriter) Tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.TrimSpace(string(w.tail))
}
