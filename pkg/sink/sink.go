// Package sink delivers encoded crops to a file or the system clipboard.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/menta2k/aspect-cropper/pkg/types"
)

// Sink receives an encoded image. The returned string describes where it
// went (a path, or the clipboard tool used).
type Sink interface {
	Write(ctx context.Context, name, mimeType string, data []byte) (string, error)
}

// Filename is converted-image-<ratio with ':' replaced by 'x'>.<ext>
func Filename(ratio types.AspectRatio, format types.Format) string {
	return fmt.Sprintf("converted-image-%s.%s", ratio.FileLabel(), format.Extension())
}

// FileSink writes into Dir, creating it if needed
type FileSink struct {
	Dir string
}

func NewFileSink(dir string) *FileSink {
	if dir == "" {
		dir = "."
	}
	return &FileSink{Dir: dir}
}

func (s *FileSink) Write(_ context.Context, name, _ string, data []byte) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid output name %q", name)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// ClipboardSink pipes the bytes into a clipboard tool. {mime} in Command is
// replaced with the MIME type. An empty Command picks the first available
// of wl-copy, xclip and pbcopy.
type ClipboardSink struct {
	Command []string
}

func NewClipboardSink(command ...string) *ClipboardSink {
	return &ClipboardSink{Command: command}
}

var clipboardCommands = [][]string{
	{"wl-copy", "--type", "{mime}"},
	{"xclip", "-selection", "clipboard", "-t", "{mime}", "-i"},
	{"pbcopy"},
}

func (s *ClipboardSink) Write(ctx context.Context, _, mimeType string, data []byte) (string, error) {
	command := s.Command
	if len(command) == 0 {
		command = detectClipboard()
	}
	if len(command) == 0 {
		return "", fmt.Errorf("%w: no clipboard tool found on %s", types.ErrClipboardWriteFailure, runtime.GOOS)
	}

	args := make([]string, len(command))
	for i, a := range command {
		args[i] = strings.ReplaceAll(a, "{mime}", mimeType)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%w: %s: %s", types.ErrClipboardWriteFailure, args[0], msg)
	}
	return "clipboard (" + args[0] + ")", nil
}

func detectClipboard() []string {
	for _, c := range clipboardCommands {
		if _, err := exec.LookPath(c[0]); err == nil {
			return c
		}
	}
	return nil
}
