package overlay

import (
	"fmt"
	"sync"

	"github.com/google/renameio/v2"
)

// blank keeps an inactive slot non-empty; drawtext renders a space as nothing.
const blank = " "

// FileWriter publishes frames into directive files. Each file is replaced
// atomically so the encoder never reads a partial line, and files whose
// content did not change are left untouched.
type FileWriter struct {
	files Files
	style Style

	mu   sync.Mutex
	last map[string]string
}

// NewFileWriter returns a writer for files.
func NewFileWriter(files Files, style Style) *FileWriter {
	return &FileWriter{files: files, style: style, last: make(map[string]string)}
}

// Write publishes frame.
func (w *FileWriter) Write(frame Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.replace(w.files.Timestamp, frame.TimestampText); err != nil {
		return err
	}
	if !w.style.GPSEnabled {
		return nil
	}
	fix, noFix := blank, frame.GPSText
	if frame.GPSColor == w.style.FixColor {
		fix, noFix = frame.GPSText, blank
	}
	if err := w.replace(w.files.GPSFix, fix); err != nil {
		return err
	}
	return w.replace(w.files.GPSNoFix, noFix)
}

func (w *FileWriter) replace(path, text string) error {
	if text == "" {
		text = blank
	}
	if prev, ok := w.last[path]; ok && prev == text {
		return nil
	}
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("overlay %s: %w", path, err)
	}
	defer pending.Cleanup()
	if _, err := pending.WriteString(text); err != nil {
		return fmt.Errorf("overlay %s: %w", path, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("overlay %s: %w", path, err)
	}
	w.last[path] = text
	return nil
}
