package supervisor

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05"

// lockedWriter serializes writes so the combined log never interleaves
// partial lines from stdout and stderr.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// lineWriter forwards whole lines to dst, optionally stamped. A trailing
// partial line is held until the next write or Flush.
type lineWriter struct {
	mu    sync.Mutex
	dst   io.Writer
	stamp func() string
	buf   []byte
}

func newLineWriter(dst io.Writer, stamp func() string) *lineWriter {
	return &lineWriter{dst: dst, stamp: stamp}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if err := w.emit(w.buf[:i+1]); err != nil {
			return len(p), err
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) == 0 {
		return nil
	}
	line := append(w.buf, '\n')
	w.buf = nil
	return w.emit(line)
}

func (w *lineWriter) emit(line []byte) error {
	if w.stamp == nil {
		_, err := w.dst.Write(line)
		return err
	}
	out := make([]byte, 0, len(line)+24)
	out = append(out, w.stamp()...)
	out = append(out, ": "...)
	out = append(out, line...)
	_, err := w.dst.Write(out)
	return err
}

// appLogs holds the open log files of one app.
type appLogs struct {
	out, err io.Writer
	files    []*os.File
}

func openAppLogs(app App, stdout, stderr io.Writer) (*appLogs, error) {
	l := &appLogs{}
	open := func(path string) (*os.File, error) {
		if path == "" {
			return nil, nil
		}
		if app.Cwd != "" && !filepath.IsAbs(path) {
			path = filepath.Join(app.Cwd, path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		l.files = append(l.files, f)
		return f, nil
	}

	outFile, err := open(app.OutFile)
	if err != nil {
		l.Close()
		return nil, err
	}
	errFile, err := open(app.ErrorFile)
	if err != nil {
		l.Close()
		return nil, err
	}
	combined, err := open(app.LogFile)
	if err != nil {
		l.Close()
		return nil, err
	}

	outs := []io.Writer{stdout}
	errs := []io.Writer{stderr}
	if outFile != nil {
		outs = []io.Writer{outFile}
	}
	if errFile != nil {
		errs = []io.Writer{errFile}
	}
	if combined != nil {
		shared := &lockedWriter{w: combined}
		outs = append(outs, shared)
		errs = append(errs, shared)
	}
	l.out = io.MultiWriter(outs...)
	l.err = io.MultiWriter(errs...)
	return l, nil
}

// writers returns fresh line writers for one process start.
func (l *appLogs) writers(stamped bool, now func() time.Time) (*lineWriter, *lineWriter) {
	var stamp func() string
	if stamped {
		stamp = func() string { return now().Format(timestampLayout) }
	}
	return newLineWriter(l.out, stamp), newLineWriter(l.err, stamp)
}

func (l *appLogs) Close() error {
	var errs []error
	for _, f := range l.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}
