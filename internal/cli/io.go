package cli

import (
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// gzipWriter closes the gzip layer before the underlying file so the footer
// is flushed.
type gzipWriter struct {
	*gzip.Writer
	file *os.File
}

func (w *gzipWriter) Close() error {
	if err := w.Writer.Close(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

type gzipReader struct {
	*gzip.Reader
	file *os.File
}

func (r *gzipReader) Close() error {
	if err := r.Reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// openOutput opens the tap artifact sink: stdout when path is empty, a file
// otherwise, gzip-compressed when the name ends in .gz.
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".gz") {
		return &gzipWriter{Writer: gzip.NewWriter(f), file: f}, nil
	}
	return f, nil
}

// openInput opens the target artifact source: stdin when path is empty.
func openInput(path string) (io.ReadCloser, error) {
	if path == "" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &gzipReader{Reader: zr, file: f}, nil
	}
	return f, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
