package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zip"
)

// ZipReader reads records from a zip container.
type ZipReader struct {
	files map[string]*zip.File
	names []string
	close func() error
}

func newZipReader(zr *zip.Reader, closer func() error) (*ZipReader, error) {
	r := &ZipReader{files: make(map[string]*zip.File, len(zr.File)), close: closer}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if _, dup := r.files[f.Name]; dup {
			return nil, fmt.Errorf("archive: duplicate record %q", f.Name)
		}
		r.files[f.Name] = f
		r.names = append(r.names, f.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// OpenZip reads a zip container held in memory.
func OpenZip(data []byte) (*ZipReader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return newZipReader(zr, nil)
}

// OpenZipFile opens a zip container on disk. Close releases the file.
func OpenZipFile(path string) (*ZipReader, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	r, err := newZipReader(&rc.Reader, rc.Close)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return r, nil
}

func (r *ZipReader) Records() []string { return append([]string(nil), r.names...) }

func (r *ZipReader) HasRecord(name string) bool {
	_, ok := r.files[name]
	return ok
}

func (r *ZipReader) ReadRecord(name string) ([]byte, error) {
	f, ok := r.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", name, err)
	}
	return data, nil
}

// Close releases the underlying file, if any.
func (r *ZipReader) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

// ZipWriter writes records into a zip container.
type ZipWriter struct {
	zw     *zip.Writer
	seen   map[string]struct{}
	closer io.Closer
}

// NewZipWriter writes a zip container to w.
func NewZipWriter(w io.Writer) *ZipWriter {
	return &ZipWriter{zw: zip.NewWriter(w), seen: make(map[string]struct{})}
}

// CreateZipFile creates a zip container on disk.
func CreateZipFile(path string) (*ZipWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	zw := NewZipWriter(f)
	zw.closer = f
	return zw, nil
}

func (w *ZipWriter) WriteRecord(name string, data []byte) error {
	if _, dup := w.seen[name]; dup {
		return fmt.Errorf("archive: duplicate record %q", name)
	}
	w.seen[name] = struct{}{}
	fw, err := w.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("archive: write %s: %w", name, err)
	}
	return nil
}

func (w *ZipWriter) Close() error {
	err := w.zw.Close()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ZipBytes serializes every record of r into an in-memory zip container.
func ZipBytes(r Reader) ([]byte, error) {
	var buf bytes.Buffer
	w := NewZipWriter(&buf)
	if err := Copy(w, r); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
