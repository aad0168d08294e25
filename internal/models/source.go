package models

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileSource is a read-only view of a selected file. Open returns a fresh
// sequential reader each call; ReadAt serves the sampling reads of the
// fingerprinter and must be safe for concurrent use.
type FileSource interface {
	Describe() FileDescriptor
	Open() (io.ReadCloser, error)
	io.ReaderAt
}

// DiskFile is the os-backed FileSource used by the CLI.
type DiskFile struct {
	path string
	desc FileDescriptor
	f    *os.File
}

// OpenDiskFile stats the file and sniffs its content type from the first
// 512 bytes, the same way the service sniffs incoming uploads.
func OpenDiskFile(path string) (*DiskFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return &DiskFile{
		path: path,
		f:    f,
		desc: FileDescriptor{
			Name:           filepath.Base(path),
			Size:           info.Size(),
			MimeType:       SniffMimeType(head[:n]),
			LastModifiedAt: info.ModTime(),
		},
	}, nil
}

func (d *DiskFile) Describe() FileDescriptor {
	return d.desc
}

func (d *DiskFile) Open() (io.ReadCloser, error) {
	return os.Open(d.path)
}

func (d *DiskFile) ReadAt(p []byte, off int64) (int, error) {
	return d.f.ReadAt(p, off)
}

func (d *DiskFile) Close() error {
	return d.f.Close()
}

// MemFile is an in-memory FileSource. Tests and retries use it; Desc is
// exported so callers can pin metadata instead of relying on sniffing.
type MemFile struct {
	Desc FileDescriptor
	Data []byte
}

func NewMemFile(name string, data []byte) *MemFile {
	return &MemFile{
		Desc: FileDescriptor{
			Name:           name,
			Size:           int64(len(data)),
			MimeType:       SniffMimeType(data),
			LastModifiedAt: time.Now(),
		},
		Data: data,
	}
}

func (m *MemFile) Describe() FileDescriptor {
	return m.Desc
}

func (m *MemFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.Data)), nil
}

func (m *MemFile) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(m.Data).ReadAt(p, off)
}

// SniffMimeType returns the detected content type without charset suffixes.
func SniffMimeType(head []byte) string {
	mime := http.DetectContentType(head)
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime
}
