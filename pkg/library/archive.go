package library

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/klauspost/compress/gzip"
	"github.com/nwaples/rardecode/v2"
)

var (
	ErrNoROMFile         = errors.New("no ROM file found in archive")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrFileTooLarge      = errors.New("file exceeds maximum size limit")
)

var (
	magicZIP    = []byte{0x50, 0x4B, 0x03, 0x04}
	magicZIPEnd = []byte{0x50, 0x4B, 0x05, 0x06}
	magic7z     = []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}
	magicGzip   = []byte{0x1F, 0x8B}
	magicRAR    = []byte{0x52, 0x61, 0x72, 0x21}
)

type format int

const (
	formatRaw format = iota
	formatZIP
	format7z
	formatGzip
	formatRAR
)

// extractor unpacks the first ROM file from the supported archives,
// the archive members are picked by their extension.
// Anything that is not an archive is taken as it is.
type extractor struct {
	extensions []string
	maxSize    int64
}

// extract returns the ROM data and its file name.
func (x extractor) extract(name string, data []byte) ([]byte, string, error) {
	switch detect(data) {
	case formatZIP:
		return x.fromZIP(data)
	case format7z:
		return x.from7z(data)
	case formatGzip:
		return x.fromGzip(name, data)
	case formatRAR:
		return x.fromRAR(data)
	}
	if int64(len(data)) > x.maxSize {
		return nil, "", ErrFileTooLarge
	}
	return data, filepath.Base(name), nil
}

// detect checks the magic bytes of the archives.
func detect(header []byte) format {
	switch {
	case bytes.HasPrefix(header, magicZIP), bytes.HasPrefix(header, magicZIPEnd):
		return formatZIP
	case bytes.HasPrefix(header, magicRAR):
		return formatRAR
	case bytes.HasPrefix(header, magic7z):
		return format7z
	case bytes.HasPrefix(header, magicGzip):
		return formatGzip
	}
	return formatRaw
}

func (x extractor) isROM(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range x.extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// isArchive checks the name only.
func isArchive(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range []string{".zip", ".7z", ".rar", ".gz", ".tgz"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func (x extractor) fromZIP(data []byte) ([]byte, string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, "", fmt.Errorf("failed to open zip: %w", err)
	}
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !x.isROM(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, "", fmt.Errorf("failed to open %s in archive: %w", f.Name, err)
		}
		rom, err := x.read(rc)
		_ = rc.Close()
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		return rom, filepath.Base(f.Name), nil
	}
	return nil, "", ErrNoROMFile
}

func (x extractor) from7z(data []byte) ([]byte, string, error) {
	r, err := sevenzip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, "", fmt.Errorf("failed to open 7z: %w", err)
	}
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !x.isROM(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, "", fmt.Errorf("failed to open %s in archive: %w", f.Name, err)
		}
		rom, err := x.read(rc)
		_ = rc.Close()
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		return rom, filepath.Base(f.Name), nil
	}
	return nil, "", ErrNoROMFile
}

func (x extractor) fromRAR(data []byte) ([]byte, string, error) {
	r, err := rardecode.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to open rar: %w", err)
	}
	for {
		header, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, "", fmt.Errorf("failed to read rar entry: %w", err)
		}
		if header.IsDir || !x.isROM(header.Name) {
			continue
		}
		rom, err := x.read(r)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", header.Name, err)
		}
		return rom, filepath.Base(header.Name), nil
	}
	return nil, "", ErrNoROMFile
}

// fromGzip handles both plain .gz and .tar.gz.
func (x extractor) fromGzip(name string, data []byte) ([]byte, string, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer func() { _ = gr.Close() }()

	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz") {
		return x.fromTar(gr)
	}

	rom, err := x.read(gr)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decompress gzip: %w", err)
	}
	base := filepath.Base(name)
	if strings.HasSuffix(strings.ToLower(base), ".gz") {
		base = base[:len(base)-3]
	}
	if gr.Name != "" {
		base = filepath.Base(gr.Name)
	}
	return rom, base, nil
}

func (x extractor) fromTar(r io.Reader) ([]byte, string, error) {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, "", fmt.Errorf("failed to read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg || !x.isROM(header.Name) {
			continue
		}
		rom, err := x.read(tr)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s from tar: %w", header.Name, err)
		}
		return rom, filepath.Base(header.Name), nil
	}
	return nil, "", ErrNoROMFile
}

// read reads up to maxSize bytes.
func (x extractor) read(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, x.maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > x.maxSize {
		return nil, ErrFileTooLarge
	}
	return data, nil
}
