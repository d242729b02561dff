package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"path/filepath"
)

// maxNameAttempts bounds how many names are tried when a generated
// name is already taken.
const maxNameAttempts = 5

// Config holds the compression policy.
type Config struct {
	// CompressThreshold is the size in bytes above which an attachment
	// is re-encoded as a resized JPEG.
	CompressThreshold int64
	MaxWidth          int
	JPEGQuality       int
	Prefix            string
}

// Stored describes an attachment persisted in the Store.
type Stored struct {
	Filename    string
	Path        string
	Size        int64
	Original    string
	ContentType string
	Compressed  bool
}

// Materializer turns request attachments into files in the Store.
type Materializer struct {
	store      *Store
	namer      *Namer
	compressor Compressor
	threshold  int64
}

// NewMaterializer creates a Materializer writing into store.
func NewMaterializer(store *Store, cfg Config) *Materializer {
	return &Materializer{
		store: store,
		namer: NewNamer(cfg.Prefix),
		compressor: Compressor{
			MaxWidth: cfg.MaxWidth,
			Quality:  cfg.JPEGQuality,
		},
		threshold: cfg.CompressThreshold,
	}
}

// Store returns the underlying attachment store.
func (m *Materializer) Store() *Store {
	return m.store
}

// Materialize writes one attachment into the store under a freshly
// generated name. index is the attachment's zero-based position in the
// request. Inputs larger than the threshold are recompressed; smaller
// ones are stored byte for byte.
func (m *Materializer) Materialize(ctx context.Context, index int, in Input) (Stored, error) {
	if err := ctx.Err(); err != nil {
		return Stored{}, err
	}

	src, size, err := in.Open()
	if err != nil {
		return Stored{}, err
	}
	defer src.Close()

	tmp, err := m.store.CreateTemp()
	if err != nil {
		return Stored{}, err
	}
	tmpPath := tmp.Name()

	compress := size > m.threshold
	if compress {
		err = m.compressor.Compress(src, tmp)
		if err != nil {
			err = &CompressionError{Filename: in.Filename(), Err: err}
		}
	} else {
		if _, copyErr := io.Copy(tmp, src); copyErr != nil {
			err = &IOError{Op: "write", Path: tmpPath, Err: copyErr}
		}
	}

	var written int64
	if err == nil {
		if info, statErr := tmp.Stat(); statErr != nil {
			err = &IOError{Op: "stat", Path: tmpPath, Err: statErr}
		} else {
			written = info.Size()
		}
	}
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = &IOError{Op: "close", Path: tmpPath, Err: closeErr}
	}
	if err != nil {
		m.store.Discard(tmpPath)
		return Stored{}, err
	}

	if err := ctx.Err(); err != nil {
		m.store.Discard(tmpPath)
		return Stored{}, err
	}

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := m.namer.Name(index, in.Filename())
		path, err := m.store.Commit(tmpPath, name)
		if errors.Is(err, fs.ErrExist) {
			slog.Debug("generated attachment name already taken, retrying",
				"name", name,
				"attempt", attempt,
			)
			continue
		}
		if err != nil {
			m.store.Discard(tmpPath)
			return Stored{}, err
		}

		stored := Stored{
			Filename:    name,
			Path:        path,
			Size:        written,
			Original:    in.Filename(),
			ContentType: contentType(name, compress),
			Compressed:  compress,
		}
		slog.Debug("attachment materialized",
			"filename", stored.Filename,
			"original", stored.Original,
			"kind", in.Kind().String(),
			"input_size", size,
			"stored_size", stored.Size,
			"compressed", compress,
		)
		return stored, nil
	}

	m.store.Discard(tmpPath)
	return Stored{}, &IOError{
		Op:   "commit",
		Path: m.store.Dir(),
		Err:  fmt.Errorf("no free name after %d attempts: %w", maxNameAttempts, fs.ErrExist),
	}
}

// contentType guesses the MIME type of a stored file.
func contentType(name string, compressed bool) string {
	if compressed {
		return "image/jpeg"
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
