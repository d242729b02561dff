package attachment

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
)

// Kind identifies how an attachment arrived in the request.
type Kind int

const (
	// KindUpload is a multipart file part.
	KindUpload Kind = iota
	// KindInline is a base64 payload embedded in a JSON body.
	KindInline
)

func (k Kind) String() string {
	switch k {
	case KindUpload:
		return "upload"
	case KindInline:
		return "inline"
	default:
		return "unknown"
	}
}

// Input is one attachment as received in a request.
type Input interface {
	Kind() Kind

	// Filename returns the client-supplied file name.
	Filename() string

	// Open returns the raw content and its size in bytes.
	Open() (io.ReadCloser, int64, error)
}

// UploadInput wraps a multipart file part.
type UploadInput struct {
	header *multipart.FileHeader
}

// NewUploadInput creates an Input backed by a multipart file header.
func NewUploadInput(fh *multipart.FileHeader) *UploadInput {
	return &UploadInput{header: fh}
}

func (u *UploadInput) Kind() Kind { return KindUpload }

func (u *UploadInput) Filename() string { return u.header.Filename }

func (u *UploadInput) Open() (io.ReadCloser, int64, error) {
	f, err := u.header.Open()
	if err != nil {
		return nil, 0, &IOError{Op: "open", Path: u.header.Filename, Err: err}
	}
	return f, u.header.Size, nil
}

// InlineInput is a base64-encoded attachment.
type InlineInput struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

func (i *InlineInput) Kind() Kind { return KindInline }

func (i *InlineInput) Filename() string { return i.Name }

// Open decodes the payload. A leading data URL header
// ("data:image/png;base64,") is accepted and ignored.
func (i *InlineInput) Open() (io.ReadCloser, int64, error) {
	payload := i.Data
	if strings.HasPrefix(payload, "data:") {
		if comma := strings.IndexByte(payload, ','); comma >= 0 {
			payload = payload[comma+1:]
		}
	}
	payload = strings.NewReplacer("\r", "", "\n", "", " ", "").Replace(payload)

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Try with RawStdEncoding for unpadded base64
		decoded, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, i.Name, err)
		}
	}
	return io.NopCloser(bytes.NewReader(decoded)), int64(len(decoded)), nil
}
