package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/shineum/mailgate/internal/attachment"
)

// Multipart field names that carry attachments.
var fileFields = []string{"attachments", "files"}

// sendRequest is the decoded body of POST /api/send-email.
type sendRequest struct {
	To          string                   `json:"to"`
	Subject     string                   `json:"subject"`
	HTML        string                   `json:"html"`
	Attachments []attachment.InlineInput `json:"attachments"`
	Files       []attachment.InlineInput `json:"files"`

	uploads []*multipart.FileHeader
	form    *multipart.Form
}

// ValidationError lists missing or invalid fields by name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return "invalid fields: " + strings.Join(names, ", ")
}

// errBadBody marks a body that could not be decoded at all.
var errBadBody = errors.New("invalid request body")

// Validate checks the required fields. No other field is inspected.
func (r *sendRequest) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.To, validation.Required),
		validation.Field(&r.Subject, validation.Required),
		validation.Field(&r.HTML, validation.Required),
	)
	if err == nil {
		return nil
	}

	var errs validation.Errors
	if !errors.As(err, &errs) {
		return err
	}
	fields := make(map[string]string, len(errs))
	for name, fieldErr := range errs {
		fields[name] = fieldErr.Error()
	}
	return &ValidationError{Fields: fields}
}

// Inputs returns the attachments in request order: multipart uploads,
// then inline "attachments", then inline "files".
func (r *sendRequest) Inputs() []attachment.Input {
	inputs := make([]attachment.Input, 0, len(r.uploads)+len(r.Attachments)+len(r.Files))
	for _, fh := range r.uploads {
		inputs = append(inputs, attachment.NewUploadInput(fh))
	}
	for i := range r.Attachments {
		inputs = append(inputs, &r.Attachments[i])
	}
	for i := range r.Files {
		inputs = append(inputs, &r.Files[i])
	}
	return inputs
}

// Release removes temporary files backing multipart uploads. It is safe
// to call more than once.
func (r *sendRequest) Release() {
	if r.form == nil {
		return
	}
	if err := r.form.RemoveAll(); err != nil {
		slog.Warn("failed to remove multipart temp files", "error", err)
	}
	r.form = nil
}

// decodeRequest reads the body according to its Content-Type.
func decodeRequest(r *http.Request) (*sendRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxMemory); err != nil {
			return nil, fmt.Errorf("%w: %w", errBadBody, err)
		}
		form := r.MultipartForm
		req := &sendRequest{
			To:      firstValue(form.Value, "to"),
			Subject: firstValue(form.Value, "subject"),
			HTML:    firstValue(form.Value, "html"),
			form:    form,
		}
		for _, field := range fileFields {
			req.uploads = append(req.uploads, form.File[field]...)
		}
		return req, nil

	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("%w: %w", errBadBody, err)
		}
		return &sendRequest{
			To:      r.PostForm.Get("to"),
			Subject: r.PostForm.Get("subject"),
			HTML:    r.PostForm.Get("html"),
		}, nil

	default:
		var req sendRequest
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return &req, nil
			}
			return nil, fmt.Errorf("%w: %w", errBadBody, err)
		}
		return &req, nil
	}
}

func firstValue(values map[string][]string, key string) string {
	if v := values[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}
