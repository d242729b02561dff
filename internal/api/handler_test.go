package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shineum/mailgate/internal/attachment"
	"github.com/shineum/mailgate/internal/mailer"
	smtpprovider "github.com/shineum/mailgate/internal/provider/smtp"
	"github.com/shineum/mailgate/internal/smtptest"
)

// mockSender implements MailSender for testing.
type mockSender struct {
	mu       sync.Mutex
	requests []mailer.Request
	id       string
	err      error

	// block makes Send wait for ctx to end and return its error.
	block bool
}

func (m *mockSender) Send(ctx context.Context, req mailer.Request) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if m.err != nil {
		return "", m.err
	}
	return m.id, nil
}

func (m *mockSender) calls() []mailer.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Request(nil), m.requests...)
}

func newTestServer(t *testing.T, sender MailSender, opts Options) (http.Handler, string) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "uploads")
	store, err := attachment.NewStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	mat := attachment.NewMaterializer(store, attachment.Config{
		CompressThreshold: 5 << 20,
		MaxWidth:          1500,
		JPEGQuality:       80,
	})
	return New(sender, mat, opts).Routes(), dir
}

func storeFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read store: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

type filePart struct {
	field, name string
	content     []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...filePart) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(f.content); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func do(t *testing.T, h http.Handler, method, path, contentType string, body *bytes.Buffer) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("response is not JSON: %v: %s", err, rec.Body.String())
		}
	}
	return rec, out
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewBuffer(data)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	h, _ := newTestServer(t, &mockSender{}, Options{})
	rec, out := do(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || out["status"] != "ok" {
		t.Errorf("got %d %v", rec.Code, out)
	}
}

func TestSendEmail_MissingFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload map[string]any
		missing string
	}{
		{name: "missing to", payload: map[string]any{"subject": "s", "html": "h"}, missing: "to"},
		{name: "empty subject", payload: map[string]any{"to": "a@x.com", "subject": "", "html": "h"}, missing: "subject"},
		{name: "missing html with files", payload: map[string]any{
			"to": "a@x.com", "subject": "s",
			"files": []map[string]string{{"name": "a.txt", "data": base64.StdEncoding.EncodeToString([]byte("x"))}},
		}, missing: "html"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sender := &mockSender{}
			h, dir := newTestServer(t, sender, Options{})
			rec, out := do(t, h, http.MethodPost, "/api/send-email", "application/json", jsonBody(t, tt.payload))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d, want 400", rec.Code)
			}
			if out["error"] != "Missing required fields: to, subject, html" {
				t.Errorf("error: got %v", out["error"])
			}
			fields, _ := out["fields"].(map[string]any)
			if _, ok := fields[tt.missing]; !ok {
				t.Errorf("fields: got %v, want %q listed", fields, tt.missing)
			}
			if files := storeFiles(t, dir); len(files) != 0 {
				t.Errorf("store should be empty, got %v", files)
			}
			if len(sender.calls()) != 0 {
				t.Error("nothing should be sent")
			}
		})
	}
}

func TestSendEmail_MultipartMissingFieldsWritesNothing(t *testing.T) {
	t.Parallel()

	sender := &mockSender{}
	h, dir := newTestServer(t, sender, Options{})
	body, ct := multipartBody(t,
		map[string]string{"to": "a@x.com", "html": "<p>x</p>"},
		filePart{field: "attachments", name: "photo.jpg", content: []byte("jpeg")},
	)

	rec, _ := do(t, h, http.MethodPost, "/api/send-email", ct, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
	if files := storeFiles(t, dir); len(files) != 0 {
		t.Errorf("store should be empty, got %v", files)
	}
}

func TestSendEmail_NoAttachments(t *testing.T) {
	t.Parallel()

	sender := &mockSender{id: "<id@example.com>"}
	h, dir := newTestServer(t, sender, Options{})

	rec, out := do(t, h, http.MethodPost, "/api/send-email", "application/json",
		jsonBody(t, map[string]string{"to": "a@x.com", "subject": "Hi", "html": "<p>hi</p>"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if out["success"] != true || out["messageId"] != "<id@example.com>" {
		t.Errorf("body: got %v", out)
	}
	if files := storeFiles(t, dir); len(files) != 0 {
		t.Errorf("no files should be created, got %v", files)
	}

	calls := sender.calls()
	if len(calls) != 1 {
		t.Fatalf("sends: got %d, want 1", len(calls))
	}
	if calls[0].To != "a@x.com" || calls[0].Subject != "Hi" || calls[0].HTML != "<p>hi</p>" {
		t.Errorf("request: got %+v", calls[0])
	}
	if len(calls[0].Attachments) != 0 {
		t.Errorf("attachments: got %d, want 0", len(calls[0].Attachments))
	}
}

func TestSendEmail_MultipartUploads(t *testing.T) {
	t.Parallel()

	sender := &mockSender{id: "ok"}
	h, dir := newTestServer(t, sender, Options{})
	body, ct := multipartBody(t,
		map[string]string{"to": "a@x.com", "subject": "Photos", "html": "<p>x</p>"},
		filePart{field: "attachments", name: "photo.jpg", content: []byte("first")},
		filePart{field: "files", name: "photo.jpg", content: []byte("second")},
	)

	rec, _ := do(t, h, http.MethodPost, "/api/send-email", ct, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if files := storeFiles(t, dir); len(files) != 2 {
		t.Fatalf("store files: got %v, want 2", files)
	}

	calls := sender.calls()
	if len(calls) != 1 || len(calls[0].Attachments) != 2 {
		t.Fatalf("send: got %+v", calls)
	}
	for i, want := range []string{"first", "second"} {
		st := calls[0].Attachments[i]
		got, err := os.ReadFile(st.Path)
		if err != nil {
			t.Fatalf("read stored file: %v", err)
		}
		if string(got) != want {
			t.Errorf("attachment %d: got %q, want %q", i, got, want)
		}
		if !strings.HasPrefix(st.Filename, "image_") || !strings.HasSuffix(st.Filename, ".jpg") {
			t.Errorf("attachment %d name: got %q", i, st.Filename)
		}
	}
	if calls[0].Attachments[0].Filename == calls[0].Attachments[1].Filename {
		t.Error("same original name must produce distinct stored files")
	}
}

func TestSendEmail_InlineAttachments(t *testing.T) {
	t.Parallel()

	sender := &mockSender{id: "ok"}
	h, dir := newTestServer(t, sender, Options{})

	payload := map[string]any{
		"to": "a@x.com", "subject": "s", "html": "h",
		"attachments": []map[string]string{
			{"name": "a.txt", "data": base64.StdEncoding.EncodeToString([]byte("alpha"))},
		},
		"files": []map[string]string{
			{"name": "b.pdf", "data": "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte("beta"))},
		},
	}
	rec, _ := do(t, h, http.MethodPost, "/api/send-email", "application/json", jsonBody(t, payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", rec.Code, rec.Body.String())
	}
	if files := storeFiles(t, dir); len(files) != 2 {
		t.Errorf("store files: got %v, want 2", files)
	}

	atts := sender.calls()[0].Attachments
	if atts[0].Original != "a.txt" || atts[1].Original != "b.pdf" {
		t.Errorf("order: got %q, %q", atts[0].Original, atts[1].Original)
	}
	if atts[1].ContentType != "application/pdf" {
		t.Errorf("content type: got %q", atts[1].ContentType)
	}
}

func TestSendEmail_InvalidInlinePayload(t *testing.T) {
	t.Parallel()

	sender := &mockSender{}
	h, dir := newTestServer(t, sender, Options{})

	payload := map[string]any{
		"to": "a@x.com", "subject": "s", "html": "h",
		"attachments": []map[string]string{{"name": "a.txt", "data": "!!not base64!!"}},
	}
	rec, out := do(t, h, http.MethodPost, "/api/send-email", "application/json", jsonBody(t, payload))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", rec.Code)
	}
	if out["error"] != "Internal server error" || out["details"] == "" {
		t.Errorf("body: got %v", out)
	}
	if files := storeFiles(t, dir); len(files) != 0 {
		t.Errorf("store should be empty, got %v", files)
	}
	if len(sender.calls()) != 0 {
		t.Error("nothing should be sent")
	}
}

func TestSendEmail_DeliveryFailureKeepsFiles(t *testing.T) {
	t.Parallel()

	sender := &mockSender{err: &mailer.DeliveryError{Provider: "smtp", Err: errors.New("dial tcp: connection refused")}}
	h, dir := newTestServer(t, sender, Options{})
	body, ct := multipartBody(t,
		map[string]string{"to": "a@x.com", "subject": "s", "html": "h"},
		filePart{field: "attachments", name: "doc.pdf", content: []byte("%PDF")},
	)

	rec, out := do(t, h, http.MethodPost, "/api/send-email", ct, body)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", rec.Code)
	}
	if out["error"] != "Internal server error" {
		t.Errorf("error: got %v", out["error"])
	}
	if details, _ := out["details"].(string); !strings.Contains(details, "connection refused") {
		t.Errorf("details: got %q", details)
	}
	if files := storeFiles(t, dir); len(files) != 1 {
		t.Errorf("stored attachment should remain on disk, got %v", files)
	}
}

func TestSendEmail_BadBody(t *testing.T) {
	t.Parallel()

	h, _ := newTestServer(t, &mockSender{}, Options{})

	rec, out := do(t, h, http.MethodPost, "/api/send-email", "application/json", bytes.NewBufferString("{not json"))
	if rec.Code != http.StatusBadRequest || out["error"] != "Invalid request body" {
		t.Errorf("got %d %v", rec.Code, out)
	}

	rec, _ = do(t, h, http.MethodPost, "/api/send-email", "multipart/form-data; boundary=x", bytes.NewBufferString("garbage"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad multipart: got %d, want 400", rec.Code)
	}
}

func TestSendEmail_EmptyBodyIsMissingFields(t *testing.T) {
	t.Parallel()

	h, _ := newTestServer(t, &mockSender{}, Options{})
	rec, out := do(t, h, http.MethodPost, "/api/send-email", "application/json", nil)
	if rec.Code != http.StatusBadRequest || out["error"] != "Missing required fields: to, subject, html" {
		t.Errorf("got %d %v", rec.Code, out)
	}
}

func TestSendEmail_BodyTooLarge(t *testing.T) {
	t.Parallel()

	sender := &mockSender{}
	h, _ := newTestServer(t, sender, Options{MaxBodySize: 64})

	payload := map[string]string{"to": "a@x.com", "subject": "s", "html": strings.Repeat("x", 200)}
	rec, _ := do(t, h, http.MethodPost, "/api/send-email", "application/json", jsonBody(t, payload))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status: got %d, want 413", rec.Code)
	}
	if len(sender.calls()) != 0 {
		t.Error("nothing should be sent")
	}
}

func TestSendEmail_MultipartBodyTooLarge(t *testing.T) {
	t.Parallel()

	sender := &mockSender{}
	h, dir := newTestServer(t, sender, Options{MaxBodySize: 1024})

	body, contentType := multipartBody(t,
		map[string]string{"to": "a@x.com", "subject": "s", "html": "h"},
		filePart{field: "attachments", name: "big.pdf", content: bytes.Repeat([]byte("x"), 4096)},
	)
	rec, out := do(t, h, http.MethodPost, "/api/send-email", contentType, body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status: got %d, want 413", rec.Code)
	}
	if out["error"] != "Request body too large" {
		t.Errorf("error: got %v", out["error"])
	}
	if len(sender.calls()) != 0 {
		t.Error("nothing should be sent")
	}
	if files := storeFiles(t, dir); len(files) != 0 {
		t.Errorf("store should be empty, got %v", files)
	}
}

func TestSendEmail_RequestTimeout(t *testing.T) {
	t.Parallel()

	sender := &mockSender{block: true}
	h, _ := newTestServer(t, sender, Options{RequestTimeout: 50 * time.Millisecond})

	payload := map[string]string{"to": "a@x.com", "subject": "s", "html": "h"}
	rec, out := do(t, h, http.MethodPost, "/api/send-email", "application/json", jsonBody(t, payload))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", rec.Code)
	}
	if out["error"] != "Internal server error" {
		t.Errorf("error: got %v", out["error"])
	}
	if details, _ := out["details"].(string); !strings.Contains(details, context.DeadlineExceeded.Error()) {
		t.Errorf("details: got %q", details)
	}
	if len(sender.calls()) != 1 {
		t.Errorf("sender calls: got %d, want 1", len(sender.calls()))
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	h, _ := newTestServer(t, &mockSender{}, Options{CORSOrigins: []string{"https://shop.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/send-email", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example" {
		t.Errorf("Access-Control-Allow-Origin: got %q", got)
	}
}

func TestSendEmail_ThroughSMTPRelay(t *testing.T) {
	t.Parallel()

	relay, err := smtptest.NewServer(smtptest.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(relay.Close)

	prov, err := smtpprovider.New(smtpprovider.SMTPProviderConfig{
		Host:     relay.Host(),
		Port:     relay.Port(),
		Security: smtpprovider.SecurityNone,
	})
	if err != nil {
		t.Fatal(err)
	}
	m := mailer.New(prov, mailer.Config{From: "noreply@example.com", PermanentRecipient: "ops@example.com"})
	h, _ := newTestServer(t, m, Options{})

	body, ct := multipartBody(t,
		map[string]string{"to": "client@example.com", "subject": "Order", "html": "<b>done</b>"},
		filePart{field: "attachments", name: "receipt.txt", content: []byte("total: 42")},
	)
	rec, out := do(t, h, http.MethodPost, "/api/send-email", ct, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", rec.Code, rec.Body.String())
	}

	msgs := relay.Messages()
	if len(msgs) != 1 {
		t.Fatalf("relay messages: got %d, want 1", len(msgs))
	}
	if strings.Join(msgs[0].To, ",") != "client@example.com,ops@example.com" {
		t.Errorf("recipients: got %v", msgs[0].To)
	}
	parsed, err := msgs[0].Parse()
	if err != nil {
		t.Fatal(err)
	}
	if parsed.MessageID != out["messageId"] {
		t.Errorf("messageId: response %v, relayed %q", out["messageId"], parsed.MessageID)
	}
	if len(parsed.Attachments) != 1 || string(parsed.Attachments[0].Content) != "total: 42" {
		t.Errorf("attachments: got %+v", parsed.Attachments)
	}
}

func TestSendEmail_SMTPRejection(t *testing.T) {
	t.Parallel()

	relay, err := smtptest.NewServer(smtptest.Options{
		RejectRecipient: func(string) bool { return true },
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(relay.Close)

	prov, err := smtpprovider.New(smtpprovider.SMTPProviderConfig{
		Host:     relay.Host(),
		Port:     relay.Port(),
		Security: smtpprovider.SecurityNone,
	})
	if err != nil {
		t.Fatal(err)
	}
	m := mailer.New(prov, mailer.Config{From: "noreply@example.com", PermanentRecipient: "ops@example.com"})
	h, dir := newTestServer(t, m, Options{})

	body, ct := multipartBody(t,
		map[string]string{"to": "client@example.com", "subject": "s", "html": "h"},
		filePart{field: "attachments", name: "a.png", content: []byte("png")},
	)
	rec, out := do(t, h, http.MethodPost, "/api/send-email", ct, body)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", rec.Code)
	}
	if details, _ := out["details"].(string); details == "" {
		t.Error("details should carry the transport diagnostic")
	}
	if files := storeFiles(t, dir); len(files) != 1 {
		t.Errorf("attachment should remain on disk, got %v", files)
	}
}
