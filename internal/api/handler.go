package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/shineum/mailgate/internal/attachment"
	"github.com/shineum/mailgate/internal/mailer"
)

const (
	msgMissingFields = "Missing required fields: to, subject, html"
	msgBadBody       = "Invalid request body"
	msgTooLarge      = "Request body too large"
	msgInternal      = "Internal server error"
)

type sendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
}

type errorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// handleSendEmail validates the request, stores every attachment, then
// sends a single message referencing the stored files. Stored files are
// kept on disk whatever the outcome of the send.
func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()
	log := slog.With("request_id", middleware.GetReqID(ctx))

	req, err := decodeRequest(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: msgTooLarge})
			return
		}
		log.Info("rejected send request", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgBadBody})
		return
	}
	defer req.Release()

	var verr *ValidationError
	if err := req.Validate(); errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgMissingFields, Fields: verr.Fields})
		return
	} else if err != nil {
		writeInternalError(w, log, err)
		return
	}

	stored, err := s.materializeAll(ctx, req.Inputs())
	req.Release()
	if err != nil {
		writeInternalError(w, log, err)
		return
	}

	id, err := s.mailer.Send(ctx, mailer.Request{
		To:          req.To,
		Subject:     req.Subject,
		HTML:        req.HTML,
		Attachments: stored,
	})
	if err != nil {
		writeInternalError(w, log.With("stored_attachments", len(stored)), err)
		return
	}

	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: id})
}

// materializeAll stores inputs concurrently. Results keep request order;
// the first failure cancels the remaining work.
func (s *Server) materializeAll(ctx context.Context, inputs []attachment.Input) ([]attachment.Stored, error) {
	stored := make([]attachment.Stored, len(inputs))
	if len(inputs) == 0 {
		return stored, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxParallel)
	for i, in := range inputs {
		g.Go(func() error {
			st, err := s.materializer.Materialize(gctx, i, in)
			if err != nil {
				return err
			}
			stored[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stored, nil
}

func writeInternalError(w http.ResponseWriter, log *slog.Logger, err error) {
	log.Error("send request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgInternal, Details: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}
