package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/straja-ai/postscore/internal/analysis"
	"github.com/straja-ai/postscore/internal/grapheme"
	"github.com/straja-ai/postscore/internal/pipeline"
	"github.com/straja-ai/postscore/internal/redact"
	"github.com/straja-ai/postscore/internal/sse"
)

type analyzeRequest struct {
	Text         string `json:"text"`
	Locale       string `json:"locale"`
	CustomAPIKey string `json:"customApiKey"`
	Credential   string `json:"credential"`
}

type analyzeResponse struct {
	Success bool               `json:"success"`
	Data    *analysis.Result   `json:"data,omitempty"`
	Error   analysis.ErrorCode `json:"error,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	req, code := s.parseRequest(w, r)
	if code != "" {
		s.reject(r.Context(), pipeline.ModeOnce, req, code)
		writeJSON(w, code.HTTPStatus(), analyzeResponse{Error: code})
		return
	}

	res, err := s.pipeline.AnalyzeOnce(r.Context(), req)
	if err != nil {
		if r.Context().Err() != nil {
			// client went away; nobody is left to read the answer
			return
		}
		code := analysis.CodeOf(err)
		writeJSON(w, code.HTTPStatus(), analyzeResponse{Error: code})
		return
	}
	writeJSON(w, http.StatusOK, analyzeResponse{Success: true, Data: res})
}

func (s *Server) handleAnalyzeStream(w http.ResponseWriter, r *http.Request) {
	req, code := s.parseRequest(w, r)
	sw := sse.NewWriter(w)
	if code != "" {
		s.reject(r.Context(), pipeline.ModeStream, req, code)
		if err := sw.Send(analysis.ErrorEvent(code)); err != nil {
			redact.Logf("stream: failed to send rejection: %v", err)
		}
		return
	}

	if err := s.pipeline.Run(r.Context(), req, sw.Send); err != nil {
		redact.Logf("stream: analysis aborted after %d events: %v", sw.Sent(), err)
	}
}

// parseRequest decodes and validates the body. A non-empty code means the
// request was refused before reaching the model.
func (s *Server) parseRequest(w http.ResponseWriter, r *http.Request) (analysis.Request, analysis.ErrorCode) {
	var body analyzeRequest
	if s.cfg.Server.MaxRequestBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxRequestBodyBytes)
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			redact.Logf("request body exceeds %d bytes", maxErr.Limit)
		}
		return analysis.Request{}, analysis.ErrInvalidRequest
	}
	if _, err := dec.Token(); err != io.EOF {
		return analysis.Request{}, analysis.ErrInvalidRequest
	}

	credential := strings.TrimSpace(body.CustomAPIKey)
	if credential == "" {
		credential = strings.TrimSpace(body.Credential)
	}
	req := analysis.Request{
		Text:       body.Text,
		Locale:     analysis.NormalizeLocale(body.Locale),
		Credential: credential,
	}

	if req.HasCustomCredential() && s.cfg.Server.Production && !s.isSecure(r) {
		return req, analysis.ErrCustomAPIKeyRequiresHTTPS
	}
	return req, req.Validate()
}

func (s *Server) isSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if !s.cfg.Server.TrustForwardedProto {
		return false
	}
	proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}

func (s *Server) reject(ctx context.Context, mode pipeline.Mode, req analysis.Request, code analysis.ErrorCode) {
	s.observe(context.WithoutCancel(ctx), pipeline.Report{
		Mode:      mode,
		Locale:    req.Locale,
		CustomKey: req.HasCustomCredential(),
		Graphemes: grapheme.Count(req.Text),
		Outcome:   pipeline.OutcomeRejected,
		Code:      code,
		Text:      req.Text,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		redact.Logf("failed to write response: %v", err)
	}
}
