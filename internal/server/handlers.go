package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/yvan/internal/ledger"
	"github.com/hyperjump/yvan/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	uploadMemory     = 32 << 20
)

// UploadResponse is the body of a successful POST /api/upload.
type UploadResponse struct {
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
	Note       string `json:"note,omitempty"`
	Message    string `json:"message"`
}

// ChatResponse is the body of a successful POST /api/chat.
type ChatResponse struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []string `json:"sources"`
	Status   string   `json:"status"`
}

// DiagnoseResponse is the body of a successful POST /api/diagnose.
type DiagnoseResponse struct {
	Symptoms string   `json:"symptoms"`
	Answer   string   `json:"answer"`
	Sources  []string `json:"sources"`
	Status   string   `json:"status"`
}

// DocumentsResponse is the body of GET /api/documents.
type DocumentsResponse struct {
	Documents []ledger.Record `json:"documents"`
	Offset    int             `json:"offset"`
	Limit     int             `json:"limit"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.respondError(w, http.StatusBadRequest, "expected a multipart form with a \"file\" field")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	s.logger.Debug("upload request", zap.String("filename", header.Filename), zap.Int64("size", header.Size))
	res, err := s.svc.Upload(r.Context(), header.Filename, file)
	if err != nil {
		s.respondFailure(w, "upload", err)
		return
	}
	resp := UploadResponse{
		Filename:   res.Source,
		Status:     "success",
		ChunkCount: res.ChunkCount,
		Note:       res.Note,
		Message:    fmt.Sprintf("Đã học xong tài liệu. Chia thành %d đoạn kiến thức.", res.ChunkCount),
	}
	if res.NoText {
		resp.Status = "no_text"
		resp.Message = res.Note
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	question, ok := s.readField(w, r, "question")
	if !ok {
		return
	}
	s.logger.Debug("chat request", zap.Int("question_chars", len(question)))
	ans, err := s.svc.AnswerQuestion(r.Context(), question)
	if err != nil {
		s.respondFailure(w, "chat", err)
		return
	}
	s.respondJSON(w, http.StatusOK, ChatResponse{
		Question: question,
		Answer:   ans.Text,
		Sources:  nonNil(ans.Sources),
		Status:   "success",
	})
}

func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	symptoms, ok := s.readField(w, r, "symptoms")
	if !ok {
		return
	}
	s.logger.Debug("diagnose request", zap.Int("symptom_chars", len(symptoms)))
	ans, err := s.svc.Diagnose(r.Context(), symptoms)
	if err != nil {
		s.respondFailure(w, "diagnose", err)
		return
	}
	s.respondJSON(w, http.StatusOK, DiagnoseResponse{
		Symptoms: symptoms,
		Answer:   ans.Text,
		Sources:  nonNil(ans.Sources),
		Status:   "success",
	})
}

// readField reads a required text field from a JSON body or a form. It writes
// the error response itself and reports false when the field is unusable.
func (s *Server) readField(w http.ResponseWriter, r *http.Request, field string) (string, bool) {
	var value string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return "", false
		}
		str, isString := body[field].(string)
		if !isString && body[field] != nil {
			s.respondError(w, http.StatusBadRequest, field+" must be a string")
			return "", false
		}
		value = str
	} else {
		value = r.FormValue(field)
	}
	if strings.TrimSpace(value) == "" {
		s.respondError(w, http.StatusBadRequest, field+" is required")
		return "", false
	}
	return value, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		s.respondFailure(w, "status", err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil || limit <= 0 {
		s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	docs, err := s.svc.ListDocuments(r.Context(), offset, limit)
	if err != nil {
		s.respondFailure(w, "list documents", err)
		return
	}
	if docs == nil {
		docs = []ledger.Record{}
	}
	s.respondJSON(w, http.StatusOK, DocumentsResponse{Documents: docs, Offset: offset, Limit: limit})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// statusCode maps an error kind to an HTTP status.
func statusCode(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrLoad):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrDimensionMismatch):
		return http.StatusConflict
	case errors.Is(err, models.ErrEmbed), errors.Is(err, models.ErrGeneration):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondFailure(w http.ResponseWriter, op string, err error) {
	code := statusCode(err)
	log := s.logger.With(zap.String("op", op), zap.String("kind", models.ErrorKind(err)), zap.Error(err))
	if code >= http.StatusInternalServerError {
		log.Error("request failed")
	} else {
		log.Info("request rejected")
	}
	s.respondJSON(w, code, ErrorResponse{Error: err.Error(), Kind: models.ErrorKind(err)})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
