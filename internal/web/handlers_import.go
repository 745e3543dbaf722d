package web

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/quizimport/internal/core"
	"github.com/JonMunkholm/quizimport/internal/logging"
)

// multipartOverhead covers boundaries and part headers around the file.
const multipartOverhead = 1 << 20

// handleAnalyze accepts an upload, runs it up to reconciliation, and opens a
// review session. The payload is a multipart "file" part or the raw body.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	req := core.AnalyzeRequest{RecordType: chi.URLParam(r, "recordType")}

	if f := r.URL.Query().Get("format"); f != "" {
		format, err := core.ParseFormat(f)
		if err != nil {
			respondError(w, r, err, http.StatusBadRequest)
			return
		}
		req.Format = format
	}

	payload, fileName, contentType, err := s.readPayload(w, r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	req.Payload = payload
	req.FileName = fileName
	req.ContentType = contentType

	preview, err := s.service.Analyze(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/imports/"+preview.SessionID)
	writeJSON(w, r, http.StatusCreated, preview)
}

// readPayload reads at most one byte past the size limit so the service can
// report an oversized file with its own error.
func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) ([]byte, string, string, error) {
	limit := s.cfg.Import.MaxFileSize
	mediaType := r.Header.Get("Content-Type")

	if strings.HasPrefix(mediaType, "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
		if err := r.ParseMultipartForm(limit + 1); err != nil {
			return nil, "", "", tooLarge(err, limit, errInvalidBody)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", "", errNoFile
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, limit+1))
		if err != nil {
			return nil, "", "", fmt.Errorf("read upload: %w", err)
		}
		return data, header.Filename, header.Header.Get("Content-Type"), nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, limit+1)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", "", tooLarge(err, limit, err)
	}
	if len(data) == 0 {
		return nil, "", "", errNoFile
	}
	return data, r.URL.Query().Get("filename"), mediaType, nil
}

func tooLarge(err error, limit int64, otherwise error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, limit)
	}
	return otherwise
}

// handleGetSession returns the current preview of a session.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	preview, err := s.service.Preview(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, preview)
}

// handleConflicts returns every conflict with existing, incoming, and
// materialized values side by side.
func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	diffs, err := s.service.ConflictDiffs(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, diffs)
}

type resolutionRequest struct {
	Resolution string `json:"resolution"`
}

type resolutionResponse struct {
	Updated    int             `json:"updated"`
	Resolution core.Resolution `json:"resolution"`
}

// handleSetResolution sets the resolution of one conflict, or of every
// conflict when the key is "*".
func (s *Server) handleSetResolution(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		respondError(w, r, errInvalidBody, http.StatusBadRequest)
		return
	}

	var body resolutionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", errInvalidBody, err), http.StatusBadRequest)
		return
	}
	action, err := core.ParseResolution(body.Resolution)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	n, err := s.service.SetResolution(sessionID, key, action)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "session_id", sessionID).Debug("resolution set",
		"key", key,
		"resolution", action.String(),
		"updated", n,
	)
	writeJSON(w, r, http.StatusOK, resolutionResponse{Updated: n, Resolution: action})
}

type applyResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Progress  string `json:"progress"`
	Result    string `json:"result"`
}

// handleApply starts the batch applier for a session and returns at once.
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.service.StartApply(r.Context(), sessionID); err != nil {
		respondServiceError(w, r, err)
		return
	}

	base := "/api/imports/" + sessionID
	writeJSON(w, r, http.StatusAccepted, applyResponse{
		SessionID: sessionID,
		Status:    "applying",
		Progress:  base + "/progress",
		Result:    base + "/result",
	})
}

// handleResult returns the outcome of the latest apply, waiting for a
// running apply to finish.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.service.Result(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, outcome)
}

// handleErrorsCSV exports parse and validation errors, one violation per line.
func (s *Server) handleErrorsCSV(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	parseErrs, validationErrs, err := s.service.Errors(sessionID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="import_errors_%s.csv"`, sessionID))

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"position", "key", "stage", "message"})
	for _, e := range parseErrs {
		_ = cw.Write([]string{strconv.Itoa(e.Position), "", "parse", e.Message})
	}
	for _, e := range validationErrs {
		for _, v := range e.Violations {
			_ = cw.Write([]string{strconv.Itoa(e.Position), e.Key, "validate", v})
		}
	}
	cw.Flush()

	if err := cw.Error(); err != nil {
		logging.FromContext(r.Context()).Error("error export failed", "session_id", sessionID, "error", err)
	}
}

// handleDiscard drops a session.
func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Discard(chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
