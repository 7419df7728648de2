package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
)

const maxBodyBytes = 64 << 10

var errBadJSON = errors.New("invalid JSON body")

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a bounded JSON body into dst. An empty body leaves dst untouched when
// allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", errBadJSON, err)
	}
	return nil
}

// validationMessage maps a validation error to its client-facing text.
func validationMessage(err error) string {
	for _, sentinel := range []error{
		audit.ErrInvalidDomain,
		audit.ErrInvalidEmail,
		audit.ErrInvalidMode,
		audit.ErrStaleTimestamp,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "invalid request"
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Info("request rejected",
		zap.String("path", r.URL.Path),
		zap.String("request_id", RequestID(r.Context())),
		zap.Error(err),
	)
	if errors.Is(err, errBadJSON) {
		writeError(w, http.StatusBadRequest, errBadJSON.Error())
		return
	}
	writeError(w, http.StatusBadRequest, validationMessage(err))
}

// fail answers an internal error. Details reach the client only in development.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, public string, err error) {
	if audit.IsValidation(err) {
		s.badRequest(w, r, err)
		return
	}
	s.logger.Error(public,
		zap.String("path", r.URL.Path),
		zap.String("request_id", RequestID(r.Context())),
		zap.Error(err),
	)
	s.seclog.Error(s.clientIP(r), r.UserAgent(), fmt.Sprintf("%s: %v", public, err))
	status := http.StatusInternalServerError
	if errors.Is(err, audit.ErrUnavailable) {
		status = http.StatusServiceUnavailable
	}
	msg := "internal server error"
	if s.opts.Development {
		msg = fmt.Sprintf("%s: %v", public, err)
	}
	writeError(w, status, msg)
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request, limiter Limiter, key string) {
	s.seclog.RateLimitExceeded(key, r.UserAgent(), r.URL.Path)
	retry := int(math.Ceil(limiter.RetryAfter(key).Seconds()))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later")
}
