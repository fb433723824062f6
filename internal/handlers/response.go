package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/apperr"
	"github.com/BisonCoders/BisonCodersWeb-sub000/pkg/logger"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 * 1024

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto its status code. Internal errors are logged
// with their cause and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, fallback *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context(), fallback).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, ErrorResponse{Success: false, Message: apperr.PublicMessage(err)})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperr.Validation("Request body is too large")
		case errors.Is(err, io.EOF):
			return apperr.Validation("Request body is required")
		default:
			return apperr.Validation("Invalid request body")
		}
	}
	return nil
}
