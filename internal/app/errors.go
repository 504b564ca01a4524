package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"marginalia/internal/anchor"
	"marginalia/internal/comments"
	"marginalia/internal/doc"
	"marginalia/internal/docio"
	"marginalia/internal/export"
	"marginalia/internal/rbac"
	"marginalia/internal/snapshot"
	"marginalia/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrDocumentNotFound), errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Document not found", nil
	case errors.Is(err, snapshot.ErrNoHistory):
		return http.StatusNotFound, "NO_HISTORY", "Document has no saved versions", nil
	case errors.Is(err, anchor.ErrThreadNotFound):
		return http.StatusNotFound, "THREAD_NOT_FOUND", "Thread not found", nil
	case errors.Is(err, anchor.ErrCommentNotFound):
		return http.StatusNotFound, "COMMENT_NOT_FOUND", "Comment not found", nil
	case errors.Is(err, anchor.ErrEmptySelection):
		return http.StatusUnprocessableEntity, "EMPTY_SELECTION", "Select some text first", nil
	case errors.Is(err, anchor.ErrEmptyComment):
		return http.StatusUnprocessableEntity, "EMPTY_COMMENT", "Comment is empty", nil
	case errors.Is(err, doc.ErrNoSelection):
		return http.StatusUnprocessableEntity, "NO_SELECTION", "Place the caret first", nil
	case errors.Is(err, doc.ErrInvalidPoint):
		return http.StatusUnprocessableEntity, "INVALID_POSITION", "Position is out of range", nil
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict, "VERSION_CONFLICT", "Document was changed elsewhere", nil
	case errors.Is(err, store.ErrDocumentExists):
		return http.StatusConflict, "DOCUMENT_EXISTS", "Document already exists", nil
	case errors.Is(err, comments.ErrNoProvider):
		return http.StatusConflict, "COLLABORATION_DISABLED", "Collaboration is not configured", nil
	case errors.Is(err, rbac.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Unsupported export format", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil
	case errors.Is(err, docio.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Unsupported import format", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
