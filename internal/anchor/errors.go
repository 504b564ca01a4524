package anchor

import (
	"errors"

	"marginalia/internal/mark"
)

var (
	// ErrEmptySelection indicates a comment attempt with nothing selected.
	ErrEmptySelection = mark.ErrEmptySelection

	ErrEmptyComment = errors.New("comment is empty")

	ErrThreadNotFound  = errors.New("thread not found")
	ErrCommentNotFound = errors.New("comment not found")
)
