package app

import "errors"

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("not found")
	ErrUnsupportedFile = errors.New("only PDF files are supported")
	ErrFileTooLarge    = errors.New("file exceeds the upload size limit")
	ErrDocumentBusy    = errors.New("document is already queued or processing")
	ErrEnqueueFailed   = errors.New("could not schedule document ingestion")
)
