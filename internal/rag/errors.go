package rag

import "errors"

// Sentinel errors callers match with errors.Is.
var (
	// ErrNotReady is returned by Query before a successful Configure, and
	// by registry operations before the store and embedder exist.
	ErrNotReady = errors.New("rag: engine not ready")

	// ErrNoDocuments is returned by Query when the registry is empty.
	ErrNoDocuments = errors.New("rag: no documents ingested")

	// ErrNotFound is returned when a document ID is not in the registry.
	ErrNotFound = errors.New("rag: document not found")

	// ErrConfiguration marks Configure failures caused by the settings
	// themselves rather than by unreachable backing services.
	ErrConfiguration = errors.New("rag: configuration error")
)
