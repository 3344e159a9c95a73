// Package domain contains the core business entities and value types for
// Testseek: normalised test documents and their steps, search and ingestion
// shapes, filters, and the error kinds shared across all layers.
//
// The domain layer has no dependencies on adapters or external services.
package domain
