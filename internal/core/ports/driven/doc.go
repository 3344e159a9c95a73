// Package driven provides interfaces for infrastructure adapters
// (secondary/outbound ports): the embedding provider, the two-tier vector
// store, the ingestion checkpoint store, normalisers and configuration.
package driven
