// Package normalisers transforms raw test-corpus records into canonical
// test documents. Each source format (Xray functional exports, TestRail
// API exports) has its own normaliser; the registry dispatches on the
// first normaliser whose predicate recognises the record.
package normalisers
