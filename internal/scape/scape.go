package scape

// Trace carries per-episode diagnostics for reporting.
type Trace map[string]any
