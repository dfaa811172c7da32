// Package session persists conversation transcripts for adapters whose
// backend is stateless (vendor SDKs, the echo adapter). CLI backends keep
// their own session state and do not use it.
//
// Two implementations are provided: InMemoryStore for tests and ephemeral
// processes, and FileStore which keeps one JSONL file per transcript so a
// thread can be resumed by id after a restart.
package session
