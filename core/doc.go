// Package core provides the foundational contract shared by every headless
// coder backend and every caller. It defines:
//
//   - Coders (HeadlessCoder) and the factories that build them (AdapterFactory)
//   - Threads (ThreadHandle), one conversational session with a backend
//   - Events (Event), the normalized stream every backend output is mapped to
//   - Results (RunResult), the buffered counterpart of a stream
//   - Cooperative cancellation (AbortController / Signal)
//   - The error taxonomy (Error and its stable codes)
//
// The package keeps implementation concerns (process spawning, SDK calls,
// lifecycle bookkeeping) out of scope. Backends live under adapter/, the shared
// thread lifecycle lives in thread/ and name resolution lives in registry/.
package core
