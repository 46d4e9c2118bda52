package emit

// Emitter receives observability events.
//
// Implementations must be safe for concurrent use and must not block the
// caller: slow backends should buffer, drop, or hand off asynchronously.
// Emit must not panic; internal failures are the emitter's problem.
//
// Provided implementations:
//   - LogEmitter: text or JSONL lines to an io.Writer
//   - NullEmitter: discard everything
//   - BufferedEmitter: in-memory capture with query support (tests, debugging)
//   - OTelEmitter: OpenTelemetry spans
type Emitter interface {
	Emit(event Event)
}
