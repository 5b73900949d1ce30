// Package audit records what agents did, why, and at what risk. Events are
// redacted, canonically serialized and given a content-derived id, then
// written to interchangeable sinks (JSONL file, memory, composite fan-out,
// bounded replay stream) optionally behind a queue or a circuit breaker.
package audit
