// Package job implements the upload dispatcher: identifiers, the in-memory
// status store, FIFO admission under a concurrency ceiling and the wrapper
// that runs each upload and records its outcome.
package job
