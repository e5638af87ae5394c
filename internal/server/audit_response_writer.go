package server

import (
	"bytes"
	"net/http"
)

// auditBodyLimit caps how much of a response body is retained for the audit
// feed. Projections are far smaller than this; the cap guards the in-memory
// buffer against unexpectedly large payloads.
const auditBodyLimit = 64 << 10

// responseWriterWrapper records the status code and buffers up to
// auditBodyLimit bytes of the body for the audit entry, while passing
// everything through to the client untouched.
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
	buffer     bytes.Buffer
}

func newResponseWriterWrapper(w http.ResponseWriter) *responseWriterWrapper {
	return &responseWriterWrapper{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriterWrapper) Write(b []byte) (int, error) {
	if remaining := auditBodyLimit - w.buffer.Len(); remaining > 0 {
		if len(b) <= remaining {
			w.buffer.Write(b)
		} else {
			w.buffer.Write(b[:remaining])
		}
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseWriterWrapper) GetStatusCode() int {
	return w.statusCode
}

func (w *responseWriterWrapper) GetBody() []byte {
	return w.buffer.Bytes()
}
