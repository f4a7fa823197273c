// Package responsewriter records the status and size of a response so
// middlewares can report them once the handler returned.
package responsewriter

import (
	"net/http"
)

// Recorder wraps an http.ResponseWriter and remembers what was written through it.
type Recorder struct {
	http.ResponseWriter

	status  int
	written int64
}

// Wrap returns w as a Recorder. Wrapping a Recorder returns it unchanged.
func Wrap(w http.ResponseWriter) *Recorder {
	if rec, ok := w.(*Recorder); ok {
		return rec
	}

	return &Recorder{ResponseWriter: w}
}

func (r *Recorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *Recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}

	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)

	return n, err
}

// Status is the status code sent to the client. A handler that wrote
// nothing answered with 200.
func (r *Recorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *Recorder) Written() int64 {
	return r.written
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *Recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
