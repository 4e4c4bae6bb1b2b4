package admission

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

// MaxAccountBodyBytes bounds how much of an auth request body is read to
// find the account identifier.
const MaxAccountBodyBytes = 64 << 10

type readCloser struct {
	io.Reader
	io.Closer
}

// AccountFromBody returns the "email" (or else "username") field of a JSON
// request body. At most MaxAccountBodyBytes are read, and r.Body is always
// restored so the downstream handler sees the full original body.
func AccountFromBody(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, MaxAccountBodyBytes+1))
	r.Body = readCloser{
		Reader: io.MultiReader(bytes.NewReader(buf), r.Body),
		Closer: r.Body,
	}
	if err != nil || len(buf) > MaxAccountBodyBytes {
		return ""
	}

	var fields struct {
		Email    string `json:"email"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(buf, &fields); err != nil {
		return ""
	}
	if fields.Email != "" {
		return fields.Email
	}
	return fields.Username
}

// statusRecorder remembers the status code written by the downstream
// handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (s *statusRecorder) Status() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}
