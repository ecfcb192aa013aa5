package httpp

import (
	"net/http"
	"time"

	"github.com/haishinkit/haishin/internal/logger"
)

// ServerName is the value of the Server header.
const ServerName = "haishin"

// responseWriter records the status and refreshes the write deadline before every write,
// so that long segment downloads are not cut by WriteTimeout.
type responseWriter struct {
	http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration
	status       int
	written      uint64
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.rc.SetWriteDeadline(time.Now().Add(w.writeTimeout)) //nolint:errcheck
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	w.rc.SetWriteDeadline(time.Now().Add(w.writeTimeout)) //nolint:errcheck
	n, err := w.ResponseWriter.Write(p)
	w.written += uint64(n)
	return n, err
}

// Unwrap allows http.ResponseController to reach the connection.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func allowedMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// handler wraps the routes of a read-only server.
type handler struct {
	h            http.Handler
	writeTimeout time.Duration
	l            logger.Writer
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rw := &responseWriter{
		ResponseWriter: w,
		rc:             http.NewResponseController(w),
		writeTimeout:   h.writeTimeout,
		status:         http.StatusOK,
	}

	rw.Header().Set("Server", ServerName)

	switch {
	case r.URL.Path == "" || r.URL.Path[0] != '/':
		rw.WriteHeader(http.StatusBadRequest)

	case !allowedMethod(r.Method):
		rw.Header().Set("Allow", "GET, HEAD, OPTIONS")
		rw.WriteHeader(http.StatusMethodNotAllowed)

	default:
		h.h.ServeHTTP(rw, r)
	}

	h.l.Log(logger.Debug, "[conn %v] %s %s %d %d", r.RemoteAddr, r.Method, r.URL.Path, rw.status, rw.written)
}
