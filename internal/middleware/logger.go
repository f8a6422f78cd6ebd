package middleware

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fatih/color"
)

// statusWriter captures status code and size.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
	length     int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.length += len(b)
	return w.ResponseWriter.Write(b)
}

var (
	// Method Colors
	cGet     = color.New(color.FgHiCyan, color.Bold).SprintFunc()
	cPost    = color.New(color.FgHiGreen, color.Bold).SprintFunc()
	cDelete  = color.New(color.FgHiRed, color.Bold).SprintFunc()
	cDefault = color.New(color.FgWhite, color.Bold).SprintFunc()

	c200 = color.New(color.FgGreen, color.Bold).SprintFunc()
	c400 = color.New(color.FgYellow, color.Bold).SprintFunc()
	c500 = color.New(color.FgRed, color.Bold).SprintFunc()

	cTime = color.New(color.FgHiBlack).SprintFunc()
	cPath = color.New(color.FgWhite).SprintFunc()
)

// RequestLogger writes one colored line per request to out.
func RequestLogger(out io.Writer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			fmt.Fprintf(out, "%s %s %s %s %s %s %s\n",
				cTime(start.Format("2006-01-02 15:04:05")),
				methodLabel(r.Method),
				cPath(r.RequestURI),
				statusLabel(ww.statusCode),
				cTime("|"),
				cTime(time.Since(start).Round(time.Microsecond).String()),
				cTime(fmt.Sprintf("%dB", ww.length)),
			)
		})
	}
}

func statusLabel(code int) string {
	s := fmt.Sprintf("%d", code)
	switch {
	case code >= 500:
		return c500(s)
	case code >= 400:
		return c400(s)
	}
	return c200(s)
}

func methodLabel(method string) string {
	s := fmt.Sprintf("%-8s", "["+method+"]")
	switch method {
	case http.MethodGet:
		return cGet(s)
	case http.MethodPost:
		return cPost(s)
	case http.MethodDelete:
		return cDelete(s)
	}
	return cDefault(s)
}
