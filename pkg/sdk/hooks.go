package sdk

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ConsoleHook records every zerolog event as a console breadcrumb.
// Attach it with logger.Hook(sdk.ConsoleHook{Recorder: m.Recorder()}); the
// original logger value is left untouched, so detaching means dropping the
// hooked copy.
type ConsoleHook struct {
	Recorder *Recorder
}

// Run implements zerolog.Hook.
func (h ConsoleHook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	if h.Recorder == nil || msg == "" {
		return
	}
	h.Recorder.CaptureConsole(zerologLevel(level), msg)
}

func zerologLevel(level zerolog.Level) string {
	switch level {
	case zerolog.WarnLevel:
		return "warn"
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		return "error"
	default:
		return "log"
	}
}

type consoleWriter struct {
	recorder *Recorder
	level    string
}

func (w consoleWriter) Write(p []byte) (int, error) {
	if msg := strings.TrimRight(string(p), "\n"); msg != "" {
		w.recorder.CaptureConsole(w.level, msg)
	}
	return len(p), nil
}

// InstrumentLog tees l's output into console breadcrumbs at the given level
// ("log", "warn" or "error"). The returned function restores the previous
// writer.
func InstrumentLog(l *log.Logger, r *Recorder, level string) (restore func()) {
	prev := l.Writer()
	l.SetOutput(io.MultiWriter(prev, consoleWriter{recorder: r, level: level}))
	return func() { l.SetOutput(prev) }
}

// Middleware records a navigation breadcrumb per request and reports panics
// raised by next, answering them with 500.
func (m *Monitor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.CaptureNavigation(requestURL(r))
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				m.capturePanic(rec)
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// GinMiddleware is Middleware for gin routers.
func (m *Monitor) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.CaptureNavigation(requestURL(c.Request))
		defer func() {
			if rec := recover(); rec != nil {
				m.capturePanic(rec)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// capturePanic must be called directly from the deferred recover function so
// the reported stack starts at the panicking frame.
func (m *Monitor) capturePanic(rec any) {
	err, ok := rec.(error)
	if !ok {
		err = errors.New(fmt.Sprint(rec))
	}
	typ := errorType(err)
	if !ok {
		typ = "Panic"
	}
	m.capture(typ, err.Error(), 5)
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
