// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Init sets the global level and output format. format is "console" or "json".
func Init(level, format string) error {
	return InitWriter(os.Stderr, level, format)
}

// InitWriter is Init with an explicit output.
func InitWriter(w io.Writer, level, format string) error {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	var out io.Writer
	switch strings.ToLower(format) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	case "json":
		out = w
	default:
		return fmt.Errorf("invalid log format %q (want console or json)", format)
	}

	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

// Component returns a child of the global logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// Sampler rate-limits repetitive log lines per key, e.g. per camera.
// A zero-valued Sampler is not usable; create one with NewSampler.
type Sampler struct {
	every time.Duration
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewSampler allows burst lines per key and then one line every interval.
func NewSampler(every time.Duration, burst int) *Sampler {
	return &Sampler{
		every:    every,
		burst:    max(burst, 1),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether a line for key may be written now.
func (s *Sampler) Allow(key string) bool {
	s.mu.Lock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(s.every), s.burst)
		s.limiters[key] = l
	}
	s.mu.Unlock()
	return l.Allow()
}
