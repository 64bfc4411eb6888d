// Package notify delivers job progress and terminal signals to
// observers. Sinks are purely observational; they never feed back into
// engine state.
package notify

import "github.com/rs/zerolog"

// Job kinds reported to sinks.
const (
	KindBackup   = "backup"
	KindRecovery = "recovery"
)

// Sink receives phase-by-phase progress and terminal outcomes.
type Sink interface {
	Progress(kind, jobID, phase string, progress int)
	Warning(kind, jobID, message string)
	Done(kind, jobID string, ok bool, message string)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Progress(string, string, string, int) {}
func (NopSink) Warning(string, string, string)       {}
func (NopSink) Done(string, string, bool, string)    {}

// LogSink writes notifications to the structured log.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Progress(kind, jobID, phase string, progress int) {
	s.Logger.Info().Str("kind", kind).Str("job", jobID).Str("phase", phase).Int("progress", progress).Msg("job progress")
}

func (s LogSink) Warning(kind, jobID, message string) {
	s.Logger.Warn().Str("kind", kind).Str("job", jobID).Msg(message)
}

func (s LogSink) Done(kind, jobID string, ok bool, message string) {
	evt := s.Logger.Info()
	if !ok {
		evt = s.Logger.Error()
	}
	evt.Str("kind", kind).Str("job", jobID).Bool("ok", ok).Msg(message)
}
