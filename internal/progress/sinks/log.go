package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
	"github.com/JakeFAU/url-acquirer/internal/progress"
)

// LogSink writes milestones to a zap logger. Item completions log at debug
// unless they failed, so large runs stay readable at info level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.InfoLevel
		switch {
		case evt.Stage == progress.StageRunError:
			level = zapcore.ErrorLevel
		case evt.Stage == progress.StageItemDone && evt.Outcome == acquisition.OutcomeFailure:
			level = zapcore.WarnLevel
		case evt.Stage == progress.StageItemDone:
			level = zapcore.DebugLevel
		}
		ce := s.logger.Check(level, "progress")
		if ce == nil {
			continue
		}
		fields := []zap.Field{
			zap.String("run_id", evt.RunID.String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Phase != "" {
			fields = append(fields, zap.String("phase", string(evt.Phase)))
		}
		if evt.ItemID > 0 {
			fields = append(fields,
				zap.Int("item_id", evt.ItemID),
				zap.String("url", evt.URL),
				zap.String("outcome", string(evt.Outcome)))
		}
		if evt.Reason != "" {
			fields = append(fields, zap.String("reason", string(evt.Reason)))
		}
		if evt.Total > 0 {
			fields = append(fields, zap.Int("total", evt.Total))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		ce.Write(fields...)
	}
	return nil
}

// Close flushes buffered log output. Sync errors on console writers are ignored.
func (s *LogSink) Close(context.Context) error {
	_ = s.logger.Sync()
	return nil
}
