package sinks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/JakeFAU/url-acquirer/internal/progress"
)

// BarSink draws one terminal progress bar per phase.
type BarSink struct {
	mu    sync.Mutex
	out   io.Writer
	bar   *progressbar.ProgressBar
	phase string
}

// NewBarSink renders to out.
func NewBarSink(out io.Writer) *BarSink {
	return &BarSink{out: out}
}

// Consume advances the bar of the running phase.
func (s *BarSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StagePhaseStart:
			s.finish()
			if evt.Total <= 0 {
				continue
			}
			s.phase = string(evt.Phase)
			s.bar = newBar(s.out, evt.Total, s.phase)
		case progress.StageItemDone:
			if s.bar == nil || string(evt.Phase) != s.phase {
				continue
			}
			if err := s.bar.Add(1); err != nil {
				return fmt.Errorf("advance %s bar: %w", s.phase, err)
			}
		case progress.StagePhaseDone, progress.StageRunDone, progress.StageRunError:
			s.finish()
		}
	}
	return nil
}

// Close finishes any open bar.
func (s *BarSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finish()
	return nil
}

func (s *BarSink) finish() {
	if s.bar == nil {
		return
	}
	_ = s.bar.Finish()
	_, _ = fmt.Fprintln(s.out)
	s.bar = nil
	s.phase = ""
}

func newBar(out io.Writer, total int, phase string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(phase),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
