package tick

import (
	"context"
	"fmt"
	"io"
	"os"
)

// ConsoleSink prints each tick as a line of text. Writer defaults to
// os.Stdout when the zero value is used.
type ConsoleSink struct {
	Writer io.Writer
}

func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{Writer: os.Stdout}
}

func (s *ConsoleSink) Deliver(ctx context.Context, t Tick) error {
	w := s.Writer
	if w == nil {
		w = os.Stdout
	}
	_, err := fmt.Fprintf(w, "%d,%d,%d\n", t.Bid, t.Ask, t.Timestamp)
	return err
}

// NullSink discards every tick delivered to it.
type NullSink struct{}

func NewNullSink() *NullSink {
	return &NullSink{}
}

func (NullSink) Deliver(ctx context.Context, t Tick) error {
	return nil
}
