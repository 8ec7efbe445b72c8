package venue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/uhyunpark/agentvenue/pkg/eventstore"
)

// Archive persists published events. storage.Journal satisfies it.
type Archive interface {
	Append(symbol string, seq uint64, kind string, payload any) error
}

// Recorder copies every event a venue publishes into an Archive.
type Recorder struct {
	symbol  string
	sub     *eventstore.Subscription[Event]
	archive Archive
	log     *zap.SugaredLogger
}

// NewRecorder subscribes immediately, so no event published after it
// returns is missed even if Run starts later.
func NewRecorder(v *Venue, a Archive, log *zap.SugaredLogger) *Recorder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Recorder{
		symbol:  v.Symbol(),
		sub:     v.Subscribe(),
		archive: a,
		log:     log.With("component", "journal", "symbol", v.Symbol()),
	}
}

// Run archives events until ctx ends (returning nil) or a write fails.
// The subscription is closed on return.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.sub.Close()
	written := 0
	for e := range r.sub.All(ctx) {
		if err := r.archive.Append(r.symbol, e.Seq, string(e.Kind), e); err != nil {
			r.log.Errorw("journal_write_failed", "seq", e.Seq, "err", err)
			return fmt.Errorf("journal %s: %w", r.symbol, err)
		}
		written++
	}
	r.log.Infow("journal_stopped", "written", written)
	return nil
}

// Close detaches the recorder without running it.
func (r *Recorder) Close() { r.sub.Close() }
