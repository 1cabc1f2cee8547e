// Package caption defines the transcript segment model and the outward
// boundary that delivers finished captions to viewers.
package caption

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"babble.town/etc"
)

// Segment is the unit exchanged between the recognition, translation, and
// publishing stages. Interim segments are provisional best guesses that
// supersede earlier display state; a segment marked final never changes.
type Segment struct {
	ID          string        `json:"id"`
	Text        string        `json:"text"`
	Language    string        `json:"language"`
	TrackID     string        `json:"track_id"`
	Participant string        `json:"participant"`
	IsFinal     bool          `json:"is_final"`
	StartOffset time.Duration `json:"start_offset"`
	EndOffset   time.Duration `json:"end_offset"`
}

func NewSegmentID() string {
	return "SG_" + etc.NewFreshID()
}

// Caption is what crosses the caption boundary: one finished segment tagged
// with the speaking participant and source track.
type Caption struct {
	Participant string    `json:"participant"`
	TrackID     string    `json:"track_id"`
	Segments    []Segment `json:"segments"`
}

// Publisher delivers a finished caption to the audience. Implementations
// preserve the order of calls from a single caller but make no promise
// across callers; per-language ordering lives upstream.
type Publisher interface {
	Publish(ctx context.Context, c Caption) error
}

// LogPublisher writes captions to the log. Useful on its own during
// development and as the last sink in a MultiPublisher.
type LogPublisher struct {
	Logger *log.Logger
}

func (p *LogPublisher) Publish(_ context.Context, c Caption) error {
	for _, seg := range c.Segments {
		p.Logger.Info("caption",
			"lang", seg.Language,
			"txt", seg.Text,
			"track", c.TrackID,
			"who", c.Participant,
		)
	}
	return nil
}

// MultiPublisher fans a caption out to several sinks. A failing sink is
// logged and skipped; it never blocks the remaining sinks or the caller.
type MultiPublisher struct {
	Sinks  []Publisher
	Logger *log.Logger
}

func (p *MultiPublisher) Publish(ctx context.Context, c Caption) error {
	for _, sink := range p.Sinks {
		if err := sink.Publish(ctx, c); err != nil {
			p.Logger.Error("publish caption", "error", err)
		}
	}
	return nil
}
