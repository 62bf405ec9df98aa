// Package replay feeds recorded transforms and detection batches into a
// display.
//
// A replay file is JSON lines. Each line holds exactly one of:
//
//	{"transform": {...}}   a recognition.TransformStamped
//	{"objects": {...}}     a recognition.RecognizedObjectArray
//	{"reset": true}        clear the display
//
// Blank lines and lines starting with '#' are ignored.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/banshee-data/objectdisplay/internal/pipeline"
	"github.com/banshee-data/objectdisplay/internal/recognition"
	"github.com/banshee-data/objectdisplay/internal/tf"
	"github.com/banshee-data/objectdisplay/internal/timeutil"
)

const maxLineSize = 4 << 20

// Record is one line of a replay file.
type Record struct {
	Transform *recognition.TransformStamped      `json:"transform,omitempty"`
	Objects   *recognition.RecognizedObjectArray `json:"objects,omitempty"`
	Reset     bool                               `json:"reset,omitempty"`
}

// TransformSink receives transforms. *tf.Buffer implements it.
type TransformSink interface {
	SetTransform(st tf.Stamped, static bool) error
}

// Options configures a Player.
type Options struct {
	// DefaultDB is substituted for detections that name no database.
	DefaultDB string
	// Rate scales the gaps between batch stamps; 0 replays as fast as
	// possible, 1 in real time.
	Rate float64
	// Clock paces playback; nil uses the wall clock.
	Clock timeutil.Clock
}

// Stats counts what a Play call did.
type Stats struct {
	Lines      int
	Transforms int
	Batches    int
	Resets     int
	Skipped    int
}

// Player drives a display from a replay stream.
type Player struct {
	sink    TransformSink
	display pipeline.Display
	opts    Options

	clock     timeutil.Clock
	lastStamp time.Time
}

// NewPlayer returns a player writing transforms to sink and batches to display.
func NewPlayer(sink TransformSink, display pipeline.Display, opts Options) *Player {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Player{sink: sink, display: display, opts: opts, clock: clock}
}

// Play reads r to the end. Malformed lines are logged and skipped; only
// read errors and cancellation stop playback.
func (p *Player) Play(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Lines++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		rec, err := decode(line)
		if err != nil {
			stats.Skipped++
			log.Printf("[Replay] line %d: %v", stats.Lines, err)
			continue
		}

		switch {
		case rec.Transform != nil:
			st, err := rec.Transform.Stamped()
			if err == nil {
				err = p.sink.SetTransform(st, rec.Transform.Static)
			}
			if err != nil {
				stats.Skipped++
				log.Printf("[Replay] line %d: %v", stats.Lines, err)
				continue
			}
			stats.Transforms++
		case rec.Objects != nil:
			if err := p.pace(ctx, rec.Objects.Header.Stamp); err != nil {
				return stats, err
			}
			p.fillDefaultDB(rec.Objects)
			p.display.OnMessage(ctx, rec.Objects)
			stats.Batches++
		case rec.Reset:
			p.display.Reset()
			stats.Resets++
		}
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("read replay: %w", err)
	}
	return stats, nil
}

func decode(line []byte) (Record, error) {
	var rec Record
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return rec, fmt.Errorf("decode record: %w", err)
	}
	n := 0
	if rec.Transform != nil {
		n++
	}
	if rec.Objects != nil {
		n++
	}
	if rec.Reset {
		n++
	}
	if n != 1 {
		return rec, fmt.Errorf("record must hold exactly one entry, got %d", n)
	}
	return rec, nil
}

// pace sleeps for the scaled gap since the previous batch.
func (p *Player) pace(ctx context.Context, stamp time.Time) error {
	prev := p.lastStamp
	if !stamp.IsZero() {
		p.lastStamp = stamp
	}
	if p.opts.Rate <= 0 || prev.IsZero() || stamp.IsZero() || !stamp.After(prev) {
		return nil
	}
	gap := time.Duration(float64(stamp.Sub(prev)) / p.opts.Rate)
	return p.clock.Sleep(ctx, gap)
}

func (p *Player) fillDefaultDB(batch *recognition.RecognizedObjectArray) {
	if p.opts.DefaultDB == "" {
		return
	}
	for i := range batch.Objects {
		if batch.Objects[i].Type.DB == "" {
			batch.Objects[i].Type.DB = p.opts.DefaultDB
		}
	}
}
