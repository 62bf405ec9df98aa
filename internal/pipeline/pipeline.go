// Package pipeline turns batches of recognized objects into scene visuals.
//
// Every batch replaces the visual set wholesale: the previous visuals are
// destroyed, then one visual is built per detection whose mesh resolves and
// whose frame can be placed in the fixed frame.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/objectdisplay/internal/meshcache"
	"github.com/banshee-data/objectdisplay/internal/objectdb"
	"github.com/banshee-data/objectdisplay/internal/recognition"
	"github.com/banshee-data/objectdisplay/internal/scene"
	"github.com/banshee-data/objectdisplay/internal/tf"
)

// TransformFailurePolicy says what to do with the rest of a batch when a
// detection's frame cannot be placed in the fixed frame.
type TransformFailurePolicy string

const (
	// AbandonBatch stops at the failing detection and keeps the visuals
	// built so far.
	AbandonBatch TransformFailurePolicy = "abandon-batch"
	// SkipDetection drops only the failing detection.
	SkipDetection TransformFailurePolicy = "skip-detection"
)

// DefaultFixedFrame is used when Options.FixedFrame is empty.
const DefaultFixedFrame = "map"

// Valid reports whether p is a known policy.
func (p TransformFailurePolicy) Valid() bool {
	return p == AbandonBatch || p == SkipDetection
}

// Options configures a Pipeline.
type Options struct {
	FixedFrame string
	Policy     TransformFailurePolicy
	// Style applies to every visual. Nil selects scene.DefaultStyle; an
	// explicit all-zero style is kept as given.
	Style *scene.Style
}

func (o Options) withDefaults() Options {
	if o.FixedFrame == "" {
		o.FixedFrame = DefaultFixedFrame
	}
	if o.Policy == "" {
		o.Policy = AbandonBatch
	}
	style := scene.DefaultStyle
	if o.Style != nil {
		style = *o.Style
	}
	o.Style = &style
	return o
}

// Display is driven by the host loop: one call per incoming batch, plus
// reset and configuration changes. Implementations are not safe for
// concurrent use.
type Display interface {
	OnMessage(ctx context.Context, msg *recognition.RecognizedObjectArray)
	Reset()
	ConfigurationChanged(opts Options) error
	Close() error
}

// Resolver maps object types to meshes. *meshcache.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, key objectdb.TypeKey) (meshcache.MeshReference, error)
	Close() error
}

// Result summarises one OnMessage call.
type Result struct {
	Seq               uint64
	Stamp             time.Time
	Detections        int
	Built             int
	NonRenderable     int
	ResolveFailures   int
	TransformFailures int
	// Abandoned counts detections never attempted because the batch was
	// abandoned after a transform failure.
	Abandoned int
}

// UpdateFunc is called after every change to the visual set.
type UpdateFunc func(Result, []*scene.Visual)

// Pipeline is the Display implementation.
type Pipeline struct {
	resolver Resolver
	lookup   tf.Lookup
	graph    scene.Graph
	opts     Options

	visuals  []*scene.Visual
	last     Result
	seq      uint64
	onUpdate []UpdateFunc
	closed   bool
}

var _ Display = (*Pipeline)(nil)

// New returns a pipeline drawing into graph under its root node.
func New(resolver Resolver, lookup tf.Lookup, graph scene.Graph, opts Options) (*Pipeline, error) {
	opts = opts.withDefaults()
	if !opts.Policy.Valid() {
		return nil, fmt.Errorf("unknown transform failure policy %q", opts.Policy)
	}
	return &Pipeline{
		resolver: resolver,
		lookup:   lookup,
		graph:    graph,
		opts:     opts,
	}, nil
}

// OnUpdate registers fn to run after each change to the visual set.
func (p *Pipeline) OnUpdate(fn UpdateFunc) {
	p.onUpdate = append(p.onUpdate, fn)
}

// Options returns the current options with Style filled in.
func (p *Pipeline) Options() Options {
	o := p.opts
	style := *o.Style
	o.Style = &style
	return o
}

// Visuals returns the current visual set in detection order.
func (p *Pipeline) Visuals() []*scene.Visual {
	return append([]*scene.Visual(nil), p.visuals...)
}

// LastResult returns the summary of the most recent OnMessage.
func (p *Pipeline) LastResult() Result { return p.last }

// OnMessage replaces the visual set with one built from msg.
func (p *Pipeline) OnMessage(ctx context.Context, msg *recognition.RecognizedObjectArray) {
	if p.closed || msg == nil {
		return
	}
	p.clear()

	p.seq++
	res := Result{Seq: p.seq, Stamp: msg.Header.Stamp, Detections: len(msg.Objects)}
	built := make([]*scene.Visual, 0, len(msg.Objects))

	for i, obj := range msg.Objects {
		if obj.Header.FrameID == "" {
			obj.Header = msg.Header
		}

		ref, err := p.resolver.Resolve(ctx, obj.Type)
		if err != nil {
			res.ResolveFailures++
			opsf("skip detection %d (%s): %v", i, obj.Type, err)
			continue
		}
		if !ref.Renderable() {
			res.NonRenderable++
		}

		framePose, err := p.lookup.LookupTransform(p.opts.FixedFrame, obj.Header.FrameID, obj.Header.Stamp)
		if err != nil {
			res.TransformFailures++
			if p.opts.Policy == AbandonBatch {
				res.Abandoned = len(msg.Objects) - i - 1
				opsf("transform %s -> %s failed, abandoning %d remaining detections: %v",
					obj.Header.FrameID, p.opts.FixedFrame, res.Abandoned+1, err)
				break
			}
			opsf("transform %s -> %s failed, skipping detection %d: %v",
				obj.Header.FrameID, p.opts.FixedFrame, i, err)
			continue
		}

		v, err := p.build(ref, obj, framePose)
		if err != nil {
			res.ResolveFailures++
			opsf("skip detection %d (%s): %v", i, obj.Type, err)
			continue
		}
		tracef("detection %d: %s mesh=%q frame=%s", i, obj.Type, ref.URI, obj.Header.FrameID)
		built = append(built, v)
	}

	p.visuals = built
	res.Built = len(built)
	p.last = res
	diagf("message %d: %d detections, %d visuals, %d resolve failures, %d transform failures, %d abandoned",
		res.Seq, res.Detections, res.Built, res.ResolveFailures, res.TransformFailures, res.Abandoned)
	p.notify()
}

func (p *Pipeline) build(ref meshcache.MeshReference, obj recognition.RecognizedObject, framePose tf.Transform) (*scene.Visual, error) {
	v, err := scene.NewVisual(p.graph, p.graph.Root(), *p.opts.Style)
	if err != nil {
		return nil, err
	}
	if err := v.SetRepresentation(ref.URI, obj); err != nil {
		_ = v.Destroy()
		return nil, err
	}
	if err := v.SetFramePose(framePose); err != nil {
		_ = v.Destroy()
		return nil, err
	}
	return v, nil
}

// clear destroys every current visual.
func (p *Pipeline) clear() {
	for _, v := range p.visuals {
		if err := v.Destroy(); err != nil {
			opsf("destroy visual: %v", err)
		}
	}
	p.visuals = nil
}

func (p *Pipeline) notify() {
	visuals := p.Visuals()
	for _, fn := range p.onUpdate {
		fn(p.last, visuals)
	}
}

// Reset removes every visual.
func (p *Pipeline) Reset() {
	p.clear()
	p.last = Result{Seq: p.seq}
	diagf("reset")
	p.notify()
}

// ConfigurationChanged applies new options. A new fixed frame invalidates
// every frame pose, so the visuals are cleared; otherwise they are
// restyled in place.
func (p *Pipeline) ConfigurationChanged(opts Options) error {
	opts = opts.withDefaults()
	if !opts.Policy.Valid() {
		return fmt.Errorf("unknown transform failure policy %q", opts.Policy)
	}
	old := p.opts
	p.opts = opts

	if opts.FixedFrame != old.FixedFrame {
		diagf("fixed frame %s -> %s, clearing visuals", old.FixedFrame, opts.FixedFrame)
		p.Reset()
		return nil
	}
	if *opts.Style != *old.Style {
		for _, v := range p.visuals {
			if err := v.SetStyle(*opts.Style); err != nil {
				opsf("restyle visual: %v", err)
			}
		}
		p.notify()
	}
	return nil
}

// Close removes the visuals and releases the resolver, deleting its
// temporary mesh files.
func (p *Pipeline) Close() error {
	if p.closed {
		return nil
	}
	p.clear()
	p.closed = true
	return p.resolver.Close()
}
