package tf

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrTransformUnavailable is returned when two frames are not connected or
// the requested time falls outside the buffered history.
var ErrTransformUnavailable = errors.New("transform unavailable")

// DefaultCacheTime is how much history a Buffer keeps per frame.
const DefaultCacheTime = 10 * time.Second

// maxDepth bounds frame-tree walks so a cycle cannot loop forever.
const maxDepth = 64

// Lookup answers transform queries.
type Lookup interface {
	// LookupTransform returns the transform mapping points in source into
	// target at stamp. A zero stamp asks for the latest available data.
	LookupTransform(target, source string, stamp time.Time) (Transform, error)
}

// Stamped is the transform of Child relative to Parent at Stamp.
type Stamped struct {
	Parent    string
	Child     string
	Stamp     time.Time
	Transform Transform
}

type sample struct {
	stamp  time.Time
	parent string
	tf     Transform
}

type frame struct {
	static  bool
	samples []sample // ascending by stamp
}

// Buffer is a concurrency-safe frame tree with per-frame history.
type Buffer struct {
	mu        sync.RWMutex
	cacheTime time.Duration
	frames    map[string]*frame
}

// NewBuffer returns an empty buffer keeping cacheTime of history per
// frame. Zero selects DefaultCacheTime.
func NewBuffer(cacheTime time.Duration) *Buffer {
	if cacheTime <= 0 {
		cacheTime = DefaultCacheTime
	}
	return &Buffer{cacheTime: cacheTime, frames: make(map[string]*frame)}
}

// SetTransform records st. Static transforms hold for all times and
// replace any history of the child frame.
func (b *Buffer) SetTransform(st Stamped, static bool) error {
	if st.Parent == "" || st.Child == "" {
		return fmt.Errorf("transform needs parent and child frames (got %q -> %q)", st.Parent, st.Child)
	}
	if st.Parent == st.Child {
		return fmt.Errorf("transform from %q to itself", st.Child)
	}
	t, err := st.Transform.Normalize()
	if err != nil {
		return fmt.Errorf("transform %s -> %s: %w", st.Parent, st.Child, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s := sample{stamp: st.Stamp, parent: st.Parent, tf: t}
	f, ok := b.frames[st.Child]
	if !ok || static || f.static {
		b.frames[st.Child] = &frame{static: static, samples: []sample{s}}
		return nil
	}

	i := sort.Search(len(f.samples), func(i int) bool { return !f.samples[i].stamp.Before(s.stamp) })
	if i < len(f.samples) && f.samples[i].stamp.Equal(s.stamp) {
		f.samples[i] = s
	} else {
		f.samples = append(f.samples, sample{})
		copy(f.samples[i+1:], f.samples[i:])
		f.samples[i] = s
	}

	// Drop history older than cacheTime behind the newest sample.
	cutoff := f.samples[len(f.samples)-1].stamp.Add(-b.cacheTime)
	drop := sort.Search(len(f.samples), func(i int) bool { return !f.samples[i].stamp.Before(cutoff) })
	if drop > 0 {
		f.samples = append([]sample(nil), f.samples[drop:]...)
	}
	return nil
}

// Clear forgets every frame.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = make(map[string]*frame)
}

// Frames returns every known frame id, sorted.
func (b *Buffer) Frames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]bool)
	for child, f := range b.frames {
		seen[child] = true
		for _, s := range f.samples {
			seen[s.parent] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupTransform implements Lookup.
func (b *Buffer) LookupTransform(target, source string, stamp time.Time) (Transform, error) {
	if target == source {
		return Identity(), nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	srcChain, err := b.chain(source, stamp)
	if err != nil {
		return Transform{}, err
	}
	tgtChain, err := b.chain(target, stamp)
	if err != nil {
		return Transform{}, err
	}

	// Index the target's ancestors, then find the first ancestor of the
	// source they share.
	tgtIndex := make(map[string]int, len(tgtChain))
	for i, l := range tgtChain {
		tgtIndex[l.frame] = i
	}
	for _, l := range srcChain {
		j, ok := tgtIndex[l.frame]
		if !ok {
			continue
		}
		// l.fromOrigin is ancestor_T_source; tgtChain[j].fromOrigin is ancestor_T_target.
		return tgtChain[j].fromOrigin.Inverse().Compose(l.fromOrigin), nil
	}

	return Transform{}, fmt.Errorf("%w: %q and %q are not connected", ErrTransformUnavailable, target, source)
}

// link is one frame on the walk from a starting frame towards its root,
// with the transform mapping the starting frame into it.
type link struct {
	frame      string
	fromOrigin Transform
}

// chain walks from start up to the root of its tree.
func (b *Buffer) chain(start string, stamp time.Time) ([]link, error) {
	links := []link{{frame: start, fromOrigin: Identity()}}
	acc := Identity()
	cur := start
	for depth := 0; ; depth++ {
		f, ok := b.frames[cur]
		if !ok {
			if depth == 0 && !b.isParent(cur) {
				return nil, fmt.Errorf("%w: unknown frame %q", ErrTransformUnavailable, cur)
			}
			return links, nil
		}
		if depth >= maxDepth {
			return nil, fmt.Errorf("%w: frame tree above %q is deeper than %d (cycle?)", ErrTransformUnavailable, start, maxDepth)
		}
		parent, t, err := f.at(stamp)
		if err != nil {
			return nil, fmt.Errorf("%w: %s -> %s: %v", ErrTransformUnavailable, cur, parentName(f), err)
		}
		acc = t.Compose(acc)
		links = append(links, link{frame: parent, fromOrigin: acc})
		cur = parent
	}
}

func (b *Buffer) isParent(name string) bool {
	for _, f := range b.frames {
		for _, s := range f.samples {
			if s.parent == name {
				return true
			}
		}
	}
	return false
}

func parentName(f *frame) string {
	return f.samples[len(f.samples)-1].parent
}

// at returns the parent and the parent_T_child transform at stamp.
func (f *frame) at(stamp time.Time) (string, Transform, error) {
	last := f.samples[len(f.samples)-1]
	if f.static || stamp.IsZero() {
		return last.parent, last.tf, nil
	}

	first := f.samples[0]
	if stamp.Before(first.stamp) {
		return "", Transform{}, fmt.Errorf("%s is before the oldest data (%s)", stamp.Format(time.RFC3339Nano), first.stamp.Format(time.RFC3339Nano))
	}
	if stamp.After(last.stamp) {
		return "", Transform{}, fmt.Errorf("%s is after the newest data (%s)", stamp.Format(time.RFC3339Nano), last.stamp.Format(time.RFC3339Nano))
	}

	i := sort.Search(len(f.samples), func(i int) bool { return !f.samples[i].stamp.Before(stamp) })
	hi := f.samples[i]
	if hi.stamp.Equal(stamp) || i == 0 {
		return hi.parent, hi.tf, nil
	}
	lo := f.samples[i-1]
	if lo.parent != hi.parent {
		// Reparented between samples; no meaningful blend.
		return lo.parent, lo.tf, nil
	}
	ratio := float64(stamp.Sub(lo.stamp)) / float64(hi.stamp.Sub(lo.stamp))
	return lo.parent, Interpolate(lo.tf, hi.tf, ratio), nil
}
