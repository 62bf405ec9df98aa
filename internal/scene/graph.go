// Package scene holds the scene graph that recognized-object visuals are
// drawn into and the Visual type that owns one object's nodes.
package scene

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/objectdisplay/internal/tf"
)

// NodeID identifies a node in a Graph. The zero value is never a valid node.
type NodeID uint64

// ErrNoNode is returned for operations on a node that does not exist.
var ErrNoNode = errors.New("no such scene node")

// Color is an RGBA colour with components in [0, 1].
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a"`
}

// Graph is the scene graph a renderer draws. Poses are relative to the
// parent node.
type Graph interface {
	Root() NodeID
	CreateNode(parent NodeID, name string) (NodeID, error)
	// DestroyNode removes the node and its subtree.
	DestroyNode(id NodeID) error
	SetPose(id NodeID, pose tf.Transform) error
	SetMesh(id NodeID, uri string) error
	SetLabel(id NodeID, text string, visible bool) error
	SetColor(id NodeID, c Color) error
}

// NodeSnapshot is a copy of one node's state with its pose resolved to the
// root frame.
type NodeSnapshot struct {
	ID           NodeID
	Parent       NodeID
	Name         string
	LocalPose    tf.Transform
	WorldPose    tf.Transform
	MeshURI      string
	Label        string
	LabelVisible bool
	Color        Color
}

type node struct {
	parent       NodeID
	name         string
	pose         tf.Transform
	mesh         string
	label        string
	labelVisible bool
	color        Color
	children     map[NodeID]bool
}

// MemoryGraph is a Graph kept in memory. It is safe for concurrent use so
// a publisher may snapshot it while the pipeline edits it.
type MemoryGraph struct {
	mu     sync.RWMutex
	nodes  map[NodeID]*node
	nextID NodeID
	root   NodeID
}

// NewMemoryGraph returns a graph holding only its root node.
func NewMemoryGraph() *MemoryGraph {
	g := &MemoryGraph{nodes: make(map[NodeID]*node)}
	g.root = g.add(0, "root")
	return g
}

func (g *MemoryGraph) add(parent NodeID, name string) NodeID {
	g.nextID++
	id := g.nextID
	g.nodes[id] = &node{
		parent:   parent,
		name:     name,
		pose:     tf.Identity(),
		children: make(map[NodeID]bool),
	}
	if p, ok := g.nodes[parent]; ok {
		p.children[id] = true
	}
	return id
}

// Root returns the root node.
func (g *MemoryGraph) Root() NodeID { return g.root }

// CreateNode adds a child of parent.
func (g *MemoryGraph) CreateNode(parent NodeID, name string) (NodeID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[parent]; !ok {
		return 0, fmt.Errorf("create %q under %d: %w", name, parent, ErrNoNode)
	}
	return g.add(parent, name), nil
}

// DestroyNode removes id and everything below it. The root cannot be destroyed.
func (g *MemoryGraph) DestroyNode(id NodeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id == g.root {
		return fmt.Errorf("cannot destroy the root node")
	}
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("destroy %d: %w", id, ErrNoNode)
	}
	if p, ok := g.nodes[n.parent]; ok {
		delete(p.children, id)
	}
	g.removeSubtree(id)
	return nil
}

func (g *MemoryGraph) removeSubtree(id NodeID) {
	n := g.nodes[id]
	for child := range n.children {
		g.removeSubtree(child)
	}
	delete(g.nodes, id)
}

func (g *MemoryGraph) update(id NodeID, op string, fn func(n *node)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%s %d: %w", op, id, ErrNoNode)
	}
	fn(n)
	return nil
}

// SetPose sets the node pose relative to its parent.
func (g *MemoryGraph) SetPose(id NodeID, pose tf.Transform) error {
	return g.update(id, "set pose", func(n *node) { n.pose = pose })
}

// SetMesh assigns a mesh URI; empty clears it.
func (g *MemoryGraph) SetMesh(id NodeID, uri string) error {
	return g.update(id, "set mesh", func(n *node) { n.mesh = uri })
}

// SetLabel sets the node's text label.
func (g *MemoryGraph) SetLabel(id NodeID, text string, visible bool) error {
	return g.update(id, "set label", func(n *node) {
		n.label = text
		n.labelVisible = visible
	})
}

// SetColor sets the node colour.
func (g *MemoryGraph) SetColor(id NodeID, c Color) error {
	return g.update(id, "set color", func(n *node) { n.color = c })
}

// Len returns the number of nodes, root included.
func (g *MemoryGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Node returns a snapshot of one node.
func (g *MemoryGraph) Node(id NodeID) (NodeSnapshot, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return NodeSnapshot{}, false
	}
	return g.snapshot(id, n), true
}

// Snapshot returns every node except the root, ordered by id.
func (g *MemoryGraph) Snapshot() []NodeSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		if id != g.root {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]NodeSnapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.snapshot(id, g.nodes[id]))
	}
	return out
}

func (g *MemoryGraph) snapshot(id NodeID, n *node) NodeSnapshot {
	return NodeSnapshot{
		ID:           id,
		Parent:       n.parent,
		Name:         n.name,
		LocalPose:    n.pose,
		WorldPose:    g.worldPose(id),
		MeshURI:      n.mesh,
		Label:        n.label,
		LabelVisible: n.labelVisible,
		Color:        n.color,
	}
}

// worldPose composes poses from the root down to id. Caller holds mu.
func (g *MemoryGraph) worldPose(id NodeID) tf.Transform {
	pose := tf.Identity()
	for cur := id; cur != 0; {
		n, ok := g.nodes[cur]
		if !ok {
			break
		}
		pose = n.pose.Compose(pose)
		cur = n.parent
	}
	return pose
}
