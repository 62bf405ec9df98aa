package scene

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/objectdisplay/internal/objectdb"
	"github.com/banshee-data/objectdisplay/internal/recognition"
	"github.com/banshee-data/objectdisplay/internal/tf"
)

func detection(key string, conf float64, x float64) recognition.RecognizedObject {
	return recognition.RecognizedObject{
		Header:     recognition.Header{FrameID: "camera"},
		Type:       objectdb.TypeKey{DB: "empty", Key: key},
		Confidence: conf,
		Pose:       recognition.Pose{Position: recognition.Point{X: x}},
	}
}

func TestMemoryGraph_Tree(t *testing.T) {
	g := NewMemoryGraph()
	assert.Equal(t, 1, g.Len())

	a, err := g.CreateNode(g.Root(), "a")
	require.NoError(t, err)
	b, err := g.CreateNode(a, "b")
	require.NoError(t, err)
	c, err := g.CreateNode(g.Root(), "c")
	require.NoError(t, err)
	assert.Equal(t, 4, g.Len())

	require.NoError(t, g.SetPose(a, tf.Transform{Translation: r3.Vec{X: 1}, Rotation: quat.Number{Real: 1}}))
	require.NoError(t, g.SetPose(b, tf.Transform{Translation: r3.Vec{Y: 2}, Rotation: quat.Number{Real: 1}}))

	snap, ok := g.Node(b)
	require.True(t, ok)
	assert.Equal(t, r3.Vec{X: 1, Y: 2}, snap.WorldPose.Translation)
	assert.Equal(t, a, snap.Parent)

	require.NoError(t, g.DestroyNode(a))
	assert.Equal(t, 2, g.Len(), "subtree removed")
	_, ok = g.Node(b)
	assert.False(t, ok)

	assert.ErrorIs(t, g.DestroyNode(a), ErrNoNode)
	assert.ErrorIs(t, g.SetMesh(b, "file:///x.stl"), ErrNoNode)
	_, err = g.CreateNode(b, "orphan")
	assert.ErrorIs(t, err, ErrNoNode)
	assert.Error(t, g.DestroyNode(g.Root()))

	all := g.Snapshot()
	require.Len(t, all, 1)
	assert.Equal(t, c, all[0].ID)
}

func TestVisual_Lifecycle(t *testing.T) {
	g := NewMemoryGraph()
	v, err := NewVisual(g, g.Root(), DefaultStyle)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())

	obj := detection("mug", 0.876, 0.5)
	require.NoError(t, v.SetRepresentation("file:///tmp/mug.stl", obj))
	require.NoError(t, v.SetPosition(r3.Vec{X: 1, Y: 1}))
	require.NoError(t, v.SetOrientation(quat.Number{Real: math.Cos(math.Pi / 4), Kmag: math.Sin(math.Pi / 4)}))

	assert.True(t, v.HasMesh())
	assert.Equal(t, "mug (0.88)", v.Label())
	assert.Equal(t, obj, v.Detection())

	// Object 0.5 along the frame X, which is rotated onto world Y.
	world := v.WorldPose().Translation
	assert.InDelta(t, 1.0, world.X, 1e-9)
	assert.InDelta(t, 1.5, world.Y, 1e-9)

	_, objectNode := v.Nodes()
	snap, ok := g.Node(objectNode)
	require.True(t, ok)
	assert.Equal(t, "file:///tmp/mug.stl", snap.MeshURI)
	assert.Equal(t, "mug (0.88)", snap.Label)
	assert.True(t, snap.LabelVisible)
	assert.Equal(t, DefaultStyle.Color, snap.Color)
	assert.InDelta(t, 1.5, snap.WorldPose.Translation.Y, 1e-9)

	require.NoError(t, v.Destroy())
	assert.True(t, v.Destroyed())
	assert.Equal(t, 1, g.Len(), "both nodes leave the scene")
	require.NoError(t, v.Destroy(), "destroy is idempotent")
	assert.Error(t, v.SetRepresentation("", obj))
}

func TestVisual_WithoutMesh(t *testing.T) {
	g := NewMemoryGraph()
	v, err := NewVisual(g, g.Root(), Style{Color: Color{G: 1, A: 0.5}})
	require.NoError(t, err)

	require.NoError(t, v.SetRepresentation("", detection("ghost", 0.4, 0)))
	assert.False(t, v.HasMesh())

	_, objectNode := v.Nodes()
	snap, _ := g.Node(objectNode)
	assert.Empty(t, snap.MeshURI)
	assert.False(t, snap.LabelVisible)
	assert.Equal(t, "ghost (0.40)", snap.Label)
}

func TestVisual_SetStyle(t *testing.T) {
	g := NewMemoryGraph()
	v, err := NewVisual(g, g.Root(), DefaultStyle)
	require.NoError(t, err)
	require.NoError(t, v.SetRepresentation("", detection("mug", 1, 0)))

	style := Style{Color: Color{B: 1, A: 0.3}, ShowLabels: false}
	require.NoError(t, v.SetStyle(style))

	_, objectNode := v.Nodes()
	snap, _ := g.Node(objectNode)
	assert.Equal(t, style.Color, snap.Color)
	assert.False(t, snap.LabelVisible)
}

func TestVisual_SeparateNodes(t *testing.T) {
	g := NewMemoryGraph()
	a, err := NewVisual(g, g.Root(), DefaultStyle)
	require.NoError(t, err)
	b, err := NewVisual(g, g.Root(), DefaultStyle)
	require.NoError(t, err)

	af, ao := a.Nodes()
	bf, bo := b.Nodes()
	assert.NotEqual(t, af, bf)
	assert.NotEqual(t, ao, bo)

	require.NoError(t, a.Destroy())
	_, ok := g.Node(bo)
	assert.True(t, ok, "destroying one visual leaves the other")
}

func TestNewVisual_BadParent(t *testing.T) {
	g := NewMemoryGraph()
	_, err := NewVisual(g, NodeID(999), DefaultStyle)
	assert.ErrorIs(t, err, ErrNoNode)
	assert.Equal(t, 1, g.Len())
}

func TestMemoryGraph_ConcurrentSnapshot(t *testing.T) {
	g := NewMemoryGraph()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			v, err := NewVisual(g, g.Root(), DefaultStyle)
			if err == nil {
				_ = v.Destroy()
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = g.Snapshot()
		}
	}()
	wg.Wait()
	assert.Equal(t, 1, g.Len())
}
