package scene

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/objectdisplay/internal/recognition"
	"github.com/banshee-data/objectdisplay/internal/tf"
)

// Style is the display styling shared by all visuals of a display.
type Style struct {
	Color      Color
	ShowLabels bool
}

// DefaultStyle is opaque orange with labels on.
var DefaultStyle = Style{
	Color:      Color{R: 1, G: 0.5, B: 0, A: 1},
	ShowLabels: true,
}

// Visual is the on-screen representation of one detection. It owns two
// nodes: a frame node placed at the detection header frame, and an object
// node under it placed at the detection pose. The mesh, label and colour
// hang off the object node.
type Visual struct {
	graph  Graph
	frame  NodeID
	object NodeID

	framePose  tf.Transform
	objectPose tf.Transform
	meshURI    string
	detection  recognition.RecognizedObject
	style      Style
	destroyed  bool
}

// NewVisual creates the visual's nodes under parent.
func NewVisual(g Graph, parent NodeID, style Style) (*Visual, error) {
	frame, err := g.CreateNode(parent, "object_frame")
	if err != nil {
		return nil, fmt.Errorf("create visual: %w", err)
	}
	object, err := g.CreateNode(frame, "object")
	if err != nil {
		_ = g.DestroyNode(frame)
		return nil, fmt.Errorf("create visual: %w", err)
	}
	v := &Visual{
		graph:      g,
		frame:      frame,
		object:     object,
		framePose:  tf.Identity(),
		objectPose: tf.Identity(),
		style:      style,
	}
	if err := g.SetColor(object, style.Color); err != nil {
		_ = v.Destroy()
		return nil, err
	}
	return v, nil
}

// LabelText is the label shown for a detection: its key and confidence.
func LabelText(obj recognition.RecognizedObject) string {
	return fmt.Sprintf("%s (%.2f)", obj.Type.Key, obj.Confidence)
}

// SetRepresentation assigns the mesh (empty for none) and the detection
// the visual stands for, placing the object node at the detection pose.
func (v *Visual) SetRepresentation(meshURI string, obj recognition.RecognizedObject) error {
	if v.destroyed {
		return fmt.Errorf("set representation: %w", ErrNoNode)
	}
	pose, err := obj.Pose.Transform()
	if err != nil {
		return fmt.Errorf("object pose of %s: %w", obj.Type, err)
	}
	v.meshURI = meshURI
	v.detection = obj
	v.objectPose = pose

	return errors.Join(
		v.graph.SetMesh(v.object, meshURI),
		v.graph.SetPose(v.object, pose),
		v.graph.SetLabel(v.object, LabelText(obj), v.style.ShowLabels),
	)
}

// SetPosition places the frame node.
func (v *Visual) SetPosition(p r3.Vec) error {
	v.framePose.Translation = p
	return v.graph.SetPose(v.frame, v.framePose)
}

// SetOrientation orients the frame node.
func (v *Visual) SetOrientation(q quat.Number) error {
	v.framePose.Rotation = q
	return v.graph.SetPose(v.frame, v.framePose)
}

// SetFramePose sets position and orientation together.
func (v *Visual) SetFramePose(t tf.Transform) error {
	v.framePose = t
	return v.graph.SetPose(v.frame, t)
}

// SetStyle restyles the visual.
func (v *Visual) SetStyle(s Style) error {
	if v.destroyed {
		return fmt.Errorf("set style: %w", ErrNoNode)
	}
	v.style = s
	return errors.Join(
		v.graph.SetColor(v.object, s.Color),
		v.graph.SetLabel(v.object, LabelText(v.detection), s.ShowLabels),
	)
}

// Destroy removes the visual's nodes. Further calls do nothing.
func (v *Visual) Destroy() error {
	if v.destroyed {
		return nil
	}
	v.destroyed = true
	return v.graph.DestroyNode(v.frame)
}

// WorldPose is the object pose composed with the frame pose.
func (v *Visual) WorldPose() tf.Transform {
	return v.framePose.Compose(v.objectPose)
}

// FramePose returns the pose of the frame node.
func (v *Visual) FramePose() tf.Transform { return v.framePose }

// MeshURI returns the assigned mesh, empty if none.
func (v *Visual) MeshURI() string { return v.meshURI }

// HasMesh reports whether a mesh is assigned.
func (v *Visual) HasMesh() bool { return v.meshURI != "" }

// Detection returns the detection the visual represents.
func (v *Visual) Detection() recognition.RecognizedObject { return v.detection }

// Label returns the label text.
func (v *Visual) Label() string { return LabelText(v.detection) }

// Nodes returns the frame and object node ids.
func (v *Visual) Nodes() (frame, object NodeID) { return v.frame, v.object }

// Destroyed reports whether Destroy has been called.
func (v *Visual) Destroyed() bool { return v.destroyed }
