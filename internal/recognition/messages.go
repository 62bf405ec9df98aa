// Package recognition defines the messages consumed by the display:
// batches of recognized objects and the frame transforms needed to place
// them. The JSON encoding is the one used by replay files.
package recognition

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/objectdisplay/internal/objectdb"
	"github.com/banshee-data/objectdisplay/internal/tf"
)

// Header locates a message in space and time.
type Header struct {
	FrameID string    `json:"frame_id"`
	Stamp   time.Time `json:"stamp"`
}

// Point is a position in metres.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is an orientation. The all-zero value is read as identity so
// that replay files may omit it.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Pose is a position and orientation relative to a header frame.
type Pose struct {
	Position    Point      `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// Transform converts the pose into a rigid transform.
func (p Pose) Transform() (tf.Transform, error) {
	q := p.Orientation
	if q == (Quaternion{}) {
		q.W = 1
	}
	return tf.NewTransform(p.Position.X, p.Position.Y, p.Position.Z, q.X, q.Y, q.Z, q.W)
}

// PoseFromTransform is the inverse of Pose.Transform.
func PoseFromTransform(t tf.Transform) Pose {
	x, y, z, w := t.Orientation()
	return Pose{
		Position:    Point{X: t.Translation.X, Y: t.Translation.Y, Z: t.Translation.Z},
		Orientation: Quaternion{X: x, Y: y, Z: z, W: w},
	}
}

// RecognizedObject is one detection: which object type was seen, where,
// and how sure the recogniser is.
type RecognizedObject struct {
	Header     Header           `json:"header"`
	Type       objectdb.TypeKey `json:"type"`
	Confidence float64          `json:"confidence"`
	Pose       Pose             `json:"pose"`
}

// RecognizedObjectArray is one batch of detections.
type RecognizedObjectArray struct {
	Header  Header             `json:"header"`
	Objects []RecognizedObject `json:"objects"`
}

// TransformStamped places ChildFrameID relative to Header.FrameID.
type TransformStamped struct {
	Header       Header `json:"header"`
	ChildFrameID string `json:"child_frame_id"`
	Transform    Pose   `json:"transform"`
	Static       bool   `json:"static,omitempty"`
}

// Stamped converts the message for a tf.Buffer.
func (m TransformStamped) Stamped() (tf.Stamped, error) {
	t, err := m.Transform.Transform()
	if err != nil {
		return tf.Stamped{}, fmt.Errorf("transform %s -> %s: %w", m.Header.FrameID, m.ChildFrameID, err)
	}
	return tf.Stamped{
		Parent:    m.Header.FrameID,
		Child:     m.ChildFrameID,
		Stamp:     m.Header.Stamp,
		Transform: t,
	}, nil
}

// NewTransformStamped builds a message from a transform.
func NewTransformStamped(parent, child string, stamp time.Time, translation r3.Vec, rotation quat.Number, static bool) TransformStamped {
	return TransformStamped{
		Header:       Header{FrameID: parent, Stamp: stamp},
		ChildFrameID: child,
		Transform:    PoseFromTransform(tf.Transform{Translation: translation, Rotation: rotation}),
		Static:       static,
	}
}
