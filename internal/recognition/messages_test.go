package recognition

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/objectdisplay/internal/objectdb"
)

func TestRecognizedObjectArray_DecodeReplayLine(t *testing.T) {
	line := `{
		"header": {"frame_id": "camera", "stamp": "2024-03-01T12:00:00.5Z"},
		"objects": [
			{
				"header": {"frame_id": "camera", "stamp": "2024-03-01T12:00:00.5Z"},
				"type": {"db": "{\"type\":\"SQLite\",\"path\":\"objects.db\"}", "key": "mug"},
				"confidence": 0.87,
				"pose": {"position": {"x": 0.1, "y": 0.2, "z": 0.9}}
			}
		]
	}`

	var msg RecognizedObjectArray
	require.NoError(t, json.Unmarshal([]byte(line), &msg))
	require.Len(t, msg.Objects, 1)

	obj := msg.Objects[0]
	assert.Equal(t, objectdb.TypeKey{DB: `{"type":"SQLite","path":"objects.db"}`, Key: "mug"}, obj.Type)
	assert.Equal(t, "camera", obj.Header.FrameID)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 500_000_000, time.UTC), obj.Header.Stamp)

	tr, err := obj.Pose.Transform()
	require.NoError(t, err, "omitted orientation reads as identity")
	assert.Equal(t, 1.0, tr.Rotation.Real)
	assert.Equal(t, r3.Vec{X: 0.1, Y: 0.2, Z: 0.9}, tr.Translation)
}

func TestTransformStamped_Stamped(t *testing.T) {
	stamp := time.Unix(1700000000, 0).UTC()
	half := math.Sqrt(0.5)
	msg := NewTransformStamped("map", "camera", stamp, r3.Vec{X: 1, Y: 2, Z: 3}, quat.Number{Real: half, Kmag: half}, true)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	var decoded TransformStamped
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, msg, decoded)

	st, err := decoded.Stamped()
	require.NoError(t, err)
	assert.Equal(t, "map", st.Parent)
	assert.Equal(t, "camera", st.Child)
	assert.True(t, stamp.Equal(st.Stamp))
	assert.InDelta(t, half, st.Transform.Rotation.Kmag, 1e-12)

	back := PoseFromTransform(st.Transform)
	assert.InDelta(t, 3, back.Position.Z, 1e-12)
	assert.InDelta(t, half, back.Orientation.W, 1e-12)
}

func TestPose_InvalidOrientation(t *testing.T) {
	p := Pose{Orientation: Quaternion{X: math.NaN()}}
	_, err := p.Transform()
	assert.Error(t, err)

	_, err = TransformStamped{Transform: p}.Stamped()
	assert.Error(t, err)
}
