package visualiser

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/objectdisplay/internal/pipeline"
	"github.com/banshee-data/objectdisplay/internal/scene"
)

// ObjectView is one drawn object as a viewer sees it, with its pose
// resolved to the fixed frame.
type ObjectView struct {
	DB           string      `json:"db"`
	Key          string      `json:"key"`
	Confidence   float64     `json:"confidence"`
	FrameID      string      `json:"frame_id"`
	MeshURI      string      `json:"mesh_uri,omitempty"`
	Label        string      `json:"label"`
	LabelVisible bool        `json:"label_visible"`
	Color        scene.Color `json:"color"`
	Position     [3]float64  `json:"position"`
	// Orientation is x, y, z, w.
	Orientation [4]float64 `json:"orientation"`
}

// SceneFrame is the full visual set after one pipeline update. Frames are
// complete states, so a viewer only ever needs the newest one.
type SceneFrame struct {
	Seq               uint64       `json:"seq"`
	Stamp             time.Time    `json:"stamp"`
	FixedFrame        string       `json:"fixed_frame"`
	Detections        int          `json:"detections"`
	NonRenderable     int          `json:"non_renderable"`
	ResolveFailures   int          `json:"resolve_failures"`
	TransformFailures int          `json:"transform_failures"`
	Abandoned         int          `json:"abandoned"`
	Objects           []ObjectView `json:"objects"`
}

// NodeReader reads scene nodes. *scene.MemoryGraph implements it.
type NodeReader interface {
	Node(id scene.NodeID) (scene.NodeSnapshot, bool)
}

// NewSceneFrame builds a frame from a pipeline update. Visuals whose
// object node is gone from the graph are left out.
func NewSceneFrame(fixedFrame string, res pipeline.Result, visuals []*scene.Visual, nodes NodeReader) SceneFrame {
	f := SceneFrame{
		Seq:               res.Seq,
		Stamp:             res.Stamp,
		FixedFrame:        fixedFrame,
		Detections:        res.Detections,
		NonRenderable:     res.NonRenderable,
		ResolveFailures:   res.ResolveFailures,
		TransformFailures: res.TransformFailures,
		Abandoned:         res.Abandoned,
		Objects:           make([]ObjectView, 0, len(visuals)),
	}
	for _, v := range visuals {
		_, objectNode := v.Nodes()
		snap, ok := nodes.Node(objectNode)
		if !ok {
			continue
		}
		det := v.Detection()
		pos := snap.WorldPose.Position()
		x, y, z, w := snap.WorldPose.Orientation()
		f.Objects = append(f.Objects, ObjectView{
			DB:           det.Type.DB,
			Key:          det.Type.Key,
			Confidence:   det.Confidence,
			FrameID:      det.Header.FrameID,
			MeshURI:      snap.MeshURI,
			Label:        snap.Label,
			LabelVisible: snap.LabelVisible,
			Color:        snap.Color,
			Position:     [3]float64{pos.X, pos.Y, pos.Z},
			Orientation:  [4]float64{x, y, z, w},
		})
	}
	return f
}

// FilterDB returns a copy of f holding only objects from database db.
// An empty db keeps everything.
func (f SceneFrame) FilterDB(db string) SceneFrame {
	if db == "" {
		return f
	}
	out := f
	out.Objects = make([]ObjectView, 0, len(f.Objects))
	for _, o := range f.Objects {
		if o.DB == db {
			out.Objects = append(out.Objects, o)
		}
	}
	return out
}

// EncodeFrame converts f to the wire message.
func EncodeFrame(f SceneFrame) (*structpb.Struct, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode scene frame: %w", err)
	}
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("encode scene frame: %w", err)
	}
	return msg, nil
}

// DecodeFrame converts a wire message back into a SceneFrame.
func DecodeFrame(msg *structpb.Struct) (SceneFrame, error) {
	var f SceneFrame
	data, err := protojson.Marshal(msg)
	if err != nil {
		return f, fmt.Errorf("decode scene frame: %w", err)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decode scene frame: %w", err)
	}
	return f, nil
}
