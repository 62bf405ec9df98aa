package visualiser

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "objectdisplay.visualiser.SceneService"

const streamScenesMethod = "/" + ServiceName + "/StreamScenes"

// RequestFieldDB is the request field naming the object database to keep;
// empty or absent keeps every object.
const RequestFieldDB = "db"

// SceneServiceServer is the server side of the scene service.
type SceneServiceServer interface {
	StreamScenes(req *structpb.Struct, stream SceneStream) error
}

// SceneStream is the server side of one StreamScenes call.
type SceneStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type sceneStream struct {
	grpc.ServerStream
}

func (s *sceneStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func streamScenesHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(SceneServiceServer).StreamScenes(req, &sceneStream{stream})
}

// SceneServiceDesc describes the scene service: a single server-streaming
// method whose request and frames are google.protobuf.Struct messages.
var SceneServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SceneServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamScenes",
			Handler:       streamScenesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "objectdisplay/visualiser",
}

// RegisterService registers srv with a gRPC server.
func RegisterService(s grpc.ServiceRegistrar, srv SceneServiceServer) {
	s.RegisterService(&SceneServiceDesc, srv)
}

// Ensure Server implements the gRPC interface.
var _ SceneServiceServer = (*Server)(nil)

// Server streams a Publisher's frames.
type Server struct {
	publisher *Publisher
}

// NewServer creates a server reading from publisher.
func NewServer(publisher *Publisher) *Server {
	return &Server{publisher: publisher}
}

// StreamScenes sends the newest frame, then every published frame, until
// the client goes away or the publisher stops.
func (s *Server) StreamScenes(req *structpb.Struct, stream SceneStream) error {
	db := req.GetFields()[RequestFieldDB].GetStringValue()
	clientID := "grpc-" + uuid.NewString()

	client, latest, err := s.publisher.addClient(clientID)
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer s.publisher.removeClient(clientID)
	log.Printf("[gRPC] StreamScenes started: client=%s db=%q", clientID, db)

	if latest != nil {
		if err := s.send(stream, latest, db); err != nil {
			return err
		}
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.stopCh:
			return nil
		case <-client.doneCh:
			return nil
		case frame := <-client.frameCh:
			if err := s.send(stream, frame, db); err != nil {
				return err
			}
		}
	}
}

func (s *Server) send(stream SceneStream, frame *SceneFrame, db string) error {
	msg, err := EncodeFrame(frame.FilterDB(db))
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	if err := stream.Send(msg); err != nil {
		log.Printf("[gRPC] Send error: %v", err)
		return err
	}
	return nil
}

// Client is the client side of the scene service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// SceneReceiver reads frames from one StreamScenes call.
type SceneReceiver struct {
	stream grpc.ClientStream
}

// StreamScenes opens a frame stream, keeping only objects from db when db
// is not empty.
func (c *Client) StreamScenes(ctx context.Context, db string) (*SceneReceiver, error) {
	stream, err := c.cc.NewStream(ctx, &SceneServiceDesc.Streams[0], streamScenesMethod)
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]any{RequestFieldDB: db})
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &SceneReceiver{stream: stream}, nil
}

// Recv blocks for the next frame.
func (r *SceneReceiver) Recv() (SceneFrame, error) {
	msg := new(structpb.Struct)
	if err := r.stream.RecvMsg(msg); err != nil {
		return SceneFrame{}, err
	}
	return DecodeFrame(msg)
}
