// Package api exposes the chat engine to local clients as the gRPC service
// helpchat.v1.ChatControl. Requests and responses are google.protobuf.Struct
// values, so no generated code is needed on either side.
package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "helpchat.v1.ChatControl"

// Method names.
const (
	MethodSendMessage          = "SendMessage"
	MethodResendMessage        = "ResendMessage"
	MethodDeleteMessage        = "DeleteMessage"
	MethodRequestHistory       = "RequestHistory"
	MethodMarkSeen             = "MarkSeen"
	MethodToggleContactForm    = "ToggleContactForm"
	MethodSubmitContactInfo    = "SubmitContactInfo"
	MethodSetActiveChat        = "SetActiveChat"
	MethodRestoreChat          = "RestoreChat"
	MethodMakeAllAgentsOffline = "MakeAllAgentsOffline"
	MethodSendTyping           = "SendTyping"
	MethodSaveDraft            = "SaveDraft"
	MethodTurnActive           = "TurnActive"
	MethodTurnInactive         = "TurnInactive"
	MethodContactInfoStatus    = "ContactInfoStatus"
	MethodGetStatus            = "GetStatus"
	MethodListMessages         = "ListMessages"
	MethodWatchEvents          = "WatchEvents"
)

// ChatControlServer is the server API for the ChatControl service.
type ChatControlServer interface {
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RequestHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkSeen(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ToggleContactForm(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitContactInfo(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetActiveChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RestoreChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MakeAllAgentsOffline(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendTyping(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SaveDraft(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TurnActive(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TurnInactive(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ContactInfoStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStream) error
}

type unaryFunc func(ChatControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ChatControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatControlServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes ChatControl for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodSendMessage, ChatControlServer.SendMessage),
		unary(MethodResendMessage, ChatControlServer.ResendMessage),
		unary(MethodDeleteMessage, ChatControlServer.DeleteMessage),
		unary(MethodRequestHistory, ChatControlServer.RequestHistory),
		unary(MethodMarkSeen, ChatControlServer.MarkSeen),
		unary(MethodToggleContactForm, ChatControlServer.ToggleContactForm),
		unary(MethodSubmitContactInfo, ChatControlServer.SubmitContactInfo),
		unary(MethodSetActiveChat, ChatControlServer.SetActiveChat),
		unary(MethodRestoreChat, ChatControlServer.RestoreChat),
		unary(MethodMakeAllAgentsOffline, ChatControlServer.MakeAllAgentsOffline),
		unary(MethodSendTyping, ChatControlServer.SendTyping),
		unary(MethodSaveDraft, ChatControlServer.SaveDraft),
		unary(MethodTurnActive, ChatControlServer.TurnActive),
		unary(MethodTurnInactive, ChatControlServer.TurnInactive),
		unary(MethodContactInfoStatus, ChatControlServer.ContactInfoStatus),
		unary(MethodGetStatus, ChatControlServer.GetStatus),
		unary(MethodListMessages, ChatControlServer.ListMessages),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: MethodWatchEvents,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(ChatControlServer).WatchEvents(in, stream)
			},
			ServerStreams: true,
		},
	},
	Metadata: "helpchat/v1/control.proto",
}

// RegisterChatControlServer registers srv on s.
func RegisterChatControlServer(s grpc.ServiceRegistrar, srv ChatControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// FullMethod returns "/helpchat.v1.ChatControl/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Client calls ChatControl over a client connection.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial connects to a daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{cc: conn, conn: conn}, nil
}

// Close closes a connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Call invokes a unary method. A nil req sends an empty struct.
func (c *Client) Call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch opens the event stream, optionally filtered by kind prefix, and
// calls fn for every event until the stream ends or fn returns an error.
func (c *Client) Watch(ctx context.Context, prefix string, fn func(*structpb.Struct) error) error {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], FullMethod(MethodWatchEvents))
	if err != nil {
		return err
	}
	in, err := structpb.NewStruct(map[string]any{"prefix": prefix})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		evt := new(structpb.Struct)
		if err := stream.RecvMsg(evt); err != nil {
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
