package api

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/helpchat/internal/bus"
	"github.com/matheus3301/helpchat/internal/chat"
	"github.com/matheus3301/helpchat/internal/engine"
	"github.com/matheus3301/helpchat/internal/status"
	"github.com/matheus3301/helpchat/internal/syncstate"
	"github.com/matheus3301/helpchat/internal/typing"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Engine is the part of *engine.Controller the service drives.
type Engine interface {
	SendMessage(text string, attachments []chat.PendingAttachment)
	ResendMessage(localID string)
	DeleteMessage(localID string)
	RequestMessageHistory(fromID *int64, behavior syncstate.Behavior)
	MarkSeen(messageUUID string)
	ToggleContactForm(messageUUID string)
	SubmitContactInfo(info chat.ContactInfo)
	SetActiveChat(active bool)
	RestoreChat()
	MakeAllAgentsOffline()
	SendTyping(text string)
	TurnActive()
	TurnInactive(subsystems engine.Subsystem)
	InformContactInfoStatus()
	Snapshot(ctx context.Context) (engine.Snapshot, error)
	InactivityPlaceholder(ctx context.Context) (string, error)
}

// History reads stored messages.
type History interface {
	History(chatID int64, after *int64) ([]chat.Message, error)
}

// Drafts persists unsent input.
type Drafts interface {
	Save(d typing.Draft) error
	Draft(ctx typing.Context) (typing.Draft, bool)
}

const defaultListLimit = 50

// ChatService implements ChatControlServer on top of the engine.
type ChatService struct {
	profile string
	engine  Engine
	history History
	drafts  Drafts
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewChatService creates the service. drafts may be nil.
func NewChatService(profile string, eng Engine, history History, drafts Drafts, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		profile: profile,
		engine:  eng,
		history: history,
		drafts:  drafts,
		machine: machine,
		bus:     b,
		logger:  logger.Named("api"),
	}
}

var _ ChatControlServer = (*ChatService)(nil)

func accepted() (*structpb.Struct, error) {
	return newStruct(map[string]any{"accepted": true})
}

func (s *ChatService) SendMessage(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	text := stringField(in, "text")
	attachments := attachmentsField(in)
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "text or attachments required")
	}
	s.engine.SendMessage(text, attachments)
	return accepted()
}

func (s *ChatService) ResendMessage(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(in, "local_id")
	if id == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "local_id required")
	}
	s.engine.ResendMessage(id)
	return accepted()
}

func (s *ChatService) DeleteMessage(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(in, "local_id")
	if id == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "local_id required")
	}
	s.engine.DeleteMessage(id)
	return accepted()
}

func (s *ChatService) RequestHistory(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	raw := stringField(in, "behavior")
	if raw == "" {
		raw = string(syncstate.Actualize)
	}
	behavior, ok := syncstate.ParseBehavior(raw)
	if !ok {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "unknown behavior %q", raw)
	}
	var fromID *int64
	if id, ok := intField(in, "from_id"); ok {
		fromID = &id
	}
	s.engine.RequestMessageHistory(fromID, behavior)
	return accepted()
}

func (s *ChatService) MarkSeen(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(in, "uuid")
	if id == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "uuid required")
	}
	s.engine.MarkSeen(id)
	return accepted()
}

func (s *ChatService) ToggleContactForm(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(in, "uuid")
	if id == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "uuid required")
	}
	s.engine.ToggleContactForm(id)
	return accepted()
}

func (s *ChatService) SubmitContactInfo(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	info := chat.ContactInfo{
		Name:  stringField(in, "name"),
		Phone: stringField(in, "phone"),
		Email: stringField(in, "email"),
	}
	if info.Name == "" && info.Phone == "" && info.Email == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "contact info is empty")
	}
	s.engine.SubmitContactInfo(info)
	return accepted()
}

func (s *ChatService) SetActiveChat(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	s.engine.SetActiveChat(boolField(in, "active"))
	return accepted()
}

func (s *ChatService) RestoreChat(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.engine.RestoreChat()
	return accepted()
}

func (s *ChatService) MakeAllAgentsOffline(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.engine.MakeAllAgentsOffline()
	return accepted()
}

// SendTyping forwards the typing notification and keeps the text as the
// chat's draft.
func (s *ChatService) SendTyping(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	text := stringField(in, "text")
	s.engine.SendTyping(text)
	if err := s.saveDraft(ctx, text, nil); err != nil {
		s.logger.Warn("failed to save draft", zap.Error(err))
	}
	return accepted()
}

func (s *ChatService) SaveDraft(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var paths []string
	for _, a := range attachmentsField(in) {
		paths = append(paths, a.Path)
	}
	err := s.saveDraft(ctx, stringField(in, "text"), paths)
	switch {
	case errors.Is(err, typing.ErrTooManyAttachments):
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	case err != nil:
		return nil, grpcstatus.Errorf(codes.Internal, "save draft: %v", err)
	}
	return accepted()
}

func (s *ChatService) saveDraft(ctx context.Context, text string, attachments []string) error {
	if s.drafts == nil {
		return nil
	}
	snap, err := s.engine.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.ChatID == 0 {
		return nil
	}
	return s.drafts.Save(typing.Draft{Context: typing.ChatContext(snap.ChatID), Text: text, Attachments: attachments})
}

func (s *ChatService) TurnActive(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.engine.TurnActive()
	return accepted()
}

// TurnInactive resets the connection, the stored artifacts, or both when
// neither flag is given.
func (s *ChatService) TurnInactive(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var subsystems engine.Subsystem
	if boolField(in, "connection") {
		subsystems |= engine.SubsystemConnection
	}
	if boolField(in, "artifacts") {
		subsystems |= engine.SubsystemArtifacts
	}
	if subsystems == 0 {
		subsystems = engine.SubsystemConnection | engine.SubsystemArtifacts
	}
	s.engine.TurnInactive(subsystems)
	return accepted()
}

func (s *ChatService) ContactInfoStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.engine.InformContactInfoStatus()
	return accepted()
}

func (s *ChatService) GetStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	snap, err := s.engine.Snapshot(ctx)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "engine: %v", err)
	}
	placeholder, err := s.engine.InactivityPlaceholder(ctx)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "engine: %v", err)
	}
	state := status.Booting
	if s.machine != nil {
		state = s.machine.Current()
	}
	out := map[string]any{
		"profile":     s.profile,
		"state":       string(state),
		"activity":    string(snap.Activity),
		"mode":        string(snap.Mode),
		"queued":      float64(snap.Queued),
		"has_unread":  snap.HasUnread,
		"active":      snap.Active,
		"chat_id":     float64(snap.ChatID),
		"placeholder": placeholder,
		"watchers":    float64(s.bus.Subscribers()),
		"dropped":     float64(s.bus.Dropped()),
	}
	if s.drafts != nil && snap.ChatID != 0 {
		if d, ok := s.drafts.Draft(typing.ChatContext(snap.ChatID)); ok {
			out["draft"] = d.Text
		}
	}
	return newStruct(out)
}

// ListMessages returns the newest messages of the chat, oldest first.
func (s *ChatService) ListMessages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	limit := defaultListLimit
	if n, ok := intField(in, "limit"); ok && n > 0 {
		limit = int(n)
	}
	snap, err := s.engine.Snapshot(ctx)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "engine: %v", err)
	}
	if snap.ChatID == 0 {
		return newStruct(map[string]any{"messages": []any{}})
	}
	msgs, err := s.history.History(snap.ChatID, nil)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return newStruct(map[string]any{"messages": messagesToList(msgs)})
}

// WatchEvents streams bus events whose kind starts with the requested
// prefix until the client goes away.
func (s *ChatService) WatchEvents(in *structpb.Struct, stream grpc.ServerStream) error {
	ch, unsub := s.bus.Subscribe(stringField(in, "prefix"), 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			env, err := newStruct(map[string]any{
				"event_id":            uuid.New().String(),
				"profile":             s.profile,
				"kind":                evt.Kind,
				"occurred_at_unix_ms": float64(evt.Timestamp.UnixMilli()),
				"payload":             payloadToMap(evt.Payload),
			})
			if err != nil {
				s.logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}
