package api

import (
	"fmt"
	"time"

	"github.com/matheus3301/helpchat/internal/chat"
	"github.com/matheus3301/helpchat/internal/engine"
	"github.com/matheus3301/helpchat/internal/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func messageToMap(m chat.Message) map[string]any {
	out := map[string]any{
		"uuid":     m.UUID,
		"id":       float64(m.ID),
		"local_id": m.LocalID,
		"type":     string(m.Type),
		"text":     m.Text,
		"status":   string(m.Status),
		"timing":   string(m.Timing),
		"delivery": string(m.Delivery),
		"incoming": m.Incoming,
		"agent_id": float64(m.AgentID),
		"date":     m.Date.UTC().Format(time.RFC3339),
	}
	if m.Failure != "" {
		out["failure"] = m.Failure
	}
	if a := m.Attachment; a != nil {
		out["attachment"] = map[string]any{
			"url":  a.URL,
			"name": a.Name,
			"mime": a.MIME,
			"size": float64(a.Size),
		}
	}
	if f := m.Form; f != nil {
		form := map[string]any{"status": string(f.Status)}
		if d := f.Details; d != nil {
			form["details"] = map[string]any{"name": d.Name, "phone": d.Phone, "email": d.Email}
		}
		out["form"] = form
	}
	return out
}

func messagesToList(msgs []chat.Message) []any {
	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageToMap(m))
	}
	return out
}

func agentsToList(agents []chat.Agent) []any {
	out := make([]any, 0, len(agents))
	for _, a := range agents {
		out = append(out, map[string]any{
			"id":         float64(a.ID),
			"name":       a.Name,
			"title":      a.Title,
			"avatar_url": a.AvatarURL,
			"state":      string(a.State),
		})
	}
	return out
}

// payloadToMap flattens a bus payload into Struct-compatible values.
func payloadToMap(payload any) map[string]any {
	switch p := payload.(type) {
	case nil:
		return map[string]any{}
	case engine.SessionInitialized:
		return map[string]any{"is_first": p.IsFirst}
	case engine.ChatObtained:
		return map[string]any{"chat_id": float64(p.Chat.ID), "agents": agentsToList(p.Chat.Agents)}
	case engine.AgentsUpdated:
		return map[string]any{"agents": agentsToList(p.Agents)}
	case engine.ReplyingDisabled:
		return map[string]any{"reason": p.Reason}
	case engine.MediaUploadFailure:
		if p.Err == nil {
			return map[string]any{}
		}
		return map[string]any{
			"kind":      string(p.Err.Kind),
			"megabytes": float64(p.Err.Megabytes),
			"reason":    p.Err.Reason,
			"error":     p.Err.Error(),
		}
	case engine.MessagesChanged:
		return map[string]any{"messages": messagesToList(p.Messages)}
	case engine.ContactInfoStatus:
		return map[string]any{"status": string(p.Status)}
	case engine.UnreadCounter:
		return map[string]any{"number": float64(p.Number)}
	case status.StatusChange:
		return map[string]any{"from": string(p.From), "to": string(p.To)}
	default:
		return map[string]any{"value": fmt.Sprint(p)}
	}
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return s, nil
}

func stringField(in *structpb.Struct, key string) string {
	if v, ok := in.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func boolField(in *structpb.Struct, key string) bool {
	if v, ok := in.GetFields()[key]; ok {
		return v.GetBoolValue()
	}
	return false
}

// intField returns a numeric field. Strings are not coerced.
func intField(in *structpb.Struct, key string) (int64, bool) {
	v, ok := in.GetFields()[key]
	if !ok {
		return 0, false
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return 0, false
	}
	return int64(v.GetNumberValue()), true
}

// attachmentsField accepts either bare paths or {path, name, mime} objects.
func attachmentsField(in *structpb.Struct) []chat.PendingAttachment {
	list := in.GetFields()["attachments"].GetListValue().GetValues()
	out := make([]chat.PendingAttachment, 0, len(list))
	for _, v := range list {
		switch k := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			if k.StringValue != "" {
				out = append(out, chat.PendingAttachment{Path: k.StringValue})
			}
		case *structpb.Value_StructValue:
			a := chat.PendingAttachment{
				Path: stringField(k.StructValue, "path"),
				Name: stringField(k.StructValue, "name"),
				MIME: stringField(k.StructValue, "mime"),
			}
			if a.Path != "" {
				out = append(out, a)
			}
		}
	}
	return out
}
