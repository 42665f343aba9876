package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// SupportService groups the /support/chat endpoints.
type SupportService struct{ *Client }

// Support returns the support chat service.
func (c *Client) Support() SupportService { return SupportService{c} }

func conversationPath(id, suffix string) string {
	return "/" + url.PathEscape(id) + suffix
}

func requireID(op, id string) error {
	if strings.TrimSpace(id) == "" {
		return wrapOp(op, "", fmt.Errorf("conversation id is required"))
	}
	return nil
}

// Start creates a conversation via POST /support/chat/start.
func (s SupportService) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	return startConversation(ctx, s, req)
}

func startConversation(ctx context.Context, r Requester, req StartRequest) (*StartResult, error) {
	var result StartResult
	if err := r.do(ctx, http.MethodPost, r.supportPath("/start"), req, &result); err != nil {
		return nil, wrapOp("start conversation", "", err)
	}
	if result.ID() == "" {
		return nil, wrapOp("start conversation", "", fmt.Errorf("server returned no conversation id"))
	}
	for i := range result.Messages {
		if result.Messages[i].ConversationID == "" {
			result.Messages[i].ConversationID = result.ID()
		}
	}
	return &result, nil
}

// Messages fetches the full history via GET /support/chat/{id}/messages.
func (s SupportService) Messages(ctx context.Context, conversationID string) (*History, error) {
	return listMessages(ctx, s, conversationID)
}

func listMessages(ctx context.Context, r Requester, conversationID string) (*History, error) {
	const op = "fetch history"
	if err := requireID(op, conversationID); err != nil {
		return nil, err
	}
	var history History
	if err := r.do(ctx, http.MethodGet, r.supportPath(conversationPath(conversationID, "/messages")), nil, &history); err != nil {
		return nil, wrapOp(op, conversationID, err)
	}
	for i := range history.Messages {
		if history.Messages[i].ConversationID == "" {
			history.Messages[i].ConversationID = conversationID
		}
	}
	return &history, nil
}

// Send posts a message via POST /support/chat/{id}/messages.
func (s SupportService) Send(ctx context.Context, conversationID string, req SendRequest) (*SendResult, error) {
	return sendMessage(ctx, s, conversationID, req)
}

func sendMessage(ctx context.Context, r Requester, conversationID string, req SendRequest) (*SendResult, error) {
	const op = "send message"
	if err := requireID(op, conversationID); err != nil {
		return nil, err
	}
	var result SendResult
	if err := r.do(ctx, http.MethodPost, r.supportPath(conversationPath(conversationID, "/messages")), req, &result); err != nil {
		return nil, wrapOp(op, conversationID, err)
	}
	if result.Message.ConversationID == "" {
		result.Message.ConversationID = conversationID
	}
	if result.Reply != nil && result.Reply.ConversationID == "" {
		result.Reply.ConversationID = conversationID
	}
	return &result, nil
}

// MarkRead marks the conversation as seen by the caller via PUT /support/chat/{id}/read.
func (s SupportService) MarkRead(ctx context.Context, conversationID string) (*ReadResult, error) {
	const op = "mark read"
	if err := requireID(op, conversationID); err != nil {
		return nil, err
	}
	var result ReadResult
	if err := s.do(ctx, http.MethodPut, s.supportPath(conversationPath(conversationID, "/read")), nil, &result); err != nil {
		return nil, wrapOp(op, conversationID, err)
	}
	return &result, nil
}

// SetStatus updates the status via PUT /support/chat/{id}/status.
func (s SupportService) SetStatus(ctx context.Context, conversationID string, status Status) (*Conversation, error) {
	const op = "update status"
	if err := requireID(op, conversationID); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, NewValidationError("status", string(status), ValidStatuses)
	}
	body := map[string]string{"status": string(status)}
	return updateConversation(ctx, s, op, conversationPath(conversationID, "/status"), conversationID, body)
}

// SetPriority updates the priority via PUT /support/chat/{id}/priority.
func (s SupportService) SetPriority(ctx context.Context, conversationID string, priority Priority) (*Conversation, error) {
	const op = "update priority"
	if err := requireID(op, conversationID); err != nil {
		return nil, err
	}
	if !priority.Valid() {
		return nil, NewValidationError("priority", string(priority), ValidPriorities)
	}
	body := map[string]string{"priority": string(priority)}
	return updateConversation(ctx, s, op, conversationPath(conversationID, "/priority"), conversationID, body)
}

// End closes the conversation via PUT /support/chat/{id}/end.
func (s SupportService) End(ctx context.Context, conversationID string) (*Conversation, error) {
	const op = "end conversation"
	if err := requireID(op, conversationID); err != nil {
		return nil, err
	}
	return updateConversation(ctx, s, op, conversationPath(conversationID, "/end"), conversationID, nil)
}

// updateConversation issues a metadata PUT. The server may answer with the
// conversation object, a {"conversation": {...}} wrapper, or an empty body.
func updateConversation(ctx context.Context, r Requester, op, path, conversationID string, body any) (*Conversation, error) {
	var result struct {
		Conversation
		Wrapped *Conversation `json:"conversation,omitempty"`
	}
	if err := r.do(ctx, http.MethodPut, r.supportPath(path), body, &result); err != nil {
		return nil, wrapOp(op, conversationID, err)
	}
	conv := result.Conversation
	if result.Wrapped != nil {
		conv = *result.Wrapped
	}
	if conv.ID == "" {
		conv.ID = conversationID
	}
	return &conv, nil
}
