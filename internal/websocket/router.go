package websocket

import (
	"encoding/json"
	"log"
	"os"
	"strings"

	"chatd/internal/models"
)

// Store is the slice of the conversation store the router needs: membership
// checks, persistence, and the member list for fan-out.
type Store interface {
	IsConversationMember(conversationID, userID int64) (bool, error)
	SaveMessage(conversationID, senderID int64, body string, replyToID *int64) (*models.Message, error)
	ConversationMemberIDs(conversationID int64) ([]int64, error)
}

// Router validates inbound send requests, persists them, and fans the stored
// message out to every live connection of every conversation member.
type Router struct {
	store  Store
	hub    *Hub
	logger *log.Logger
}

func NewRouter(store Store, hub *Hub) *Router {
	return &Router{
		store:  store,
		hub:    hub,
		logger: log.New(os.Stdout, "[ROUTER] ", log.LstdFlags|log.Lshortfile),
	}
}

// Send handles one send_message request from a client.
//
// Non-members are dropped silently: no persistence, no frames, no error reply,
// so senders can't probe which conversations exist. Store failures abort the
// send and are reported only to the sender. Once a message is persisted,
// per-connection delivery failures are logged and skipped; they never abort
// the rest of the fan-out and never roll back the stored row.
func (r *Router) Send(sender *Client, frame models.InboundFrame) {
	member, err := r.store.IsConversationMember(frame.ConversationID, sender.userID)
	if err != nil {
		r.logger.Printf("Membership check failed for user %d in conversation %d: %v", sender.userID, frame.ConversationID, err)
		sender.sendError("Failed to send message")
		return
	}
	if !member {
		r.logger.Printf("User %d is not a member of conversation %d, dropping message", sender.userID, frame.ConversationID)
		return
	}

	body := strings.TrimSpace(frame.Body)
	if body == "" {
		sender.sendError("Message body must not be empty")
		return
	}

	message, err := r.store.SaveMessage(frame.ConversationID, sender.userID, body, frame.ReplyToID)
	if err != nil {
		r.logger.Printf("Failed to save message from user %d: %v", sender.userID, err)
		sender.sendError("Failed to send message")
		return
	}

	payload, err := json.Marshal(models.NewMessageFrame{
		Type: "new_message",
		Message: models.OutboundMessage{
			ID:             message.ID,
			ConversationID: message.ConversationID,
			Body:           message.Body,
			CreatedAt:      message.CreatedAt,
			ReplyToID:      message.ReplyToID,
			SenderID:       sender.userID,
			FirstName:      sender.firstName,
			LastName:       sender.lastName,
		},
	})
	if err != nil {
		r.logger.Printf("Failed to marshal message %d: %v", message.ID, err)
		sender.sendError("Failed to send message")
		return
	}

	memberIDs, err := r.store.ConversationMemberIDs(frame.ConversationID)
	if err != nil {
		// The message is already persisted; members will see it via history.
		r.logger.Printf("Failed to resolve members of conversation %d: %v", frame.ConversationID, err)
		return
	}

	for _, memberID := range memberIDs {
		for _, client := range r.hub.ConnectionsFor(memberID) {
			if err := client.enqueue(payload); err != nil {
				r.logger.Printf("Dropping message %d for client %s of user %d: %v", message.ID, client.id, memberID, err)
			}
		}
	}
}
