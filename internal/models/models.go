package models

import "time"

type User struct {
	ID        int64     `json:"id" db:"id"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	Email     string    `json:"email" db:"email"`
	Password  string    `json:"-" db:"password_hash"`
	IsAdmin   bool      `json:"is_admin" db:"is_admin"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Conversation struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	IsGroup   bool      `json:"is_group" db:"is_group"`
	CreatedBy int64     `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type ConversationMember struct {
	ConversationID int64     `json:"conversation_id" db:"conversation_id"`
	UserID         int64     `json:"user_id" db:"user_id"`
	Role           string    `json:"role" db:"role"` // "admin" or "member"
	JoinedAt       time.Time `json:"joined_at" db:"joined_at"`
}

type Message struct {
	ID             int64     `json:"id" db:"id"`
	ConversationID int64     `json:"conversation_id" db:"conversation_id"`
	SenderID       int64     `json:"sender_id" db:"sender_id"`
	Body           string    `json:"body" db:"body"`
	ReplyToID      *int64    `json:"reply_to_id" db:"reply_to_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// HistoryMessage is a message row joined with its sender's display name and,
// when the message is a reply, the body of the message it replies to.
type HistoryMessage struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
	ReplyToID      *int64    `json:"reply_to_id"`
	SenderID       int64     `json:"sender_id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	ReplyBody      *string   `json:"reply_body"`
}

// Request/Response structures
type RegisterRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type CreateGroupRequest struct {
	Name      string  `json:"name"`
	MemberIDs []int64 `json:"memberIds"`
}

type AdminCreateUserRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	IsAdmin   bool   `json:"is_admin"`
}

type AdminUpdateUserRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IsAdmin   bool   `json:"is_admin"`
	IsActive  bool   `json:"is_active"`
}

type RegistrationToggleRequest struct {
	Open bool `json:"open"`
}

// WebSocket frames.
//
// Inbound frames use the client-facing camelCase field names; outbound frames
// mirror the stored message rows and use snake_case.
type InboundFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId"`
	Body           string `json:"body"`
	ReplyToID      *int64 `json:"replyToId"`
}

type OutboundMessage struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
	ReplyToID      *int64    `json:"reply_to_id"`
	SenderID       int64     `json:"sender_id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
}

type NewMessageFrame struct {
	Type    string          `json:"type"`
	Message OutboundMessage `json:"message"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
