package models

import "time"

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type DeliveryStatus string

const (
	DeliverySent DeliveryStatus = "sent"
	DeliveryRead DeliveryStatus = "read"
)

// AttachmentMeta is one manifest entry. Attachment bytes are not stored.
type AttachmentMeta struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Message is one chat-visible unit, inbound or outbound.
// ExternalMessageID is unique per account and is the dedup key.
type Message struct {
	ID                int64            `json:"id"`
	AccountID         int64            `json:"account_id"`
	ContactEmail      string           `json:"contact_email"`
	Direction         Direction        `json:"direction"`
	Subject           string           `json:"subject"`
	Body              string           `json:"body"`
	BodyHTML          string           `json:"body_html,omitempty"`
	SentAt            time.Time        `json:"sent_at"`
	ExternalMessageID string           `json:"external_message_id"`
	Attachments       []AttachmentMeta `json:"attachments"`
	InReplyTo         string           `json:"in_reply_to_message_id,omitempty"`
	DeliveryStatus    DeliveryStatus   `json:"delivery_status"`
	IsRead            bool             `json:"is_read"`
	ReadAt            *time.Time       `json:"read_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// OutboundAttachment is an attachment as submitted for sending, with base64 data.
type OutboundAttachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
}

type Contact struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"account_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChatSummary is one row of the conversation overview.
type ChatSummary struct {
	ContactEmail  string    `json:"contact_email"`
	DisplayName   string    `json:"display_name,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
	LastBody      string    `json:"last_body"`
	UnreadCount   int       `json:"unread_count"`
}

type Group struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// GroupMessage is the log-only record of a group send.
type GroupMessage struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"account_id"`
	GroupID     int64     `json:"group_id"`
	Direction   Direction `json:"direction"`
	SenderEmail string    `json:"sender_email"`
	Body        string    `json:"body"`
	BodyHTML    string    `json:"body_html,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// SyncWatermark is the highest mailbox UID fully processed for an account.
type SyncWatermark struct {
	AccountID int64     `json:"account_id"`
	LastUID   uint32    `json:"last_uid"`
	UpdatedAt time.Time `json:"updated_at"`
}
