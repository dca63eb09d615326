package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/saltyorg/quicksell/internal/entity"
)

// Chat is a conversation between profiles, optionally about a listing.
// Members are stored in the Chat-Profile association.
type Chat struct {
	entity.Base
	UUID          uuid.UUID `db:"uuid,unique,notnull" json:"uuid"`
	ListingID     *int64    `db:"listing_id,fk:Listing,ondelete:set_null" json:"-"`
	LastMessageID *int64    `db:"last_message_id,fk:Message,ondelete:set_null" json:"-"`
	Subject       string    `db:"subject,notnull" json:"subject"`
	UpdatedAt     time.Time `db:"updated_at,notnull,index" json:"updated_at"`
}

// Message is one entry of a chat.
type Message struct {
	entity.Base
	AuthorID int64  `db:"author_id,fk:Profile,notnull,index" json:"-"`
	ChatID   int64  `db:"chat_id,fk:Chat,notnull,index,ondelete:cascade" json:"-"`
	Text     string `db:"text,notnull" json:"text"`
}
