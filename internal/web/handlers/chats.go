package handlers

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saltyorg/quicksell/internal/database"
	"github.com/saltyorg/quicksell/internal/entity"
	"github.com/saltyorg/quicksell/internal/models"
	"github.com/saltyorg/quicksell/internal/web/middleware"
	"github.com/saltyorg/quicksell/internal/web/sse"
)

type chatRequest struct {
	ListingUUID uuid.UUID `json:"listing_uuid"`
	Text        string    `json:"text"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	*models.Message
	Author uuid.UUID `json:"author"`
}

type chatEvent struct {
	Chat    uuid.UUID       `json:"chat"`
	Subject string          `json:"subject"`
	Message messageResponse `json:"message"`
}

// Chats lists the conversations of the current user, most recent first
func (h *Handlers) Chats(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	_, profile, err := h.currentProfile(r, s)
	if err != nil {
		return err
	}
	ids, err := h.models.ChatMembers.Linked(r.Context(), s, profile)
	if err != nil {
		return err
	}
	page, err := pageParam(r)
	if err != nil {
		return err
	}
	chats, err := h.models.Chats.Paginate(r.Context(), s, "-updated_at", page, entity.In("id", ids...))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, chats)
}

// CreateChat starts a conversation with the seller of a listing
func (h *Handlers) CreateChat(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	_, profile, err := h.currentProfile(r, s)
	if err != nil {
		return err
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := ValidateText(req.Text, "text", 4000); err != nil {
		return badRequest(err)
	}
	listing, err := h.listingByUUID(r, s, req.ListingUUID)
	if err != nil {
		return err
	}
	if listing.SellerID == profile.ID {
		return middleware.BadRequest("cannot start a chat about your own listing")
	}
	seller, err := h.models.Profiles.Get(r.Context(), s, listing.SellerID)
	if err != nil {
		return err
	}
	if seller == nil {
		return middleware.NotFound("Seller not found")
	}

	chat := &models.Chat{
		UUID:      uuid.New(),
		ListingID: &listing.ID,
		Subject:   listing.Title,
		UpdatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := h.models.Chats.Insert(r.Context(), s, chat); err != nil {
		return err
	}
	for _, member := range []*models.Profile{profile, seller} {
		if err := h.models.ChatMembers.Link(r.Context(), s, chat, member); err != nil {
			return err
		}
	}
	msg, err := h.post(r, s, chat, profile, req.Text)
	if err != nil {
		return err
	}
	if err := h.publish(r, s, sse.EventChatCreated, chat, profile, msg); err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, chat)
}

// memberChat loads the chat in the URL and checks that profile takes part in it.
func (h *Handlers) memberChat(r *http.Request, s *database.Session, profile *models.Profile) (*models.Chat, error) {
	id, err := uuidParam(r, "uuid")
	if err != nil {
		return nil, err
	}
	chat, err := h.models.Chats.FetchOne(r.Context(), s, entity.Eq("uuid", id))
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, middleware.NotFound("Chat not found")
	}
	member, err := h.models.ChatMembers.Has(r.Context(), s, chat, profile)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, middleware.Forbidden("Not a member of this chat")
	}
	return chat, nil
}

// Messages returns one page of a chat, newest first
func (h *Handlers) Messages(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	_, profile, err := h.currentProfile(r, s)
	if err != nil {
		return err
	}
	chat, err := h.memberChat(r, s, profile)
	if err != nil {
		return err
	}
	page, err := pageParam(r)
	if err != nil {
		return err
	}
	messages, err := h.models.Messages.Paginate(r.Context(), s, "-created_at", page, entity.Eq("chat_id", chat.ID))
	if err != nil {
		return err
	}

	authorIDs := make([]int64, len(messages))
	for i, m := range messages {
		authorIDs[i] = m.AuthorID
	}
	authors, err := h.models.Profiles.FetchList(r.Context(), s, entity.In("id", authorIDs...))
	if err != nil {
		return err
	}
	byID := make(map[int64]uuid.UUID, len(authors))
	for _, a := range authors {
		byID[a.ID] = a.UUID
	}
	resp := make([]messageResponse, len(messages))
	for i, m := range messages {
		resp[i] = messageResponse{Message: m, Author: byID[m.AuthorID]}
	}
	return writeJSON(w, http.StatusOK, resp)
}

// PostMessage appends a message to a chat
func (h *Handlers) PostMessage(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	_, profile, err := h.currentProfile(r, s)
	if err != nil {
		return err
	}
	chat, err := h.memberChat(r, s, profile)
	if err != nil {
		return err
	}
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := ValidateText(req.Text, "text", 4000); err != nil {
		return badRequest(err)
	}
	msg, err := h.post(r, s, chat, profile, req.Text)
	if err != nil {
		return err
	}
	if err := h.publish(r, s, sse.EventChatMessage, chat, profile, msg); err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, messageResponse{Message: msg, Author: profile.UUID})
}

// post stores a message and moves it to the top of the chat.
func (h *Handlers) post(r *http.Request, s *database.Session, chat *models.Chat, author *models.Profile, text string) (*models.Message, error) {
	msg := &models.Message{AuthorID: author.ID, ChatID: chat.ID, Text: strings.TrimSpace(text)}
	if err := h.models.Messages.Insert(r.Context(), s, msg); err != nil {
		return nil, err
	}
	err := h.models.Chats.Update(r.Context(), s, chat, entity.Fields{
		"last_message_id": msg.ID,
		"updated_at":      msg.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// publish notifies the other members of chat about msg once the session
// commits. Nothing is sent for a rolled back session.
func (h *Handlers) publish(r *http.Request, s *database.Session, typ sse.EventType, chat *models.Chat, author *models.Profile, msg *models.Message) error {
	if h.events == nil {
		return nil
	}
	members, err := h.models.ChatMembers.Linked(r.Context(), s, chat)
	if err != nil {
		return err
	}
	recipients := slices.DeleteFunc(members, func(id int64) bool { return id == author.ID })
	if len(recipients) == 0 {
		return nil
	}
	event := sse.Event{
		Type: typ,
		Data: chatEvent{
			Chat:    chat.UUID,
			Subject: chat.Subject,
			Message: messageResponse{Message: msg, Author: author.UUID},
		},
		Recipients: recipients,
	}
	s.AfterCommit(func() { h.events.Broadcast(event) })
	return nil
}
