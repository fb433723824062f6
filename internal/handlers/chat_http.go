package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/apperr"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/middleware"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/models"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ChatAPI is the part of the chat service the HTTP handlers use.
type ChatAPI interface {
	ListForUser(ctx context.Context, userID string) ([]models.ChatView, error)
	Create(ctx context.Context, in services.CreateChatInput, creatorID string) (models.ChatView, error)
	EnsureGeneral(ctx context.Context) (models.ChatView, error)
	GetChat(ctx context.Context, chatID, userID string) (models.ChatDetail, error)
	Page(ctx context.Context, chatID, userID string, page, limit int) (models.MessagePage, error)
	Before(ctx context.Context, chatID, userID string, beforeSeq int64, limit int) (models.MessagePage, error)
	Append(ctx context.Context, chatID, senderID, content, clientID string) (models.Message, error)
}

// Pagination describes where a history response sits.
type Pagination struct {
	HasMore bool `json:"hasMore"`
	Page    int  `json:"page,omitempty"`
}

// LoadMessagesResponse is returned by the history endpoint.
type LoadMessagesResponse struct {
	Success    bool             `json:"success"`
	Messages   []models.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// SendMessageRequest is the body of a message send. ClientID is an optional
// idempotency token echoed back on the stored message.
type SendMessageRequest struct {
	Content  string `json:"content"`
	ClientID string `json:"clientId,omitempty"`
}

type SendMessageResponse struct {
	Success bool           `json:"success"`
	Message models.Message `json:"message"`
}

type ChatHandler struct {
	chats ChatAPI
	log   *zap.Logger
}

func NewChatHandler(chats ChatAPI, log *zap.Logger) *ChatHandler {
	return &ChatHandler{chats: chats, log: log}
}

// ListChats returns the session user's chats, most recently updated first.
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	views, err := h.chats.ListForUser(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if views == nil {
		views = []models.ChatView{}
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var in services.CreateChatInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	view, err := h.chats.Create(r.Context(), in, middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// Bootstrap makes sure the general chat exists and returns it.
func (h *ChatHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	view, err := h.chats.EnsureGeneral(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	detail, err := h.chats.GetChat(r.Context(), chi.URLParam(r, "chatId"), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// LoadMessages serves history either by page number or by sequence cursor.
// Query params:
//
//	page   (optional, default 1; 1 is the newest chunk)
//	limit  (optional, default and max from config)
//	before (optional sequence number; takes precedence over page)
func (h *ChatHandler) LoadMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chatID := chi.URLParam(r, "chatId")
	userID := middleware.UserID(r.Context())

	limit, err := intParam(q.Get("limit"), 0, "limit")
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	var page models.MessagePage
	if before := q.Get("before"); before != "" {
		seq, perr := strconv.ParseInt(before, 10, 64)
		if perr != nil {
			writeError(w, r, h.log, apperr.Validation("before must be a sequence number"))
			return
		}
		page, err = h.chats.Before(r.Context(), chatID, userID, seq, limit)
	} else {
		n, perr := intParam(q.Get("page"), 1, "page")
		if perr != nil {
			writeError(w, r, h.log, perr)
			return
		}
		page, err = h.chats.Page(r.Context(), chatID, userID, n, limit)
	}
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if page.Messages == nil {
		page.Messages = []models.Message{}
	}

	writeJSON(w, http.StatusOK, LoadMessagesResponse{
		Success:    true,
		Messages:   page.Messages,
		Pagination: Pagination{HasMore: page.HasMore, Page: page.Page},
	})
}

// SendMessage stores a message; delivery to subscribers happens as a side
// effect and never fails the request.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	msg, err := h.chats.Append(r.Context(), chi.URLParam(r, "chatId"), middleware.UserID(r.Context()), req.Content, req.ClientID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, SendMessageResponse{Success: true, Message: msg})
}

func intParam(raw string, def int, name string) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation(name + " must be a positive number")
	}
	return n, nil
}
