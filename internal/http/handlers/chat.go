package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chatwithpdf/chatwithpdf-backend/internal/http/middleware"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/http/response"
	"github.com/chatwithpdf/chatwithpdf-backend/internal/services"
)

type ChatHandler struct {
	rag services.RAGService
}

func NewChatHandler(rag services.RAGService) *ChatHandler {
	return &ChatHandler{rag: rag}
}

type chatReq struct {
	Message    string     `json:"message"`
	DocumentID *uuid.UUID `json:"document_id"`
}

// POST /api/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.rag.Chat(c.Request.Context(), services.ChatRequest{
		UserID:     middleware.UserID(c),
		Message:    req.Message,
		DocumentID: req.DocumentID,
	})
	if err != nil {
		response.RespondFault(c, err)
		return
	}
	response.RespondOK(c, res)
}

// GET /api/chats?document_id=&limit=50&offset=0
func (h *ChatHandler) ListChats(c *gin.Context) {
	var documentID *uuid.UUID
	if v := strings.TrimSpace(c.Query("document_id")); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_document_id", err)
			return
		}
		documentID = &id
	}
	limit := 50
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	offset := 0
	if v := strings.TrimSpace(c.Query("offset")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	chats, err := h.rag.ListChats(c.Request.Context(), middleware.UserID(c), documentID, limit, offset)
	if err != nil {
		response.RespondFault(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chats": chats})
}
