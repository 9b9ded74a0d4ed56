package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"intellixdoc/internal/app"
	"intellixdoc/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type CreateChatRequest struct {
	Title      string  `json:"title" binding:"max=128"`
	DocumentID *string `json:"document_id"`
}

type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req CreateChatRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
			return
		}
	}

	chat, err := h.chatService.CreateChat(c.Request.Context(), app.CreateChatInput{
		Title:      req.Title,
		DocumentID: req.DocumentID,
	})
	if err != nil {
		writeError(c, err, "create chat failed")
		return
	}
	response.OK(c, chat)
}

func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.chatService.ListChats(c.Request.Context(), parseLimit(c))
	if err != nil {
		writeError(c, err, "list chats failed")
		return
	}
	response.OK(c, chats)
}

func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID, ok := parseUintParam(c, "id")
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid chat id")
		return
	}
	chat, err := h.chatService.GetChat(c.Request.Context(), chatID)
	if err != nil {
		writeError(c, err, "get chat failed")
		return
	}
	response.OK(c, chat)
}

func (h *ChatHandler) DeleteChat(c *gin.Context) {
	chatID, ok := parseUintParam(c, "id")
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid chat id")
		return
	}
	if err := h.chatService.DeleteChat(c.Request.Context(), chatID); err != nil {
		writeError(c, err, "delete chat failed")
		return
	}
	response.OK(c, gin.H{"deleted_chat_id": chatID})
}

func (h *ChatHandler) ListMessages(c *gin.Context) {
	chatID, ok := parseUintParam(c, "id")
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid chat id")
		return
	}
	messages, err := h.chatService.ListMessages(c.Request.Context(), chatID, parseLimit(c))
	if err != nil {
		writeError(c, err, "list messages failed")
		return
	}
	response.OK(c, messages)
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	chatID, ok := parseUintParam(c, "id")
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid chat id")
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	message, err := h.chatService.SendMessage(c.Request.Context(), chatID, req.Content)
	if err != nil {
		writeError(c, err, "send message failed")
		return
	}
	response.OK(c, message)
}
