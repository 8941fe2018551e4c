package messaging

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pharmalink/pharmalink/internal/platform/auth"
	"github.com/pharmalink/pharmalink/pkg/pagination"
)

// Presence answers the online/last-seen queries the conversation endpoints
// expose. The realtime hub implements it.
type Presence interface {
	IsOnline(userID string) bool
	LastSeen(ctx context.Context, userID string) (time.Time, bool)
}

type Handler struct {
	svc      *Service
	presence Presence
}

func NewHandler(svc *Service, presence Presence) *Handler {
	return &Handler{svc: svc, presence: presence}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(RolePatient, RoleDoctor, RoleFacilityAdmin))
	g.POST("/conversations", h.CreateConversation)
	g.GET("/conversations", h.ListConversations)
	g.GET("/conversations/:id", h.GetConversation)
	g.GET("/conversations/:id/messages", h.ListMessages)
	g.POST("/conversations/:id/messages", h.SendMessage)
	g.POST("/conversations/:id/read", h.MarkRead)
	g.GET("/presence/:userID", h.GetPresence)
}

type createConversationRequest struct {
	Subject      *string            `json:"subject,omitempty"`
	Participants []ParticipantInput `json:"participants"`
}

func (h *Handler) CreateConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	creatorID := auth.UserIDFromContext(ctx)
	creatorRole := auth.RoleFromContext(ctx)

	conversation, participants, err := h.svc.CreateConversation(ctx, creatorID, creatorRole, req.Subject, req.Participants)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"conversation": conversation,
		"participants": participants,
	})
}

type conversationListItem struct {
	*ConversationSummary
	Participants []participantView `json:"participants"`
}

type participantView struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Online bool   `json:"online"`
}

func (h *Handler) ListConversations(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	pg := pagination.FromContext(c)

	summaries, total, err := h.svc.ListConversations(ctx, userID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	items := make([]conversationListItem, 0, len(summaries))
	for _, s := range summaries {
		participants, err := h.svc.conversations.Participants(ctx, s.ID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		views := make([]participantView, 0, len(participants))
		for _, p := range participants {
			views = append(views, participantView{
				UserID: p.UserID,
				Role:   p.Role,
				Online: h.presence.IsOnline(p.UserID),
			})
		}
		items = append(items, conversationListItem{ConversationSummary: s, Participants: views})
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetConversation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	ctx := c.Request().Context()
	conversation, participants, err := h.svc.GetConversation(ctx, auth.UserIDFromContext(ctx), id)
	if errors.Is(err, ErrNotParticipant) {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversation": conversation,
		"participants": participants,
	})
}

func (h *Handler) ListMessages(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	messages, total, err := h.svc.ListMessages(ctx, auth.UserIDFromContext(ctx), id, pg.Limit, pg.Offset)
	if errors.Is(err, ErrNotParticipant) {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(messages, total, pg.Limit, pg.Offset))
}

type sendMessageRequest struct {
	Content       string  `json:"content"`
	AttachmentRef *string `json:"attachment_ref,omitempty"`
}

func (h *Handler) SendMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	message, err := h.svc.SendMessage(ctx, auth.UserIDFromContext(ctx), id, req.Content, req.AttachmentRef)
	if errors.Is(err, ErrNotParticipant) {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, message)
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	ctx := c.Request().Context()
	err = h.svc.MarkRead(ctx, auth.UserIDFromContext(ctx), id)
	if errors.Is(err, ErrNotParticipant) {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type presenceResponse struct {
	UserID   string     `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

func (h *Handler) GetPresence(c echo.Context) error {
	userID := c.Param("userID")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	resp := presenceResponse{
		UserID: userID,
		Online: h.presence.IsOnline(userID),
	}
	if at, ok := h.presence.LastSeen(c.Request().Context(), userID); ok {
		resp.LastSeen = &at
	}
	return c.JSON(http.StatusOK, resp)
}
