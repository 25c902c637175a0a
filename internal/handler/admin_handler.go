package handler

import (
	"context"
	"log"
	"net/http"

	"github.com/eaglebank/core-banking/internal/command"
	"github.com/eaglebank/core-banking/shared/cqrs"
	"github.com/eaglebank/core-banking/shared/middleware"
	"github.com/eaglebank/core-banking/shared/models"
	"github.com/gin-gonic/gin"
)

// AdminCommander defines the back-office operations used by AdminHandler.
type AdminCommander interface {
	AdminLogin(context.Context, cqrs.AdminLoginCommand) (*command.Result, *models.Admin)
	BlockCard(context.Context, cqrs.CardStatusCommand) *command.Result
	UnblockCard(context.Context, cqrs.CardStatusCommand) *command.Result
	SetMaintenance(context.Context, cqrs.MaintenanceCommand) *command.Result
}

type AdminSessionOpener interface {
	OpenAdmin(username string) (string, *models.Session, error)
}

type AdminHandler struct {
	commands AdminCommander
	sessions AdminSessionOpener
}

type AdminLoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required"`
}

type AdminLoginResponse struct {
	Token string   `json:"token"`
	Roles []string `json:"roles"`
}

type MaintenanceRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func NewAdminHandler(commands AdminCommander, sessions AdminSessionOpener) *AdminHandler {
	return &AdminHandler{commands: commands, sessions: sessions}
}

func (h *AdminHandler) Login(c *gin.Context) {
	var req AdminLoginRequest
	if !bind(c, &req) {
		return
	}

	res, admin := h.commands.AdminLogin(c.Request.Context(), cqrs.AdminLoginCommand{
		Username: req.Username,
		Password: req.Password,
	})
	if !res.Success {
		respond(c, res)
		return
	}

	token, _, err := h.sessions.OpenAdmin(admin.Username)
	if err != nil {
		log.Printf("Failed to open admin session: %v", err)
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to open session")
		return
	}
	c.JSON(http.StatusOK, AdminLoginResponse{Token: token, Roles: admin.Roles})
}

func actorOf(c *gin.Context) (string, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok || p.Username == "" {
		middleware.RespondWithError(c, http.StatusUnauthorized, "Admin session required")
		return "", false
	}
	return p.Username, true
}

func (h *AdminHandler) BlockCard(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	respond(c, h.commands.BlockCard(c.Request.Context(), cqrs.CardStatusCommand{
		Actor:      actor,
		CardNumber: c.Param("card"),
	}))
}

func (h *AdminHandler) UnblockCard(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	respond(c, h.commands.UnblockCard(c.Request.Context(), cqrs.CardStatusCommand{
		Actor:      actor,
		CardNumber: c.Param("card"),
	}))
}

func (h *AdminHandler) SetMaintenance(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	var req MaintenanceRequest
	if !bind(c, &req) {
		return
	}
	respond(c, h.commands.SetMaintenance(c.Request.Context(), cqrs.MaintenanceCommand{
		Actor:   actor,
		Enabled: *req.Enabled,
	}))
}
