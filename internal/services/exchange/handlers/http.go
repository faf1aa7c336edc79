package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"cashlink/internal/models"
	"cashlink/internal/services/exchange/engine"
	"cashlink/internal/services/relay"
)

const (
	sessionName  = "cashlink-session"
	sessionKeyID = "requestID"
)

type ServerHandler interface {
	CheckHealth(echo.Context) error

	// Actions

	SubmitRequest(echo.Context) error
	MatchStatus(echo.Context) error
	VerifyDetails(echo.Context) error
	VerifyOTP(echo.Context) error
	Chat(echo.Context) error
	Connection(echo.Context) error
}

// Exchange is the part of the engine the handlers drive.
type Exchange interface {
	Submit(context.Context, engine.SubmitInput) (*engine.Outcome, error)
	Verify(ctx context.Context, matchID, requestID, code string) (*engine.VerifyResult, error)
	CanJoin(ctx context.Context, matchID, requestID string) (bool, error)
	Participants(context.Context, string) (*models.Match, []*models.ExchangeRequest, error)
	PendingMatch(context.Context, string) (*models.MatchFound, error)
}

type ServerHandle struct {
	Engine       Exchange
	Hub          *relay.Hub
	SessionStore sessions.Store
	Logger       *zerolog.Logger
	Ctx          context.Context

	ClientBuffer int
	Secure       bool
}

type submitBody struct {
	Mode   string      `json:"mode" form:"mode"`
	Amount json.Number `json:"amount" form:"amount"`
	Phone  string      `json:"phone" form:"phone"`
	Lat    json.Number `json:"lat" form:"lat"`
	Lng    json.Number `json:"lng" form:"lng"`
}

type submitResponse struct {
	Status    engine.Status `json:"status"`
	RequestID string        `json:"requestId"`
	MatchID   string        `json:"matchId,omitempty"`
	OTP       string        `json:"otp,omitempty"`
	WsAddr    string        `json:"wsAddr"`
}

type verifyOTPBody struct {
	OTP     string `json:"otp" form:"otp"`
	MatchID string `json:"matchId" form:"matchId"`
}

type verifyOTPResponse struct {
	Success     bool   `json:"success"`
	MatchID     string `json:"matchId,omitempty"`
	ChannelOpen bool   `json:"channelOpen,omitempty"`
}

type participant struct {
	RequestID string      `json:"requestId"`
	Mode      models.Mode `json:"mode"`
	Amount    string      `json:"amount"`
	Phone     string      `json:"phone"`
	Lat       float64     `json:"lat"`
	Lng       float64     `json:"lng"`
}

type matchDetails struct {
	MatchID      string        `json:"matchId"`
	Participants []participant `json:"participants"`
}

func (h *ServerHandle) CheckHealth(c echo.Context) error {
	return c.String(http.StatusOK, "healthy")
}

func (h *ServerHandle) SubmitRequest(c echo.Context) error {
	var body submitBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	in := engine.SubmitInput{
		Mode:   body.Mode,
		Amount: body.Amount.String(),
		Phone:  body.Phone,
	}

	lat, latErr := body.Lat.Float64()
	lng, lngErr := body.Lng.Float64()
	if latErr != nil || lngErr != nil {
		verr := &models.ValidationError{}
		verr.Add("location", "lat and lng must be numbers")
		return h.fail(c, verr)
	}

	in.Lat, in.Lng = lat, lng

	outcome, err := h.Engine.Submit(c.Request().Context(), in)
	if err != nil {
		return h.fail(c, err)
	}

	session, err := h.SessionStore.New(c.Request(), sessionName)
	if err != nil {
		h.Logger.Err(err).Msg("unable to create session")
	}

	if session == nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Server Error"})
	}

	session.Values[sessionKeyID] = outcome.Request.ID

	if err := session.Save(c.Request(), c.Response()); err != nil {
		h.Logger.Err(err).Msg("unable to save session")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Server Error"})
	}

	res := submitResponse{
		Status:    outcome.Status,
		RequestID: outcome.Request.ID,
		OTP:       outcome.Code,
		WsAddr:    h.wsAddr(c),
	}

	if outcome.Match != nil {
		res.MatchID = outcome.Match.ID
	}

	return c.JSON(http.StatusOK, res)
}

// MatchStatus lets the session's request poll for its match and code.
func (h *ServerHandle) MatchStatus(c echo.Context) error {
	requestID := h.requestID(c)
	if requestID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "no request in this session"})
	}

	found, err := h.Engine.PendingMatch(c.Request().Context(), requestID)
	if errors.Is(err, models.ErrNotFound) {
		return c.JSON(http.StatusOK, submitResponse{
			Status:    engine.StatusSearching,
			RequestID: requestID,
			WsAddr:    h.wsAddr(c),
		})
	}
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, submitResponse{
		Status:    engine.StatusMatched,
		RequestID: requestID,
		MatchID:   found.MatchID,
		OTP:       found.OTP,
		WsAddr:    h.wsAddr(c),
	})
}

func (h *ServerHandle) VerifyDetails(c echo.Context) error {
	matchID := c.QueryParam("matchId")
	if matchID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "matchId is required"})
	}

	return h.details(c, matchID)
}

func (h *ServerHandle) VerifyOTP(c echo.Context) error {
	var body verifyOTPBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if body.MatchID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "matchId is required"})
	}

	res, err := h.Engine.Verify(c.Request().Context(), body.MatchID, h.requestID(c), body.OTP)

	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "matchId is malformed"})
	case errors.Is(err, models.ErrNotFound):
		return c.JSON(http.StatusOK, verifyOTPResponse{})
	case err != nil:
		h.Logger.Err(err).Msg("unable to verify code for " + body.MatchID)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Server Error"})
	}

	if !res.Granted {
		return c.JSON(http.StatusOK, verifyOTPResponse{})
	}

	return c.JSON(http.StatusOK, verifyOTPResponse{
		Success:     true,
		MatchID:     body.MatchID,
		ChannelOpen: res.ChannelOpen,
	})
}

func (h *ServerHandle) Chat(c echo.Context) error {
	matchID := c.QueryParam("matchId")
	if matchID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "matchId is required"})
	}

	open, err := h.Engine.CanJoin(c.Request().Context(), matchID, h.requestID(c))
	if err != nil {
		return h.fail(c, err)
	}

	if !open {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "verification required"})
	}

	return h.details(c, matchID)
}

func (h *ServerHandle) details(c echo.Context, matchID string) error {
	match, reqs, err := h.Engine.Participants(c.Request().Context(), matchID)
	if err != nil {
		return h.fail(c, err)
	}

	res := matchDetails{MatchID: match.ID}
	for _, req := range reqs {
		res.Participants = append(res.Participants, participant{
			RequestID: req.ID,
			Mode:      req.Mode,
			Amount:    req.Amount.String(),
			Phone:     req.Phone,
			Lat:       req.Location.Lat,
			Lng:       req.Location.Lng,
		})
	}

	return c.JSON(http.StatusOK, res)
}

// fail maps engine errors onto responses. Anything not attributable to the
// caller is logged and answered with a generic server error.
func (h *ServerHandle) fail(c echo.Context, err error) error {
	var verr *models.ValidationError

	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request", "fields": verr.Fields})
	case errors.Is(err, models.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}

	h.Logger.Err(err).Msg("unable to serve " + c.Path())
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Server Error"})
}

// requestID is the request the caller submitted in this session, or empty.
func (h *ServerHandle) requestID(c echo.Context) string {
	session, err := h.SessionStore.Get(c.Request(), sessionName)
	if err != nil || session == nil {
		return ""
	}

	id, _ := session.Values[sessionKeyID].(string)
	return id
}

func (h *ServerHandle) wsAddr(c echo.Context) string {
	if h.Secure {
		return "wss://" + c.Request().Host + "/ws"
	}

	return "ws://" + c.Request().Host + "/ws"
}
