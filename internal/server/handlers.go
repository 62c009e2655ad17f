package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"crashwager/internal/cache"
	"crashwager/internal/game"
	"crashwager/internal/wallet"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// errorStatus maps engine and wallet errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, game.ErrPhaseClosed), errors.Is(err, game.ErrDuplicateBet):
		return fiber.StatusConflict
	case errors.Is(err, game.ErrNoActiveBet):
		return fiber.StatusNotFound
	case errors.Is(err, game.ErrInsufficientFunds):
		return fiber.StatusPaymentRequired
	case errors.Is(err, game.ErrInvalidStake),
		errors.Is(err, game.ErrInvalidAutoCashout),
		errors.Is(err, game.ErrMissingUser),
		errors.Is(err, wallet.ErrInvalidAmount):
		return fiber.StatusBadRequest
	case errors.Is(err, game.ErrEngineStopped):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func errorResponse(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"game": fiber.Map{
			"status":          s.gameManager.Phase(),
			"subscribers":     s.gameManager.Hub().SubscriberCount(),
			"dropped_events":  s.gameManager.Hub().Dropped(),
			"pending_stake":   s.gameManager.PendingStake(),
			"unpaid_credits":  s.gameManager.UnpaidCredits(),
			"rtp_percent":     s.gameManager.RTP(),
			"history_entries": len(s.gameManager.RecentCrashHistory(0)),
		},
	}
	if s.db != nil {
		health["database"] = s.db.Health()
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return c.JSON(health)
}

func (s *FiberServer) getGameStateHandler(c *fiber.Ctx) error {
	state := s.gameManager.GetCurrentRound()
	if state == nil {
		return errorResponse(c, fiber.StatusNotFound, "No active game round")
	}
	return c.JSON(state)
}

// getHistoryHandler prefers the Redis history, which outlives the process,
// and falls back to the engine's in-memory ring.
func (s *FiberServer) getHistoryHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit < 1 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}

	points := s.gameManager.RecentCrashHistory(limit)
	source := "engine"
	if s.cache != nil {
		shared, err := cache.History(c.UserContext(), s.cache.GetClient(), int64(limit))
		if err != nil {
			s.logger.Warn().Err(err).Msg("read crash history from redis")
		} else if len(shared) > 0 {
			points, source = shared, "redis"
		}
	}

	resp := fiber.Map{
		"crash_points": points,
		"source":       source,
		"rtp_percent":  s.gameManager.RTP(),
	}
	if s.audit != nil {
		rounds, err := s.audit.RecentRounds(c.UserContext(), limit)
		if err != nil {
			s.logger.Warn().Err(err).Msg("read recent rounds")
		} else {
			resp["rounds"] = rounds
		}
	}
	return c.JSON(resp)
}

func (s *FiberServer) getUserBetHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return errorResponse(c, fiber.StatusBadRequest, "User ID is required")
	}

	resp := fiber.Map{
		"user_id": userID,
		"has_bet": false,
	}
	if bet, ok := s.gameManager.ActiveBet(userID); ok {
		resp["has_bet"] = true
		resp["bet"] = bet
	}
	if s.audit != nil {
		settlements, err := s.audit.UserSettlements(c.UserContext(), userID, defaultHistoryLimit)
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("read settlements")
		} else {
			resp["settlements"] = settlements
		}
	}
	return c.JSON(resp)
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req game.BetRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if req.UserID == "" {
		return errorResponse(c, fiber.StatusBadRequest, "User ID is required")
	}
	if !s.commands.Allow(req.UserID) {
		return errorResponse(c, fiber.StatusTooManyRequests, "Too many requests")
	}

	bet, err := s.gameManager.PlaceBet(c.UserContext(), req)
	if err != nil {
		return errorResponse(c, errorStatus(err), err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"bet":     bet,
	})
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var req game.CashoutRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if req.UserID == "" {
		return errorResponse(c, fiber.StatusBadRequest, "User ID is required")
	}
	if !s.commands.Allow(req.UserID) {
		return errorResponse(c, fiber.StatusTooManyRequests, "Too many requests")
	}

	settlement, err := s.gameManager.CashOut(req.UserID)
	if err != nil {
		return errorResponse(c, errorStatus(err), err.Error())
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"settlement": settlement,
	})
}

func (s *FiberServer) getUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return errorResponse(c, fiber.StatusBadRequest, "User ID is required")
	}

	balance, err := s.wallet.Balance(c.UserContext(), userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("read balance")
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to read balance")
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": balance,
	})
}

// setUserBalanceHandler sets a user's balance (for testing/admin)
func (s *FiberServer) setUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return errorResponse(c, fiber.StatusBadRequest, "User ID is required")
	}

	var body struct {
		Balance int64 `json:"balance"`
	}
	if err := c.BodyParser(&body); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if body.Balance < 0 {
		return errorResponse(c, fiber.StatusBadRequest, "Balance must not be negative")
	}

	if err := s.wallet.SetBalance(c.UserContext(), userID, body.Balance); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("set balance")
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to set balance")
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": body.Balance,
		"message": "Balance updated successfully",
	})
}
