// AngelaMos | 2026
// handler.go

package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/soundvault/auth-backend/internal/core"
	"github.com/soundvault/auth-backend/internal/middleware"
	"github.com/soundvault/auth-backend/internal/token"
)

type Handler struct {
	service   *Service
	validator *validator.Validate
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	clientAuth, authenticator func(http.Handler) http.Handler,
) {
	r.Route("/auth", func(r chi.Router) {
		// Minting is a trusted-caller operation; the principal is already
		// authenticated upstream, so the caller itself must prove it is
		// the registered client.
		r.With(clientAuth).Post("/token", h.CreateToken)
		r.Post("/refresh", h.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(authenticator)
			r.Post("/logout-all", h.LogoutAll)
			r.Get("/sessions", h.GetSessions)
			r.Delete("/sessions/{sessionID}", h.RevokeSession)
		})
	})
}

func (h *Handler) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req CreateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	set, err := h.service.CreateTokenSet(
		r.Context(),
		core.RequestContextFromHTTP(r),
		req.UserID,
		req.Scopes,
	)
	if err != nil {
		if errors.Is(err, ErrGrantRejected) {
			core.JSONError(w, core.UnauthorizedError("token grant rejected"))
			return
		}
		core.InternalServerError(w, err)
		return
	}

	core.Created(w, newTokenResponse(set))
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	set, err := h.service.Refresh(
		r.Context(),
		core.RequestContextFromHTTP(r),
		req.RefreshToken,
	)
	if err != nil {
		if errors.Is(err, token.ErrTokenReuse) {
			core.JSONError(w, core.NewAppError(
				core.ErrTokenRevoked,
				"security alert: token reuse detected, all sessions revoked",
				http.StatusUnauthorized,
				"TOKEN_REUSE_DETECTED",
			))
			return
		}
		if errors.Is(err, core.ErrTokenExpired) {
			core.JSONError(w, core.TokenExpiredError())
			return
		}
		if errors.Is(err, core.ErrTokenRevoked) {
			core.JSONError(w, core.TokenRevokedError())
			return
		}
		if errors.Is(err, core.ErrTokenInvalid) ||
			errors.Is(err, ErrMalformedToken) {
			core.JSONError(w, core.TokenInvalidError())
			return
		}
		if errors.Is(err, ErrGrantRejected) {
			core.JSONError(w, core.UnauthorizedError("token grant rejected"))
			return
		}
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, newTokenResponse(set))
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		core.Unauthorized(w, "")
		return
	}

	if err := h.service.LogoutAll(r.Context(), userID); err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.NoContent(w)
}

func (h *Handler) GetSessions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		core.Unauthorized(w, "")
		return
	}

	sessions, err := h.service.Sessions(
		r.Context(),
		userID,
		middleware.GetTokenID(r.Context()),
	)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	resp := SessionsResponse{Sessions: make([]SessionInfo, 0, len(sessions))}
	for _, session := range sessions {
		resp.Sessions = append(resp.Sessions, newSessionInfo(session))
	}

	core.OK(w, resp)
}

func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		core.Unauthorized(w, "")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		core.BadRequest(w, "session ID required")
		return
	}

	if err := h.service.RevokeSession(r.Context(), userID, sessionID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			core.NotFound(w, "session")
			return
		}
		if errors.Is(err, core.ErrForbidden) {
			core.Forbidden(w, "cannot revoke another user's session")
			return
		}
		core.InternalServerError(w, err)
		return
	}

	core.NoContent(w)
}
