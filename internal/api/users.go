package api

import (
	"net/http"

	"bookflow/internal/auth"
	"bookflow/library"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string        `json:"accessToken"`
	TokenType   string        `json:"tokenType"`
	ExpiresIn   int64         `json:"expiresIn"`
	User        *library.User `json:"user"`
}

// Login exchanges credentials for an access token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeLibError(w, r, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.lib.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeLibError(w, r, err)
		return
	}
	token, err := auth.GenerateAccessToken(h.auth, user)
	if err != nil {
		h.writeLibError(w, r, err)
		return
	}
	h.log.WithContext(r.Context()).Info("user signed in", "user_id", user.ID)
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.auth.AccessTokenTTL.Seconds()),
		User:        user,
	})
}

// Register creates a user-role account.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var in library.RegisterInput
	if err := decodeJSON(r, &in, false); err != nil {
		h.writeLibError(w, r, err)
		return
	}
	user, err := h.lib.Register(r.Context(), in)
	if err != nil {
		h.writeLibError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// Logout ends the caller's recorded session. Access tokens stay valid until
// they expire.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.lib.Logout(r.Context(), auth.PrincipalFrom(r.Context())); err != nil {
		h.writeLibError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.lib.Me(r.Context(), auth.PrincipalFrom(r.Context()))
	if err != nil {
		h.writeLibError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.lib.ListUsers(r.Context(), auth.PrincipalFrom(r.Context()))
	if err != nil {
		h.writeLibError(w, r, err)
		return
	}
	if users == nil {
		users = []library.User{}
	}
	writeJSON(w, http.StatusOK, users)
}
