package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/market-settlement/internal/api/middleware"
	"github.com/example/market-settlement/internal/auth"
	"github.com/example/market-settlement/internal/domain/order"
	"github.com/example/market-settlement/internal/userdir"
	"github.com/google/uuid"
)

// AuthHandlers handles authentication-related HTTP requests
type AuthHandlers struct {
	users  userdir.Directory
	tokens *auth.TokenService
}

func NewAuthHandlers(users userdir.Directory, tokens *auth.TokenService) *AuthHandlers {
	return &AuthHandlers{
		users:  users,
		tokens: tokens,
	}
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	User    userdir.Profile `json:"user"`
	Token   string          `json:"token"`
	Message string          `json:"message,omitempty"`
}

// Register handles user registration. Accounts register as buyer or farmer;
// admin accounts are provisioned out of band.
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Role != order.RoleBuyer && req.Role != order.RoleFarmer {
		respondJSONError(w, "role must be buyer or farmer", http.StatusBadRequest)
		return
	}
	if req.Email == "" {
		respondJSONError(w, "email is required", http.StatusBadRequest)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			respondJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		respondJSONError(w, "registration failed", http.StatusInternalServerError)
		return
	}

	profile := userdir.Profile{
		ID:           uuid.New().String(),
		Email:        req.Email,
		Name:         req.Name,
		Role:         req.Role,
		PasswordHash: hash,
	}
	if err := h.users.Create(r.Context(), profile); err != nil {
		if errors.Is(err, userdir.ErrEmailTaken) {
			respondJSONError(w, "email already registered", http.StatusConflict)
			return
		}
		respondJSONError(w, "registration failed", http.StatusInternalServerError)
		return
	}

	h.respondWithToken(w, r, profile, http.StatusCreated, "registration successful")
}

// Login handles user login
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	profile, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		respondJSONError(w, "invalid email or password", http.StatusUnauthorized)
		return
	}
	if !auth.CheckPassword(req.Password, profile.PasswordHash) {
		respondJSONError(w, "invalid email or password", http.StatusUnauthorized)
		return
	}

	h.respondWithToken(w, r, profile, http.StatusOK, "login successful")
}

// Me returns the current authenticated user's information
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	profile, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		respondJSONError(w, "user not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

func (h *AuthHandlers) respondWithToken(w http.ResponseWriter, r *http.Request, profile userdir.Profile, status int, message string) {
	token, expiresAt, err := h.tokens.Generate(profile.ID, profile.Email, profile.Role)
	if err != nil {
		respondJSONError(w, "token generation failed", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})

	respondJSON(w, status, AuthResponse{
		User:    profile,
		Token:   token,
		Message: message,
	})
}
