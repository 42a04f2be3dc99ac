package app

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"notespace/internal/authpw"
	"notespace/internal/store"
)

type registerBody struct {
	FullName string `json:"fullName" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginBody struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type userView struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"fullName"`
	Email     string    `json:"email"`
	TenantID  uuid.UUID `json:"tenantId"`
	CreatedAt time.Time `json:"createdAt"`
}

type tenantView struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Hostname string    `json:"hostname"`
}

func userViewOf(user store.User) userView {
	return userView{
		ID:        user.ID,
		FullName:  user.FullName,
		Email:     user.Email,
		TenantID:  user.TenantID,
		CreatedAt: user.CreatedAt,
	}
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if !s.bind(w, r, &body) {
		return
	}
	tenant := tenantFrom(r.Context())
	user, err := s.svc.Auth.Register(r.Context(), tenant.ID, authpw.RegisterRequest{
		FullName: body.FullName,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Registration successful",
		"user":    userViewOf(user),
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if !s.bind(w, r, &body) {
		return
	}
	tenant := tenantFrom(r.Context())
	result, err := s.svc.Auth.Login(r.Context(), tenant.ID, authpw.LoginRequest{
		Email:      body.Email,
		Password:   body.Password,
		PriorToken: s.sessionToken(r),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.setSessionCookie(w, result.Token, result.ExpiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"user":    userViewOf(result.User),
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Auth.Logout(r.Context(), s.sessionToken(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Logout successful"})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user": userViewOf(userFrom(r.Context())),
		"tenant": tenantView{
			ID:       tenant.ID,
			Name:     tenant.Name,
			Hostname: tenant.Hostname,
		},
	})
}
