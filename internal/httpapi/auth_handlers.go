package httpapi

import (
	"errors"
	"net/http"
	"time"

	"learnhub.io/internal/audit"
	"learnhub.io/internal/auth"
)

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"max=200"`
	TenantID string `json:"tenantId" validate:"max=64"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,max=320"`
	Password string `json:"password" validate:"required,max=72"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

type checkRequest struct {
	Permissions []string `json:"permissions" validate:"required_without=Roles,dive,required"`
	Roles       []string `json:"roles" validate:"required_without=Permissions,dive,required"`
	TenantID    string   `json:"tenantId"`
	TenantName  string   `json:"tenantName"`
	CourseID    string   `json:"courseId"`
	LiveClassID string   `json:"liveClassId"`
	LessonID    string   `json:"lessonId"`
	ModuleID    string   `json:"moduleId"`
}

type principalResponse struct {
	UserID      string   `json:"user_id"`
	Email       string   `json:"email,omitempty"`
	TenantID    *string  `json:"tenant_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions,omitempty"`
}

type sessionResponse struct {
	TokenType        string            `json:"token_type"`
	AccessToken      string            `json:"access_token"`
	AccessExpiresAt  time.Time         `json:"access_expires_at"`
	RefreshToken     string            `json:"refresh_token"`
	RefreshExpiresAt time.Time         `json:"refresh_expires_at"`
	Principal        principalResponse `json:"principal"`
}

type checkResponse struct {
	Allowed  bool    `json:"allowed"`
	TenantID *string `json:"tenant_id"`
	Reason   string  `json:"reason,omitempty"`
}

func toPrincipalResponse(p auth.Principal, perms []string) principalResponse {
	out := principalResponse{UserID: p.UserID, Email: p.Email, Roles: p.Roles, Permissions: perms}
	if out.Roles == nil {
		out.Roles = []string{}
	}
	if p.TenantID != "" {
		tid := p.TenantID
		out.TenantID = &tid
	}
	return out
}

func clientInfo(r *http.Request) auth.ClientInfo {
	return auth.ClientInfo{IP: clientIP(r), UserAgent: r.UserAgent()}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	// self-registration always lands on the default tenant role
	user, err := a.svc.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		TenantID: req.TenantID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"user_id":   user.ID,
		"tenant_id": req.TenantID,
	})
	w.Header().Set("Location", "/v1/users/"+user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	session, err := a.svc.Login(r.Context(), req.Email, req.Password, clientInfo(r))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{"ip": clientIP(r)})
		}
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id":   session.Principal.UserID,
		"tenant_id": session.Principal.TenantID,
	})
	a.writeSession(w, session)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw, err := refreshTokenFrom(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	session, err := a.svc.Refresh(r.Context(), raw, clientInfo(r))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidRefreshToken) {
			a.clearRefreshCookie(w)
		}
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{
		"user_id": session.Principal.UserID,
	})
	a.writeSession(w, session)
}

// handleLogout always answers 204 so the caller learns nothing about the
// token it presented.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw, err := refreshTokenFrom(r)
	if err != nil && !errors.Is(err, auth.ErrInvalidRefreshToken) {
		writeServiceError(w, r, err)
		return
	}
	if raw != "" {
		revoked, err := a.svc.Logout(r.Context(), raw)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if revoked {
			_ = audit.LogEvent(r.Context(), "auth.logout", nil)
		}
	}
	a.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	p, err := a.scope(r.Context(), p, HintsFromRequest(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	perms, err := a.authz.EffectivePermissions(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPrincipalResponse(p, perms))
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := a.svc.ChangePassword(r.Context(), p.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.change", nil)
	a.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleCheck answers an authorization question for the caller. Denials are
// reported in the body, not as 403.
func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	hints := HintsFromRequest(r)
	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	scoped, err := a.scope(r.Context(), p, hints)
	if err == nil {
		if len(req.Permissions) > 0 {
			err = a.authz.Authorize(r.Context(), scoped, req.Permissions...)
		}
		if err == nil && len(req.Roles) > 0 {
			err = a.authz.AuthorizeByRole(r.Context(), scoped, req.Roles...)
		}
	}
	resp := checkResponse{Allowed: err == nil}
	if scoped.TenantID != "" {
		tid := scoped.TenantID
		resp.TenantID = &tid
	}
	var denied *auth.PermissionDeniedError
	switch {
	case err == nil:
	case errors.As(err, &denied):
		resp.Reason = denied.Error()
	case errors.Is(err, auth.ErrTenantContextMissing):
		resp.Reason = auth.ErrTenantContextMissing.Error()
	default:
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) writeSession(w http.ResponseWriter, s auth.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    s.RefreshToken,
		Path:     refreshCookiePath,
		Expires:  s.RefreshExpiresAt,
		MaxAge:   int(time.Until(s.RefreshExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, sessionResponse{
		TokenType:        "Bearer",
		AccessToken:      s.AccessToken,
		AccessExpiresAt:  s.AccessExpiresAt,
		RefreshToken:     s.RefreshToken,
		RefreshExpiresAt: s.RefreshExpiresAt,
		Principal:        toPrincipalResponse(s.Principal, nil),
	})
}

func (a *API) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

// refreshTokenFrom reads the refresh token from the JSON body, falling back
// to the refresh_token cookie.
func refreshTokenFrom(r *http.Request) (string, error) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		return "", err
	}
	if req.RefreshToken != "" {
		return req.RefreshToken, nil
	}
	if c, err := r.Cookie(refreshCookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", auth.ErrInvalidRefreshToken
}
