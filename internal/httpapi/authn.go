package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"learnhub.io/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// hintPeekLimit bounds how much of a JSON body is read to find tenant hints.
	hintPeekLimit = 64 << 10
)

// requirement is what a route declares about its caller.
type requirement struct {
	public      bool
	strictRate  bool
	permissions []string
	roles       []string
}

func public() requirement                     { return requirement{public: true} }
func credentialRoute() requirement            { return requirement{public: true, strictRate: true} }
func authenticated() requirement              { return requirement{} }
func permissions(codes ...string) requirement { return requirement{permissions: codes} }
func roles(codes ...string) requirement       { return requirement{roles: codes} }

func (r requirement) tenantScoped() bool {
	return len(r.permissions) > 0 || len(r.roles) > 0
}

type route struct {
	pattern string
	req     requirement
}

func (a *API) handle(pattern string, req requirement, fn http.HandlerFunc) {
	a.routes = append(a.routes, route{pattern: pattern, req: req})
	var h http.Handler = a.guard(req, fn)
	if req.strictRate {
		h = a.authLimiter.Middleware(h)
	}
	a.mux.Handle(pattern, h)
}

// guard authenticates the bearer token, binds the principal to the tenant
// resolved from the request and applies the declared requirement.
func (a *API) guard(req requirement, next http.Handler) http.Handler {
	if req.public {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="learnhub"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		principal, err := a.svc.AuthenticateToken(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="learnhub", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := r.Context()

		if req.tenantScoped() {
			principal, err = a.scope(ctx, principal, HintsFromRequest(r))
			if err == nil {
				if len(req.permissions) > 0 {
					err = a.authz.Authorize(ctx, principal, req.permissions...)
				} else {
					err = a.authz.AuthorizeByRole(ctx, principal, req.roles...)
				}
			}
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
		}
		ctx = auth.ContextWithPrincipal(ctx, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// scope resolves the request tenant and binds the principal to it.
func (a *API) scope(ctx context.Context, p auth.Principal, hints auth.TenantHints) (auth.Principal, error) {
	if hints.Empty() {
		return p, nil
	}
	tenantID, ok, err := a.resolver.Resolve(ctx, hints)
	if err != nil {
		return auth.Principal{}, err
	}
	if !ok {
		return p, nil
	}
	return a.authz.ScopePrincipal(ctx, p, tenantID)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

type bodyHints struct {
	TenantID    string `json:"tenantId"`
	TenantName  string `json:"tenantName"`
	CourseID    string `json:"courseId"`
	LiveClassID string `json:"liveClassId"`
	LessonID    string `json:"lessonId"`
	ModuleID    string `json:"moduleId"`
}

// HintsFromRequest collects tenant hints from, in order of preference, path
// values, the X-Tenant-ID / X-Tenant-Name headers, query parameters and the
// top level of a JSON body. Path values win so that a handler acting on
// {tenantId} always runs against the tenant the guard authorized. The body is
// restored for the handler.
func HintsFromRequest(r *http.Request) auth.TenantHints {
	var body bodyHints
	if r.Body != nil && r.Body != http.NoBody && isJSON(r.Header.Get("Content-Type")) {
		body = peekBodyHints(r)
	}
	q := r.URL.Query()
	pick := func(header, name, fromBody string) string {
		if v := strings.TrimSpace(r.PathValue(name)); v != "" {
			return v
		}
		if header != "" {
			if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
				return v
			}
		}
		if v := strings.TrimSpace(q.Get(name)); v != "" {
			return v
		}
		return strings.TrimSpace(fromBody)
	}
	return auth.TenantHints{
		TenantID:    pick("X-Tenant-ID", "tenantId", body.TenantID),
		TenantName:  pick("X-Tenant-Name", "tenantName", body.TenantName),
		CourseID:    pick("", "courseId", body.CourseID),
		LiveClassID: pick("", "liveClassId", body.LiveClassID),
		LessonID:    pick("", "lessonId", body.LessonID),
		ModuleID:    pick("", "moduleId", body.ModuleID),
	}
}

func peekBodyHints(r *http.Request) bodyHints {
	var hints bodyHints
	buf, err := io.ReadAll(io.LimitReader(r.Body, hintPeekLimit+1))
	rest := r.Body
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), rest), rest}
	if err != nil || len(buf) > hintPeekLimit {
		return hints
	}
	_ = json.Unmarshal(buf, &hints)
	return hints
}

func isJSON(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return ct == "" || strings.HasPrefix(ct, "application/json")
}
