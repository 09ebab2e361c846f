package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/aussiebroadwan/trackgate/internal/access/obs"
	"github.com/aussiebroadwan/trackgate/internal/access/service"
	"github.com/aussiebroadwan/trackgate/internal/access/store"
	"github.com/aussiebroadwan/trackgate/pkg/httpx"
	"github.com/aussiebroadwan/trackgate/pkg/jwtx"
	"github.com/aussiebroadwan/trackgate/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store    store.Store
	keys     *jwtx.KeyManager
	gatherer prometheus.Gatherer

	Tokens  *service.TokenService
	Engine  *service.Engine
	Members *service.MembershipService
}

func NewRouter(
	buildVersion string,
	st store.Store,
	keys *jwtx.KeyManager,
	logger *slog.Logger,
	metrics *obs.Metrics,
	gatherer prometheus.Gatherer,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		store:        st,
		keys:         keys,
		gatherer:     gatherer,
	}

	// Instrument sits closest to the mux so it sees the matched pattern.
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		metrics.Instrument,
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerAuthz()
	r.registerResources()
	r.registerMembership()
	r.registerSubjects()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

type identityKey struct{}

// authenticate accepts only active access tokens as bearer credentials.
func (r *Router) authenticate(ctx context.Context, raw string) (context.Context, string, error) {
	id, err := r.Tokens.Validate(ctx, raw)
	if err != nil {
		if isCredentialError(err) {
			return ctx, "", fmt.Errorf("%w: %w", httpx.ErrUnauthenticated, err)
		}
		return ctx, "", err
	}
	if id.Type != domain.TokenAccess {
		return ctx, "", fmt.Errorf("%w: %s token used as bearer", httpx.ErrUnauthenticated, id.Type)
	}
	return context.WithValue(ctx, identityKey{}, id), id.SubjectID, nil
}

// identity returns the caller established by the authn middleware.
func identity(ctx context.Context) domain.Identity {
	id, _ := ctx.Value(identityKey{}).(domain.Identity)
	return id
}

func (r *Router) secured(h http.Handler, limit httpx.RateLimitConfig) http.Handler {
	return httpx.Chain(h,
		httpx.AuthnMiddleware(r.authenticate),
		httpx.RateLimitBySubject(limit),
	)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{Tokens: r.Tokens}

	// Brute force protection per IP and username
	r.Mux.Handle("POST /v1/auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIPAndFormField(httpx.StrictLimit, "username"),
		),
	)
	r.Mux.Handle("POST /v1/auth/refresh",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerAuthz() {
	h := &CheckHandler{Engine: r.Engine}
	r.Mux.Handle("POST /v1/authz/check", r.secured(h, httpx.LenientLimit))
}

func (r *Router) registerResources() {
	h := &ResourcesHandler{Members: r.Members}

	r.Mux.Handle("GET /v1/resources", r.secured(http.HandlerFunc(h.HandleList), httpx.LenientLimit))
	r.Mux.Handle("POST /v1/resources", r.secured(http.HandlerFunc(h.HandleCreate), httpx.ModerateLimit))
	r.Mux.Handle("DELETE /v1/resources/{id}", r.secured(http.HandlerFunc(h.HandleDelete), httpx.ModerateLimit))
}

func (r *Router) registerMembership() {
	h := &MembershipHandler{Members: r.Members}

	r.Mux.Handle("GET /v1/projects/{id}/contributors",
		r.secured(http.HandlerFunc(h.HandleListContributors), httpx.LenientLimit))
	r.Mux.Handle("PUT /v1/projects/{id}/contributors/{subject}",
		r.secured(http.HandlerFunc(h.HandleAddContributor), httpx.ModerateLimit))
	r.Mux.Handle("DELETE /v1/projects/{id}/contributors/{subject}",
		r.secured(http.HandlerFunc(h.HandleRemoveContributor), httpx.ModerateLimit))
	r.Mux.Handle("PUT /v1/subjects/{id}/staff",
		r.secured(http.HandlerFunc(h.HandleSetStaff), httpx.ModerateLimit))
	r.Mux.Handle("POST /v1/subjects/{id}/disable",
		r.secured(http.HandlerFunc(h.HandleDisable), httpx.ModerateLimit))
}

func (r *Router) registerSubjects() {
	h := &SubjectsHandler{Members: r.Members}

	// Account creation is public, so it gets the credential endpoint limit.
	r.Mux.Handle("POST /v1/subjects",
		httpx.Chain(http.HandlerFunc(h.HandleSignup),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("GET /v1/subjects/me", r.secured(http.HandlerFunc(h.HandleMe), httpx.LenientLimit))
}

func (r *Router) registerSystem() {
	// Monitoring systems poll these frequently
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.Tokens.Credentials, r.keys),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	if r.gatherer != nil {
		r.Mux.Handle("GET /metrics", obs.Handler(r.gatherer))
	}
}
