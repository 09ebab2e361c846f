package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/aussiebroadwan/trackgate/internal/access/obs"
	"github.com/aussiebroadwan/trackgate/internal/access/store"
	"github.com/aussiebroadwan/trackgate/pkg/cryptox"
	"github.com/aussiebroadwan/trackgate/pkg/idx"
	"github.com/aussiebroadwan/trackgate/pkg/jwtx"
	"github.com/aussiebroadwan/trackgate/pkg/slogx"
)

const (
	DefaultAccessTTL  = 10 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenConfig holds the lifetime settings of issued credentials.
type TokenConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Leeway tolerates an issuer clock running ahead when checking nbf.
	// Expiry is never extended.
	Leeway time.Duration

	// RevokeSessionOnReplay revokes every active credential of a session
	// when one of its already rotated refresh tokens is presented again.
	RevokeSessionOnReplay bool
}

// TokenService issues, validates, rotates and revokes credentials. Signed
// tokens are only half the story: every token has a credential record and
// is only honoured while that record is active.
type TokenService struct {
	Keys        *jwtx.KeyManager
	Subjects    store.Subjects
	Credentials store.Credentials
	Hasher      PasswordHasher
	Metrics     *obs.Metrics

	// Now is the service clock.
	Now func() time.Time

	cfg TokenConfig

	// decoy is verified against when no real hash exists, so every login
	// attempt pays for one argon2 run.
	decoyOnce sync.Once
	decoy     string
}

// PasswordHasher is implemented by *cryptox.Hasher.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) error
}

func NewTokenService(
	keys *jwtx.KeyManager,
	subjects store.Subjects,
	creds store.Credentials,
	hasher PasswordHasher,
	cfg TokenConfig,
) (*TokenService, error) {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.AccessTTL < 0 || cfg.AccessTTL >= cfg.RefreshTTL {
		return nil, fmt.Errorf("access ttl %s must be positive and shorter than refresh ttl %s", cfg.AccessTTL, cfg.RefreshTTL)
	}
	if keys == nil || subjects == nil || creds == nil {
		return nil, errors.New("token service requires keys, subjects and credentials")
	}

	return &TokenService{
		Keys:        keys,
		Subjects:    subjects,
		Credentials: creds,
		Hasher:      hasher,
		Now:         time.Now,
		cfg:         cfg,
	}, nil
}

func (s *TokenService) Config() TokenConfig { return s.cfg }

// now returns the clock truncated to the second precision of JWT dates so
// records and claims agree on expiry.
func (s *TokenService) now() time.Time {
	return s.Now().UTC().Truncate(time.Second)
}

// Issue starts a new session for subjectID.
func (s *TokenService) Issue(ctx context.Context, subjectID string) (pair domain.TokenPair, err error) {
	defer func() { s.Metrics.TokenOp("issue", result(err)) }()

	if _, err := s.activeSubject(ctx, subjectID); err != nil {
		return domain.TokenPair{}, err
	}
	return s.issuePair(ctx, subjectID, idx.New().String())
}

// Login authenticates a username and password and starts a new session.
// Unknown users, disabled users and wrong passwords are indistinguishable.
func (s *TokenService) Login(ctx context.Context, username, password string) (pair domain.TokenPair, err error) {
	defer func() { s.Metrics.TokenOp("login", result(err)) }()
	l := slogx.FromContext(ctx)

	if s.Hasher == nil {
		return domain.TokenPair{}, errors.New("password login is not configured")
	}
	if username == "" || password == "" {
		return domain.TokenPair{}, ErrIdentity
	}

	subject, err := s.Subjects.GetSubjectByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.verifyDecoy(password)
			return domain.TokenPair{}, ErrIdentity
		}
		return domain.TokenPair{}, fmt.Errorf("load subject: %w", err)
	}
	if subject.Disabled {
		s.verifyDecoy(password)
		l.Info("login attempt for disabled subject", "subject_id", subject.ID)
		return domain.TokenPair{}, ErrIdentity
	}

	if err := s.Hasher.Verify(password, subject.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrInvalidHash) {
			l.Error("stored password hash is unreadable", "subject_id", subject.ID, "error", err)
		}
		return domain.TokenPair{}, ErrIdentity
	}

	return s.issuePair(ctx, subject.ID, idx.New().String())
}

// verifyDecoy spends the same work as a real password check.
func (s *TokenService) verifyDecoy(password string) {
	s.decoyOnce.Do(func() {
		s.decoy, _ = s.Hasher.Hash(idx.New().String())
	})
	_ = s.Hasher.Verify(password, s.decoy)
}

// Validate checks a bearer credential of either type and returns the
// identity it establishes. It never changes state.
func (s *TokenService) Validate(ctx context.Context, raw string) (id domain.Identity, err error) {
	defer func() { s.Metrics.TokenOp("validate", result(err)) }()

	claims, rec, err := s.lookup(ctx, raw, "")
	if err != nil {
		return domain.Identity{}, err
	}
	if rec.Status != domain.StatusActive {
		return domain.Identity{}, ErrTokenRevoked
	}

	expires := rec.ExpiresAt
	if claims.ExpiresAt.Time.Before(expires) {
		expires = claims.ExpiresAt.Time
	}
	return domain.Identity{
		SubjectID: rec.SubjectID,
		TokenID:   rec.TokenID,
		SessionID: rec.SessionID,
		Type:      rec.Type,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: expires,
	}, nil
}

// Rotate exchanges an active refresh token for a new pair in the same
// session. The old token moves to rotated atomically, so of two concurrent
// calls with the same token exactly one succeeds.
func (s *TokenService) Rotate(ctx context.Context, refreshRaw string) (pair domain.TokenPair, err error) {
	defer func() { s.Metrics.TokenOp("rotate", result(err)) }()
	l := slogx.FromContext(ctx)

	_, rec, err := s.lookup(ctx, refreshRaw, domain.TokenRefresh)
	if err != nil {
		return domain.TokenPair{}, err
	}

	switch rec.Status {
	case domain.StatusActive:
	case domain.StatusRotated:
		l.Warn("rotated refresh token replayed",
			"subject_id", rec.SubjectID,
			"session_id", rec.SessionID,
			"token_fp", cryptox.FingerprintToken(refreshRaw),
		)
		if s.cfg.RevokeSessionOnReplay {
			n, err := s.Credentials.RevokeSession(ctx, rec.SessionID)
			if err != nil {
				return domain.TokenPair{}, fmt.Errorf("revoke replayed session: %w", err)
			}
			l.Warn("session revoked after replay", "session_id", rec.SessionID, "revoked", n)
		}
		return domain.TokenPair{}, ErrTokenRevoked
	default:
		return domain.TokenPair{}, ErrTokenRevoked
	}

	if _, err := s.activeSubject(ctx, rec.SubjectID); err != nil {
		return domain.TokenPair{}, err
	}

	if err := s.Credentials.Transition(ctx, rec.TokenID, domain.StatusActive, domain.StatusRotated); err != nil {
		switch {
		case errors.Is(err, store.ErrStatusConflict):
			return domain.TokenPair{}, ErrTokenRevoked
		case errors.Is(err, store.ErrNotFound):
			return domain.TokenPair{}, ErrTokenInvalid
		}
		return domain.TokenPair{}, fmt.Errorf("rotate credential: %w", err)
	}

	return s.issuePair(ctx, rec.SubjectID, rec.SessionID)
}

// Revoke invalidates a credential. Revoking a token that is already
// revoked, rotated or purged succeeds. Only tokens this service did not
// sign are rejected.
func (s *TokenService) Revoke(ctx context.Context, raw string) (err error) {
	defer func() { s.Metrics.TokenOp("revoke", result(err)) }()

	claims, err := s.verify(raw)
	if err != nil {
		return err
	}

	err = s.Credentials.Transition(ctx, claims.ID, domain.StatusActive, domain.StatusRevoked)
	switch {
	case err == nil:
		slogx.FromContext(ctx).Info("credential revoked", "subject_id", claims.Subject, "token_id", claims.ID)
		return nil
	case errors.Is(err, store.ErrStatusConflict), errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("revoke credential: %w", err)
	}
}

// RevokeSubject revokes every active credential of subjectID and reports
// how many were revoked.
func (s *TokenService) RevokeSubject(ctx context.Context, subjectID string) (n int, err error) {
	defer func() { s.Metrics.TokenOp("revoke_subject", result(err)) }()

	n, err = s.Credentials.RevokeSubject(ctx, subjectID)
	if err != nil {
		return 0, fmt.Errorf("revoke subject credentials: %w", err)
	}
	return n, nil
}

func (s *TokenService) verify(raw string) (jwtx.Claims, error) {
	if raw == "" {
		return jwtx.Claims{}, ErrTokenInvalid
	}
	claims, err := s.Keys.Verifier.Verify(raw)
	if err != nil {
		return jwtx.Claims{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !domain.TokenType(claims.Type).Valid() {
		return jwtx.Claims{}, ErrTokenInvalid
	}
	return claims, nil
}

// lookup verifies raw, checks its type and expiry, and loads its record.
// The record status is left to the caller.
func (s *TokenService) lookup(
	ctx context.Context,
	raw string,
	want domain.TokenType,
) (jwtx.Claims, domain.CredentialRecord, error) {
	claims, err := s.verify(raw)
	if err != nil {
		return jwtx.Claims{}, domain.CredentialRecord{}, err
	}
	if want != "" && domain.TokenType(claims.Type) != want {
		return jwtx.Claims{}, domain.CredentialRecord{}, ErrTokenInvalid
	}

	now := s.Now()
	if err := claims.ValidateTimes(now, s.cfg.Leeway); err != nil {
		if errors.Is(err, jwtx.ErrExpired) {
			return jwtx.Claims{}, domain.CredentialRecord{}, ErrTokenExpired
		}
		return jwtx.Claims{}, domain.CredentialRecord{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	rec, err := s.Credentials.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return jwtx.Claims{}, domain.CredentialRecord{}, ErrTokenInvalid
		}
		return jwtx.Claims{}, domain.CredentialRecord{}, fmt.Errorf("load credential: %w", err)
	}
	if rec.SubjectID != claims.Subject || rec.Type != domain.TokenType(claims.Type) {
		return jwtx.Claims{}, domain.CredentialRecord{}, ErrTokenInvalid
	}
	if rec.Status == domain.StatusActive && rec.Expired(now) {
		return jwtx.Claims{}, domain.CredentialRecord{}, ErrTokenExpired
	}

	return claims, rec, nil
}

func (s *TokenService) activeSubject(ctx context.Context, subjectID string) (domain.Subject, error) {
	if subjectID == "" {
		return domain.Subject{}, ErrIdentity
	}
	subject, err := s.Subjects.GetSubjectByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Subject{}, ErrIdentity
		}
		return domain.Subject{}, fmt.Errorf("load subject: %w", err)
	}
	if subject.Disabled {
		return domain.Subject{}, ErrIdentity
	}
	return subject, nil
}

func (s *TokenService) issuePair(ctx context.Context, subjectID, sessionID string) (domain.TokenPair, error) {
	now := s.now()

	access, accessRec, err := s.mint(ctx, subjectID, sessionID, domain.TokenAccess, s.cfg.AccessTTL, now)
	if err != nil {
		return domain.TokenPair{}, err
	}
	refresh, _, err := s.mint(ctx, subjectID, sessionID, domain.TokenRefresh, s.cfg.RefreshTTL, now)
	if err != nil {
		// Do not leave a usable access token behind a failed issuance.
		if rerr := s.Credentials.Transition(ctx, accessRec.TokenID, domain.StatusActive, domain.StatusRevoked); rerr != nil {
			slogx.FromContext(ctx).Error("failed to revoke orphaned access token", "token_id", accessRec.TokenID, "error", rerr)
		}
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        s.cfg.AccessTTL,
		RefreshExpiresIn: s.cfg.RefreshTTL,
		SessionID:        sessionID,
	}, nil
}

func (s *TokenService) mint(
	ctx context.Context,
	subjectID, sessionID string,
	typ domain.TokenType,
	ttl time.Duration,
	now time.Time,
) (string, domain.CredentialRecord, error) {
	claims := jwtx.NewClaims(subjectID, sessionID, string(typ), s.Keys.Issuer(), ttl, now)

	raw, err := s.Keys.Sign(claims)
	if err != nil {
		return "", domain.CredentialRecord{}, fmt.Errorf("sign %s token: %w", typ, err)
	}

	rec := domain.CredentialRecord{
		TokenID:   claims.ID,
		SubjectID: subjectID,
		SessionID: sessionID,
		Type:      typ,
		Status:    domain.StatusActive,
		IssuedAt:  now,
		ExpiresAt: claims.ExpiresAt.Time,
		UpdatedAt: now,
	}
	if err := s.Credentials.Put(ctx, rec); err != nil {
		return "", domain.CredentialRecord{}, fmt.Errorf("store %s credential: %w", typ, err)
	}
	return raw, rec, nil
}
