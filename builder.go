package authcore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/mfa"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/rbac"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/token"
)

// Builder assembles an Engine. Configure it with the With methods and
// call Build once; a Builder is single use and not safe for concurrent
// configuration.
//
// UserStore, RoleStore, and a session.Repository are required. A Redis
// client is optional: with one, session caching, RBAC caching, and rate
// limiting run on Redis; without one, caching is off and limiting runs
// in process. Password reset is the exception and needs Redis.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users    UserStore
	roles    rbac.RoleStore
	sessions session.Repository

	sessionCache session.Cache
	rbacCache    rbac.Cache

	auditSink audit.Sink
	alertFn   audit.AlertFunc

	logger  *slog.Logger
	clock   Clock
	entropy io.Reader

	built bool
}

// New returns a Builder seeded with DefaultConfig. The token signing
// secret is deliberately absent from the default and must be set before
// Build.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the builder's configuration with a private copy.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithUserStore sets the account backend. Required.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.users = store
	return b
}

// WithRoleStore sets the role assignment backend. Required.
func (b *Builder) WithRoleStore(store rbac.RoleStore) *Builder {
	b.roles = store
	return b
}

// WithSessionRepository sets the durable session backend. Required.
// session.NewPostgresRepository is the stock implementation.
func (b *Builder) WithSessionRepository(repo session.Repository) *Builder {
	b.sessions = repo
	return b
}

// WithRedis provides the client used for session caching, RBAC caching,
// rate limiting, and password reset challenges.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSessionCache overrides the session cache the builder would derive
// from the Redis client.
func (b *Builder) WithSessionCache(cache session.Cache) *Builder {
	b.sessionCache = cache
	return b
}

// WithRBACCache overrides the grants cache the builder would derive from
// the Redis client.
func (b *Builder) WithRBACCache(cache rbac.Cache) *Builder {
	b.rbacCache = cache
	return b
}

// WithAuditSink sets the audit destination. Without one, enabled
// auditing falls back to the engine logger.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

// WithAlertFunc registers the hook fired for CRITICAL audit events.
func (b *Builder) WithAlertFunc(fn audit.AlertFunc) *Builder {
	b.alertFn = fn
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source, which tests use to drive lockout
// windows and token lifetimes deterministically.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithEntropy overrides the random source for MFA secrets and backup
// codes. Defaults to crypto/rand.
func (b *Builder) WithEntropy(r io.Reader) *Builder {
	b.entropy = r
	return b
}

// Build validates the configuration, wires every component, and returns
// the engine. The builder stays reusable after a failed Build and is
// consumed by a successful one.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderReused
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.roles == nil {
		return nil, errors.New("role store required")
	}
	if b.sessions == nil {
		return nil, errors.New("session repository required")
	}
	if cfg.PasswordReset.Enabled && b.redis == nil {
		return nil, errors.New("password reset requires a redis client")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.clock
	if clock == nil {
		clock = SystemClock{}
	}
	now := clock.Now

	// -------- TOKENS AND CREDENTIALS --------
	tokens, err := token.NewManager(token.Config{
		Secret:     cloneBytes(cfg.Token.Secret),
		Issuer:     cfg.Token.Issuer,
		Audience:   cfg.Token.Audience,
		AccessTTL:  cfg.Token.AccessTTL,
		RefreshTTL: cfg.Token.RefreshTTL,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	hasher, err := password.NewHasher(cfg.Password.Cost)
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	mfaEngine, err := mfa.NewEngine(mfa.Config{
		Issuer:          cfg.MFA.Issuer,
		Digits:          cfg.MFA.Digits,
		Period:          cfg.MFA.Period,
		Window:          cfg.MFA.Window,
		SecretLength:    cfg.MFA.SecretLength,
		BackupCodeCount: cfg.MFA.BackupCodeCount,
	}, now, b.entropy)
	if err != nil {
		return nil, fmt.Errorf("mfa engine: %w", err)
	}

	// -------- SESSIONS --------
	sessionCache := b.sessionCache
	if sessionCache == nil && b.redis != nil {
		sessionCache = session.NewRedisCache(b.redis, cfg.Session.CachePrefix)
	}
	sessionStore, err := session.NewStore(b.sessions, sessionCache, now, logger)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	// -------- RBAC --------
	rbacCache := b.rbacCache
	if rbacCache == nil && b.redis != nil && cfg.RBAC.CacheTTL > 0 {
		rbacCache = rbac.NewRedisCache(b.redis, cfg.RBAC.CachePrefix)
	}
	resolver, err := rbac.NewResolver(b.roles, rbacCache, cfg.RBAC.CacheTTL, now, logger)
	if err != nil {
		return nil, fmt.Errorf("rbac resolver: %w", err)
	}

	// -------- RATE LIMITING --------
	var (
		closers        []func()
		loginLimiter   rate.Limiter
		refreshLimiter rate.Limiter
		resetLimiter   rate.Limiter
	)
	if cfg.RateLimit.Enabled {
		if b.redis != nil {
			loginLimiter = rate.NewRedisLimiter(b.redis, "ac:rl:login", cfg.RateLimit.LoginMax, cfg.RateLimit.LoginWindow)
			refreshLimiter = rate.NewRedisLimiter(b.redis, "ac:rl:refresh", cfg.RateLimit.RefreshMax, cfg.RateLimit.RefreshWindow)
			resetLimiter = rate.NewRedisLimiter(b.redis, "ac:rl:reset", cfg.RateLimit.ResetRequestMax, cfg.RateLimit.ResetRequestWindow)
		} else {
			login := rate.NewLocalLimiter(cfg.RateLimit.LoginMax, cfg.RateLimit.LoginWindow)
			refresh := rate.NewLocalLimiter(cfg.RateLimit.RefreshMax, cfg.RateLimit.RefreshWindow)
			reset := rate.NewLocalLimiter(cfg.RateLimit.ResetRequestMax, cfg.RateLimit.ResetRequestWindow)
			closers = append(closers, login.Close, refresh.Close, reset.Close)
			loginLimiter, refreshLimiter, resetLimiter = login, refresh, reset
		}
	}

	// -------- PASSWORD RESET --------
	var resets *stores.ResetStore
	if cfg.PasswordReset.Enabled {
		resets = stores.NewResetStore(b.redis, "ac:reset", now)
	}

	// -------- OBSERVABILITY --------
	var dispatcher *audit.Dispatcher
	if cfg.Audit.Enabled {
		sink := b.auditSink
		if sink == nil {
			sink = audit.NewLoggerSink(logger)
		}
		dispatcher = audit.NewDispatcher(audit.Config{
			Enabled:    true,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink, b.alertFn, logger)
	}

	policy := password.Policy{
		MinLength:      cfg.Policy.MinLength,
		MaxLength:      cfg.Policy.MaxLength,
		RequireUpper:   cfg.Policy.RequireUpper,
		RequireLower:   cfg.Policy.RequireLower,
		RequireDigit:   cfg.Policy.RequireDigit,
		RequireSpecial: cfg.Policy.RequireSpecial,
	}

	engine := &Engine{
		config:         cfg,
		users:          b.users,
		sessions:       sessionStore,
		tokens:         tokens,
		hasher:         hasher,
		policy:         policy,
		mfa:            mfaEngine,
		roles:          resolver,
		resets:         resets,
		loginLimiter:   loginLimiter,
		refreshLimiter: refreshLimiter,
		resetLimiter:   resetLimiter,
		audit:          dispatcher,
		metrics:        NewMetrics(cfg.Metrics),
		clock:          clock,
		logger:         logger,
		closers:        closers,
	}

	b.built = true
	return engine, nil
}
