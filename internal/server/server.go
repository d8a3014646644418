package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"siniopay/internal/account"
	"siniopay/internal/audit"
	"siniopay/internal/auth"
	"siniopay/internal/config"
	"siniopay/internal/ledger"
	"siniopay/internal/transaction"
	"siniopay/internal/user"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// Dependencies are the collaborators the HTTP layer routes to.
type Dependencies struct {
	DB           *sqlx.DB
	Redis        redis.Cmdable
	Ledger       ledger.Service
	Users        user.Service
	Accounts     account.Repository
	Transactions transaction.Repository
	Audit        audit.Sink
	AuditTrail   audit.Reader
	Tokens       *auth.TokenIssuer
}

type Server struct {
	router   *gin.Engine
	http     *http.Server
	config   *config.Config
	limiters []*RateLimiter
}

func New(cfg *config.Config, deps Dependencies) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(RequestID())
	router.Use(RequestLoggingMiddleware())
	router.Use(MetricsMiddleware())

	authLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, limiterIdle)
	transferLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, limiterIdle)

	userHandler := user.NewHandler(deps.Users)
	accountHandler := account.NewHandler(deps.Accounts, deps.Audit)
	ledgerHandler := ledger.NewHandler(deps.Ledger, deps.Accounts, deps.Transactions)
	auditHandler := audit.NewHandler(deps.AuditTrail)

	public := router.Group("/auth")
	public.Use(RateLimitMiddleware(authLimiter, "auth"))
	{
		public.POST("/register", userHandler.Register)
		public.POST("/login", userHandler.Login)
		public.POST("/refresh", userHandler.RefreshToken)
	}

	authMiddleware := auth.Authenticate(deps.Tokens)
	protected := router.Group("/")
	protected.Use(authMiddleware)
	{
		protected.GET("/me", userHandler.GetMe)
		protected.GET("/accounts/me", accountHandler.GetMine)
		protected.GET("/accounts/me/transactions", ledgerHandler.ListMyTransactions)
		protected.GET("/transactions/:id", ledgerHandler.GetTransaction)
		protected.POST("/transfers",
			RateLimitMiddleware(transferLimiter, "transfers"),
			IdempotencyMiddleware(deps.Redis, cfg.IdempotencyTTL),
			ledgerHandler.CreateTransfer,
		)
	}

	adminMiddleware := auth.RequireRole(auth.RoleAdmin)
	admin := router.Group("/admin")
	admin.Use(authMiddleware, adminMiddleware)
	{
		admin.POST("/transactions/:id/reverse", ledgerHandler.ReverseTransaction)
		admin.POST("/transactions/:id/flag", ledgerHandler.FlagTransaction)
		admin.PATCH("/accounts/:id/status", accountHandler.UpdateStatus)
		admin.GET("/transactions/:id/audit", auditHandler.TransactionTrail)
		admin.GET("/accounts/:id/audit", auditHandler.AccountTrail)
	}

	router.GET("/health", Health(deps.DB, deps.Redis))
	router.GET("/metrics", Metrics())

	return &Server{
		router:   router,
		config:   cfg,
		limiters: []*RateLimiter{authLimiter, transferLimiter},
		http: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks until the server stops. It returns nil after Shutdown.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, rl := range s.limiters {
		go rl.Run(ctx, time.Minute)
	}

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

const limiterIdle = 3 * time.Minute

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Idempotency-Key, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
