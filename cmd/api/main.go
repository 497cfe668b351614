package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/auth"
	"outbound-dialer/internal/callerid"
	"outbound-dialer/internal/config"
	"outbound-dialer/internal/dialer"
	"outbound-dialer/internal/httpapi"
	"outbound-dialer/internal/queue"
	"outbound-dialer/internal/reporting"
	"outbound-dialer/internal/telephony"
	"outbound-dialer/pkg/logger"
	"outbound-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	auditStreamMaxLen = 100_000
	callerIDCacheTTL  = 10 * time.Minute
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	var queues queue.Repository = queue.NewMemoryRepo()
	if cfg.PostgresEnabled() {
		db, err := openPostgres(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		queues = queue.NewPostgresRepo(db)
	} else {
		log.Warn("DB_HOST not set, queues are kept in memory")
	}

	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb, err = utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	transport, sandbox, numbers, err := buildTransport(cfg)
	if err != nil {
		return err
	}

	var (
		lines     dialer.LineLimiter = dialer.NewMemoryLineLimiter(cfg.Dialer.MaxLines)
		auditRepo audit.Repository
		auditLog  audit.Reader
	)
	if rdb != nil {
		lines = dialer.NewRedisLineLimiter(rdb, cfg.Dialer.MaxLines, cfg.Dialer.LineTTL)
		if numbers != nil {
			numbers = callerid.NewRedisCache(rdb, numbers, callerIDCacheTTL, log)
		}
		stream := audit.NewRedisStreamRepo(rdb, auditStreamMaxLen)
		auditRepo, auditLog = stream, stream
	} else {
		mem := audit.NewMemoryRepo()
		auditRepo, auditLog = mem, mem
	}

	sessions := dialer.NewRegistry(dialer.Deps{
		Queues:    queues,
		Transport: transport,
		Numbers:   numbers,
		Lines:     lines,
		Audit:     audit.NewService(auditRepo),
		Log:       log,
	}, dialer.Config{
		MaxLines:         cfg.Dialer.MaxLines,
		Stagger:          cfg.Dialer.Stagger,
		MachineDetection: cfg.Dialer.MachineDetection,
	})
	if sandbox != nil {
		sandbox.Events = sessions
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, cfg, authManager, httpapi.Handlers{
		Auth:     authManager,
		Queues:   queues,
		Sessions: sessions,
		Reports:  reporting.NewService(queues, auditLog),
		Defaults: cfg.Dialer.QueueDefaults,
		Sandbox:  sandbox,
		Lines:    lines.(dialer.LineUsage),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: session event streams are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "transport", transport.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		// Hang up live legs first so their lines are released before the stores close.
		sessions.CloseAll(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		return nil
	})
	return g.Wait()
}

func openPostgres(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureSchema(ctx, db, queue.Schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// buildTransport picks Twilio when configured and the in-memory sandbox otherwise.
// numbers is nil with the sandbox: sessions then dial without a caller ID.
func buildTransport(cfg config.Config) (telephony.Transport, *telephony.SandboxTransport, callerid.Inventory, error) {
	if !cfg.TwilioEnabled() {
		sb := telephony.NewSandboxTransport()
		return sb, sb, nil, nil
	}
	base := strings.TrimRight(cfg.Twilio.PublicBaseURL, "/")
	tw, err := telephony.NewTwilioProvider(telephony.TwilioConfig{
		AccountSID:        cfg.Twilio.AccountSID,
		AuthToken:         cfg.Twilio.AuthToken,
		AnswerURL:         base + twilioAnswerPath,
		StatusCallbackURL: base + twilioStatusPath,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return tw, nil, tw, nil
}
