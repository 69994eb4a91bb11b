package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	stdsignal "os/signal"
	"syscall"
	"time"

	"signali.bg/internal/approval"
	"signali.bg/internal/audit"
	"signali.bg/internal/auth"
	"signali.bg/internal/config"
	"signali.bg/internal/httpapi"
	"signali.bg/internal/notify"
	"signali.bg/internal/obs"
	"signali.bg/internal/ratelimit"
	"signali.bg/internal/signal"
	"signali.bg/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, "")

	cfg := config.Load()

	var (
		signalStore   signal.Store
		approvalStore approval.Store
		auditStore    audit.Store
		readyProbe    httpapi.ReadyProbe
		userEmail     func(ctx context.Context, userID string) (string, error)
	)
	if cfg.DatabaseURL != "" {
		pgStore, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		signalStore = pgStore.Signals()
		approvalStore = pgStore.Approvals()
		auditStore = pgStore.Audit()
		readyProbe = httpapi.ReadyProbe{DB: pgStore.DB()}
		userEmail = pgStore.Approvals().UserEmail
	} else {
		log.Println("SIGNALI_PG_DSN not set, using in-memory stores")
		signalStore = signal.NewMemoryStore()
		approvalStore = approval.NewMemoryStore()
		auditStore = audit.NewMemoryStore()
		userEmail = func(ctx context.Context, userID string) (string, error) {
			return "", errors.New("no user directory configured")
		}
	}

	var bucketStore ratelimit.Store
	if cfg.RedisURL != "" {
		rs, err := ratelimit.OpenRedisStore(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatalf("open redis: %v", err)
		}
		defer rs.Close()
		bucketStore = rs
	} else {
		ms := ratelimit.NewMemoryStore()
		defer ms.Close()
		bucketStore = ms
	}
	limiter := ratelimit.New(bucketStore, cfg.RateLimitFailOpen)

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.SMTPAddr != "" {
		sender := notify.NewSMTPSender(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPassword)
		en, err := notify.NewEmailNotifier(sender, cfg.EmailPerMinute, userEmail)
		if err != nil {
			log.Fatalf("email notifier: %v", err)
		}
		notifier = en
	}

	// In-process claims cache: issued tokens carry their roles, so a restart
	// only drops the early role-revocation shortcut.
	// TODO: inject the external claims-store client here once the identity
	// provider exposes one.
	claims := auth.NewMemoryClaimsStore()

	auditSvc := audit.NewService(auditStore)
	signals := signal.NewService(signalStore, auditSvc, notifier)
	approvals := approval.NewService(approvalStore, claims, auditSvc, notifier)

	api := httpapi.New(readyProbe, version, signals, approvals, limiter, cfg.RateLimits)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting signali-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	stdsignal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
