// Package server initializes and runs the vault server: key derivation,
// storage, services, graceful shutdown, and the storage-hygiene sweep.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/medkeep/phivault/internal/common"
	"github.com/medkeep/phivault/internal/cryptox"
	"github.com/medkeep/phivault/internal/logging"
	"github.com/medkeep/phivault/internal/server/config"
	"github.com/medkeep/phivault/internal/server/phi"
	"github.com/medkeep/phivault/internal/server/repositories/repomanager"
	"github.com/medkeep/phivault/internal/server/services"
)

// App owns the wired service graph and the background sweep.
type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	rm     repomanager.RepositoryManager

	RecordService     *services.RecordService
	ShareService      *services.ShareService
	RedeemService     *services.RedeemService
	AttachmentService *services.AttachmentService
}

// deriveKeyWithTimeout runs the key derivation under a hard deadline so a
// misconfigured deployment fails fast instead of hanging start-up.
func deriveKeyWithTimeout(ctx context.Context, secret string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		key []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		key, err := cryptox.DeriveKey([]byte(secret))
		ch <- result{key, err}
	}()

	select {
	case r := <-ch:
		return r.key, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: key derivation did not finish within %s", common.ErrConfiguration, timeout)
	}
}

// NewApp derives the field-encryption key, connects to the database, runs
// migrations, and wires the services. Any failure here is fatal: the server
// never starts with partial crypto or storage.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	key, err := deriveKeyWithTimeout(ctx, cfg.AppSecret, cfg.KeyDeriveTimeout)
	if err != nil {
		return nil, fmt.Errorf("key derivation error: %w", err)
	}
	codec, err := cryptox.NewCodec(key)
	common.WipeByteArray(key)
	if err != nil {
		return nil, fmt.Errorf("cipher init error: %w", err)
	}
	mapper := phi.NewMapper(codec)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	auditSvc := services.NewAuditService(db, rm, logger)

	return &App{
		config:            cfg,
		logger:            logger,
		db:                db,
		rm:                rm,
		RecordService:     services.NewRecordService(db, rm, mapper, auditSvc, logger),
		ShareService:      services.NewShareService(db, rm, auditSvc, cfg, logger),
		RedeemService:     services.NewRedeemService(db, rm, mapper, auditSvc, logger),
		AttachmentService: services.NewAttachmentService(db, rm, cfg, logger),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runSweep periodically deletes capability rows whose expiry predates the
// retention window. Hygiene only: expiry correctness is enforced lazily at
// redemption time and never depends on this loop.
func (app *App) runSweep(ctx context.Context) {
	ticker := time.NewTicker(app.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-app.config.SweepRetention)
			n, err := app.rm.Capabilities(app.db).DeleteExpiredBefore(ctx, cutoff)
			if err != nil {
				app.logger.Error(ctx, "capability sweep failed", "error", err.Error())
				continue
			}
			if n > 0 {
				app.logger.Info(ctx, "capability sweep completed", "deleted", n)
			}
		}
	}
}

// Run blocks until a termination signal arrives, then closes the database.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runSweep(ctx)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err.Error())
	}
	app.logger.Info(ctx, "Shutdown complete")
}
