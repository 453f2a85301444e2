// Package cli implements the operator command line: schema migrations,
// staff token minting, and share capability management against the vault
// database.
package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/medkeep/phivault/internal/common"
	"github.com/medkeep/phivault/internal/logging"
	"github.com/medkeep/phivault/internal/server/auth"
	"github.com/medkeep/phivault/internal/server/config"
	"github.com/medkeep/phivault/internal/server/models"
	"github.com/medkeep/phivault/internal/server/repositories/repomanager"
	"github.com/medkeep/phivault/internal/server/services"
)

// App holds the CLI's wired collaborators.
type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	rm     repomanager.RepositoryManager
	share  *services.ShareService
}

// NewApp opens the database and wires the share service. Commands that
// manage capabilities talk to the database directly; none of them need the
// field-encryption key.
func NewApp(cfg *config.Config) (*App, error) {

	sl := slog.New(slog.NewTextHandler(os.Stderr, nil))
	logger := logging.NewSlogLogger(sl)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	auditSvc := services.NewAuditService(db, rm, logger)
	share := services.NewShareService(db, rm, auditSvc, cfg, logger)

	return &App{config: cfg, logger: logger, db: db, rm: rm, share: share}, nil
}

// Close releases the database handle.
func (a *App) Close() error {
	return a.db.Close()
}

// Run dispatches one subcommand and returns its error.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("%w: no command given", common.ErrValidation)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		return a.migrate(ctx)
	case "token":
		return a.token(rest)
	case "issue":
		return a.issue(ctx, rest)
	case "revoke":
		return a.revoke(ctx, rest)
	case "list":
		return a.list(ctx, rest)
	case "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("%w: unknown command %q", common.ErrValidation, cmd)
	}
}

func splitFields(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printUsage() {
	fmt.Println("Usage: phivault-cli <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  migrate                   apply database migrations")
	fmt.Println("  token                     mint a staff access token (prompts for the signing secret)")
	fmt.Println("  issue                     issue a share capability for a record")
	fmt.Println("  revoke                    revoke a share capability")
	fmt.Println("  list                      list a record's capabilities")
}

func (a *App) migrate(ctx context.Context) error {
	if err := a.rm.RunMigrations(ctx, a.db); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	a.logger.Info(ctx, "migrations applied")
	return nil
}

// token mints a staff access token. The signing secret is read from the
// terminal without echo, never from argv.
func (a *App) token(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	tenant := fs.String("tenant", "", "tenant id")
	user := fs.String("user", "", "user id")
	role := fs.String("role", "staff", "role claim")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenant == "" || *user == "" {
		return fmt.Errorf("%w: -tenant and -user are required", common.ErrValidation)
	}

	secret, err := GetSecret(os.Stderr, "Signing secret")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(secret)

	signed, err := auth.GenerateToken(auth.Caller{TenantID: *tenant, UserID: *user, Role: *role},
		secret, a.config.AccessTokenValidity)
	if err != nil {
		return err
	}

	fmt.Println(signed)
	return nil
}

func (a *App) issue(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	tenant := fs.String("tenant", "", "tenant id")
	user := fs.String("user", "", "acting user id")
	record := fs.String("record", "", "record id")
	scopeKind := fs.String("scope", string(models.ScopeFull), "scope kind: full_record, section, or custom")
	section := fs.String("section", "", "section name (scope=section)")
	fields := fs.String("fields", "", "comma-separated field names (scope=custom)")
	expiresIn := fs.Duration("expires-in", 24*time.Hour, "validity window")
	maxUses := fs.Int("max-uses", 1, "redemption ceiling")
	pin := fs.Bool("pin", false, "require a PIN")
	recipient := fs.String("recipient", "", "bind to a recipient identity")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenant == "" || *user == "" || *record == "" {
		return fmt.Errorf("%w: -tenant, -user and -record are required", common.ErrValidation)
	}

	scope := models.Scope{Kind: models.ScopeKind(*scopeKind)}
	switch scope.Kind {
	case models.ScopeSection:
		scope.Fields = []string{*section}
	case models.ScopeCustom:
		scope.Fields = splitFields(*fields)
	}

	issued, err := a.share.Issue(ctx, auth.Caller{TenantID: *tenant, UserID: *user}, services.IssueRequest{
		RecordID:    *record,
		Scope:       scope,
		ExpiresIn:   *expiresIn,
		MaxUses:     *maxUses,
		PINRequired: *pin,
		Recipient:   *recipient,
		Origin:      "cli",
	})
	if err != nil {
		return err
	}

	fmt.Printf("capability: %s\n", issued.Capability.ID)
	fmt.Printf("token:      %s\n", issued.Token)
	if issued.PIN != "" {
		fmt.Printf("pin:        %s\n", issued.PIN)
	}
	fmt.Printf("expires:    %s\n", issued.Capability.ExpiresAt.Format(time.RFC3339))
	return nil
}

func (a *App) revoke(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	tenant := fs.String("tenant", "", "tenant id")
	user := fs.String("user", "", "acting user id")
	id := fs.String("id", "", "capability id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenant == "" || *user == "" || *id == "" {
		return fmt.Errorf("%w: -tenant, -user and -id are required", common.ErrValidation)
	}

	if err := a.share.Revoke(ctx, auth.Caller{TenantID: *tenant, UserID: *user}, *id); err != nil {
		return err
	}
	fmt.Println("revoked")
	return nil
}

func (a *App) list(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	tenant := fs.String("tenant", "", "tenant id")
	user := fs.String("user", "", "acting user id")
	record := fs.String("record", "", "record id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenant == "" || *record == "" {
		return fmt.Errorf("%w: -tenant and -record are required", common.ErrValidation)
	}

	caps, err := a.share.ListForRecord(ctx, auth.Caller{TenantID: *tenant, UserID: *user}, *record)
	if err != nil {
		return err
	}

	for _, c := range caps {
		fmt.Printf("%s  state=%s  uses=%d/%d  expires=%s  scope=%s\n",
			c.ID, c.State, c.RedemptionCount, c.MaxUses, c.ExpiresAt.Format(time.RFC3339), c.Scope.Kind)
	}
	return nil
}
