package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"custos/internal/audit"
	auditmetrics "custos/internal/audit/metrics"
	"custos/internal/consent"
	"custos/internal/enrollment"
	jwttoken "custos/internal/jwt_token"
	"custos/internal/masking"
	"custos/internal/platform/alerts"
	"custos/internal/platform/compliance"
	"custos/internal/platform/config"
	"custos/internal/platform/httpserver"
	"custos/internal/platform/logger"
	platformredis "custos/internal/platform/redis"
	"custos/internal/policy"
	policymetrics "custos/internal/policy/metrics"
	"custos/internal/retention"
	retentionmetrics "custos/internal/retention/metrics"
	"custos/internal/tenantctx"
	httptransport "custos/internal/transport/http"
	"custos/internal/vault"
	vaultmetrics "custos/internal/vault/metrics"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx := context.Background()

	taxonomy, err := compliance.Load(cfg.CompliancePath)
	if err != nil {
		log.Error("load compliance config failed", "error", err)
		os.Exit(1)
	}

	// Stores: Postgres when a DSN is configured, in-memory otherwise.
	var (
		db   *sql.DB
		pool *pgxpool.Pool

		auditStore   audit.Store
		consentStore consent.Store
		enrollStore  enrollment.Store
		keyStore     vault.KeyStore
		entryStore   vault.EntryStore
		policyStore  retention.PolicyStore
		recordStore  retention.RecordStore
	)
	if cfg.Postgres.URL != "" {
		if db, err = sql.Open("postgres", cfg.Postgres.URL); err != nil {
			log.Error("open postgres failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if pool, err = pgxpool.New(ctx, cfg.Postgres.URL); err != nil {
			log.Error("open pgx pool failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		auditStore = audit.NewPostgres(db)
		consentStore = consent.NewPostgres(db)
		enrollStore = enrollment.NewPostgres(db)
		entryStore = vault.NewPostgresEntryStore(pool)
		if keyStore, err = vault.NewPostgresKeyStore(pool, []byte(cfg.Vault.MasterKey)); err != nil {
			log.Error("init key store failed", "error", err)
			os.Exit(1)
		}
		policyStore = retention.NewPostgresPolicyStore(db)
		recordStore = retention.NewPostgresRecordStore(db)
	} else {
		log.Warn("no postgres configured; using in-memory stores")
		auditStore = audit.NewInMemoryStore()
		consentStore = consent.NewInMemoryStore()
		enrollStore = enrollment.NewInMemoryStore()
		entryStore = vault.NewInMemoryEntryStore()
		if keyStore, err = vault.NewInMemoryKeyStore([]byte(cfg.Vault.MasterKey)); err != nil {
			log.Error("init key store failed", "error", err)
			os.Exit(1)
		}
		policyStore = retention.NewInMemoryPolicyStore()
		recordStore = retention.NewInMemoryRecordStore()
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		log.Error("connect redis failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	alertPublisher, err := alerts.New(ctx, cfg.Kafka, log)
	if err != nil {
		log.Error("connect kafka failed", "error", err)
		os.Exit(1)
	}
	defer alertPublisher.Close()

	// Policy engine with the relationship predicates the default matrix
	// gates on: consent links for parents and counselors, rosters for
	// teachers, self-access for students.
	consentResolver := consent.NewResolver(consentStore)
	enrollResolver := enrollment.NewResolver(enrollStore)
	engineOpts := []policy.Option{
		policy.WithCapabilities(taxonomy.Capabilities),
		policy.WithMetrics(policymetrics.New()),
		policy.WithRelationship(tenantctx.RoleParent, policy.ResourceStudent, consentResolver.Predicate(consent.TypeGuardianDisclosure)),
		policy.WithRelationship(tenantctx.RoleParent, policy.ResourceGrade, consentResolver.Predicate(consent.TypeGuardianDisclosure)),
		policy.WithRelationship(tenantctx.RoleParent, policy.ResourceAttendance, consentResolver.Predicate(consent.TypeGuardianDisclosure)),
		policy.WithRelationship(tenantctx.RoleCounselor, policy.ResourceStudent, enrollResolver.Predicate()),
		policy.WithRelationship(tenantctx.RoleCounselor, policy.ResourceGrade, enrollResolver.Predicate()),
		policy.WithRelationship(tenantctx.RoleCounselor, policy.ResourceMedicalRecord, consentResolver.Predicate(consent.TypeMedicalDisclosure)),
		policy.WithRelationship(tenantctx.RoleTeacher, policy.ResourceStudent, enrollResolver.Predicate()),
		policy.WithRelationship(tenantctx.RoleTeacher, policy.ResourceGrade, enrollResolver.Predicate()),
		policy.WithRelationship(tenantctx.RoleTeacher, policy.ResourceAttendance, enrollResolver.Predicate()),
		policy.WithRelationship(tenantctx.RoleStudent, policy.ResourceStudent, policy.SelfSubject()),
		policy.WithRelationship(tenantctx.RoleStudent, policy.ResourceGrade, policy.SelfSubject()),
		policy.WithRelationship(tenantctx.RoleStudent, policy.ResourceAttendance, policy.SelfSubject()),
	}
	engine := policy.NewEngine(engineOpts...)

	captureClasses := make([]string, 0, len(taxonomy.PayloadCapture))
	for class, enabled := range taxonomy.PayloadCapture {
		if enabled {
			captureClasses = append(captureClasses, class)
		}
	}
	chain := audit.NewChain(auditStore, log,
		audit.WithModes(taxonomy.AuditModes),
		audit.WithCapture(captureClasses),
		audit.WithMetrics(auditmetrics.New()),
		audit.WithAlerts(alertPublisher),
	)

	vaultOpts := []vault.ServiceOption{
		vault.WithMetrics(vaultmetrics.New()),
		vault.WithAlerts(alertPublisher),
	}
	if taxonomy.KeyGrace > 0 {
		vaultOpts = append(vaultOpts, vault.WithKeyGrace(taxonomy.KeyGrace))
	} else if cfg.Vault.KeyGrace > 0 {
		vaultOpts = append(vaultOpts, vault.WithKeyGrace(cfg.Vault.KeyGrace))
	}
	vaultSvc := vault.NewService(keyStore, entryStore, engine, chain, log, vaultOpts...)

	// Payload capture for opted-in data classes is sealed by the vault.
	audit.WithSealer(vaultSvc)(chain)

	consentSvc := consent.NewService(consentStore, engine, chain, log)

	retentionOpts := []retention.ManagerOption{
		retention.WithVault(entryStore),
		retention.WithMetrics(retentionmetrics.New()),
		retention.WithRevocationClasses(taxonomy.RevocationClasses),
	}
	if redisClient != nil {
		retentionOpts = append(retentionOpts, retention.WithLock(
			retention.NewRedisSweepLock(redisClient.Client, cfg.Retention.LockLease)))
	}
	retentionMgr := retention.NewManager(policyStore, recordStore, engine, chain, log, retentionOpts...)
	consentSvc.Observe(retentionMgr)

	masker := masking.NewLayer(taxonomy.Masking)

	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, "custos", "custos-api")
	handler := httptransport.NewHandler(engine, chain, vaultSvc, consentSvc, retentionMgr, masker, log)
	router := httptransport.NewRouter(handler, jwtService)

	srv := httpserver.New(cfg.Server.Addr, router, httpserver.Timeouts{
		Read:  cfg.Server.ReadTimeout,
		Write: cfg.Server.WriteTimeout,
	})

	sweepCtx, stopSweep := context.WithCancel(ctx)
	go runSweepLoop(sweepCtx, retentionMgr, cfg.Retention.SweepInterval, log)
	go runKeyMaintenanceLoop(sweepCtx, vaultSvc, cfg.Vault.MaintenanceInterval, log)

	log.Info("starting custos", "addr", cfg.Server.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

func runSweepLoop(ctx context.Context, mgr *retention.Manager, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := mgr.RunSweep(ctx); err != nil {
				log.ErrorContext(ctx, "retention sweep failed", "error", err)
			}
		}
	}
}

func runKeyMaintenanceLoop(ctx context.Context, svc *vault.Service, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := svc.MaintainKeys(ctx, time.Now())
			if err != nil {
				log.ErrorContext(ctx, "key maintenance failed", "error", err)
				continue
			}
			if report.Migrated > 0 || report.Expired > 0 {
				log.InfoContext(ctx, "key maintenance run",
					"migrated_entries", report.Migrated,
					"expired_keys", report.Expired)
			}
		}
	}
}
