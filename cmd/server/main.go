// Command server is the control plane's HTTP entrypoint: it wires the
// repository layer, every business service, the job runner and
// scheduler, and the gorilla/mux router together, then serves until
// asked to stop. Flag-driven startup, a background polling loop, and
// graceful shutdown on SIGINT/SIGTERM via signal.NotifyContext.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abtestlab/controlplane/internal/audit"
	"github.com/abtestlab/controlplane/internal/blobstore"
	"github.com/abtestlab/controlplane/internal/config"
	"github.com/abtestlab/controlplane/internal/decision"
	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/flags"
	"github.com/abtestlab/controlplane/internal/httpapi"
	"github.com/abtestlab/controlplane/internal/ident"
	"github.com/abtestlab/controlplane/internal/incident"
	"github.com/abtestlab/controlplane/internal/ingest"
	"github.com/abtestlab/controlplane/internal/insights"
	"github.com/abtestlab/controlplane/internal/jobs"
	"github.com/abtestlab/controlplane/internal/metaadapter"
	"github.com/abtestlab/controlplane/internal/notifications"
	"github.com/abtestlab/controlplane/internal/planner"
	"github.com/abtestlab/controlplane/internal/publish"
	"github.com/abtestlab/controlplane/internal/qa"
	"github.com/abtestlab/controlplane/internal/repo"
	"github.com/abtestlab/controlplane/internal/repo/sqlite"
	"github.com/abtestlab/controlplane/internal/report"
	"github.com/abtestlab/controlplane/internal/stats"
	"github.com/abtestlab/controlplane/internal/stopeval"

	"github.com/nats-io/nats.go"
)

// allJobTypes is the set RunOne polls across; every type the control
// plane defines gets a handler registered below.
var allJobTypes = []domain.JobType{
	domain.JobGenerate,
	domain.JobQASmoke,
	domain.JobPublish,
	domain.JobMetaSync,
	domain.JobStopEval,
	domain.JobReport,
	domain.JobNotify,
	domain.JobImportParse,
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional, defaults + env still apply)")
	workerCount := flag.Int("workers", 2, "Number of background job-polling goroutines")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err, "path", cfg.DBPath)
		os.Exit(1)
	}
	defer store.Close()
	repos := sqlite.NewRepos(store)

	ids := ident.NewMonotonic()
	auditLogger := audit.NewLogger(repos.Audit)
	flagResolver := flags.NewResolver(repos.TenantFlags)
	enricher := ingest.NewEnricher(repos.Runs, repos.LpVariants, cfg.IPSalt)
	intake := ingest.NewIntake(repos.Events, enricher)

	blobs := blobstore.New(cfg.BlobDir)
	publishPipeline := publish.NewPipeline(repos, blobs)
	generator := planner.NewGenerator(repos)
	reportBuilder := report.NewBuilder(repos, generator)
	decisions := decision.NewService(repos)
	incidents := incident.NewManager(repos)
	qaChecker := qa.NewChecker(repos)
	stopEvalRunner := stopeval.NewRunner(repos, incidents)

	tokenStore := sqlite.NewTokenStore(store)
	nonces := metaadapter.NewNonceStore()
	exchanger := metaadapter.NewGraphTokenExchanger(cfg.Meta.AppID, cfg.Meta.AppSecret, cfg.Meta.RedirectURI)
	oauth := metaadapter.NewOAuthManager(nonces, exchanger, tokenStore, repos.Connections, "meta")

	bundleResolver := insights.NewRepoBundleResolver(repos.AdBundles)
	importer := insights.NewImporter(repos.Insights, bundleResolver, blobs)

	notifyRouter := buildNotificationRouter(cfg.Notifications)

	var jobQueue *jobs.Queue
	if nc, err := nats.Connect(cfg.NATSURL, nats.Name("controlplane")); err != nil {
		slog.Warn("nats unavailable, job runner will fall back to polling only", "error", err, "url", cfg.NATSURL)
	} else {
		defer nc.Close()
		if q, err := jobs.NewQueue(nc); err != nil {
			slog.Warn("failed to set up job stream, falling back to polling only", "error", err)
		} else {
			jobQueue = q
		}
	}

	runner := jobs.NewRunner(repos.Jobs)
	registerJobHandlers(runner, jobHandlerDeps{
		repos:          repos,
		generator:      generator,
		publishP:       publishPipeline,
		reportB:        reportBuilder,
		qaChecker:      qaChecker,
		importer:       importer,
		stopEvalRunner: stopEvalRunner,
		notifyRouter:   notifyRouter,
		oauth:          oauth,
	})

	scheduler := jobs.NewScheduler(repos.Jobs, jobQueue, repos.Runs, repos.Tenants)
	go scheduler.Run(ctx, jobs.DefaultMetaSyncInterval)

	for i := 0; i < *workerCount; i++ {
		go pollJobs(ctx, runner)
	}

	server := httpapi.NewServer(httpapi.Deps{
		Repos:          repos,
		Ids:            ids,
		AuditLogger:    auditLogger,
		Flags:          flagResolver,
		Intake:         intake,
		Publish:        publishPipeline,
		Generator:      generator,
		Report:         reportBuilder,
		Decisions:      decisions,
		Incidents:      incidents,
		OAuth:          oauth,
		JobQueue:       jobQueue,
		Importer:       importer,
		QAChecker:      qaChecker,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Router(),
	}

	go func() {
		slog.Info("control plane listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}

// pollJobs repeatedly claims and runs the next available job across every
// registered type, backing off briefly when the queue is empty. A simple
// sleep-poll cycle rather than a condition-variable wakeup, since job
// claims are already cheap, indexed queries.
func pollJobs(ctx context.Context, runner *jobs.Runner) {
	idle := 500 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ran, err := runner.RunOne(ctx, allJobTypes)
		if err != nil {
			slog.Error("job runner iteration failed", "error", err)
			time.Sleep(idle)
			continue
		}
		if !ran {
			time.Sleep(idle)
		}
	}
}

type jobHandlerDeps struct {
	repos          *repo.Repos
	generator      *planner.Generator
	publishP       *publish.Pipeline
	reportB        *report.Builder
	qaChecker      *qa.Checker
	importer       *insights.Importer
	stopEvalRunner *stopeval.Runner
	notifyRouter   *notifications.Router
	oauth          *metaadapter.OAuthManager
}

type runIDPayload struct {
	RunID string `json:"runId"`
}

func registerJobHandlers(runner *jobs.Runner, d jobHandlerDeps) {
	runner.Register(domain.JobGenerate, func(ctx context.Context, job *domain.Job) (string, error) {
		diffs, err := d.generator.Propose(ctx, job.TenantID, job.RunID, planner.Overrides{})
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(map[string]any{"diffs": diffs})
		return string(out), err
	})

	runner.Register(domain.JobQASmoke, func(ctx context.Context, job *domain.Job) (string, error) {
		result, err := d.qaChecker.SmokeTest(ctx, job.TenantID, job.RunID)
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(result)
		return string(out), err
	})

	runner.Register(domain.JobPublish, func(ctx context.Context, job *domain.Job) (string, error) {
		policy := publish.DefaultUTMPolicy(job.RunID)
		deployment, err := d.publishP.Publish(ctx, job.TenantID, job.RunID, policy)
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(deployment)
		return string(out), err
	})

	runner.Register(domain.JobMetaSync, func(ctx context.Context, job *domain.Job) (string, error) {
		return runMetaSync(ctx, d, job.TenantID)
	})

	runner.Register(domain.JobStopEval, func(ctx context.Context, job *domain.Job) (string, error) {
		var payload runIDPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
			return "", err
		}
		result, err := d.stopEvalRunner.Evaluate(ctx, job.TenantID, payload.RunID, time.Now().UTC().Unix())
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(result)
		return string(out), err
	})

	runner.Register(domain.JobReport, func(ctx context.Context, job *domain.Job) (string, error) {
		rep, err := d.reportB.Build(ctx, job.TenantID, job.RunID, stats.DefaultThresholds, time.Now().UTC())
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(rep)
		return string(out), err
	})

	runner.Register(domain.JobNotify, func(ctx context.Context, job *domain.Job) (string, error) {
		event, err := notifications.ParseEvent(job.PayloadJSON)
		if err != nil {
			return "", err
		}
		if err := d.notifyRouter.Dispatch(event); err != nil {
			return "", err
		}
		return `{"dispatched":true}`, nil
	})

	runner.Register(domain.JobImportParse, func(ctx context.Context, job *domain.Job) (string, error) {
		var payload struct {
			RunID         string `json:"runId"`
			RawBase64     string `json:"rawBase64"`
			Overwrite     bool   `json:"overwrite"`
			BlobKeyPrefix string `json:"blobKeyPrefix"`
		}
		if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
			return "", err
		}
		raw, err := base64.StdEncoding.DecodeString(payload.RawBase64)
		if err != nil {
			return "", err
		}
		result, err := d.importer.ImportCSV(ctx, job.TenantID, payload.RunID, raw, payload.Overwrite, payload.BlobKeyPrefix)
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(result)
		return string(out), err
	})
}

// runMetaSync pulls the last two days of insights for every active Meta
// connection on tenantID, matching the fixed lookback a scheduled sync
// needs to catch Meta's own reporting-delay corrections.
func runMetaSync(ctx context.Context, d jobHandlerDeps, tenantID string) (string, error) {
	conns, err := d.repos.Connections.ListByTenant(ctx, tenantID)
	if err != nil {
		return "", err
	}
	until := time.Now().UTC()
	since := until.Add(-48 * time.Hour)

	synced := 0
	for _, c := range conns {
		if c.Status != domain.ConnectionActive {
			continue
		}
		client := metaadapter.NewClient(d.oauth, tenantID, metaadapter.LevelAd, nil, "")
		puller := insights.NewPuller(d.repos.Insights, client)
		n, err := puller.Pull(ctx, tenantID, c.ID, since, until)
		if err != nil {
			return "", err
		}
		synced += n
	}
	out, err := json.Marshal(map[string]int{"rowsSynced": synced, "connections": len(conns)})
	return string(out), err
}

func buildNotificationRouter(cfg config.NotificationsConfig) *notifications.Router {
	var sinks []notifications.Sink
	if cfg.Slack.WebhookURL != "" {
		sinks = append(sinks, notifications.NewSlackSink(notifications.SlackConfig{
			WebhookURL: cfg.Slack.WebhookURL, Channel: cfg.Slack.Channel,
			Username: cfg.Slack.Username, MinSeverity: cfg.Slack.MinSeverity,
		}))
	}
	if cfg.Discord.WebhookURL != "" {
		sinks = append(sinks, notifications.NewDiscordSink(notifications.DiscordConfig{
			WebhookURL: cfg.Discord.WebhookURL, Username: cfg.Discord.Username, MinSeverity: cfg.Discord.MinSeverity,
		}))
	}
	if cfg.Email.SMTPHost != "" {
		sinks = append(sinks, notifications.NewEmailSink(notifications.EmailConfig{
			SMTPHost: cfg.Email.SMTPHost, SMTPPort: cfg.Email.SMTPPort,
			Username: cfg.Email.Username, Password: cfg.Email.Password,
			From: cfg.Email.From, To: cfg.Email.To, MinSeverity: cfg.Email.MinSeverity,
		}))
	}
	return notifications.NewRouter(sinks...)
}
