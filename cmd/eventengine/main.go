// Command eventengine is the composition root for the persistent,
// rule-driven event engine: it wires the store, rules engine, approval
// manager, gateway context service, and HTTP API, then blocks until
// terminated.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/ruriko-events/common/environment"
	"github.com/bdobrica/ruriko-events/common/version"
	"github.com/bdobrica/ruriko-events/internal/api"
	"github.com/bdobrica/ruriko-events/internal/audit"
	"github.com/bdobrica/ruriko-events/internal/events"
	"github.com/bdobrica/ruriko-events/internal/events/actions"
	"github.com/bdobrica/ruriko-events/internal/gateway"
	"github.com/bdobrica/ruriko-events/internal/gateway/providers/feishu"
	"github.com/bdobrica/ruriko-events/internal/gateway/providers/matrix"
	"github.com/bdobrica/ruriko-events/internal/gateway/providers/telegram"
	"github.com/bdobrica/ruriko-events/internal/observability"
	"github.com/bdobrica/ruriko-events/internal/store"
	"github.com/bdobrica/ruriko-events/internal/taskrunner"
)

func main() {
	observability.Setup(environment.StringOr("LOG_LEVEL", "info"), environment.StringOr("LOG_FORMAT", "json"))

	fmt.Printf("Event Engine %s (%s) built %s\n", version.Version, version.GitCommit, version.BuildTime)

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dbPath := environment.StringOr("DB_PATH", "./eventengine.db")
	rulesPath := environment.StringOr("RULES_PATH", "./rules")
	httpAddr := environment.StringOr("HTTP_ADDR", ":8080")
	heartbeatSeconds := environment.Float64Or("HEARTBEAT_INTERVAL_SECONDS", 60)
	ruleWatchInterval := environment.DurationOr("RULE_WATCH_INTERVAL", 10*time.Second)

	st, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	loader := events.NewRuleLoader()
	if err := loader.EnsureDefaultRules(rulesPath); err != nil {
		return fmt.Errorf("failed to seed default rules: %w", err)
	}

	bus := events.NewEventBus()
	approvals := events.NewApprovalManager(st, bus)
	budget := events.NewAttentionBudget()

	runner := taskrunner.New()

	var sink actions.NotificationSink = actions.NoopSink{}
	var auditNotifier audit.Notifier = audit.Noop{}
	var matrixClient *matrix.Client
	if homeserver, ok := environment.String("MATRIX_HOMESERVER"); ok && homeserver != "" {
		userID, _ := environment.String("MATRIX_USER_ID")
		accessToken, _ := environment.String("MATRIX_ACCESS_TOKEN")
		client, err := matrix.NewClient(matrix.Config{Homeserver: homeserver, UserID: userID, AccessToken: accessToken})
		if err != nil {
			return fmt.Errorf("failed to create matrix client: %w", err)
		}
		matrixClient = client
		sink = matrixNotifySink{client: client}
		if auditRoom := environment.StringOr("MATRIX_AUDIT_ROOM", ""); auditRoom != "" {
			auditNotifier = audit.NewMatrixNotifier(client, auditRoom)
		}
	}
	approvals.SetNotifier(auditNotifier)

	registry := actions.NewRegistry(sink, runner.ForActions())
	router := events.NewEventRouter(registry)
	rulesEngine := events.NewRulesEngine(st, router, approvals, budget)
	engine := events.NewEventEngine(st, rulesPath, rulesEngine, approvals, bus)

	if err := engine.ReloadRules(); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	engine.StartRuleWatch(ruleWatchInterval)
	defer engine.StopRuleWatch()

	if heartbeatSeconds > 0 {
		engine.StartHeartbeat(heartbeatSeconds, "eventengine")
	}
	if cronPath := environment.StringOr("CRON_JOBS_PATH", ""); cronPath != "" {
		jobs, err := loadCronJobs(cronPath)
		if err != nil {
			return fmt.Errorf("failed to load cron jobs: %w", err)
		}
		engine.StartCronJobs(jobs)
	}
	defer engine.StopTriggers()

	ctxSvc := gateway.NewGatewayContextService(st, runner.ForGateway(), dbPath, rulesPath, nil)
	gw := gateway.NewGatewayManager(st, ctxSvc, engine)
	wireProviders(gw, matrixClient)

	server := api.NewServer(httpAddr, engine, st, gw, ctxSvc)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start api server: %w", err)
	}

	<-ctx.Done()
	server.Stop()
	return nil
}

// loadCronJobs reads a YAML file of scheduled synthetic event jobs.
func loadCronJobs(path string) ([]events.CronJob, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var parsed []struct {
		Name      string         `yaml:"name"`
		Schedule  string         `yaml:"schedule"`
		EventType string         `yaml:"event_type"`
		Source    string         `yaml:"source"`
		Subject   string         `yaml:"subject"`
		Payload   map[string]any `yaml:"payload"`
	}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	jobs := make([]events.CronJob, 0, len(parsed))
	for _, p := range parsed {
		jobs = append(jobs, events.CronJob{
			Name:      p.Name,
			Schedule:  p.Schedule,
			EventType: p.EventType,
			Source:    p.Source,
			Subject:   p.Subject,
			Payload:   p.Payload,
		})
	}
	return jobs, nil
}

// wireProviders registers any gateway provider adapter and outbound sender
// whose identity/credentials are configured. A provider left unconfigured
// simply has no adapter or sender registered; its ingest endpoints and
// outbound test calls return an error until configured.
func wireProviders(gw *gateway.GatewayManager, matrixClient *matrix.Client) {
	if botUsername, ok := environment.String("TELEGRAM_BOT_USERNAME"); ok && botUsername != "" {
		botID := environment.StringOr("TELEGRAM_BOT_ID", botUsername)
		gw.RegisterTelegramAdapter(telegram.New(botUsername, botID))
	}
	if botToken, ok := environment.String("TELEGRAM_BOT_TOKEN"); ok && botToken != "" {
		client := telegram.NewClient(botToken)
		gw.RegisterSender("telegram", client.SendMessage)
	}

	if appID, ok := environment.String("FEISHU_APP_ID"); ok && appID != "" {
		gw.RegisterFeishuAdapter(feishu.New(appID))
	}
	if appSecret, ok := environment.String("FEISHU_APP_SECRET"); ok && appSecret != "" {
		appID := environment.StringOr("FEISHU_APP_ID", "")
		client := feishu.NewClient(appID, appSecret)
		gw.RegisterSender("feishu", client.SendMessage)
	}

	if botUserID, ok := environment.String("MATRIX_USER_ID"); ok && botUserID != "" {
		botID := environment.StringOr("MATRIX_BOT_ID", botUserID)
		gw.RegisterMatrixAdapter(matrix.New(botUserID, botID))
	}
	if matrixClient != nil {
		gw.RegisterSender("matrix", matrixClient.SendMessage)
	}
}

// matrixNotifySink adapts *matrix.Client to actions.NotificationSink: the
// notify action's target is a room id, identical to SendMessage's roomID
// parameter.
type matrixNotifySink struct {
	client *matrix.Client
}

func (s matrixNotifySink) SendNotice(ctx context.Context, target, message string) error {
	return s.client.SendMessage(ctx, target, message)
}
