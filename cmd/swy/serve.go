package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/switchyard-ci/switchyard/internal/bus"
	"github.com/switchyard-ci/switchyard/internal/change"
	"github.com/switchyard-ci/switchyard/internal/changesource"
	"github.com/switchyard-ci/switchyard/internal/config"
	"github.com/switchyard-ci/switchyard/internal/dashboard"
	"github.com/switchyard-ci/switchyard/internal/db"
	"github.com/switchyard-ci/switchyard/internal/identity"
	"github.com/switchyard-ci/switchyard/internal/logstore"
	"github.com/switchyard-ci/switchyard/internal/notify"
	"github.com/switchyard-ci/switchyard/internal/notify/discord"
	"github.com/switchyard-ci/switchyard/internal/notify/slack"
	"github.com/switchyard-ci/switchyard/internal/reporter"
	"github.com/switchyard-ci/switchyard/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Switchyard master",
		Long:  "Starts change sources, schedulers, reporters, and the dashboard API, and runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchyard.yaml", "path to Switchyard config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(connectOpts(cfg))
	if err != nil {
		return err
	}
	store := db.NewStore(gormDB)

	masterIdentity := identity.MachineIdentity(cfg.Master.Name)
	masterID, err := identity.Register(gormDB, masterIdentity, cfg.Master.Name)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Registered master %q (id %d)\n", cfg.Master.Name, masterID)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	hbInterval := time.Duration(cfg.Master.HeartbeatInterval) * time.Second
	hbErrCh := identity.StartHeartbeat(ctx, gormDB, masterID, hbInterval)

	broker := bus.NewBroker()
	if err := broker.Start(); err != nil {
		return err
	}

	logs, err := logstore.New(gormDB)
	if err != nil {
		return err
	}

	// Schedulers.
	var services []*scheduler.Service
	for _, sc := range cfg.Schedulers {
		svc, err := buildSchedulerService(store, broker, masterID, sc)
		if err != nil {
			return fmt.Errorf("scheduler %q: %w", sc.Name, err)
		}
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler %q: %w", sc.Name, err)
		}
		services = append(services, svc)
		fmt.Fprintf(out, "Scheduler %q started\n", sc.Name)
	}

	// Change sources.
	recorder := changesource.NewRecorder(store, broker)
	var sources []changesource.Source
	for _, src := range cfg.Sources {
		poller, err := changesource.NewGitHubPoller(changesource.GitHubPollerOpts{
			Store:        store,
			Recorder:     recorder,
			Owner:        src.Owner,
			Repo:         src.Repo,
			Branch:       src.Branch,
			Token:        src.ResolveToken(),
			Category:     src.Category,
			Codebase:     src.Codebase,
			Project:      src.Project,
			PollInterval: time.Duration(src.PollIntervalSec) * time.Second,
			CronExpr:     src.Cron,
		})
		if err != nil {
			return err
		}
		if err := poller.Start(ctx); err != nil {
			return err
		}
		sources = append(sources, poller)
		fmt.Fprintf(out, "Change source %s started\n", poller.Name())
	}

	// Reporters.
	var reporters []*reporter.Service
	var dispatchers []*notify.Dispatcher
	for i, rc := range cfg.Reporters {
		svc, dispatcher, err := buildReporter(cfg.Title, store, logs, broker, rc)
		if err != nil {
			return fmt.Errorf("reporter %d: %w", i, err)
		}
		if err := svc.Start(); err != nil {
			return err
		}
		reporters = append(reporters, svc)
		dispatchers = append(dispatchers, dispatcher)
	}
	if len(reporters) > 0 {
		fmt.Fprintf(out, "%d reporters started\n", len(reporters))
	}

	// Dashboard.
	if cfg.Dashboard.Enabled {
		go func() {
			if err := dashboard.Start(ctx, dashboard.StartOpts{
				DB:   gormDB,
				Port: cfg.Dashboard.Port,
				Out:  out,
			}); err != nil {
				log.Printf("swy: dashboard: %v", err)
			}
		}()
	}

	fmt.Fprintln(out, "Switchyard master running. Press Ctrl-C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		fmt.Fprintf(out, "Received %s, shutting down\n", sig)
	case err := <-hbErrCh:
		log.Printf("swy: heartbeat: %v", err)
	case <-ctx.Done():
	}

	// Orderly shutdown: stop ingestion first, then schedulers (releasing
	// their claims), then drain reporters.
	for _, src := range sources {
		src.Stop()
	}
	for _, svc := range services {
		svc.Stop()
	}
	for _, svc := range reporters {
		svc.Stop()
	}
	broker.Stop()
	for _, d := range dispatchers {
		if err := d.Close(); err != nil {
			log.Printf("swy: %v", err)
		}
	}

	cancel()
	if err := store.ReleaseMasterClaims(masterID); err != nil {
		log.Printf("swy: release claims: %v", err)
	}
	if err := identity.MarkStopped(gormDB, masterID); err != nil {
		log.Printf("swy: %v", err)
	}
	fmt.Fprintln(out, "Shutdown complete.")
	return nil
}

// buildSchedulerService assembles one scheduler, its change filter, and its
// consumption policy from config.
func buildSchedulerService(store *db.Store, broker *bus.Broker, masterID int64, sc config.SchedulerConfig) (*scheduler.Service, error) {
	var codebases *scheduler.Codebases
	if !sc.Codebases.IsZero() {
		if len(sc.Codebases.Names) > 0 {
			codebases = scheduler.NewCodebasesFromList(sc.Codebases.Names)
		} else {
			raw := make(map[string]map[string]interface{}, len(sc.Codebases.Byname))
			for name, cb := range sc.Codebases.Byname {
				fields := map[string]interface{}{}
				if cb.Repository != "" {
					fields["repository"] = cb.Repository
				}
				if cb.Branch != nil {
					fields["branch"] = *cb.Branch
				}
				if cb.Revision != nil {
					fields["revision"] = *cb.Revision
				}
				if cb.Project != "" {
					fields["project"] = cb.Project
				}
				raw[name] = fields
			}
			built, err := scheduler.NewCodebases(raw)
			if err != nil {
				return nil, err
			}
			codebases = built
		}
	}

	builderNames := make([]interface{}, 0, len(sc.Builders))
	for _, name := range sc.Builders {
		builderNames = append(builderNames, name)
	}

	sched, err := scheduler.New(store, broker, scheduler.Config{
		Name:         sc.Name,
		BuilderNames: builderNames,
		Codebases:    codebases,
		Properties:   sc.Properties,
		PollInterval: sc.PollInterval(),
		Priority:     sc.Priority,
	})
	if err != nil {
		return nil, err
	}

	consume := scheduler.ConsumeOpts{OnlyImportant: sc.OnlyImportant}
	if sc.Filter != nil {
		filter, err := buildFilter(sc.Filter)
		if err != nil {
			return nil, err
		}
		consume.Filter = filter
	}

	return scheduler.NewService(sched, masterID, consume), nil
}

func buildFilter(fc *config.FilterConfig) (*change.Filter, error) {
	cfg := change.Config{}
	if fc.Project != nil {
		cfg.Project = change.FieldSpec{Eq: fc.Project}
	}
	if fc.Repository != nil {
		cfg.Repository = change.FieldSpec{Eq: fc.Repository}
	}
	if fc.Category != nil {
		cfg.Category = change.FieldSpec{Eq: fc.Category}
	}
	if fc.Codebase != nil {
		cfg.Codebase = change.FieldSpec{Eq: fc.Codebase}
	}
	if fc.Branch != nil {
		branches := make([]change.BranchValue, 0, len(fc.Branch))
		for _, b := range fc.Branch {
			branches = append(branches, change.Named(b))
		}
		cfg.Branch = change.BranchSpec{Eq: branches}
	}
	return change.New(cfg)
}

// buildReporter assembles one generator, formatter, and delivery chain.
func buildReporter(title string, store *db.Store, logs *logstore.Store, broker *bus.Broker, rc config.ReporterConfig) (*reporter.Service, *notify.Dispatcher, error) {
	gen, err := reporter.NewGenerator(reporter.GeneratorConfig{
		Mode:       rc.Mode,
		Tags:       rc.Tags,
		Builders:   rc.Builders,
		Schedulers: rc.Schedulers,
		Branches:   rc.Branches,
		Subject:    rc.Subject,
		AddPatch:   rc.AddPatch,
	})
	if err != nil {
		return nil, nil, err
	}

	var formatter reporter.Formatter
	if rc.Format == "json" {
		formatter = &reporter.JSONFormatter{}
	} else {
		formatter, err = reporter.NewTemplateFormatter(rc.Template, rc.Format)
		if err != nil {
			return nil, nil, err
		}
	}

	var adapters []notify.Adapter
	if rc.Slack != nil {
		a, err := slack.New(slack.AdapterOpts{
			BotToken:  rc.Slack.BotToken,
			ChannelID: rc.Slack.Channel,
		})
		if err != nil {
			return nil, nil, err
		}
		adapters = append(adapters, a)
	}
	if rc.Discord != nil {
		a, err := discord.New(discord.AdapterOpts{
			BotToken:  rc.Discord.BotToken,
			ChannelID: rc.Discord.Channel,
		})
		if err != nil {
			return nil, nil, err
		}
		adapters = append(adapters, a)
	}
	dispatcher := notify.NewDispatcher(adapters...)

	svc, err := reporter.NewService(reporter.ServiceOpts{
		Store:     store,
		Logs:      logs,
		Broker:    broker,
		Generator: gen,
		Formatter: formatter,
		Title:     title,
		Dispatch: func(ctx context.Context, msg *reporter.Message) {
			dispatcher.Dispatch(ctx, notify.FromMessage(msg))
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return svc, dispatcher, nil
}
