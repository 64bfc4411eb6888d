package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/davexpro/recoverd/internal/artifact"
	"github.com/davexpro/recoverd/internal/backup"
	"github.com/davexpro/recoverd/internal/config"
	"github.com/davexpro/recoverd/internal/conn"
	"github.com/davexpro/recoverd/internal/model"
	"github.com/davexpro/recoverd/internal/notify"
	"github.com/davexpro/recoverd/internal/pkg/helper"
	"github.com/davexpro/recoverd/internal/points"
	"github.com/davexpro/recoverd/internal/recovery"
	"github.com/davexpro/recoverd/internal/scheduler"
	"github.com/davexpro/recoverd/internal/script"
	"github.com/davexpro/recoverd/internal/store"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	app := &cli.App{
		Name:  "recoverd",
		Usage: "Backup & recovery orchestration for a MySQL-compatible store: scheduled backups, recovery points with retention, point-in-time and partial recovery with verification",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Load configuration from `FILE`",
			},
		},
		Commands: []*cli.Command{
			runCommand(logger),
			backupCommand(logger),
			restoreCommand(logger),
			pointsCommand(logger),
			scheduleCommand(logger),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal().Err(err).Msg("recoverd failed")
	}
}

// engine bundles the wired components for one invocation.
type engine struct {
	cfg        *config.Config
	repo       *store.FileRepository
	registry   *points.Registry
	backups    *backup.Runner
	recoveries *recovery.Runner
	sched      *scheduler.Scheduler
	s3         *artifact.S3Store
	unlock     func()
}

func prepare(c *cli.Context, logger zerolog.Logger) (*engine, error) {
	if err := helper.CheckTools("mysqlsh", "zip", "unzip"); err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}

	unlock, err := helper.AcquireLock(cfg.LockFile)
	if err != nil {
		return nil, fmt.Errorf("could not acquire lock: %w", err)
	}

	repo, err := store.NewFileRepository(cfg.StateDir, logger)
	if err != nil {
		unlock()
		return nil, err
	}
	repo.SetHistoryLimit(cfg.Engine.HistoryLimit)

	conns := map[string]*conn.Info{}
	for name, cc := range cfg.Connections {
		conns[name] = &conn.Info{
			ID:       name,
			Host:     cc.Host,
			Port:     cc.Port,
			Database: cc.Database,
			User:     cc.User,
			Password: cc.Password,
		}
	}
	provider := conn.NewStaticProvider(conns)

	local, err := artifact.NewLocalStore(cfg.ArtifactDir)
	if err != nil {
		unlock()
		return nil, err
	}

	var s3 *artifact.S3Store
	if cfg.R2.Endpoint != "" {
		s3, err = artifact.NewS3Store(cfg.R2, logger)
		if err != nil {
			unlock()
			return nil, err
		}
	}

	var sink notify.Sink = notify.LogSink{Logger: logger}
	if cfg.Telegram.BotToken != "" {
		sink = notify.NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}

	executor := script.NewSQLExecutor()
	dumper := script.NewShellDumper(cfg.Engine.DumpThreads)

	registry := points.NewRegistry(repo, local, logger)
	registry.SetRetention(time.Duration(cfg.Engine.RetentionDays) * 24 * time.Hour)

	backups := backup.NewRunner(provider, executor, dumper, local, registry, sink, logger)
	backups.SetPassphrase(cfg.Encryption.Password)
	if s3 != nil {
		backups.SetMirror(s3)
	}
	verifier := recovery.NewVerifier(executor, logger)
	recoveries := recovery.NewRunner(repo, registry, provider, executor, dumper, verifier, sink, logger)
	recoveries.SetPassphrase(cfg.Encryption.Password)

	sched := scheduler.NewScheduler(repo, backups, logger)
	sched.SetInterval(time.Duration(cfg.Engine.TickIntervalSeconds) * time.Second)
	sched.SetGuardWindow(time.Duration(cfg.Engine.GuardWindowMinutes) * time.Minute)

	return &engine{
		cfg:        cfg,
		repo:       repo,
		registry:   registry,
		backups:    backups,
		recoveries: recoveries,
		sched:      sched,
		s3:         s3,
		unlock:     unlock,
	}, nil
}

func runCommand(logger zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the scheduler daemon",
		Action: func(c *cli.Context) error {
			eng, err := prepare(c, logger)
			if err != nil {
				return err
			}
			defer eng.unlock()

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			eng.sched.Start(ctx)
			logger.Info().Int("schedules", len(eng.sched.ListSchedules())).Msg("recoverd running")

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			eng.sched.Stop()
			return nil
		},
	}
}

func backupCommand(logger zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Run a one-off backup job",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "connection", Required: true, Usage: "Connection id from the config"},
			&cli.StringFlag{Name: "database", Required: true, Usage: "Database to back up"},
			&cli.StringFlag{Name: "kind", Value: "full", Usage: "full, schema, data or incremental"},
		},
		Action: func(c *cli.Context) error {
			eng, err := prepare(c, logger)
			if err != nil {
				return err
			}
			defer eng.unlock()

			job := eng.backups.CreateJob(&model.BackupJob{
				ConnectionID: c.String("connection"),
				Database:     c.String("database"),
				Kind:         model.BackupKind(c.String("kind")),
			})
			if err := eng.backups.Execute(c.Context, job.ID); err != nil {
				return err
			}
			if job.Status != model.BackupCompleted {
				return fmt.Errorf("backup %s: %s", job.Status, job.Error)
			}
			logger.Info().Str("artifact", job.ArtifactPath).Str("checksum", job.Checksum).
				Str("size", helper.HumanizeSize(job.ArtifactSize)).Msg("backup finished")
			return nil
		},
	}
}

func restoreCommand(logger zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "restore",
		Usage: "Run a recovery job against a recovery point or a point in time",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "connection", Required: true, Usage: "Connection id from the config"},
			&cli.StringFlag{Name: "database", Required: true, Usage: "Database to recover into"},
			&cli.StringFlag{Name: "point", Usage: "Recovery point id (omit for --at)"},
			&cli.StringFlag{Name: "type", Value: "complete", Usage: "complete, schema_only, table_level or point_in_time"},
			&cli.StringSliceFlag{Name: "table", Usage: "Table to recover (repeatable, table_level only)"},
			&cli.TimestampFlag{Name: "at", Layout: time.RFC3339, Usage: "Point-in-time target (point_in_time only)"},
			&cli.BoolFlag{Name: "verify", Usage: "Run a verification pass after recovery"},
		},
		Action: func(c *cli.Context) error {
			eng, err := prepare(c, logger)
			if err != nil {
				return err
			}
			defer eng.unlock()

			job := &model.RecoveryJob{
				ConnectionID: c.String("connection"),
				Database:     c.String("database"),
				PointID:      c.String("point"),
				Type:         model.RecoveryType(c.String("type")),
				Options: model.RecoveryOptions{
					Tables:              c.StringSlice("table"),
					VerifyAfterRecovery: c.Bool("verify"),
				},
			}
			if at := c.Timestamp("at"); at != nil {
				job.Target = &model.PointInTimeTarget{Timestamp: *at}
			}
			job = eng.recoveries.CreateJob(job)
			if err := eng.recoveries.Execute(c.Context, job.ID); err != nil {
				return err
			}
			if job.Status != model.RecoveryCompleted {
				return fmt.Errorf("recovery %s: %s", job.Status, job.Error)
			}
			logger.Info().Strs("objects", job.RecoveredObjects).Msg("recovery finished")
			if job.Verification != nil {
				logger.Info().Str("verdict", string(job.Verification.Status)).
					Int("verified", job.Verification.VerifiedObjects).
					Int("total", job.Verification.ObjectCount).Msg("verification")
			}
			return nil
		},
	}
}

func pointsCommand(logger zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "points",
		Usage: "Manage recovery points",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recovery points, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "database", Usage: "Filter by database"},
					&cli.StringFlag{Name: "status", Usage: "Filter by status"},
				},
				Action: func(c *cli.Context) error {
					eng, err := prepare(c, logger)
					if err != nil {
						return err
					}
					defer eng.unlock()

					list := eng.registry.List(points.Filter{
						Database: c.String("database"),
						Status:   model.PointStatus(c.String("status")),
					})
					for _, p := range list {
						fmt.Printf("%s  %-11s  %-9s  %s  %s\n",
							p.ID, p.Kind, p.Status, p.Timestamp.Format(time.RFC3339), p.Location)
					}
					return nil
				},
			},
			{
				Name:  "delete",
				Usage: "Delete a recovery point and its artifact",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
				},
				Action: func(c *cli.Context) error {
					eng, err := prepare(c, logger)
					if err != nil {
						return err
					}
					defer eng.unlock()
					return eng.registry.Delete(c.Context, c.String("id"))
				},
			},
			{
				Name:  "prune",
				Usage: "Flag expired points and sweep expired remote artifacts",
				Action: func(c *cli.Context) error {
					eng, err := prepare(c, logger)
					if err != nil {
						return err
					}
					defer eng.unlock()

					flagged := eng.registry.Sweep()
					logger.Info().Int("flagged", flagged).Msg("expired points flagged")
					if eng.s3 != nil {
						deadline := time.Now().Add(-time.Duration(eng.cfg.Engine.RetentionDays) * 24 * time.Hour)
						deleted, err := eng.s3.EnforceRetention(c.Context, deadline)
						if err != nil {
							return err
						}
						logger.Info().Int("deleted", deleted).Msg("expired remote artifacts removed")
					}
					return nil
				},
			},
		},
	}
}

func scheduleCommand(logger zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Manage scheduled backups",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List schedules ordered by next run",
				Action: func(c *cli.Context) error {
					eng, err := prepare(c, logger)
					if err != nil {
						return err
					}
					defer eng.unlock()

					for _, s := range eng.sched.ListSchedules() {
						state := "disabled"
						if s.Enabled {
							state = "enabled"
						}
						fmt.Printf("%s  %-20s  %-8s  %s  next %s  runs %d ok %d failed %d\n",
							s.ID, s.Name, s.Schedule.Frequency, state,
							s.NextRun.Format(time.RFC3339), s.RunCount, s.SuccessCount, s.FailureCount)
					}
					return nil
				},
			},
			{
				Name:  "add",
				Usage: "Create a scheduled backup",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "connection", Required: true},
					&cli.StringFlag{Name: "database", Required: true},
					&cli.StringFlag{Name: "frequency", Value: "daily", Usage: "daily, weekly, monthly or once"},
					&cli.StringFlag{Name: "time", Usage: "Time of day, HH:MM"},
					&cli.IntFlag{Name: "day-of-week", Usage: "0=Sunday..6=Saturday (weekly)"},
					&cli.IntFlag{Name: "day-of-month", Usage: "1-31, clamped to the month (monthly)"},
					&cli.StringFlag{Name: "kind", Value: "full"},
					&cli.IntFlag{Name: "retention-days", Value: 30},
				},
				Action: func(c *cli.Context) error {
					eng, err := prepare(c, logger)
					if err != nil {
						return err
					}
					defer eng.unlock()

					sched, err := eng.sched.CreateSchedule(&model.ScheduledBackup{
						Name:         c.String("name"),
						ConnectionID: c.String("connection"),
						Database:     c.String("database"),
						Schedule: model.Schedule{
							Frequency:  model.Frequency(c.String("frequency")),
							Time:       c.String("time"),
							DayOfWeek:  c.Int("day-of-week"),
							DayOfMonth: c.Int("day-of-month"),
						},
						Kind:          model.BackupKind(c.String("kind")),
						RetentionDays: c.Int("retention-days"),
						Enabled:       true,
					})
					if err != nil {
						return err
					}
					logger.Info().Str("schedule", sched.ID).Time("next_run", sched.NextRun).Msg("schedule created")
					return nil
				},
			},
			{
				Name:  "delete",
				Usage: "Delete a schedule and its execution history",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
				},
				Action: func(c *cli.Context) error {
					eng, err := prepare(c, logger)
					if err != nil {
						return err
					}
					defer eng.unlock()
					return eng.sched.DeleteSchedule(c.String("id"))
				},
			},
		},
	}
}
