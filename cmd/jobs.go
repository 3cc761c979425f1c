package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-esim/app/metrics"
	"github.com/vibast-solutions/ms-go-esim/config"
)

var (
	workerMode bool
)

// job is one periodic sweep: its log name, its configured interval and the batch it runs.
type job struct {
	name     string
	interval func(cfg *config.Config) time.Duration
	run      func(app *application, ctx context.Context) error
}

var retryJob = job{
	name:     "order_retry",
	interval: func(cfg *config.Config) time.Duration { return cfg.Jobs.OrderRetryInterval },
	run: func(app *application, ctx context.Context) error {
		report, err := app.provisioning.RunOrderRetryBatch(ctx)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"job":         "order_retry",
			"selected":    report.Selected,
			"provisioned": report.Provisioned,
			"pending":     report.Pending,
			"failed":      report.Failed,
			"skipped":     report.Skipped,
			"errors":      report.Errors,
			"catch_up":    report.CatchUp.Sent + report.CatchUp.Mocked,
		}).Info("order retry batch finished")
		return nil
	},
}

var syncJob = job{
	name:     "profile_sync",
	interval: func(cfg *config.Config) time.Duration { return cfg.Jobs.ProfileSyncInterval },
	run: func(app *application, ctx context.Context) error {
		report, err := app.provisioning.RunProfileSyncBatch(ctx)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"job":                  "profile_sync",
			"profiles":             report.Profiles,
			"profiles_updated":     report.ProfilesUpdated,
			"profile_failures":     report.ProfileFailures,
			"usage_chunks":         report.UsageChunks,
			"usage_chunk_failures": report.UsageChunkFailures,
			"usage_recorded":       report.UsageRecorded,
		}).Info("profile sync batch finished")
		return nil
	},
}

var notificationsDispatchJob = job{
	name:     "notifications_dispatch",
	interval: func(cfg *config.Config) time.Duration { return cfg.Jobs.NotificationDispatchInterval },
	run: func(app *application, ctx context.Context) error {
		report, err := app.notifications.RunDispatchNotificationsBatch(ctx)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"job":       "notifications_dispatch",
			"selected":  report.Selected,
			"delivered": report.Delivered,
			"retried":   report.Retried,
			"failed":    report.Failed,
		}).Info("notification dispatch batch finished")
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-attempt provisioning for stuck orders and send missed ready emails",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(retryJob)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh eSIM profile state and append usage history from the vendor",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(syncJob)
	},
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Run notification outbox related commands",
}

var notificationsDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Deliver pending ready emails and provisioned-order events",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(notificationsDispatchJob)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run every periodic job in one process, each on its own interval",
	Run: func(_ *cobra.Command, _ []string) {
		runAllWorkers(retryJob, syncJob, notificationsDispatchJob)
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(workerCmd)
	notificationsCmd.AddCommand(notificationsDispatchCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func runCommand(j job) {
	app, cleanup := mustCreateApplication()
	defer cleanup()

	if !workerMode {
		runJob(j.name, app.metrics, func() error { return j.run(app, context.Background()) })
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go app.settingsStore.Run(ctx, app.cfg.Settings.RefreshInterval)
	runWorker(ctx, j, app)
}

func runAllWorkers(jobs ...job) {
	app, cleanup := mustCreateApplication()
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go app.settingsStore.Run(ctx, app.cfg.Settings.RefreshInterval)

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			runWorker(ctx, j, app)
		}(j)
	}
	wg.Wait()
}

// runWorker runs the job once immediately, then on every tick. A tick that
// fires while the previous run is still going is dropped by the ticker.
func runWorker(ctx context.Context, j job, app *application) {
	interval := j.interval(app.cfg)
	if interval <= 0 {
		logrus.WithField("job", j.name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runJob(j.name, app.metrics, func() error { return j.run(app, ctx) })

	for {
		select {
		case <-ctx.Done():
			logrus.WithField("job", j.name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(j.name, app.metrics, func() error { return j.run(app, ctx) })
		}
	}
}

func runJob(name string, m *metrics.Metrics, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	m.JobRun(name, latency, err)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}
