package cron

import (
	"context"
	"sync"

	"github.com/caarlos0/env/v6"
	cronv3 "github.com/robfig/cron/v3"

	"github.com/vexmail/mailsync/config"
	cron_config "github.com/vexmail/mailsync/internal/cron/config"
	"github.com/vexmail/mailsync/internal/enum"
	"github.com/vexmail/mailsync/internal/logger"
	"github.com/vexmail/mailsync/internal/tracing"
	"github.com/vexmail/mailsync/services"
)

const (
	// GroupMailsync is the group for mailbox sync related jobs
	GroupMailsync = "mailsync"
)

// LOCK MANAGEMENT
var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupMailsync: new(sync.Mutex),
	},
}

type CronManager struct {
	cfg      *config.Config
	log      logger.Logger
	cron     *cronv3.Cron
	stopCh   chan struct{}
	jobIDs   map[string]cronv3.EntryID
	services *services.Services
}

func NewCronManager(cfg *config.Config, log logger.Logger, svcs *services.Services) *CronManager {
	return &CronManager{
		cfg:      cfg,
		log:      log,
		stopCh:   make(chan struct{}),
		jobIDs:   make(map[string]cronv3.EntryID),
		services: svcs,
	}
}

// Start initializes and starts the cron scheduler
func (cm *CronManager) Start() {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		// Wait for jobs to finish
		<-ctx.Done()
	}
	close(cm.stopCh)
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	var cronConfig cron_config.Config
	if err := env.Parse(&cronConfig); err != nil {
		cm.log.Fatalf("Failed to parse cron config from environment: %v", err)
	}

	if cronConfig.CronScheduleHeartbeat != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleHeartbeat, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.publishHeartbeat()
		})
		if err != nil {
			cm.log.Fatalf("Could not add heartbeat cron job: %v", err)
		}
		cm.jobIDs["heartbeat"] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", cronConfig.CronScheduleHeartbeat)
	}

	if cronConfig.CronScheduleReconcile != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleReconcile, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupMailsync].Lock()
			defer jobLocks.locks[GroupMailsync].Unlock()
			cm.runReconcileSweep()
		})
		if err != nil {
			cm.log.Fatalf("Could not add reconcile cron job: %v", err)
		}
		cm.jobIDs["reconcile"] = id
		cm.log.Infof("Registered reconcile job with schedule: %s", cronConfig.CronScheduleReconcile)
	}

	if cronConfig.CronScheduleDrainOperations != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleDrainOperations, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupMailsync].Lock()
			defer jobLocks.locks[GroupMailsync].Unlock()
			cm.runDrainSweep()
		})
		if err != nil {
			cm.log.Fatalf("Could not add drain cron job: %v", err)
		}
		cm.jobIDs["drain_operations"] = id
		cm.log.Infof("Registered drain job with schedule: %s", cronConfig.CronScheduleDrainOperations)
	}

	if cronConfig.CronSchedulePurgeOperations != "" {
		id, err := c.AddFunc(cronConfig.CronSchedulePurgeOperations, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.runPurgeSweep()
		})
		if err != nil {
			cm.log.Fatalf("Could not add purge cron job: %v", err)
		}
		cm.jobIDs["purge_operations"] = id
		cm.log.Infof("Registered purge job with schedule: %s", cronConfig.CronSchedulePurgeOperations)
	}
}

func (cm *CronManager) publishHeartbeat() {
	ctx := context.Background()
	cm.services.EventBus.Publish(ctx, enum.EventHeartbeat, map[string]interface{}{
		"listener": cm.services.Listener.Status().String(),
		"pool":     cm.services.ConnectionPool.Stats(),
	})
}

func (cm *CronManager) runReconcileSweep() {
	cm.log.Info("Running reconciliation sweep")

	ctx := context.Background()
	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.runReconcileSweep")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	result, err := cm.services.Engine.Reconcile(ctx, 0)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Reconciliation sweep failed: %v", err)
		return
	}
	cm.log.Infof("Reconciliation sweep fetched %d messages (%d skipped)", result.Fetched, result.Skipped)
}

func (cm *CronManager) runDrainSweep() {
	cm.log.Info("Running mutation drain sweep")

	ctx := context.Background()
	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.runDrainSweep")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	settled, err := cm.services.Queue.Drain(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Mutation drain sweep failed: %v", err)
		return
	}
	if settled > 0 {
		cm.log.Infof("Mutation drain sweep settled %d operations", settled)
	}
}

func (cm *CronManager) runPurgeSweep() {
	ctx := context.Background()
	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.runPurgeSweep")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	if _, err := cm.services.Queue.PurgeTerminal(ctx); err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Operation purge sweep failed: %v", err)
	}
}
