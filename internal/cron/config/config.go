package cron_config

type Config struct {
	// Heartbeat event, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Reconciliation sweep, every 5 minutes; catches anything IDLE missed
	CronScheduleReconcile string `env:"CRON_SCHEDULE_RECONCILE" envDefault:"0 */5 * * * *"`
	// Mutation drain sweep, every minute; replays operations left over after retries
	CronScheduleDrainOperations string `env:"CRON_SCHEDULE_DRAIN_OPERATIONS" envDefault:"30 * * * * *"`
	// Settled operation purge, daily at 03:00
	CronSchedulePurgeOperations string `env:"CRON_SCHEDULE_PURGE_OPERATIONS" envDefault:"0 0 3 * * *"`
}
