// Package cronjob owns the lifecycle of a single cron-triggered job.
//
// ParseCron turns a 5-field crontab string into CronFields. Manager keeps at
// most one scheduling facility (a robfig/cron instance) with at most one
// registered job, and tears it down before every reconfiguration so no
// orphaned timer survives a config reload.
package cronjob
