package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/helixml/vecsync/domain/vectorizer"
	"github.com/helixml/vecsync/internal/database"
)

// ErrCronUnsupported is returned when the database has no job scheduler.
var ErrCronUnsupported = errors.New("database job scheduling not supported")

const pgCreateCronExtension = `CREATE EXTENSION IF NOT EXISTS pg_cron`

// PostgresCron registers pg_cron jobs that wake workers through NOTIFY.
type PostgresCron struct {
	db database.Database
}

// NewPostgresCron creates a new PostgresCron.
func NewPostgresCron(db database.Database) PostgresCron {
	return PostgresCron{db: db}
}

// Schedule registers (or replaces) the vectorizer's job and returns its id.
func (c PostgresCron) Schedule(ctx context.Context, v vectorizer.Vectorizer) (int64, error) {
	sched, ok := v.Config().Scheduling.(vectorizer.CronScheduling)
	if !ok {
		return 0, fmt.Errorf("%w: vectorizer %s has no database schedule", vectorizer.ErrInvalidConfig, v.Name())
	}
	spec, err := cronSpec(sched.Interval)
	if err != nil {
		return 0, err
	}

	session := c.db.Session(ctx)
	if err := session.Exec(pgCreateCronExtension).Error; err != nil {
		return 0, fmt.Errorf("create pg_cron extension: %w", err)
	}

	command := fmt.Sprintf(`SELECT pg_notify('%s', '%d')`, NotifyChannel, v.ID())
	var jobID int64
	err = session.Raw(`SELECT cron.schedule(?, ?, ?)`, cronJobName(v), spec, command).Scan(&jobID).Error
	if err != nil {
		return 0, fmt.Errorf("schedule %s: %w", v.Name(), err)
	}
	return jobID, nil
}

// SetActive pauses or resumes a job.
func (c PostgresCron) SetActive(ctx context.Context, jobID int64, active bool) error {
	err := c.db.Session(ctx).Exec(`SELECT cron.alter_job(job_id := ?, active := ?)`, jobID, active).Error
	if err != nil {
		return fmt.Errorf("alter cron job %d: %w", jobID, err)
	}
	return nil
}

// Unschedule removes a job.
func (c PostgresCron) Unschedule(ctx context.Context, jobID int64) error {
	if err := c.db.Session(ctx).Exec(`SELECT cron.unschedule(?::bigint)`, jobID).Error; err != nil {
		return fmt.Errorf("unschedule cron job %d: %w", jobID, err)
	}
	return nil
}

func cronJobName(v vectorizer.Vectorizer) string {
	return "vecsync_" + v.Name()
}

// cronSpec converts an interval to a pg_cron schedule. Sub-minute intervals
// use the "N seconds" form; longer ones must divide evenly into minutes,
// hours or days.
func cronSpec(interval time.Duration) (string, error) {
	switch {
	case interval < time.Second:
		return "", fmt.Errorf("%w: schedule interval %s is below one second", vectorizer.ErrInvalidConfig, interval)
	case interval < time.Minute:
		if interval%time.Second != 0 {
			break
		}
		return fmt.Sprintf("%d seconds", int(interval/time.Second)), nil
	case interval < time.Hour:
		if interval%time.Minute != 0 {
			break
		}
		return fmt.Sprintf("*/%d * * * *", int(interval/time.Minute)), nil
	case interval < 24*time.Hour:
		if interval%time.Hour != 0 {
			break
		}
		return fmt.Sprintf("0 */%d * * *", int(interval/time.Hour)), nil
	case interval == 24*time.Hour:
		return "0 0 * * *", nil
	}
	return "", fmt.Errorf("%w: schedule interval %s cannot be expressed as a cron schedule", vectorizer.ErrInvalidConfig, interval)
}

// NoCron is used where the database has no job scheduler.
type NoCron struct{}

// Schedule always fails with ErrCronUnsupported.
func (NoCron) Schedule(_ context.Context, v vectorizer.Vectorizer) (int64, error) {
	return 0, fmt.Errorf("%w: vectorizer %s", ErrCronUnsupported, v.Name())
}

// SetActive is a no-op.
func (NoCron) SetActive(context.Context, int64, bool) error { return nil }

// Unschedule is a no-op.
func (NoCron) Unschedule(context.Context, int64) error { return nil }
