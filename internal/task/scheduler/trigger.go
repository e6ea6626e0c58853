package scheduler

import "context"

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

type triggerKey struct{}

func withTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

// Trigger reports what started the running job: TriggerSchedule for cron
// and interval fires, TriggerManual for RunNow and Kick.
func Trigger(ctx context.Context) string {
	if v, ok := ctx.Value(triggerKey{}).(string); ok {
		return v
	}
	return TriggerSchedule
}

func (d scheduleDef) runAs(trigger string) Job {
	job := d.job
	return func(ctx context.Context) error { return job(withTrigger(ctx, trigger)) }
}
