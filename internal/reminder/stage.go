package reminder

import "time"

// Stage is the bucket a subscription falls into for one evaluation.
type Stage string

const (
	StageNone      Stage = "none"
	StageFarFuture Stage = "far_future"
	StageH3        Stage = "h3"
	StageH2        Stage = "h2"
	StageH1        Stage = "h1"
	StageH0        Stage = "h0" // due today or overdue
)

// BucketStages are the stages that carry a counter, ordered by urgency.
var BucketStages = []Stage{StageH3, StageH2, StageH1, StageH0}

func (s Stage) IsBucket() bool {
	switch s {
	case StageH3, StageH2, StageH1, StageH0:
		return true
	}
	return false
}

// ParseStage accepts the stored form ("h3", ...). Unknown input maps to "".
func ParseStage(s string) Stage {
	switch st := Stage(s); st {
	case StageH3, StageH2, StageH1, StageH0, StageFarFuture, StageNone:
		return st
	}
	return ""
}

// DefaultRenewalThreshold is the days_left above which a subscription counts as renewed.
const DefaultRenewalThreshold = 20

// Classifier maps days_left to a Stage.
type Classifier struct {
	RenewalThreshold int
}

func (c Classifier) threshold() int {
	if c.RenewalThreshold <= 3 {
		return DefaultRenewalThreshold
	}
	return c.RenewalThreshold
}

// Classify is pure and total.
func (c Classifier) Classify(daysLeft int) Stage {
	switch {
	case daysLeft > c.threshold():
		return StageFarFuture
	case daysLeft == 3:
		return StageH3
	case daysLeft == 2:
		return StageH2
	case daysLeft == 1:
		return StageH1
	case daysLeft <= 0:
		return StageH0
	default:
		return StageNone
	}
}

// DaysLeft is expires minus today in whole days.
func DaysLeft(today, expires Date) int { return today.DaysUntil(expires) }

// Today is the calendar day of now in loc.
func Today(now time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(now.In(loc))
}
