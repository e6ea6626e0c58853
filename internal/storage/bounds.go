package storage

import (
	"fmt"

	"hostwatch/internal/reminder"
)

// stageBounds maps a stage to an inclusive expiry range relative to today.
// A zero bound is open.
func stageBounds(today reminder.Date, st reminder.Stage, threshold int) (from, to reminder.Date, err error) {
	if threshold <= 3 {
		threshold = reminder.DefaultRenewalThreshold
	}
	switch st {
	case reminder.StageH3:
		d := today.AddDays(3)
		return d, d, nil
	case reminder.StageH2:
		d := today.AddDays(2)
		return d, d, nil
	case reminder.StageH1:
		d := today.AddDays(1)
		return d, d, nil
	case reminder.StageH0:
		return reminder.Date{}, today, nil
	case reminder.StageNone:
		return today.AddDays(4), today.AddDays(threshold), nil
	case reminder.StageFarFuture:
		return today.AddDays(threshold + 1), reminder.Date{}, nil
	default:
		return reminder.Date{}, reminder.Date{}, fmt.Errorf("%w: unknown stage %q", ErrInvalid, st)
	}
}
