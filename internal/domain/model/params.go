package model

import (
	"fmt"
	"time"

	"subsearch-pipeline/internal/domain"
)

type ActivityMode string

const (
	ActivityAny            ActivityMode = "any"
	ActivityActiveAfter    ActivityMode = "active_after"
	ActivityInactiveBefore ActivityMode = "inactive_before"
)

// JobParams is the immutable request carried by a Job and handed to the
// fetcher. Keyword may be empty, in which case the provider's "new" listing is
// walked instead of a search.
type JobParams struct {
	Keyword           string       `json:"keyword,omitempty"`
	Limit             int          `json:"limit"`
	UnmoderatedOnly   bool         `json:"unmoderated_only"`
	ExcludeNSFW       bool         `json:"exclude_nsfw"`
	MinSubscribers    int64        `json:"min_subscribers"`
	ActivityMode      ActivityMode `json:"activity_mode,omitempty"`
	ActivityThreshold *time.Time   `json:"activity_threshold,omitempty"`
}

const maxKeywordLen = 128

func (p JobParams) Validate() error {
	if p.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive", domain.ErrInvalidArgument)
	}
	if len(p.Keyword) > maxKeywordLen {
		return fmt.Errorf("%w: keyword longer than %d", domain.ErrInvalidArgument, maxKeywordLen)
	}
	if p.MinSubscribers < 0 {
		return fmt.Errorf("%w: min_subscribers must be >= 0", domain.ErrInvalidArgument)
	}
	switch p.ActivityMode {
	case "", ActivityAny:
	case ActivityActiveAfter, ActivityInactiveBefore:
		if p.ActivityThreshold == nil {
			return fmt.Errorf("%w: activity_threshold required for %s", domain.ErrInvalidArgument, p.ActivityMode)
		}
	default:
		return fmt.Errorf("%w: unknown activity_mode %q", domain.ErrInvalidArgument, p.ActivityMode)
	}
	return nil
}

// Filter decides whether an evaluated record counts as a match for a job.
// Every evaluated record is persisted regardless; the filter only drives the
// "found" counter.
type Filter func(r Record) bool

// Filter builds the match predicate for these params.
func (p JobParams) Filter() Filter {
	return func(r Record) bool {
		if p.ExcludeNSFW && r.NSFW {
			return false
		}
		if r.Subscribers < p.MinSubscribers {
			return false
		}
		switch p.ActivityMode {
		case ActivityActiveAfter:
			if r.LastActivityAt == nil || r.LastActivityAt.Before(*p.ActivityThreshold) {
				return false
			}
		case ActivityInactiveBefore:
			if r.LastActivityAt == nil || !r.LastActivityAt.Before(*p.ActivityThreshold) {
				return false
			}
		}
		if p.UnmoderatedOnly && !r.Unmoderated {
			return false
		}
		return true
	}
}
