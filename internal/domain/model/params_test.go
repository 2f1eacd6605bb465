//go:build !integration

package model

import (
	"errors"
	"testing"
	"time"

	"subsearch-pipeline/internal/domain"
)

func TestJobParams_Validate(t *testing.T) {
	threshold := time.Unix(1_700_000_000, 0)
	tests := []struct {
		name    string
		params  JobParams
		wantErr bool
	}{
		{"should accept an empty keyword", JobParams{Limit: 1}, false},
		{"should reject zero limit", JobParams{Keyword: "a"}, true},
		{"should reject negative min subscribers", JobParams{Limit: 1, MinSubscribers: -1}, true},
		{"should require threshold for active_after", JobParams{Limit: 1, ActivityMode: ActivityActiveAfter}, true},
		{"should accept threshold for inactive_before", JobParams{Limit: 1, ActivityMode: ActivityInactiveBefore, ActivityThreshold: &threshold}, false},
		{"should reject unknown activity mode", JobParams{Limit: 1, ActivityMode: "sometimes"}, true},
		{"should reject long keywords", JobParams{Limit: 1, Keyword: string(make([]byte, 129))}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("wantErr=%v got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("expected invalid argument, got %v", err)
			}
		})
	}
}

func TestJobParams_Filter(t *testing.T) {
	cutoff := time.Unix(1_700_000_000, 0)
	recent := cutoff.Add(time.Hour)
	old := cutoff.Add(-time.Hour)

	base := Record{Key: "a", Subscribers: 100, LastActivityAt: &recent}

	t.Run("should match everything with zero params", func(t *testing.T) {
		if !(JobParams{Limit: 1}).Filter()(Record{Key: "x"}) {
			t.Error("expected match")
		}
	})

	t.Run("should exclude nsfw when asked", func(t *testing.T) {
		r := base
		r.NSFW = true
		if (JobParams{Limit: 1, ExcludeNSFW: true}).Filter()(r) {
			t.Error("nsfw record matched")
		}
	})

	t.Run("should apply min subscribers", func(t *testing.T) {
		f := JobParams{Limit: 1, MinSubscribers: 101}.Filter()
		if f(base) {
			t.Error("record below minimum matched")
		}
	})

	t.Run("should apply activity windows", func(t *testing.T) {
		after := JobParams{Limit: 1, ActivityMode: ActivityActiveAfter, ActivityThreshold: &cutoff}.Filter()
		before := JobParams{Limit: 1, ActivityMode: ActivityInactiveBefore, ActivityThreshold: &cutoff}.Filter()
		stale := base
		stale.LastActivityAt = &old
		unknown := base
		unknown.LastActivityAt = nil

		if !after(base) || after(stale) || after(unknown) {
			t.Error("active_after mismatch")
		}
		if before(base) || !before(stale) || before(unknown) {
			t.Error("inactive_before mismatch")
		}
	})

	t.Run("should keep only unmoderated records when asked", func(t *testing.T) {
		f := JobParams{Limit: 1, UnmoderatedOnly: true}.Filter()
		r := base
		if f(r) {
			t.Error("moderated record matched")
		}
		r.Unmoderated = true
		if !f(r) {
			t.Error("unmoderated record did not match")
		}
	})
}
