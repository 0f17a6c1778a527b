// Package schedule holds recurring delivery definitions and the cron
// evaluator that turns them into fire times.
package schedule

import (
	"time"

	"github.com/luminabi/lumina/errors"
)

// Format selects what a schedule delivers.
type Format string

const (
	FormatImage Format = "image" // rendered chart/dashboard screenshot
	FormatCSV   Format = "csv"   // tabular query results
)

// SuccessPolicy decides how per-target delivery outcomes aggregate into
// the job's terminal state.
type SuccessPolicy string

const (
	// PolicyAll marks the job completed only if every target succeeded.
	PolicyAll SuccessPolicy = "all"
	// PolicyAny marks the job completed if at least one target succeeded.
	PolicyAny SuccessPolicy = "any"
)

// TargetKind discriminates delivery destinations.
type TargetKind string

const (
	TargetEmail       TargetKind = "email"
	TargetChat        TargetKind = "chat"
	TargetSpreadsheet TargetKind = "spreadsheet"
)

// Target is one delivery destination owned by a schedule. Exactly one of
// the kind-specific option structs is set, matching Kind.
type Target struct {
	ID   string     `json:"id"`
	Kind TargetKind `json:"kind"`

	Email       *EmailOptions       `json:"email,omitempty"`
	Chat        *ChatOptions        `json:"chat,omitempty"`
	Spreadsheet *SpreadsheetOptions `json:"spreadsheet,omitempty"`
}

// EmailOptions addresses an email delivery.
type EmailOptions struct {
	Recipients []string `json:"recipients"`
	// AttachFile attaches the artifact; otherwise the message carries a link.
	AttachFile bool `json:"attach_file"`
	// IncludeLink adds a clickable link back to the chart/dashboard.
	IncludeLink bool `json:"include_link"`
}

// ChatOptions addresses a chat channel delivery.
type ChatOptions struct {
	WebhookURL  string `json:"webhook_url"`
	ChannelID   string `json:"channel_id"`
	IncludeLink bool   `json:"include_link"`
}

// SpreadsheetOptions addresses a spreadsheet upload.
type SpreadsheetOptions struct {
	SheetID string `json:"sheet_id"`
	TabName string `json:"tab_name,omitempty"`
}

// Schedule is a durable recurring-delivery definition. The owning chart or
// dashboard is opaque to the scheduler core.
type Schedule struct {
	ID            string
	Name          string
	ResourceKind  string // "chart" | "dashboard"
	ResourceID    string
	CronExpr      string
	Timezone      string // IANA name, e.g. "Europe/Madrid"
	Enabled       bool
	Format        Format
	SuccessPolicy SuccessPolicy
	Targets       []Target
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate fails fast on configuration that would otherwise surface at
// evaluation or delivery time. Called on create and update.
func (s *Schedule) Validate() error {
	if s.ResourceID == "" {
		return errors.NewConfiguration("schedule is missing a resource reference")
	}
	next, err := NextFireTime(s.CronExpr, s.Timezone, time.Now())
	if err != nil {
		return err
	}
	if next.IsZero() {
		// Parseable but never fires, e.g. "0 0 30 2 *" (February 30th).
		return errors.NewConfiguration("cron expression %q has no future fire time", s.CronExpr)
	}
	switch s.Format {
	case FormatImage, FormatCSV:
	default:
		return errors.NewConfiguration("unknown format %q", s.Format)
	}
	switch s.SuccessPolicy {
	case PolicyAll, PolicyAny:
	default:
		return errors.NewConfiguration("unknown success policy %q", s.SuccessPolicy)
	}
	for i := range s.Targets {
		if err := s.Targets[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that the target's addressing matches its kind.
func (t *Target) Validate() error {
	if t.ID == "" {
		return errors.NewConfiguration("target is missing an id")
	}
	switch t.Kind {
	case TargetEmail:
		if t.Email == nil || len(t.Email.Recipients) == 0 {
			return errors.NewConfiguration("email target %s has no recipients", t.ID)
		}
	case TargetChat:
		if t.Chat == nil || t.Chat.WebhookURL == "" {
			return errors.NewConfiguration("chat target %s has no webhook URL", t.ID)
		}
	case TargetSpreadsheet:
		if t.Spreadsheet == nil || t.Spreadsheet.SheetID == "" {
			return errors.NewConfiguration("spreadsheet target %s has no sheet id", t.ID)
		}
	default:
		return errors.NewConfiguration("unknown target kind %q", t.Kind)
	}
	return nil
}
