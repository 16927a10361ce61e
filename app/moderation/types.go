package moderation

import (
	"context"
	"time"
)

// Submission is the read-only view of one forum post under inspection. It is
// produced by the forum client and never mutated by the engine.
type Submission struct {
	Fullname      string // Platform-unique identifier (e.g. t3_asdf)
	ID            string
	URL           string
	Author        string
	IsSelf        bool
	RemovedBy     string // Moderator who removed the submission, if any
	ApprovedBy    string // Moderator who approved the submission, if any
	CreatedAt     time.Time
	Permalink     string
	FlairText     string
	FlairCSSClass string
}

// VerdictKind is the moderation decision for one submission.
type VerdictKind int

const (
	// Ignore means the submission needs no action.
	Ignore VerdictKind = iota

	// Accept means the advert is valid and tracked.
	Accept

	// RejectInvalid means the link is expired or never led to a valid
	// invite: reply with the expiry template, distinguish, remove.
	RejectInvalid

	// RejectTooSoon means the same community was advertised within the
	// cooldown window: reply citing the prior post, remove.
	RejectTooSoon

	// RejectBlacklisted means the community is on the denylist: escalate to
	// the moderators and remove silently.
	RejectBlacklisted

	// RejectChanged means the submission's link now resolves to a different
	// community than when first recorded: escalate and remove.
	RejectChanged
)

func (k VerdictKind) String() string {
	switch k {
	case Ignore:
		return "ignore"
	case Accept:
		return "accept"
	case RejectInvalid:
		return "reject_invalid"
	case RejectTooSoon:
		return "reject_too_soon"
	case RejectBlacklisted:
		return "reject_blacklisted"
	case RejectChanged:
		return "reject_changed"
	default:
		return "unknown"
	}
}

// Verdict is the engine's decision for one submission, with the parameters
// the applied actions used.
type Verdict struct {
	Kind   VerdictKind
	Reason string

	// TargetFullname is the submission the reject actions were applied to.
	// Normally the inspected submission itself; for a superseding double
	// post it is the later submission being penalized.
	TargetFullname string

	// OldPermalink cites the prior advert on a RejectTooSoon.
	OldPermalink string

	// TimeLeft is the remaining cooldown on a RejectTooSoon.
	TimeLeft time.Duration

	// Flaired reports the partner-flair side effect, which is independent
	// of the final kind.
	Flaired bool
}

// Actions are the moderation side-effect primitives the engine drives. The
// forum client implements them; tests substitute a recorder.
type Actions interface {
	// Reply posts a comment on the submission and returns the comment's
	// fullname for distinguishing.
	Reply(ctx context.Context, fullname, text string) (string, error)

	// Distinguish marks a comment as an official moderator response.
	Distinguish(ctx context.Context, commentFullname string) error

	// Remove takes the submission down (not as spam).
	Remove(ctx context.Context, fullname string) error

	// SetFlair applies a flair template to the submission.
	SetFlair(ctx context.Context, fullname, templateID string) error

	// SendModeratorMessage opens a moderator-only conversation.
	SendModeratorMessage(ctx context.Context, subject, body string) error
}
