// Package moderation decides what happens to each submission: the decision
// engine drives the redirect resolver, the invite client, and the advert
// store, and emits exactly one verdict per submission.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/discordservers/advert-sentry/app/database"
	"github.com/discordservers/advert-sentry/app/discord"
	"github.com/discordservers/advert-sentry/app/redirect"
	"github.com/discordservers/advert-sentry/app/retry"
)

// PartnerFeature is the capability tag that earns a submission the partner
// flair.
const PartnerFeature = "VIP_REGIONS"

const (
	partnerFlairText = "Discord Partner"
	partnerFlairCSS  = "partner-post"
)

// LinkResolver follows a redirector chain to its final URL.
type LinkResolver interface {
	Resolve(ctx context.Context, url string, follow func(string) bool, maxRedirects int) (string, error)
}

// InviteFetcher looks up one invite code.
type InviteFetcher interface {
	GetInvite(ctx context.Context, code string) (discord.Outcome, *discord.Invite, error)
}

// List answers membership questions against a moderator-maintained list.
type List interface {
	Contains(s string) (bool, error)
}

// Options carries the engine's tunables. Zero-value fields fall back to the
// production defaults.
type Options struct {
	RecheckInterval   time.Duration // how long a verified advert stays fresh
	Cooldown          time.Duration // minimum time between posts for one server
	MaxRedirects      int
	FlairTemplateID   string
	AutomatedApprover string // approver that does not count as human approval
	DryRun            bool
	Backoff           retry.Backoff    // nil means retry.Linear
	Now               func() time.Time // nil means time.Now
}

type Engine struct {
	groups    database.GroupRepository
	adverts   database.AdvertRepository
	resolver  LinkResolver
	invites   InviteFetcher
	actions   Actions
	blacklist List
	whitelist List
	messages  *Messages
	opts      Options
}

func NewEngine(groups database.GroupRepository, adverts database.AdvertRepository,
	resolver LinkResolver, invites InviteFetcher, actions Actions,
	blacklist, whitelist List, messages *Messages, opts Options) *Engine {

	if opts.RecheckInterval == 0 {
		opts.RecheckInterval = 15 * time.Minute
	}
	if opts.Cooldown == 0 {
		opts.Cooldown = 24 * time.Hour
	}
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = 10
	}
	if opts.AutomatedApprover == "" {
		opts.AutomatedApprover = "AutoModerator"
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.Linear
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if messages == nil {
		messages = DefaultMessages()
	}

	return &Engine{
		groups:    groups,
		adverts:   adverts,
		resolver:  resolver,
		invites:   invites,
		actions:   actions,
		blacklist: blacklist,
		whitelist: whitelist,
		messages:  messages,
		opts:      opts,
	}
}

// Process evaluates one submission top to bottom; the first matching rule
// decides the verdict. A returned error aborts this submission's pass only.
func (e *Engine) Process(ctx context.Context, subm Submission) (Verdict, error) {
	log := slog.With("submission", subm.Fullname, "author", subm.Author)
	log.Info("Handling submission", "url", subm.URL)

	// Self-posts and submissions a human moderator already dealt with are
	// not ours to judge.
	if subm.IsSelf {
		return e.ignore(log, "self post"), nil
	}
	if subm.RemovedBy != "" {
		return e.ignore(log, fmt.Sprintf("already removed by %s", subm.RemovedBy)), nil
	}
	if subm.ApprovedBy != "" && subm.ApprovedBy != e.opts.AutomatedApprover {
		return e.ignore(log, fmt.Sprintf("approved by %s", subm.ApprovedBy)), nil
	}
	if subm.Author != "" {
		listed, err := e.whitelist.Contains(subm.Author)
		if err != nil {
			log.Warn("Failed to read whitelist", "error", err)
		} else if listed {
			return e.ignore(log, "allowlisted author"), nil
		}
	}

	if !IsCandidateLink(subm.URL) {
		return e.ignore(log, "unrecognized link"), nil
	}

	advert, err := e.adverts.GetByFullname(subm.Fullname)
	if err != nil {
		return Verdict{}, err
	}

	var group *database.Group
	if advert != nil {
		group, err = e.groups.GetByID(advert.GroupID)
		if err != nil {
			return Verdict{}, err
		}
		if group == nil {
			return Verdict{}, fmt.Errorf("advert %s references missing group %d", advert.Fullname, advert.GroupID)
		}

		sinceChecked := e.opts.Now().Sub(advert.UpdatedAt)
		if sinceChecked < e.opts.RecheckInterval {
			return e.ignore(log, fmt.Sprintf("verified %s ago (goes to %s)",
				sinceChecked.Truncate(time.Second), Printable(group.Name))), nil
		}
		log.Debug("Re-verifying tracked advert", "last_checked", advert.UpdatedAt, "group", Printable(group.Name))
	}

	officialLink := subm.URL
	if IsRedirectorLink(officialLink) {
		finalURL, err := e.resolveOfficial(ctx, officialLink)
		if err != nil {
			if ctx.Err() != nil {
				return Verdict{}, err
			}
			log.Info("Redirect resolution failed", "error", err)
			return e.rejectInvalid(ctx, log, subm)
		}
		if !IsOfficialLink(finalURL) {
			log.Info("Redirector does not lead to an official link", "final_url", finalURL)
			return e.rejectInvalid(ctx, log, subm)
		}
		log.Debug("Resolved redirector", "final_url", finalURL)
		officialLink = finalURL
	}

	code := CodeFromOfficialLink(officialLink)
	invite, err := e.fetchInvite(ctx, code)
	if err != nil {
		return Verdict{}, err
	}
	if invite == nil {
		log.Info("No invite for code", "code", code)
		return e.rejectInvalid(ctx, log, subm)
	}

	guildID := invite.Guild.ID
	safeName := Printable(invite.Guild.Name)
	log.Info("Invite is valid", "code", code, "guild", safeName, "guild_id", guildID)

	// The denylist outranks everything below, dedup and flair included.
	banned, err := e.blacklist.Contains(guildID)
	if err != nil {
		log.Warn("Failed to read blacklist", "error", err)
	} else if banned {
		return e.rejectBlacklisted(ctx, log, subm, safeName, guildID)
	}

	flaired := false
	if invite.Guild.HasFeature(PartnerFeature) &&
		(subm.FlairText != partnerFlairText || subm.FlairCSSClass != partnerFlairCSS) {
		if err := e.setFlair(ctx, log, subm); err != nil {
			return Verdict{}, err
		}
		flaired = true
	}

	if advert == nil {
		return e.handleFirstSeen(ctx, log, subm, invite, flaired)
	}
	return e.handleTracked(ctx, log, subm, advert, group, guildID, safeName, flaired)
}

// handleFirstSeen covers submissions with no prior advert: cooldown against
// the group's earlier adverts, then persist.
func (e *Engine) handleFirstSeen(ctx context.Context, log *slog.Logger, subm Submission,
	invite *discord.Invite, flaired bool) (Verdict, error) {

	group, err := e.groups.GetByExternalID(invite.Guild.ID)
	if err != nil {
		return Verdict{}, err
	}

	if group != nil {
		older, err := e.adverts.GetByGroup(group.ID)
		if err != nil {
			return Verdict{}, err
		}
		for _, old := range older {
			since := subm.CreatedAt.Sub(old.PostedAt)
			if since > 0 && since < e.opts.Cooldown {
				timeLeft := e.opts.Cooldown - since
				log.Info("Posted too soon after a previous advert",
					"old_permalink", old.Permalink, "time_since", since.Truncate(time.Second))

				text := render(e.messages.TooSoon, map[string]string{
					"perma_link_new": subm.Permalink,
					"perma_link_old": old.Permalink,
					"time_left":      formatWait(timeLeft),
				})
				if err := e.replyAndRemove(ctx, log, subm.Fullname, text); err != nil {
					return Verdict{}, err
				}
				return Verdict{
					Kind:           RejectTooSoon,
					Reason:         "cooldown not elapsed",
					TargetFullname: subm.Fullname,
					OldPermalink:   old.Permalink,
					TimeLeft:       timeLeft,
					Flaired:        flaired,
				}, nil
			}
		}
	}

	if group == nil {
		group, err = e.groups.Save(invite.Guild.Name, invite.Guild.ID)
		if err != nil {
			return Verdict{}, err
		}
		log.Debug("Created group", "group_id", group.ID, "guild_id", group.ExternalID)
	}

	if _, err := e.adverts.Save(subm.Fullname, subm.Permalink, group.ID, subm.CreatedAt); err != nil {
		return Verdict{}, err
	}

	log.Info("Advert accepted and tracked", "group", Printable(group.Name))
	return Verdict{Kind: Accept, Reason: "advert recorded", TargetFullname: subm.Fullname, Flaired: flaired}, nil
}

// handleTracked covers submissions that already have an advert: consistency
// against the recorded group, then double-post detection, then refresh.
func (e *Engine) handleTracked(ctx context.Context, log *slog.Logger, subm Submission,
	advert *database.Advert, group *database.Group, guildID, safeName string, flaired bool) (Verdict, error) {

	if guildID != group.ExternalID {
		log.Warn("Advert changed servers", "old_guild", Printable(group.Name),
			"old_guild_id", group.ExternalID, "new_guild", safeName, "new_guild_id", guildID)

		body := render(e.messages.ChangedBody, map[string]string{
			"author":         subm.Author,
			"permalink":      subm.Permalink,
			"old_guild_name": Printable(group.Name),
			"old_guild_id":   group.ExternalID,
			"guild_name":     safeName,
			"guild_id":       guildID,
		})
		if err := e.escalateAndRemove(ctx, log, subm.Fullname, e.messages.ChangedSubject, body); err != nil {
			return Verdict{}, err
		}
		return Verdict{
			Kind:           RejectChanged,
			Reason:         "advert resolves to a different server than recorded",
			TargetFullname: subm.Fullname,
			Flaired:        flaired,
		}, nil
	}

	// Double-post detection: a *later* submission advertised this server
	// within the cooldown window. That submission is the one penalized;
	// its advert row is dropped and the current one stays untouched. The
	// direction of this comparison is the reverse of the first-seen check:
	// it reconciles out-of-order processing between the new and hot scans.
	others, err := e.adverts.GetByGroup(group.ID)
	if err != nil {
		return Verdict{}, err
	}
	for _, other := range others {
		if other.ID == advert.ID {
			continue
		}
		delta := other.PostedAt.Sub(subm.CreatedAt)
		if delta > 0 && delta < e.opts.Cooldown {
			timeLeft := e.opts.Cooldown - delta
			log.Info("Server was double-posted; penalizing the later submission",
				"later_submission", other.Fullname, "later_permalink", other.Permalink,
				"time_since", delta.Truncate(time.Second))

			text := render(e.messages.DoublePost, map[string]string{
				"perma_link_saved":   other.Permalink,
				"perma_link_current": subm.Permalink,
				"time_left":          formatWait(timeLeft),
			})
			if err := e.replyAndRemove(ctx, log, other.Fullname, text); err != nil {
				return Verdict{}, err
			}
			if err := e.adverts.Delete(other.ID); err != nil {
				return Verdict{}, err
			}
			return Verdict{
				Kind:           RejectTooSoon,
				Reason:         "superseding double post",
				TargetFullname: other.Fullname,
				OldPermalink:   advert.Permalink,
				TimeLeft:       timeLeft,
				Flaired:        flaired,
			}, nil
		}
	}

	if err := e.adverts.Touch(advert.ID); err != nil {
		return Verdict{}, err
	}
	log.Debug("Advert refreshed")
	return Verdict{Kind: Accept, Reason: "advert still valid", TargetFullname: subm.Fullname, Flaired: flaired}, nil
}

// resolveOfficial resolves a redirector URL, retrying network failures
// indefinitely and resuming from the URL that failed rather than the
// original. Non-network failures (hop budget exhausted) are terminal and
// come back as the error; the caller tells them apart from cancellation via
// ctx.Err.
func (e *Engine) resolveOfficial(ctx context.Context, url string) (string, error) {
	type result struct {
		url string
		err error
	}

	op := func(ctx context.Context, current string) (string, result, bool, error) {
		final, err := e.resolver.Resolve(ctx, current, IsRedirectorLink, e.opts.MaxRedirects)
		if err != nil {
			var re *redirect.Error
			if errors.As(err, &re) {
				if re.URL != "" {
					current = re.URL
				}
				return current, result{}, false, err
			}
			return current, result{err: err}, true, nil
		}
		return current, result{url: final}, true, nil
	}

	res, err := retry.UntilSuccessFrom(ctx, op, url, e.opts.Backoff, 0)
	if err != nil {
		return "", err
	}
	return res.url, res.err
}

// fetchInvite looks up an invite code, retrying rate limits and transient
// failures. NotFound is terminal and reported as a nil invite. Rate-limited
// attempts skip the default backoff: the client already slept through the
// provider's reset window.
func (e *Engine) fetchInvite(ctx context.Context, code string) (*discord.Invite, error) {
	var lastOutcome discord.Outcome
	backoff := func(attempt int) time.Duration {
		if lastOutcome == discord.RateLimited {
			return 0
		}
		return e.opts.Backoff(attempt)
	}

	op := func(ctx context.Context) (*discord.Invite, bool, error) {
		outcome, invite, err := e.invites.GetInvite(ctx, code)
		lastOutcome = outcome
		switch outcome {
		case discord.Success:
			return invite, true, nil
		case discord.NotFound:
			return nil, true, nil
		default:
			return nil, false, err
		}
	}

	return retry.UntilSuccess(ctx, op, backoff, 0)
}

func (e *Engine) ignore(log *slog.Logger, reason string) Verdict {
	log.Info("Ignoring submission", "reason", reason)
	return Verdict{Kind: Ignore, Reason: reason}
}

func (e *Engine) rejectInvalid(ctx context.Context, log *slog.Logger, subm Submission) (Verdict, error) {
	text := e.messages.Expired
	if IsBotCheckRedirector(subm.URL) {
		text = e.messages.ExpiredBotcheck
	}
	if err := e.replyAndRemove(ctx, log, subm.Fullname, text); err != nil {
		return Verdict{}, err
	}
	return Verdict{Kind: RejectInvalid, Reason: "no valid invite", TargetFullname: subm.Fullname}, nil
}

func (e *Engine) rejectBlacklisted(ctx context.Context, log *slog.Logger, subm Submission,
	safeName, guildID string) (Verdict, error) {

	log.Warn("Blacklisted server attempting to post", "guild", safeName, "guild_id", guildID)

	body := render(e.messages.BlacklistBody, map[string]string{
		"author":     subm.Author,
		"permalink":  subm.Permalink,
		"guild_name": safeName,
		"guild_id":   guildID,
	})
	if err := e.escalateAndRemove(ctx, log, subm.Fullname, e.messages.BlacklistSubject, body); err != nil {
		return Verdict{}, err
	}
	return Verdict{
		Kind:           RejectBlacklisted,
		Reason:         "server is denylisted",
		TargetFullname: subm.Fullname,
	}, nil
}

// replyAndRemove is the standard reject sequence: reply, distinguish the
// reply as a moderator response, remove the submission.
func (e *Engine) replyAndRemove(ctx context.Context, log *slog.Logger, fullname, text string) error {
	if e.opts.DryRun {
		log.Info("Dry run: would reply and remove", "target", fullname)
		return nil
	}

	comment, err := e.actions.Reply(ctx, fullname, text)
	if err != nil {
		return fmt.Errorf("failed to reply to %s: %w", fullname, err)
	}
	if err := e.actions.Distinguish(ctx, comment); err != nil {
		// The removal still matters more than the badge on the comment.
		log.Warn("Failed to distinguish reply", "comment", comment, "error", err)
	}
	if err := e.actions.Remove(ctx, fullname); err != nil {
		return fmt.Errorf("failed to remove %s: %w", fullname, err)
	}
	return nil
}

// escalateAndRemove notifies the moderators and removes the submission with
// no public reply.
func (e *Engine) escalateAndRemove(ctx context.Context, log *slog.Logger, fullname, subject, body string) error {
	if e.opts.DryRun {
		log.Info("Dry run: would send moderator message and remove", "target", fullname, "subject", subject)
		return nil
	}

	if err := e.actions.SendModeratorMessage(ctx, subject, body); err != nil {
		return fmt.Errorf("failed to send moderator message: %w", err)
	}
	if err := e.actions.Remove(ctx, fullname); err != nil {
		return fmt.Errorf("failed to remove %s: %w", fullname, err)
	}
	return nil
}

func (e *Engine) setFlair(ctx context.Context, log *slog.Logger, subm Submission) error {
	if e.opts.DryRun {
		log.Info("Dry run: would flair as partner", "target", subm.Fullname)
		return nil
	}
	if err := e.actions.SetFlair(ctx, subm.Fullname, e.opts.FlairTemplateID); err != nil {
		return fmt.Errorf("failed to set flair on %s: %w", subm.Fullname, err)
	}
	log.Info("Flaired post as partner", "template", e.opts.FlairTemplateID)
	return nil
}

// formatWait renders a remaining wait the way moderators read it in replies.
func formatWait(d time.Duration) string {
	return d.Truncate(time.Second).String()
}
