package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/discordservers/advert-sentry/app/database"
	"github.com/discordservers/advert-sentry/app/discord"
	"github.com/discordservers/advert-sentry/app/redirect"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeGroupRepo struct {
	groups []database.Group
	nextID int64
}

func (f *fakeGroupRepo) GetByExternalID(externalID string) (*database.Group, error) {
	for i := range f.groups {
		if f.groups[i].ExternalID == externalID {
			g := f.groups[i]
			return &g, nil
		}
	}
	return nil, nil
}

func (f *fakeGroupRepo) GetByID(id int64) (*database.Group, error) {
	for i := range f.groups {
		if f.groups[i].ID == id {
			g := f.groups[i]
			return &g, nil
		}
	}
	return nil, nil
}

func (f *fakeGroupRepo) Save(name, externalID string) (*database.Group, error) {
	f.nextID++
	g := database.Group{ID: f.nextID, Name: name, ExternalID: externalID, CreatedAt: testNow}
	f.groups = append(f.groups, g)
	return &g, nil
}

func (f *fakeGroupRepo) GetCount() (int, error) {
	return len(f.groups), nil
}

type fakeAdvertRepo struct {
	adverts []database.Advert
	nextID  int64
	touched []int64
	deleted []int64
}

func (f *fakeAdvertRepo) GetByFullname(fullname string) (*database.Advert, error) {
	for i := range f.adverts {
		if f.adverts[i].Fullname == fullname {
			a := f.adverts[i]
			return &a, nil
		}
	}
	return nil, nil
}

func (f *fakeAdvertRepo) GetByGroup(groupID int64) ([]database.Advert, error) {
	var out []database.Advert
	for _, a := range f.adverts {
		if a.GroupID == groupID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAdvertRepo) Save(fullname, permalink string, groupID int64, postedAt time.Time) (*database.Advert, error) {
	f.nextID++
	a := database.Advert{
		ID: f.nextID, Fullname: fullname, Permalink: permalink, GroupID: groupID,
		FoundAt: testNow, UpdatedAt: testNow, PostedAt: postedAt,
	}
	f.adverts = append(f.adverts, a)
	return &a, nil
}

func (f *fakeAdvertRepo) Touch(id int64) error {
	f.touched = append(f.touched, id)
	for i := range f.adverts {
		if f.adverts[i].ID == id {
			f.adverts[i].UpdatedAt = testNow
		}
	}
	return nil
}

func (f *fakeAdvertRepo) Delete(id int64) error {
	f.deleted = append(f.deleted, id)
	for i := range f.adverts {
		if f.adverts[i].ID == id {
			f.adverts = append(f.adverts[:i], f.adverts[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeAdvertRepo) Prune(time.Duration) (int64, int64, error) { return 0, 0, nil }
func (f *fakeAdvertRepo) GetCount() (int, error)                    { return len(f.adverts), nil }
func (f *fakeAdvertRepo) GetRecent(int) ([]database.Advert, error)  { return nil, nil }

type actionRecorder struct {
	replies       map[string]string // fullname -> text
	distinguished []string
	removed       []string
	flaired       map[string]string // fullname -> template id
	modmail       map[string]string // subject -> body
}

func newActionRecorder() *actionRecorder {
	return &actionRecorder{
		replies: map[string]string{},
		flaired: map[string]string{},
		modmail: map[string]string{},
	}
}

func (r *actionRecorder) Reply(_ context.Context, fullname, text string) (string, error) {
	r.replies[fullname] = text
	return "t1_" + fullname, nil
}

func (r *actionRecorder) Distinguish(_ context.Context, commentFullname string) error {
	r.distinguished = append(r.distinguished, commentFullname)
	return nil
}

func (r *actionRecorder) Remove(_ context.Context, fullname string) error {
	r.removed = append(r.removed, fullname)
	return nil
}

func (r *actionRecorder) SetFlair(_ context.Context, fullname, templateID string) error {
	r.flaired[fullname] = templateID
	return nil
}

func (r *actionRecorder) SendModeratorMessage(_ context.Context, subject, body string) error {
	r.modmail[subject] = body
	return nil
}

func (r *actionRecorder) actionCount() int {
	return len(r.replies) + len(r.distinguished) + len(r.removed) + len(r.flaired) + len(r.modmail)
}

type resolverFunc func(ctx context.Context, url string, follow func(string) bool, maxRedirects int) (string, error)

func (f resolverFunc) Resolve(ctx context.Context, url string, follow func(string) bool, max int) (string, error) {
	return f(ctx, url, follow, max)
}

type inviteFunc func(ctx context.Context, code string) (discord.Outcome, *discord.Invite, error)

func (f inviteFunc) GetInvite(ctx context.Context, code string) (discord.Outcome, *discord.Invite, error) {
	return f(ctx, code)
}

type staticList []string

func (l staticList) Contains(s string) (bool, error) {
	for _, v := range l {
		if v == s {
			return true, nil
		}
	}
	return false, nil
}

func liveInvite(guildID, guildName string, features ...string) inviteFunc {
	return func(_ context.Context, code string) (discord.Outcome, *discord.Invite, error) {
		return discord.Success, &discord.Invite{
			Code:  code,
			Guild: discord.Guild{ID: guildID, Name: guildName, Features: features},
		}, nil
	}
}

func deadInvite() inviteFunc {
	return func(context.Context, string) (discord.Outcome, *discord.Invite, error) {
		return discord.NotFound, nil, nil
	}
}

func noResolve(t *testing.T) resolverFunc {
	return func(_ context.Context, url string, _ func(string) bool, _ int) (string, error) {
		t.Fatalf("unexpected resolver call for %s", url)
		return "", nil
	}
}

type engineFixture struct {
	groups  *fakeGroupRepo
	adverts *fakeAdvertRepo
	actions *actionRecorder
	opts    Options
}

func newFixture() *engineFixture {
	return &engineFixture{
		groups:  &fakeGroupRepo{},
		adverts: &fakeAdvertRepo{},
		actions: newActionRecorder(),
		opts: Options{
			FlairTemplateID: "flair-template-1",
			Backoff:         func(int) time.Duration { return 0 },
			Now:             func() time.Time { return testNow },
		},
	}
}

func (fx *engineFixture) engine(resolver LinkResolver, invites InviteFetcher, blacklist, whitelist List) *Engine {
	if blacklist == nil {
		blacklist = staticList{}
	}
	if whitelist == nil {
		whitelist = staticList{}
	}
	return NewEngine(fx.groups, fx.adverts, resolver, invites, fx.actions, blacklist, whitelist, nil, fx.opts)
}

func okSubmission() Submission {
	return Submission{
		Fullname:  "t3_new",
		ID:        "new",
		URL:       "https://discord.gg/abc123",
		Author:    "poster",
		CreatedAt: testNow,
		Permalink: "/r/sub/comments/new",
	}
}

func TestProcessIgnoresUntouchableSubmissions(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Submission)
	}{
		{"self post", func(s *Submission) { s.IsSelf = true }},
		{"already removed", func(s *Submission) { s.RemovedBy = "somemod" }},
		{"human approved", func(s *Submission) { s.ApprovedBy = "somemod" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture()
			subm := okSubmission()
			tc.mod(&subm)

			eng := fx.engine(noResolve(t), deadInvite(), nil, nil)
			v, err := eng.Process(context.Background(), subm)
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			if v.Kind != Ignore {
				t.Errorf("verdict = %s, want ignore", v.Kind)
			}
			if n := fx.actions.actionCount(); n != 0 {
				t.Errorf("expected no actions, got %d", n)
			}
		})
	}
}

func TestProcessDoesNotIgnoreBotApproval(t *testing.T) {
	fx := newFixture()
	subm := okSubmission()
	subm.ApprovedBy = "AutoModerator"

	eng := fx.engine(noResolve(t), liveInvite("g1", "Some Server"), nil, nil)
	v, err := eng.Process(context.Background(), subm)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if v.Kind != Accept {
		t.Errorf("verdict = %s, want accept", v.Kind)
	}
}

func TestProcessIgnoresAllowlistedAuthor(t *testing.T) {
	fx := newFixture()
	eng := fx.engine(noResolve(t), deadInvite(), nil, staticList{"poster"})

	v, err := eng.Process(context.Background(), okSubmission())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if v.Kind != Ignore {
		t.Errorf("verdict = %s, want ignore", v.Kind)
	}
}

func TestProcessIgnoresUnrecognizedLink(t *testing.T) {
	fx := newFixture()
	subm := okSubmission()
	subm.URL = "https://example.com/my-server"

	eng := fx.engine(noResolve(t), deadInvite(), nil, nil)
	v, err := eng.Process(context.Background(), subm)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if v.Kind != Ignore {
		t.Errorf("verdict = %s, want ignore", v.Kind)
	}
}

func TestProcessIgnoresRecentlyVerifiedAdvert(t *testing.T) {
	fx := newFixture()
	g, _ := fx.groups.Save("Some Server", "g1")
	subm := okSubmission()
	fx.adverts.Save(subm.Fullname, subm.Permalink, g.ID, testNow.Add(-time.Hour))
	// Freshly verified; fake Save stamps UpdatedAt with testNow.

	eng := fx.engine(noResolve(t), deadInvite(), nil, nil)
	v, err := eng.Process(context.Background(), subm)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if v.Kind != Ignore {
		t.Errorf("verdict = %s, want ignore", v.Kind)
	}
}

func TestProcessRejectsDeadInvite(t *testing.T) {
	fx := newFixture()
	eng := fx.engine(noResolve(t), deadInvite(), nil, nil)

	subm := okSubmission()
	v, err := eng.Process(context.Background(), subm)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if v.Kind != RejectInvalid {
		t.Fatalf("verdict = %s, want reject_invalid", v.Kind)
	}

	text, ok := fx.actions.replies[subm.Fullname]
	if !ok {
		t.Fatal("expected a reply on the submission")
	}
	if text != DefaultMessages().Expired {
		t.Errorf("reply used wrong template:\n%s", text)
	}
	if len(fx.actions.distinguished) != 1 {
		t.Errorf("expected reply to be distinguished")
	}
	if len(fx.actions.removed) != 1 || fx.actions.removed[0] != subm.Fullname {
		t.Errorf("expected submission to be removed, got %v", fx.actions.removed)
	}
}

func TestProcessBotCheckRedirectorGetsDedicatedReply(t *testing.T) {
	fx := newFixture()
	resolver := resolverFunc(func(_ context.Context, url string, _ func(string) bool, _ int) (string, error) {
		return "https://discord.me/landing", nil // never reaches an official link
	})
	eng := fx.engine(resolver, deadInvite(), nil, nil)

	subm := okSubmission()
	subm.URL = "https://discord.me/someserver"
	v, err := eng.Process(context.Background(), subm)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if v.Kind != RejectInvalid {
		t.Fatalf("verdict = %s, want reject_invalid", v.Kind)
	}
	if fx.actions.replies[subm.Fullname] != DefaultMessages().ExpiredBotcheck {
		t.Errorf("expected the bot-check variant of the expiry reply")
	}
}

func TestProcessResolutionRetriesResumeFromFailedURL(t *testing.T) {
	fx := newFixture()
	var calls []string
	resolver := resolverFunc(func(_ context.Context, url string, _ func(string) bool, _ int) (string, error) {
		calls = append(calls, url)
		if len(calls) == 1 {
			return "", &redirect.Error{URL: "https://discord.plus/hop2", Err: errors.New("connection reset")}
		}
		return "https://discord.gg/abc123", nil
	})
	eng := fx.engine(resolver, liveInvite("g1", "Some Server"), nil, nil)

	subm := okSubmission()
	subm.URL = "https://discord.plus/hop1"
	v, err := eng.Process(context.Background(), subm)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if v.Kind != Accept {
		t.Errorf("verdict = %s, want accept", v.Kind)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 resolver calls, got %d", len(calls))
	}
	if calls[1] != "https://discord.plus/hop2" {
		t.Errorf("retry started from %s, want the URL that failed", calls[1])
	}
}

func TestProcessAcceptsFirstAdvert(t *testing.T) {
	fx := newFixture()
	eng := fx.engine(noResolve(t), liveInvite("g1", "Some Server"), nil, nil)

	subm := okSubmission()
	v, err := eng.Process(context.Background(), subm)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if v.Kind != Accept {
		t.Fatalf("verdict = %s, want accept", v.Kind)
	}

	g, _ := fx.groups.GetByExternalID("g1")
	if g == nil {
		t.Fatal("expected a group to be created")
	}
	a, _ := fx.adverts.GetByFullname(subm.Fullname)
	if a == nil {
		t.Fatal("expected an advert to be recorded")
	}
	if !a.PostedAt.Equal(subm.CreatedAt) {
		t.Errorf("advert posted_at = %v, want submission creation time %v", a.PostedAt, subm.CreatedAt)
	}
	if n := fx.actions.actionCount(); n != 0 {
		t.Errorf("expected no actions on accept, got %d", n)
	}
}

func TestProcessRejectsRepostWithinCooldown(t *testing.T) {
	fx := newFixture()
	g, _ := fx.groups.Save("Some Server", "g1")
	fx.adverts.Save("t3_old", "/r/sub/comments/old", g.ID, testNow.Add(-time.Hour))

	eng := fx.engine(noResolve(t), liveInvite("g1", "Some Server"), nil, nil)
	v, err := eng.Process(context.Background(), okSubmission())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if v.Kind != RejectTooSoon {
		t.Fatalf("verdict = %s, want reject_too_soon", v.Kind)
	}
	if v.OldPermalink != "/r/sub/comments/old" {
		t.Errorf("old permalink = %q", v.OldPermalink)
	}
	if v.TimeLeft != 23*time.Hour {
		t.Errorf("time left = %v, want 23h", v.TimeLeft)
	}
	if a, _ := fx.adverts.GetByFullname("t3_new"); a != nil {
		t.Error("rejected submission must not be recorded as an advert")
	}
	if len(fx.actions.removed) != 1 || fx.actions.removed[0] != "t3_new" {
		t.Errorf("expected t3_new removed, got %v", fx.actions.removed)
	}
}

func TestProcessAcceptsRepostAfterCooldown(t *testing.T) {
	fx := newFixture()
	g, _ := fx.groups.Save("Some Server", "g1")
	fx.adverts.Save("t3_old", "/r/sub/comments/old", g.ID, testNow.Add(-25*time.Hour))

	eng := fx.engine(noResolve(t), liveInvite("g1", "Some Server"), nil, nil)
	v, err := eng.Process(context.Background(), okSubmission())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if v.Kind != Accept {
		t.Fatalf("verdict = %s, want accept", v.Kind)
	}
	if a, _ := fx.adverts.GetByFullname("t3_new"); a == nil {
		t.Error("expected the new advert to be recorded")
	}
}

func TestProcessRejectsBlacklistedServer(t *testing.T) {
	fx := newFixture()
	// Feature would normally earn a flair; the denylist must win first.
	eng := fx.engine(noResolve(t), liveInvite("g-banned", "Bad Server", PartnerFeature), staticList{"g-banned"}, nil)

	subm := okSubmission()
	v, err := eng.Process(context.Background(), subm)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if v.Kind != RejectBlacklisted {
		t.Fatalf("verdict = %s, want reject_blacklisted", v.Kind)
	}
	if len(fx.actions.modmail) != 1 {
		t.Error("expected a moderator message")
	}
	if len(fx.actions.replies) != 0 {
		t.Error("blacklist removal must not leave a public reply")
	}
	if len(fx.actions.flaired) != 0 {
		t.Error("blacklisted submission must not be flaired")
	}
	if len(fx.actions.removed) != 1 || fx.actions.removed[0] != subm.Fullname {
		t.Errorf("expected submission removed, got %v", fx.actions.removed)
	}
}

func TestProcessFlairsPartnerServer(t *testing.T) {
	fx := newFixture()
	eng := fx.engine(noResolve(t), liveInvite("g1", "Partner Server", PartnerFeature), nil, nil)

	subm := okSubmission()
	v, err := eng.Process(context.Background(), subm)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if v.Kind != Accept {
		t.Fatalf("verdict = %s, want accept", v.Kind)
	}
	if !v.Flaired {
		t.Error("verdict should report the flair side effect")
	}
	if fx.actions.flaired[subm.Fullname] != "flair-template-1" {
		t.Errorf("flair calls = %v", fx.actions.flaired)
	}
}

func TestProcessSkipsFlairWhenAlreadySet(t *testing.T) {
	fx := newFixture()
	eng := fx.engine(noResolve(t), liveInvite("g1", "Partner Server", PartnerFeature), nil, nil)

	subm := okSubmission()
	subm.FlairText = "Discord Partner"
	subm.FlairCSSClass = "partner-post"
	v, err := eng.Process(context.Background(), subm)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if v.Flaired {
		t.Error("flair already present, should not be reapplied")
	}
	if len(fx.actions.flaired) != 0 {
		t.Errorf("flair calls = %v", fx.actions.flaired)
	}
}

func TestProcessRejectsAdvertThatChangedServers(t *testing.T) {
	fx := newFixture()
	g, _ := fx.groups.Save("Original Server", "g1")
	subm := okSubmission()
	a, _ := fx.adverts.Save(subm.Fullname, subm.Permalink, g.ID, testNow.Add(-time.Hour))
	fx.adverts.adverts[0].UpdatedAt = testNow.Add(-20 * time.Minute) // stale enough to recheck

	eng := fx.engine(noResolve(t), liveInvite("g2", "Hijacked Server"), nil, nil)
	v, err := eng.Process(context.Background(), subm)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if v.Kind != RejectChanged {
		t.Fatalf("verdict = %s, want reject_changed", v.Kind)
	}
	if len(fx.actions.modmail) != 1 {
		t.Error("expected a moderator message")
	}
	if len(fx.actions.removed) != 1 {
		t.Errorf("expected submission removed, got %v", fx.actions.removed)
	}
	if len(fx.adverts.touched) != 0 || len(fx.adverts.deleted) != 0 {
		t.Error("changed-server rejection must not modify stored adverts")
	}
	if got, _ := fx.adverts.GetByFullname(subm.Fullname); got == nil || got.ID != a.ID {
		t.Error("original advert row must survive")
	}
}

func TestProcessPenalizesLaterDoublePost(t *testing.T) {
	fx := newFixture()
	g, _ := fx.groups.Save("Some Server", "g1")
	subm := okSubmission()
	fx.adverts.Save(subm.Fullname, subm.Permalink, g.ID, subm.CreatedAt)
	fx.adverts.adverts[0].UpdatedAt = testNow.Add(-20 * time.Minute)
	// A later submission advertised the same server an hour after this one.
	other, _ := fx.adverts.Save("t3_later", "/r/sub/comments/later", g.ID, subm.CreatedAt.Add(time.Hour))

	eng := fx.engine(noResolve(t), liveInvite("g1", "Some Server"), nil, nil)
	v, err := eng.Process(context.Background(), subm)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if v.Kind != RejectTooSoon {
		t.Fatalf("verdict = %s, want reject_too_soon", v.Kind)
	}
	if v.TargetFullname != "t3_later" {
		t.Errorf("penalized %s, want the later submission t3_later", v.TargetFullname)
	}
	if _, ok := fx.actions.replies["t3_later"]; !ok {
		t.Error("expected the reply on the later submission")
	}
	if len(fx.actions.removed) != 1 || fx.actions.removed[0] != "t3_later" {
		t.Errorf("removed = %v, want only t3_later", fx.actions.removed)
	}
	if len(fx.adverts.deleted) != 1 || fx.adverts.deleted[0] != other.ID {
		t.Errorf("deleted advert ids = %v, want [%d]", fx.adverts.deleted, other.ID)
	}
	if a, _ := fx.adverts.GetByFullname(subm.Fullname); a == nil {
		t.Error("the earlier advert must survive")
	}
}

func TestProcessRefreshesTrackedAdvert(t *testing.T) {
	fx := newFixture()
	g, _ := fx.groups.Save("Some Server", "g1")
	subm := okSubmission()
	a, _ := fx.adverts.Save(subm.Fullname, subm.Permalink, g.ID, subm.CreatedAt.Add(-2*time.Hour))
	fx.adverts.adverts[0].UpdatedAt = testNow.Add(-20 * time.Minute)

	eng := fx.engine(noResolve(t), liveInvite("g1", "Some Server"), nil, nil)
	v, err := eng.Process(context.Background(), subm)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if v.Kind != Accept {
		t.Fatalf("verdict = %s, want accept", v.Kind)
	}
	if len(fx.adverts.touched) != 1 || fx.adverts.touched[0] != a.ID {
		t.Errorf("touched = %v, want [%d]", fx.adverts.touched, a.ID)
	}
	if n := fx.actions.actionCount(); n != 0 {
		t.Errorf("expected no actions on refresh, got %d", n)
	}
}

func TestProcessDryRunSkipsActions(t *testing.T) {
	fx := newFixture()
	fx.opts.DryRun = true
	eng := fx.engine(noResolve(t), deadInvite(), nil, nil)

	v, err := eng.Process(context.Background(), okSubmission())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if v.Kind != RejectInvalid {
		t.Fatalf("verdict = %s, want reject_invalid", v.Kind)
	}
	if n := fx.actions.actionCount(); n != 0 {
		t.Errorf("dry run performed %d actions", n)
	}
}

func TestProcessRetriesRateLimitedInvite(t *testing.T) {
	fx := newFixture()
	var calls int
	invites := inviteFunc(func(_ context.Context, code string) (discord.Outcome, *discord.Invite, error) {
		calls++
		if calls == 1 {
			return discord.RateLimited, nil, nil
		}
		return discord.Success, &discord.Invite{Code: code, Guild: discord.Guild{ID: "g1", Name: "Some Server"}}, nil
	})
	eng := fx.engine(noResolve(t), invites, nil, nil)

	v, err := eng.Process(context.Background(), okSubmission())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if v.Kind != Accept {
		t.Errorf("verdict = %s, want accept", v.Kind)
	}
	if calls != 2 {
		t.Errorf("invite lookups = %d, want 2", calls)
	}
}
