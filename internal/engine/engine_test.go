package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"fieldline/internal/config"
	"fieldline/internal/db"
	"fieldline/internal/domain"
	"fieldline/internal/migrate"
	"fieldline/internal/repo"
	"fieldline/internal/schedule"
)

type testEnv struct {
	eng *Engine
	ctx context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := New(conn, config.Default("test-app"))
	return &testEnv{eng: eng, ctx: context.Background()}
}

func (env *testEnv) at(t *testing.T, ts string) {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t.Fatalf("parse %s: %v", ts, err)
	}
	env.eng.Now = func() time.Time { return parsed }
}

func (env *testEnv) member(t *testing.T, subject, campaignID string) domain.User {
	t.Helper()
	u, err := env.eng.RegisterUser(env.ctx, RegisterUserOptions{Subject: subject})
	if err != nil {
		t.Fatalf("register user: %v", err)
	}
	if _, err := env.eng.JoinCampaign(env.ctx, campaignID, u.ID, u.ID); err != nil {
		t.Fatalf("join campaign: %v", err)
	}
	return u
}

func (env *testEnv) campaign(t *testing.T, title string) domain.Campaign {
	t.Helper()
	c, err := env.eng.CreateCampaign(env.ctx, CreateCampaignOptions{Title: title})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return c
}

func (env *testEnv) questionnaire(t *testing.T, campaignID, condition string, freq *int) domain.Questionnaire {
	t.Helper()
	q, err := env.eng.CreateQuestionnaire(env.ctx, CreateQuestionnaireOptions{
		CampaignID:    campaignID,
		Title:         condition + " questionnaire",
		Condition:     condition,
		FrequencyDays: freq,
	})
	if err != nil {
		t.Fatalf("create questionnaire: %v", err)
	}
	return q
}

func pendingIDs(list []domain.PendingQuestionnaire) []string {
	var ids []string
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestBeforeRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.at(t, "2026-03-01T10:00:00Z")
	c := env.campaign(t, "river survey")
	q := env.questionnaire(t, c.ID, "BEFORE", nil)
	u := env.member(t, "alice", c.ID)

	pending, err := env.eng.PendingQuestionnaires(env.ctx, u.ID, c.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != q.ID {
		t.Fatalf("expected %s pending, got %v", q.ID, pendingIDs(pending))
	}
	if pending[0].Reason != "BEFORE: never answered" {
		t.Fatalf("unexpected reason %q", pending[0].Reason)
	}

	if _, err := env.eng.SaveResponse(env.ctx, SaveResponseOptions{QuestionnaireID: q.ID, UserID: u.ID, AnswersJSON: `{"q1":"yes"}`}); err != nil {
		t.Fatalf("save response: %v", err)
	}

	pending, err = env.eng.PendingQuestionnaires(env.ctx, u.ID, c.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty pending set, got %v", pendingIDs(pending))
	}

	_, err = env.eng.SaveResponse(env.ctx, SaveResponseOptions{QuestionnaireID: q.ID, UserID: u.ID, AnswersJSON: `{"q1":"again"}`})
	var rej schedule.RejectionError
	if !asRejection(err, &rej) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rej.Message != "This questionnaire has already been answered." {
		t.Fatalf("unexpected message %q", rej.Message)
	}
}

func TestDailyOncePerDay(t *testing.T) {
	env := newTestEnv(t)
	env.at(t, "2026-03-01T09:00:00Z")
	c := env.campaign(t, "weather log")
	q := env.questionnaire(t, c.ID, "DAILY", nil)
	u := env.member(t, "bob", c.ID)

	if _, err := env.eng.SaveResponse(env.ctx, SaveResponseOptions{QuestionnaireID: q.ID, UserID: u.ID, AnswersJSON: `{"sky":"clear"}`}); err != nil {
		t.Fatalf("first save: %v", err)
	}

	env.at(t, "2026-03-01T23:59:59Z")
	_, err := env.eng.SaveResponse(env.ctx, SaveResponseOptions{QuestionnaireID: q.ID, UserID: u.ID, AnswersJSON: `{"sky":"cloudy"}`})
	var rej schedule.RejectionError
	if !asRejection(err, &rej) {
		t.Fatalf("expected same-day rejection, got %v", err)
	}
	if rej.Message != "This questionnaire can only be answered once per day." {
		t.Fatalf("unexpected message %q", rej.Message)
	}
	pending, err := env.eng.PendingQuestionnaires(env.ctx, u.ID, c.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected not pending same day, got %v", pendingIDs(pending))
	}

	env.at(t, "2026-03-02T00:00:01Z")
	pending, err = env.eng.PendingQuestionnaires(env.ctx, u.ID, c.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Reason != "DAILY: no answer today" {
		t.Fatalf("expected pending next day, got %v", pending)
	}
	if _, err := env.eng.SaveResponse(env.ctx, SaveResponseOptions{QuestionnaireID: q.ID, UserID: u.ID, AnswersJSON: `{"sky":"rain"}`}); err != nil {
		t.Fatalf("next-day save: %v", err)
	}
}

func TestEveryXDaysBoundary(t *testing.T) {
	env := newTestEnv(t)
	env.at(t, "2026-03-01T12:00:00Z")
	c := env.campaign(t, "soil sampling")
	freq := 7
	q := env.questionnaire(t, c.ID, "EVERY_X_DAYS", &freq)
	u := env.member(t, "carol", c.ID)

	if _, err := env.eng.SaveResponse(env.ctx, SaveResponseOptions{QuestionnaireID: q.ID, UserID: u.ID, AnswersJSON: `{"ph":6.5}`}); err != nil {
		t.Fatalf("first save: %v", err)
	}

	// Exactly 7 days later the window has not yet reopened.
	env.at(t, "2026-03-08T12:00:00Z")
	pending, err := env.eng.PendingQuestionnaires(env.ctx, u.ID, c.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected not pending at exact boundary, got %v", pendingIDs(pending))
	}
	_, err = env.eng.SaveResponse(env.ctx, SaveResponseOptions{QuestionnaireID: q.ID, UserID: u.ID, AnswersJSON: `{"ph":6.6}`})
	var rej schedule.RejectionError
	if !asRejection(err, &rej) {
		t.Fatalf("expected boundary rejection, got %v", err)
	}
	if rej.Message != "This questionnaire can only be answered every 7 days." {
		t.Fatalf("unexpected message %q", rej.Message)
	}

	env.at(t, "2026-03-08T12:00:01Z")
	pending, err = env.eng.PendingQuestionnaires(env.ctx, u.ID, c.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Reason != "EVERY_X_DAYS: last response too old" {
		t.Fatalf("expected pending past boundary, got %v", pending)
	}
	if _, err := env.eng.SaveResponse(env.ctx, SaveResponseOptions{QuestionnaireID: q.ID, UserID: u.ID, AnswersJSON: `{"ph":6.7}`}); err != nil {
		t.Fatalf("post-boundary save: %v", err)
	}
}

func TestAfterRequiresClosedCampaign(t *testing.T) {
	env := newTestEnv(t)
	env.at(t, "2026-03-01T08:00:00Z")
	c := env.campaign(t, "bird count")
	q := env.questionnaire(t, c.ID, "AFTER", nil)
	u := env.member(t, "dave", c.ID)

	pending, err := env.eng.PendingQuestionnaires(env.ctx, u.ID, c.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("AFTER must not be pending while campaign open, got %v", pendingIDs(pending))
	}

	end := "2026-03-10T00:00:00Z"
	if _, err := env.eng.UpdateCampaign(env.ctx, c.ID, UpdateCampaignOptions{EndAt: &end}); err != nil {
		t.Fatalf("update campaign: %v", err)
	}

	// End instant equal to now does not yet close the campaign.
	env.at(t, "2026-03-10T00:00:00Z")
	pending, err = env.eng.PendingQuestionnaires(env.ctx, u.ID, c.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("campaign not closed at end instant, got %v", pendingIDs(pending))
	}

	env.at(t, "2026-03-10T00:00:01Z")
	pending, err = env.eng.PendingQuestionnaires(env.ctx, u.ID, c.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Reason != "AFTER: campaign closed and never answered" {
		t.Fatalf("expected AFTER pending once closed, got %v", pending)
	}

	if _, err := env.eng.SaveResponse(env.ctx, SaveResponseOptions{QuestionnaireID: q.ID, UserID: u.ID, AnswersJSON: `{"species":12}`}); err != nil {
		t.Fatalf("save: %v", err)
	}
	pending, err = env.eng.PendingQuestionnaires(env.ctx, u.ID, c.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty set after answering, got %v", pendingIDs(pending))
	}
}

func TestDisabledCampaignCountsAsClosed(t *testing.T) {
	env := newTestEnv(t)
	env.at(t, "2026-03-01T08:00:00Z")
	c := env.campaign(t, "lichen mapping")
	env.questionnaire(t, c.ID, "AFTER", nil)
	u := env.member(t, "erin", c.ID)

	disabled := true
	if _, err := env.eng.UpdateCampaign(env.ctx, c.ID, UpdateCampaignOptions{IsDisabled: &disabled}); err != nil {
		t.Fatalf("disable campaign: %v", err)
	}
	pending, err := env.eng.PendingQuestionnaires(env.ctx, u.ID, c.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected AFTER pending for disabled campaign, got %v", pendingIDs(pending))
	}
}

func TestPendingUnknownCampaignIsEmpty(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.eng.RegisterUser(env.ctx, RegisterUserOptions{Subject: "frank"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	pending, err := env.eng.PendingQuestionnaires(env.ctx, u.ID, "no-such-campaign")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending == nil || len(pending) != 0 {
		t.Fatalf("expected empty non-nil set, got %v", pending)
	}
}

func TestSaveResponseRequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	env.at(t, "2026-03-01T08:00:00Z")
	c := env.campaign(t, "moth survey")
	q := env.questionnaire(t, c.ID, "BEFORE", nil)
	u, err := env.eng.RegisterUser(env.ctx, RegisterUserOptions{Subject: "grace"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = env.eng.SaveResponse(env.ctx, SaveResponseOptions{QuestionnaireID: q.ID, UserID: u.ID, AnswersJSON: `{}`})
	if err == nil || !strings.Contains(err.Error(), "not a member") {
		t.Fatalf("expected membership error, got %v", err)
	}
}

func TestCreateQuestionnaireValidatesFrequency(t *testing.T) {
	env := newTestEnv(t)
	c := env.campaign(t, "tide watch")
	zero := 0
	_, err := env.eng.CreateQuestionnaire(env.ctx, CreateQuestionnaireOptions{
		CampaignID: c.ID, Title: "bad", Condition: "EVERY_X_DAYS", FrequencyDays: &zero,
	})
	if err == nil {
		t.Fatal("expected error for zero frequency")
	}
	three := 3
	_, err = env.eng.CreateQuestionnaire(env.ctx, CreateQuestionnaireOptions{
		CampaignID: c.ID, Title: "bad", Condition: "DAILY", FrequencyDays: &three,
	})
	if err == nil {
		t.Fatal("expected error for frequency on DAILY")
	}
	_, err = env.eng.CreateQuestionnaire(env.ctx, CreateQuestionnaireOptions{
		CampaignID: c.ID, Title: "bad", Condition: "WEEKLY",
	})
	if err == nil {
		t.Fatal("expected error for unknown condition")
	}
}

func TestResponseSnapshotsConditionAndForm(t *testing.T) {
	env := newTestEnv(t)
	env.at(t, "2026-03-01T08:00:00Z")
	c := env.campaign(t, "noise levels")
	q, err := env.eng.CreateQuestionnaire(env.ctx, CreateQuestionnaireOptions{
		CampaignID: c.ID, Title: "baseline", Condition: "BEFORE", FormJSON: `{"fields":["db"]}`,
	})
	if err != nil {
		t.Fatalf("create questionnaire: %v", err)
	}
	u := env.member(t, "heidi", c.ID)
	resp, err := env.eng.SaveResponse(env.ctx, SaveResponseOptions{QuestionnaireID: q.ID, UserID: u.ID, AnswersJSON: `{"db":41}`})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if resp.Condition != "BEFORE" || resp.FormJSON != `{"fields":["db"]}` {
		t.Fatalf("snapshot mismatch: %+v", resp)
	}
	list, err := env.eng.ListResponses(env.ctx, repo.ResponseFilters{UserID: u.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != resp.ID {
		t.Fatalf("unexpected responses %v", list)
	}
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.at(t, "2026-03-01T08:00:00Z")
	c := env.campaign(t, "frog calls")
	q := env.questionnaire(t, c.ID, "BEFORE", nil)
	u := env.member(t, "ivan", c.ID)
	if _, err := env.eng.SaveResponse(env.ctx, SaveResponseOptions{QuestionnaireID: q.ID, UserID: u.ID, AnswersJSON: `{}`}); err != nil {
		t.Fatalf("save: %v", err)
	}
	evts, err := env.eng.Repo.LatestEvents(env.ctx, 10, c.ID, "", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var types []string
	for _, e := range evts {
		types = append(types, e.Type)
	}
	want := map[string]bool{"campaign.created": false, "questionnaire.created": false, "member.joined": false, "response.created": false}
	for _, ty := range types {
		if _, ok := want[ty]; ok {
			want[ty] = true
		}
	}
	for ty, seen := range want {
		if !seen {
			t.Fatalf("missing event %s in %v", ty, types)
		}
	}
}

func asRejection(err error, target *schedule.RejectionError) bool {
	if err == nil {
		return false
	}
	rej, ok := err.(schedule.RejectionError)
	if !ok {
		return false
	}
	*target = rej
	return true
}
