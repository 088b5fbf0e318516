package learning

import (
	"testing"
	"time"
)

func TestRecommendations_ExamCountdownFirst(t *testing.T) {
	tr, _, clock := newTestTracker()

	// Build a profile where every recommendation kind is eligible.
	tr.IngestSession(answers("Anexo II", 1, 4), 30) // weak topic, <5h study, beginner
	exam := clock.Now().Add(5 * 24 * time.Hour)
	if err := tr.SetStudyGoal("exam", &exam, false); err != nil {
		t.Fatalf("SetStudyGoal: %v", err)
	}

	recs := tr.Recommendations()
	if len(recs) != 4 {
		t.Fatalf("got %d recommendations, want 4: %+v", len(recs), recs)
	}
	if recs[0].Kind != "exam_preparation" || recs[0].Priority != PriorityUrgent {
		t.Errorf("first recommendation = %s/%s, want exam_preparation/urgent", recs[0].Kind, recs[0].Priority)
	}
	if recs[0].DaysLeft != 5 {
		t.Errorf("days left = %d, want 5", recs[0].DaysLeft)
	}

	// Remaining order: high, medium, low.
	wantOrder := []Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow}
	for i, r := range recs {
		if r.Priority != wantOrder[i] {
			t.Errorf("recs[%d].Priority = %s, want %s", i, r.Priority, wantOrder[i])
		}
	}
}

func TestRecommendations_NoExamDateNoCountdown(t *testing.T) {
	tr, _, _ := newTestTracker()
	tr.IngestSession(answers("Capítulo I", 2, 1), 10)

	for _, r := range tr.Recommendations() {
		if r.Kind == "exam_preparation" {
			t.Errorf("unexpected exam countdown without an exam date: %+v", r)
		}
	}
}

func TestRecommendations_DistantExamIgnored(t *testing.T) {
	tr, _, clock := newTestTracker()

	exam := clock.Now().Add(30 * 24 * time.Hour)
	if err := tr.SetStudyGoal("exam", &exam, false); err != nil {
		t.Fatalf("SetStudyGoal: %v", err)
	}

	for _, r := range tr.Recommendations() {
		if r.Kind == "exam_preparation" {
			t.Errorf("countdown fired %d days out: %+v", 30, r)
		}
	}
}

func TestRecommendations_AdvancedGetsMockExams(t *testing.T) {
	tr, _, _ := newTestTracker()
	tr.IngestSession(answers("Capítulo I", 95, 5), 400)

	var found bool
	for _, r := range tr.Recommendations() {
		if r.Kind == "level_based" {
			found = true
			if r.Action != "take_exam" {
				t.Errorf("advanced guidance action = %q, want take_exam", r.Action)
			}
		}
	}
	if !found {
		t.Error("missing level guidance for advanced learner")
	}
}

func TestStudyPlan_DefaultHorizon(t *testing.T) {
	tr, _, _ := newTestTracker()

	plan := tr.StudyPlan(nil, 1)
	if plan.TotalDays != 30 {
		t.Fatalf("TotalDays = %d, want 30", plan.TotalDays)
	}
	if len(plan.DailyGoals) != 30 {
		t.Fatalf("daily goals = %d, want 30", len(plan.DailyGoals))
	}
	if len(plan.WeeklyMilestones) != 5 {
		t.Errorf("milestones = %d, want 5 (ceil 30/7)", len(plan.WeeklyMilestones))
	}

	// No weak topics: focus areas cycle through the default chapter list.
	if plan.DailyGoals[0].FocusArea != "Capítulo I" {
		t.Errorf("day 1 focus = %q, want Capítulo I", plan.DailyGoals[0].FocusArea)
	}
	if plan.DailyGoals[5].FocusArea != "Capítulo I" {
		t.Errorf("day 6 focus = %q, want round-robin back to Capítulo I", plan.DailyGoals[5].FocusArea)
	}
}

func TestStudyPlan_TargetDateFloor(t *testing.T) {
	tr, _, clock := newTestTracker()

	// 3 days out: floor of 7 applies.
	target := clock.Now().Add(3 * 24 * time.Hour)
	plan := tr.StudyPlan(&target, 1)
	if plan.TotalDays != 7 {
		t.Errorf("TotalDays = %d, want floor of 7", plan.TotalDays)
	}

	target = clock.Now().Add(14 * 24 * time.Hour)
	plan = tr.StudyPlan(&target, 1)
	if plan.TotalDays != 14 {
		t.Errorf("TotalDays = %d, want 14", plan.TotalDays)
	}
}

func TestStudyPlan_ActivitiesAndTimeSlices(t *testing.T) {
	tr, _, _ := newTestTracker()

	plan := tr.StudyPlan(nil, 2)
	day := plan.DailyGoals[0]
	if len(day.Activities) != 3 {
		t.Fatalf("activities = %d, want 3", len(day.Activities))
	}
	wantTypes := []string{"study", "practice", "review"}
	for i, a := range day.Activities {
		if a.Type != wantTypes[i] {
			t.Errorf("activity %d type = %q, want %q", i, a.Type, wantTypes[i])
		}
		if a.DurationMinutes != 40 {
			t.Errorf("activity %d duration = %d, want 40 (2h/3)", i, a.DurationMinutes)
		}
	}
	if day.EstimatedMinutes != 120 {
		t.Errorf("estimated minutes = %d, want 120", day.EstimatedMinutes)
	}
}

func TestStudyPlan_WeakTopicsDriveFocus(t *testing.T) {
	tr, _, _ := newTestTracker()
	tr.IngestSession(answers("Anexo III", 0, 5), 20)

	plan := tr.StudyPlan(nil, 1)
	if len(plan.FocusAreas) != 1 || plan.FocusAreas[0] != "Anexo III" {
		t.Fatalf("focus areas = %v, want [Anexo III]", plan.FocusAreas)
	}
	for _, g := range plan.DailyGoals {
		if g.FocusArea != "Anexo III" {
			t.Errorf("day %d focus = %q, want Anexo III", g.Day, g.FocusArea)
		}
	}

	// Weekly milestone boilerplate: first and last weeks are special.
	first := plan.WeeklyMilestones[0]
	last := plan.WeeklyMilestones[len(plan.WeeklyMilestones)-1]
	if first.Goal == last.Goal {
		t.Errorf("first and last week goals should differ: %q", first.Goal)
	}
}
