package learning

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// defaultFocusAreas is the round-robin fallback when the learner has no weak
// topics yet: the chapters and technical annexes of the ICT regulation.
var defaultFocusAreas = []string{"Capítulo I", "Capítulo II", "Anexo I", "Anexo II", "Anexo III"}

// minStudyHours is the lifetime study time under which the routine nudge fires.
const minStudyHours = 5.0

// examCountdownDays is the window before the exam that triggers the urgent reminder.
const examCountdownDays = 7

// Recommendations derives an ordered list of suggested next actions from the
// current profile. The sort is stable: equal priorities keep insertion order.
func (t *Tracker) Recommendations() []Recommendation {
	p := t.GetProfile()
	now := t.clock.Now()

	var recs []Recommendation

	if len(p.WeakTopics) > 0 {
		// WeakTopics appends newest last; the tail holds the three most
		// recently flagged topics.
		topics := p.WeakTopics
		if len(topics) > 3 {
			topics = topics[len(topics)-3:]
		}
		recs = append(recs, Recommendation{
			Kind:        "weak_areas",
			Priority:    PriorityHigh,
			Title:       "Reinforce your weak areas",
			Description: fmt.Sprintf("Worth revisiting: %s", strings.Join(topics, ", ")),
			Action:      "study_weak_topics",
			Topics:      topics,
		})
	}

	switch p.Level {
	case LevelBeginner:
		recs = append(recs, Recommendation{
			Kind:        "level_based",
			Priority:    PriorityMedium,
			Title:       "Start with the basics",
			Description: "Begin with Capítulo I: Disposiciones Generales",
			Action:      "study_chapter",
			Chapter:     "Capítulo I",
		})
	case LevelAdvanced:
		recs = append(recs, Recommendation{
			Kind:        "level_based",
			Priority:    PriorityMedium,
			Title:       "Practice with mock exams",
			Description: "You are ready for full exam simulations",
			Action:      "take_exam",
		})
	}

	if float64(p.StudyMinutes)/60 < minStudyHours {
		recs = append(recs, Recommendation{
			Kind:        "study_time",
			Priority:    PriorityLow,
			Title:       "Build a routine",
			Description: "Put in at least 30 minutes of study per day",
			Action:      "set_study_schedule",
		})
	}

	if p.ExamDate != nil {
		daysLeft := daysUntil(now, *p.ExamDate)
		if daysLeft >= 0 && daysLeft <= examCountdownDays {
			recs = append(recs, Recommendation{
				Kind:        "exam_preparation",
				Priority:    PriorityUrgent,
				Title:       "Exam coming up",
				Description: fmt.Sprintf("%d days left. Focus on mock exams and review", daysLeft),
				Action:      "intensive_review",
				DaysLeft:    daysLeft,
			})
		}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return priorityRank[recs[i].Priority] < priorityRank[recs[j].Priority]
	})
	return recs
}

// StudyPlan generates a finite plan of daily goals. With a target date the
// plan spans max(7, days until target); otherwise a fixed 30-day horizon.
// hoursPerDay defaults to 1 when non-positive.
func (t *Tracker) StudyPlan(targetDate *time.Time, hoursPerDay float64) StudyPlan {
	p := t.GetProfile()
	now := t.clock.Now()

	if hoursPerDay <= 0 {
		hoursPerDay = 1
	}

	totalDays := 30
	if targetDate != nil {
		if d := daysUntil(now, *targetDate); d > 7 {
			totalDays = d
		} else {
			totalDays = 7
		}
	}

	focusAreas := defaultFocusAreas
	if len(p.WeakTopics) > 0 {
		focusAreas = append([]string(nil), p.WeakTopics...)
	}

	plan := StudyPlan{
		TotalDays:  totalDays,
		FocusAreas: focusAreas,
	}

	dailyMinutes := int(hoursPerDay * 60)
	for day := 1; day <= totalDays; day++ {
		focus := focusAreas[(day-1)%len(focusAreas)]
		plan.DailyGoals = append(plan.DailyGoals, DailyGoal{
			Day:              day,
			FocusArea:        focus,
			Activities:       dailyActivities(focus, dailyMinutes),
			EstimatedMinutes: dailyMinutes,
		})
	}

	weeks := (totalDays + 6) / 7
	for week := 1; week <= weeks; week++ {
		plan.WeeklyMilestones = append(plan.WeeklyMilestones, Milestone{
			Week:       week,
			Goal:       weeklyGoal(week, weeks),
			Assessment: "quiz",
		})
	}

	return plan
}

// dailyActivities splits a day into three equal study/practice/review blocks.
func dailyActivities(focusArea string, dailyMinutes int) []Activity {
	slice := dailyMinutes / 3
	return []Activity{
		{
			Type:            "study",
			Title:           fmt.Sprintf("Study %s", focusArea),
			DurationMinutes: slice,
			Description:     fmt.Sprintf("Review key concepts and articles of %s", focusArea),
		},
		{
			Type:            "practice",
			Title:           "Practice questions",
			DurationMinutes: slice,
			Description:     fmt.Sprintf("Answer 10-15 questions on %s", focusArea),
		},
		{
			Type:            "review",
			Title:           "Review and notes",
			DurationMinutes: slice,
			Description:     "Go over mistakes and take notes",
		},
	}
}

func weeklyGoal(week, totalWeeks int) string {
	switch {
	case week == 1:
		return "Master the basic concepts and general provisions"
	case week == totalWeeks:
		return "Final mock exams and intensive review"
	default:
		return fmt.Sprintf("Complete the technical annexes (week %d)", week)
	}
}

// daysUntil returns the whole-day ceiling difference between now and target.
func daysUntil(now, target time.Time) int {
	return int(math.Ceil(target.Sub(now).Hours() / 24))
}
