package learning

import "time"

// Level is the coarse skill level derived from lifetime quiz totals.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// Difficulty classifies a quiz question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// AnswerRecord is one answered question in a study session. Records are
// aggregated by IngestSession and not persisted individually.
type AnswerRecord struct {
	Topic            string     `json:"topic"`
	Difficulty       Difficulty `json:"difficulty"`
	Correct          bool       `json:"correct"`
	TimeSpentSeconds int        `json:"time_spent_seconds"`
}

// TopicProgress tracks cumulative per-topic performance. MasteryPercent is
// recomputed on every update and never stored stale.
type TopicProgress struct {
	QuestionsAnswered int       `json:"questions_answered"`
	CorrectAnswers    int       `json:"correct_answers"`
	MasteryPercent    int       `json:"mastery_percent"`
	LastStudied       time.Time `json:"last_studied"`
}

// DifficultyCount tracks lifetime correctness per question difficulty.
type DifficultyCount struct {
	Total   int `json:"total"`
	Correct int `json:"correct"`
}

// Profile is the singleton persisted learner record. It is serialized as one
// JSON document under a fixed storage key.
type Profile struct {
	Level             Level                          `json:"level"`
	StudyMinutes      int                            `json:"study_minutes"`
	QuestionsAnswered int                            `json:"questions_answered"`
	CorrectAnswers    int                            `json:"correct_answers"`
	ChapterProgress   map[string]TopicProgress       `json:"chapter_progress"`
	WeakTopics        []string                       `json:"weak_topics"`
	StrongTopics      []string                       `json:"strong_topics"`
	DifficultyStats   map[Difficulty]DifficultyCount `json:"difficulty_stats"`
	ExamDate          *time.Time                     `json:"exam_date,omitempty"`
	StudyGoal         string                         `json:"study_goal"`
	LastActivity      *time.Time                     `json:"last_activity,omitempty"`
	StreakDays        int                            `json:"streak_days"`
}

// Summary is a display-ready, side-effect-free snapshot of the profile.
type Summary struct {
	Level             Level                    `json:"level"`
	Accuracy          int                      `json:"accuracy"`
	QuestionsAnswered int                      `json:"questions_answered"`
	StudyHours        float64                  `json:"study_hours"`
	StreakDays        int                      `json:"streak_days"`
	WeakTopics        []string                 `json:"weak_topics"`
	StrongTopics      []string                 `json:"strong_topics"`
	ChapterProgress   map[string]TopicProgress `json:"chapter_progress"`
}

// Priority orders recommendations, urgent first.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityUrgent: 0,
	PriorityHigh:   1,
	PriorityMedium: 2,
	PriorityLow:    3,
}

// Recommendation is a derived suggested next action. Regenerated on demand,
// never persisted.
type Recommendation struct {
	Kind        string   `json:"kind"`
	Priority    Priority `json:"priority"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Action      string   `json:"action"`
	Topics      []string `json:"topics,omitempty"`
	Chapter     string   `json:"chapter,omitempty"`
	DaysLeft    int      `json:"days_left,omitempty"`
}

// Activity is one block of a daily study goal.
type Activity struct {
	Type            string `json:"type"` // "study", "practice", "review"
	Title           string `json:"title"`
	DurationMinutes int    `json:"duration_minutes"`
	Description     string `json:"description"`
}

// DailyGoal is one day of a study plan.
type DailyGoal struct {
	Day              int        `json:"day"`
	FocusArea        string     `json:"focus_area"`
	Activities       []Activity `json:"activities"`
	EstimatedMinutes int        `json:"estimated_minutes"`
}

// Milestone is a weekly checkpoint of a study plan.
type Milestone struct {
	Week       int    `json:"week"`
	Goal       string `json:"goal"`
	Assessment string `json:"assessment"`
}

// StudyPlan is a finite, eagerly generated plan of daily goals.
type StudyPlan struct {
	TotalDays        int         `json:"total_days"`
	FocusAreas       []string    `json:"focus_areas"`
	DailyGoals       []DailyGoal `json:"daily_goals"`
	WeeklyMilestones []Milestone `json:"weekly_milestones"`
}

func defaultProfile() Profile {
	return Profile{
		Level:           LevelBeginner,
		ChapterProgress: make(map[string]TopicProgress),
		WeakTopics:      []string{},
		StrongTopics:    []string{},
		DifficultyStats: make(map[Difficulty]DifficultyCount),
		StudyGoal:       "general",
	}
}
