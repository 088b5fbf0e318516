package learning

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// profileKey is the fixed storage key holding the serialized Profile.
const profileKey = "profile"

// Thresholds for level transitions, evaluated top-down on lifetime totals.
const (
	advancedMinAnswered     = 100
	advancedMinAccuracy     = 85.0
	intermediateMinAnswered = 50
	intermediateMinAccuracy = 70.0
)

// topicEligibilityMin is the minimum per-session answers a topic needs before
// it can be reclassified as weak or strong.
const topicEligibilityMin = 3

// maxTrackedTopics caps the weak and strong topic lists (most recent kept).
const maxTrackedTopics = 5

// ProfileStore defines the storage operations the Tracker needs.
// Implemented by storage.Store.
type ProfileStore interface {
	SetProfileKey(key, value string) error
	GetProfileKey(key string) (string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Tracker maintains the single persisted learner profile and derives
// summaries, recommendations and study plans from it.
//
// The persisted record has no concurrent-writer protection across processes:
// a single active writer is assumed, and racing writers resolve
// last-writer-wins.
type Tracker struct {
	store  ProfileStore
	clock  Clock
	logger *slog.Logger

	mu      sync.Mutex
	profile Profile
	loaded  bool
}

// NewTracker creates a Tracker backed by store.
func NewTracker(store ProfileStore) *Tracker {
	return &Tracker{
		store:  store,
		clock:  realClock{},
		logger: slog.Default(),
	}
}

// NewTrackerWithClock creates a Tracker with a custom clock (for testing).
func NewTrackerWithClock(store ProfileStore, clock Clock) *Tracker {
	return &Tracker{
		store:  store,
		clock:  clock,
		logger: slog.Default(),
	}
}

// loadLocked reads the persisted profile on first use. A missing record
// yields factory defaults; a malformed one is logged and replaced with
// defaults rather than aborting.
func (t *Tracker) loadLocked() {
	if t.loaded {
		return
	}
	t.loaded = true
	t.profile = defaultProfile()

	raw, err := t.store.GetProfileKey(profileKey)
	if err != nil {
		return
	}
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.logger.Warn("malformed stored profile, starting fresh", "error", err)
		return
	}
	if p.ChapterProgress == nil {
		p.ChapterProgress = make(map[string]TopicProgress)
	}
	if p.DifficultyStats == nil {
		p.DifficultyStats = make(map[Difficulty]DifficultyCount)
	}
	if p.WeakTopics == nil {
		p.WeakTopics = []string{}
	}
	if p.StrongTopics == nil {
		p.StrongTopics = []string{}
	}
	t.profile = p
}

// persistLocked writes the profile. Persistence failures are logged, not
// returned: the in-memory aggregation is kept (best-effort durability).
func (t *Tracker) persistLocked() {
	b, err := json.Marshal(t.profile)
	if err != nil {
		t.logger.Error("marshalling profile", "error", err)
		return
	}
	if err := t.store.SetProfileKey(profileKey, string(b)); err != nil {
		t.logger.Warn("persisting profile failed, keeping in-memory state", "error", err)
	}
}

// sessionAnalysis aggregates one session's answers before they are folded
// into the profile.
type sessionAnalysis struct {
	total      int
	correct    int
	topics     map[string]*topicCount
	topicOrder []string
	difficulty map[Difficulty]DifficultyCount
}

type topicCount struct {
	total   int
	correct int
}

func analyze(answers []AnswerRecord) sessionAnalysis {
	a := sessionAnalysis{
		topics:     make(map[string]*topicCount),
		difficulty: make(map[Difficulty]DifficultyCount),
	}
	for _, ans := range answers {
		a.total++
		if ans.Correct {
			a.correct++
		}

		topic := ans.Topic
		if topic == "" {
			topic = "unknown"
		}
		tc, ok := a.topics[topic]
		if !ok {
			tc = &topicCount{}
			a.topics[topic] = tc
			a.topicOrder = append(a.topicOrder, topic)
		}
		tc.total++
		if ans.Correct {
			tc.correct++
		}

		diff := ans.Difficulty
		if diff == "" {
			diff = DifficultyMedium
		}
		dc := a.difficulty[diff]
		dc.Total++
		if ans.Correct {
			dc.Correct++
		}
		a.difficulty[diff] = dc
	}
	return a
}

// IngestSession folds a batch of answered questions and the session's study
// minutes into the profile, then persists it. Aggregation never fails; only
// persistence can, and that is logged rather than surfaced.
func (t *Tracker) IngestSession(answers []AnswerRecord, studyMinutes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadLocked()

	now := t.clock.Now()
	a := analyze(answers)

	t.profile.QuestionsAnswered += a.total
	t.profile.CorrectAnswers += a.correct
	if studyMinutes > 0 {
		t.profile.StudyMinutes += studyMinutes
	}

	for diff, dc := range a.difficulty {
		cum := t.profile.DifficultyStats[diff]
		cum.Total += dc.Total
		cum.Correct += dc.Correct
		t.profile.DifficultyStats[diff] = cum
	}

	t.updateChapterProgress(a, now)
	t.updateLevel()
	t.updateTopicStrengths(a)
	t.updateStreak(now)
	t.profile.LastActivity = &now

	t.persistLocked()
}

func (t *Tracker) updateChapterProgress(a sessionAnalysis, now time.Time) {
	for _, topic := range a.topicOrder {
		tc := a.topics[topic]
		cp := t.profile.ChapterProgress[topic]
		cp.QuestionsAnswered += tc.total
		cp.CorrectAnswers += tc.correct
		cp.LastStudied = now
		cp.MasteryPercent = roundPercent(cp.CorrectAnswers, cp.QuestionsAnswered)
		t.profile.ChapterProgress[topic] = cp
	}
}

// updateLevel applies the fixed thresholds to lifetime totals, first match wins.
func (t *Tracker) updateLevel() {
	answered := t.profile.QuestionsAnswered
	accuracy := 0.0
	if answered > 0 {
		accuracy = float64(t.profile.CorrectAnswers) / float64(answered) * 100
	}

	switch {
	case answered >= advancedMinAnswered && accuracy >= advancedMinAccuracy:
		t.profile.Level = LevelAdvanced
	case answered >= intermediateMinAnswered && accuracy >= intermediateMinAccuracy:
		t.profile.Level = LevelIntermediate
	default:
		t.profile.Level = LevelBeginner
	}
}

// updateTopicStrengths reclassifies topics using this session's per-topic
// accuracy. A topic needs at least topicEligibilityMin answers this session;
// ≥80% marks it strong, <60% weak, anything between leaves it untouched.
// The two lists stay mutually exclusive and capped at the most recent five.
func (t *Tracker) updateTopicStrengths(a sessionAnalysis) {
	for _, topic := range a.topicOrder {
		tc := a.topics[topic]
		if tc.total < topicEligibilityMin {
			continue
		}
		accuracy := float64(tc.correct) / float64(tc.total) * 100
		switch {
		case accuracy >= 80:
			t.profile.WeakTopics = removeTopic(t.profile.WeakTopics, topic)
			t.profile.StrongTopics = append(removeTopic(t.profile.StrongTopics, topic), topic)
		case accuracy < 60:
			t.profile.StrongTopics = removeTopic(t.profile.StrongTopics, topic)
			t.profile.WeakTopics = append(removeTopic(t.profile.WeakTopics, topic), topic)
		}
	}

	t.profile.WeakTopics = lastN(t.profile.WeakTopics, maxTrackedTopics)
	t.profile.StrongTopics = lastN(t.profile.StrongTopics, maxTrackedTopics)
}

// updateStreak applies the calendar rule: unchanged if already active today,
// +1 after activity on the immediately preceding day, reset to 1 otherwise.
func (t *Tracker) updateStreak(now time.Time) {
	today := dateOf(now)
	if t.profile.LastActivity == nil {
		t.profile.StreakDays = 1
		return
	}
	last := dateOf(*t.profile.LastActivity)
	switch {
	case last == today:
		// Already counted today.
	case last == dateOf(now.AddDate(0, 0, -1)):
		t.profile.StreakDays++
	default:
		t.profile.StreakDays = 1
	}
}

// GetProfile returns a deep copy of the current profile.
func (t *Tracker) GetProfile() Profile {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadLocked()
	return deepCopyProfile(t.profile)
}

// Summary returns a display-ready snapshot. Pure read, no side effects.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadLocked()

	p := deepCopyProfile(t.profile)
	return Summary{
		Level:             p.Level,
		Accuracy:          roundPercent(p.CorrectAnswers, p.QuestionsAnswered),
		QuestionsAnswered: p.QuestionsAnswered,
		StudyHours:        math.Round(float64(p.StudyMinutes)/60*10) / 10,
		StreakDays:        p.StreakDays,
		WeakTopics:        p.WeakTopics,
		StrongTopics:      p.StrongTopics,
		ChapterProgress:   p.ChapterProgress,
	}
}

// SetStudyGoal updates the study goal and the exam date, then persists.
// A nil examDate with clearExamDate false leaves any existing date
// untouched; clearExamDate true removes it.
func (t *Tracker) SetStudyGoal(goal string, examDate *time.Time, clearExamDate bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadLocked()

	if goal != "" {
		t.profile.StudyGoal = goal
	}
	switch {
	case examDate != nil:
		d := examDate.UTC()
		t.profile.ExamDate = &d
	case clearExamDate:
		t.profile.ExamDate = nil
	}

	b, err := json.Marshal(t.profile)
	if err != nil {
		return fmt.Errorf("marshalling profile: %w", err)
	}
	if err := t.store.SetProfileKey(profileKey, string(b)); err != nil {
		return fmt.Errorf("persisting profile: %w", err)
	}
	return nil
}

// Reset overwrites the profile with factory defaults and persists.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.profile = defaultProfile()
	t.loaded = true

	b, err := json.Marshal(t.profile)
	if err != nil {
		return fmt.Errorf("marshalling profile: %w", err)
	}
	if err := t.store.SetProfileKey(profileKey, string(b)); err != nil {
		return fmt.Errorf("persisting profile: %w", err)
	}
	return nil
}

func roundPercent(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(whole) * 100))
}

// dateOf collapses a timestamp to its UTC calendar day.
func dateOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func removeTopic(topics []string, topic string) []string {
	out := topics[:0]
	for _, t := range topics {
		if t != topic {
			out = append(out, t)
		}
	}
	return out
}

func lastN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func deepCopyProfile(p Profile) Profile {
	cp := p
	cp.WeakTopics = append([]string(nil), p.WeakTopics...)
	cp.StrongTopics = append([]string(nil), p.StrongTopics...)
	cp.ChapterProgress = make(map[string]TopicProgress, len(p.ChapterProgress))
	for k, v := range p.ChapterProgress {
		cp.ChapterProgress[k] = v
	}
	cp.DifficultyStats = make(map[Difficulty]DifficultyCount, len(p.DifficultyStats))
	for k, v := range p.DifficultyStats {
		cp.DifficultyStats[k] = v
	}
	if p.ExamDate != nil {
		d := *p.ExamDate
		cp.ExamDate = &d
	}
	if p.LastActivity != nil {
		d := *p.LastActivity
		cp.LastActivity = &d
	}
	return cp
}
