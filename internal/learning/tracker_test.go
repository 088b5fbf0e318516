package learning

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// --- Mock store ---

type mockStore struct {
	mu   sync.Mutex
	data map[string]string

	setErr   error
	setCalls int
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]string)}
}

func (m *mockStore) SetProfileKey(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

func (m *mockStore) GetProfileKey(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker() (*Tracker, *mockStore, *mockClock) {
	store := newMockStore()
	clock := &mockClock{now: time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)}
	return NewTrackerWithClock(store, clock), store, clock
}

func answers(topic string, correct, wrong int) []AnswerRecord {
	var out []AnswerRecord
	for i := 0; i < correct; i++ {
		out = append(out, AnswerRecord{Topic: topic, Difficulty: DifficultyMedium, Correct: true, TimeSpentSeconds: 45})
	}
	for i := 0; i < wrong; i++ {
		out = append(out, AnswerRecord{Topic: topic, Difficulty: DifficultyMedium, Correct: false, TimeSpentSeconds: 90})
	}
	return out
}

// --- Tests ---

func TestIngestSession_MasteryAlwaysRecomputed(t *testing.T) {
	tr, _, _ := newTestTracker()

	tr.IngestSession(answers("Capítulo I", 2, 1), 10)
	p := tr.GetProfile()
	if got := p.ChapterProgress["Capítulo I"].MasteryPercent; got != 67 {
		t.Errorf("mastery after 2/3 = %d, want 67", got)
	}

	tr.IngestSession(answers("Capítulo I", 4, 0), 10)
	p = tr.GetProfile()
	cp := p.ChapterProgress["Capítulo I"]
	if cp.QuestionsAnswered != 7 || cp.CorrectAnswers != 6 {
		t.Fatalf("cumulative counts = %d/%d, want 6/7", cp.CorrectAnswers, cp.QuestionsAnswered)
	}
	if cp.MasteryPercent != 86 {
		t.Errorf("mastery after 6/7 = %d, want 86", cp.MasteryPercent)
	}
}

func TestLevelThresholds_LifetimeTotals(t *testing.T) {
	tests := []struct {
		name              string
		correct, answered int
		want              Level
	}{
		{"advanced at 90/100", 90, 100, LevelAdvanced},
		{"exactly at advanced bar", 85, 100, LevelAdvanced},
		{"count met accuracy missed stays beginner", 40, 60, LevelBeginner},
		{"intermediate at 45/60", 45, 60, LevelIntermediate},
		{"accuracy met count missed stays beginner", 40, 40, LevelBeginner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _, _ := newTestTracker()
			tr.IngestSession(answers("Capítulo I", tt.correct, tt.answered-tt.correct), 30)
			if got := tr.GetProfile().Level; got != tt.want {
				t.Errorf("level = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLevelUsesLifetimeNotSessionAccuracy(t *testing.T) {
	tr, _, _ := newTestTracker()

	// 40 correct out of 50, then a perfect 50-answer session.
	tr.IngestSession(answers("Capítulo I", 40, 10), 30)
	tr.IngestSession(answers("Capítulo II", 50, 0), 30)

	// Lifetime: 90/100 = 90% ≥ 85% and answered ≥ 100 → advanced.
	if got := tr.GetProfile().Level; got != LevelAdvanced {
		t.Errorf("level = %q, want advanced from lifetime totals", got)
	}
}

func TestWeakStrongClassification(t *testing.T) {
	tr, _, _ := newTestTracker()

	tr.IngestSession(append(
		answers("Anexo I", 5, 0),      // 100% → strong
		answers("Anexo II", 1, 4)...), // 20% → weak
		20)

	p := tr.GetProfile()
	if len(p.StrongTopics) != 1 || p.StrongTopics[0] != "Anexo I" {
		t.Errorf("strong = %v, want [Anexo I]", p.StrongTopics)
	}
	if len(p.WeakTopics) != 1 || p.WeakTopics[0] != "Anexo II" {
		t.Errorf("weak = %v, want [Anexo II]", p.WeakTopics)
	}
}

func TestWeakStrongEligibilityAndMiddleBand(t *testing.T) {
	tr, _, _ := newTestTracker()

	// Two answers only: below the eligibility floor, never classified.
	tr.IngestSession(answers("Anexo I", 0, 2), 5)
	// 70% sits between the weak and strong cutoffs: untouched.
	tr.IngestSession(answers("Anexo II", 7, 3), 5)

	p := tr.GetProfile()
	if len(p.WeakTopics) != 0 || len(p.StrongTopics) != 0 {
		t.Errorf("weak=%v strong=%v, want both empty", p.WeakTopics, p.StrongTopics)
	}
}

func TestWeakStrongMutuallyExclusiveAndCapped(t *testing.T) {
	tr, _, _ := newTestTracker()

	// First weak, then mastered: must move lists, never appear in both.
	tr.IngestSession(answers("Anexo I", 1, 4), 10)
	tr.IngestSession(answers("Anexo I", 5, 0), 10)

	p := tr.GetProfile()
	for _, w := range p.WeakTopics {
		for _, s := range p.StrongTopics {
			if w == s {
				t.Fatalf("topic %q in both lists", w)
			}
		}
	}
	if len(p.WeakTopics) != 0 {
		t.Errorf("weak = %v, want empty after mastering", p.WeakTopics)
	}

	// Seven weak topics: cap at the 5 most recent.
	topics := []string{"T1", "T2", "T3", "T4", "T5", "T6", "T7"}
	for _, topic := range topics {
		tr.IngestSession(answers(topic, 0, 4), 5)
	}
	p = tr.GetProfile()
	if len(p.WeakTopics) != 5 {
		t.Fatalf("weak list length = %d, want 5", len(p.WeakTopics))
	}
	if p.WeakTopics[0] != "T3" || p.WeakTopics[4] != "T7" {
		t.Errorf("weak = %v, want the five most recent", p.WeakTopics)
	}
}

func TestStreakConsecutiveDays(t *testing.T) {
	tr, _, clock := newTestTracker()

	tr.IngestSession(answers("Capítulo I", 1, 0), 10)
	if got := tr.GetProfile().StreakDays; got != 1 {
		t.Fatalf("streak after first day = %d, want 1", got)
	}

	clock.Advance(24 * time.Hour)
	tr.IngestSession(answers("Capítulo I", 1, 0), 10)
	if got := tr.GetProfile().StreakDays; got != 2 {
		t.Errorf("streak after consecutive day = %d, want 2", got)
	}
}

func TestStreakSameDayUnchanged(t *testing.T) {
	tr, _, clock := newTestTracker()

	tr.IngestSession(answers("Capítulo I", 1, 0), 10)
	clock.Advance(2 * time.Hour)
	tr.IngestSession(answers("Capítulo I", 1, 0), 10)

	if got := tr.GetProfile().StreakDays; got != 1 {
		t.Errorf("streak after same-day session = %d, want 1", got)
	}
}

func TestStreakResetsAfterGap(t *testing.T) {
	tr, _, clock := newTestTracker()

	tr.IngestSession(answers("Capítulo I", 1, 0), 10)
	clock.Advance(24 * time.Hour)
	tr.IngestSession(answers("Capítulo I", 1, 0), 10)

	clock.Advance(3 * 24 * time.Hour)
	tr.IngestSession(answers("Capítulo I", 1, 0), 10)

	if got := tr.GetProfile().StreakDays; got != 1 {
		t.Errorf("streak after 3-day gap = %d, want reset to 1", got)
	}
}

func TestSummaryRounding(t *testing.T) {
	tr, _, _ := newTestTracker()

	tr.IngestSession(answers("Capítulo I", 2, 1), 100) // 66.7% accuracy, 1.666h
	s := tr.Summary()

	if s.Accuracy != 67 {
		t.Errorf("accuracy = %d, want 67", s.Accuracy)
	}
	if s.StudyHours != 1.7 {
		t.Errorf("study hours = %v, want 1.7", s.StudyHours)
	}
	if s.Level != LevelBeginner {
		t.Errorf("level = %q, want beginner", s.Level)
	}
}

func TestPersistenceFailureKeepsInMemoryState(t *testing.T) {
	tr, store, _ := newTestTracker()
	store.setErr = errors.New("disk full")

	tr.IngestSession(answers("Capítulo I", 3, 0), 10)

	// Aggregation not rolled back.
	if got := tr.GetProfile().QuestionsAnswered; got != 3 {
		t.Errorf("answered = %d, want 3 despite persistence failure", got)
	}
}

func TestProfilePersistedAndReloaded(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)}

	tr := NewTrackerWithClock(store, clock)
	tr.IngestSession(answers("Capítulo I", 4, 1), 25)

	// A fresh tracker over the same store sees the persisted record.
	tr2 := NewTrackerWithClock(store, clock)
	p := tr2.GetProfile()
	if p.QuestionsAnswered != 5 || p.CorrectAnswers != 4 {
		t.Errorf("reloaded totals = %d/%d, want 4/5", p.CorrectAnswers, p.QuestionsAnswered)
	}
	if p.StudyMinutes != 25 {
		t.Errorf("reloaded study minutes = %d, want 25", p.StudyMinutes)
	}

	// The stored record is a single JSON document under the fixed key.
	raw, err := store.GetProfileKey("profile")
	if err != nil {
		t.Fatalf("stored profile missing: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("stored profile not valid JSON: %v", err)
	}
}

func TestReset(t *testing.T) {
	tr, _, _ := newTestTracker()

	tr.IngestSession(answers("Capítulo I", 5, 5), 60)
	if err := tr.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	p := tr.GetProfile()
	if p.QuestionsAnswered != 0 || p.StudyMinutes != 0 || p.StreakDays != 0 {
		t.Errorf("profile not reset: %+v", p)
	}
	if p.Level != LevelBeginner {
		t.Errorf("level = %q, want beginner", p.Level)
	}
}

func TestSetStudyGoal(t *testing.T) {
	tr, store, _ := newTestTracker()

	exam := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	if err := tr.SetStudyGoal("exam", &exam, false); err != nil {
		t.Fatalf("SetStudyGoal: %v", err)
	}

	p := tr.GetProfile()
	if p.StudyGoal != "exam" {
		t.Errorf("goal = %q, want exam", p.StudyGoal)
	}
	if p.ExamDate == nil || !p.ExamDate.Equal(exam) {
		t.Errorf("exam date = %v, want %v", p.ExamDate, exam)
	}

	store.setErr = errors.New("disk full")
	if err := tr.SetStudyGoal("general", nil, false); err == nil {
		t.Error("expected error when persistence fails")
	}
}

func TestSetStudyGoalClearsExamDate(t *testing.T) {
	tr, _, _ := newTestTracker()

	exam := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	if err := tr.SetStudyGoal("exam", &exam, false); err != nil {
		t.Fatalf("SetStudyGoal: %v", err)
	}

	if err := tr.SetStudyGoal("general", nil, false); err != nil {
		t.Fatalf("SetStudyGoal: %v", err)
	}
	if p := tr.GetProfile(); p.ExamDate == nil {
		t.Error("exam date removed without clear signal")
	}

	if err := tr.SetStudyGoal("general", nil, true); err != nil {
		t.Fatalf("SetStudyGoal: %v", err)
	}
	if p := tr.GetProfile(); p.ExamDate != nil {
		t.Errorf("exam date = %v after clearing, want nil", p.ExamDate)
	}
}

func TestMalformedStoredProfileFallsBackToDefaults(t *testing.T) {
	store := newMockStore()
	store.data["profile"] = "{not json"

	tr := NewTracker(store)
	p := tr.GetProfile()
	if p.Level != LevelBeginner || p.QuestionsAnswered != 0 {
		t.Errorf("expected factory defaults, got %+v", p)
	}
}
