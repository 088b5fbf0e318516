package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Marcelo060877/ict-tutor-pwa/internal/config"
	"github.com/Marcelo060877/ict-tutor-pwa/internal/learning"
)

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Record practice sessions",
}

var sessionRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a practice session",
	Long: `Record a practice session.

Examples:
  icttutor session record --topic "Capítulo I" --correct 8 --wrong 2 --minutes 30
  icttutor session record --file ./session.json --minutes 45`,
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		correct, _ := cmd.Flags().GetInt("correct")
		wrong, _ := cmd.Flags().GetInt("wrong")
		minutes, _ := cmd.Flags().GetInt("minutes")
		difficulty, _ := cmd.Flags().GetString("difficulty")
		file, _ := cmd.Flags().GetString("file")

		var answers []map[string]any
		switch {
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			if err := json.Unmarshal(data, &answers); err != nil {
				return fmt.Errorf("invalid answers JSON: %w", err)
			}
		case topic != "":
			for i := 0; i < correct; i++ {
				answers = append(answers, map[string]any{"topic": topic, "difficulty": difficulty, "correct": true})
			}
			for i := 0; i < wrong; i++ {
				answers = append(answers, map[string]any{"topic": topic, "difficulty": difficulty, "correct": false})
			}
		case minutes == 0:
			return fmt.Errorf("one of --topic or --file is required (or --minutes for study time only)")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/sessions", map[string]any{
			"answers":       answers,
			"study_minutes": minutes,
		})
		if err != nil {
			return err
		}

		var summary learning.Summary
		if err := decodeJSON(resp, &summary); err != nil {
			return err
		}

		printSuccess("Session recorded")
		printSummary(summary)
		return nil
	},
}

func init() {
	sessionRecordCmd.Flags().String("topic", "", "topic the answers belong to")
	sessionRecordCmd.Flags().Int("correct", 0, "number of correct answers")
	sessionRecordCmd.Flags().Int("wrong", 0, "number of wrong answers")
	sessionRecordCmd.Flags().Int("minutes", 0, "study minutes for this session")
	sessionRecordCmd.Flags().String("difficulty", "medium", "question difficulty (easy, medium, hard)")
	sessionRecordCmd.Flags().String("file", "", "JSON file with an array of answer records")
	sessionCmd.AddCommand(sessionRecordCmd)
}

// --- summary ---

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show study progress summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/summary")
		if err != nil {
			return err
		}

		var summary learning.Summary
		if err := decodeJSON(resp, &summary); err != nil {
			return err
		}

		printSummary(summary)
		return nil
	},
}

func printSummary(s learning.Summary) {
	printStatus("Level", "%s", s.Level)
	printStatus("Accuracy", "%d%%", s.Accuracy)
	printStatus("Questions answered", "%d", s.QuestionsAnswered)
	printStatus("Study hours", "%.1f", s.StudyHours)
	printStatus("Streak", "%d days", s.StreakDays)
	if len(s.WeakTopics) > 0 {
		printStatus("Weak topics", "%s", strings.Join(s.WeakTopics, ", "))
	}
	if len(s.StrongTopics) > 0 {
		printStatus("Strong topics", "%s", strings.Join(s.StrongTopics, ", "))
	}
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the learner profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/profile")
		if err != nil {
			return err
		}

		var profile any
		if err := decodeJSON(resp, &profile); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(profile)
	},
}

var profileGoalCmd = &cobra.Command{
	Use:   "goal <goal>",
	Short: "Set the study goal and optional exam date",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		examDate, _ := cmd.Flags().GetString("exam-date")

		body := map[string]any{"study_goal": args[0]}
		if cmd.Flags().Changed("exam-date") {
			body["exam_date"] = examDate
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/profile", body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Study goal set to %q", args[0])
		return nil
	},
}

var profileResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset all tracked progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will erase ALL tracked progress. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/profile/reset", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Profile reset")
		return nil
	},
}

func init() {
	profileGoalCmd.Flags().String("exam-date", "", "exam date in YYYY-MM-DD format (empty clears it)")
	profileResetCmd.Flags().Bool("confirm", false, "confirm profile reset")
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileGoalCmd)
	profileCmd.AddCommand(profileResetCmd)
}

// --- recommend ---

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Show prioritized study recommendations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/recommendations")
		if err != nil {
			return err
		}

		var recs []learning.Recommendation
		if err := decodeJSON(resp, &recs); err != nil {
			return err
		}

		if len(recs) == 0 {
			fmt.Println("No recommendations right now.")
			return nil
		}

		for _, r := range recs {
			color := colorCyan
			switch r.Priority {
			case learning.PriorityUrgent:
				color = colorRed
			case learning.PriorityHigh:
				color = colorYellow
			}
			fmt.Printf("%s %s\n", colorize(color, fmt.Sprintf("[%s]", r.Priority)), colorize(colorBold, r.Title))
			fmt.Printf("  %s\n", r.Description)
		}
		return nil
	},
}

// --- plan ---

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Generate a study plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		targetDate, _ := cmd.Flags().GetString("target-date")
		hours, _ := cmd.Flags().GetFloat64("hours")
		full, _ := cmd.Flags().GetBool("full")

		path := fmt.Sprintf("/study-plan?hours_per_day=%g", hours)
		if targetDate != "" {
			path += "&target_date=" + targetDate
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var plan learning.StudyPlan
		if err := decodeJSON(resp, &plan); err != nil {
			return err
		}

		if full {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		}

		printStatus("Total days", "%d", plan.TotalDays)
		printStatus("Focus areas", "%s", strings.Join(plan.FocusAreas, ", "))
		for _, m := range plan.WeeklyMilestones {
			fmt.Printf("  %s %s\n", colorize(colorBold, fmt.Sprintf("Week %d:", m.Week)), m.Goal)
		}
		return nil
	},
}

func init() {
	planCmd.Flags().String("target-date", "", "exam date in YYYY-MM-DD format")
	planCmd.Flags().Float64("hours", 1, "study hours per day")
	planCmd.Flags().Bool("full", false, "print the full plan as JSON")
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage offline content caches",
}

var cacheVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the active cache version",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/cache/version")
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printStatus("Cache version", "%s", result["version"])
		return nil
	},
}

var cacheAddCmd = &cobra.Command{
	Use:   "add <url>...",
	Short: "Fetch URLs and store them for offline use",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/cache/urls", map[string]any{"urls": args})
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Cached %d URL(s)", len(args))
		return nil
	},
}

var cacheActivateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Activate the current cache version, pruning stale caches",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/cache/activate", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Activation requested")
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all owned caches",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete all cached content. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/cache")
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Caches cleared")
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().Bool("confirm", false, "confirm cache deletion")
	cacheCmd.AddCommand(cacheVersionCmd)
	cacheCmd.AddCommand(cacheAddCmd)
	cacheCmd.AddCommand(cacheActivateCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Inspect and drive background sync",
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and queued mutations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sync/status")
		if err != nil {
			return err
		}

		var status struct {
			Online  bool `json:"online"`
			Pending []struct {
				ID       string `json:"id"`
				Method   string `json:"method"`
				URL      string `json:"url"`
				Attempts int    `json:"attempts"`
			} `json:"pending"`
		}
		if err := decodeJSON(resp, &status); err != nil {
			return err
		}

		if status.Online {
			printStatus("Network", "online")
		} else {
			printStatus("Network", "offline")
		}
		printStatus("Pending", "%d mutation(s)", len(status.Pending))
		for _, m := range status.Pending {
			fmt.Printf("  %s  %s %s (attempt %d)\n", colorize(colorCyan, m.ID[:8]), m.Method, m.URL, m.Attempts)
		}
		return nil
	},
}

var syncOnlineCmd = &cobra.Command{
	Use:   "online",
	Short: "Mark the network as online and trigger a sync pass",
	RunE:  setOnline(true),
}

var syncOfflineCmd = &cobra.Command{
	Use:   "offline",
	Short: "Mark the network as offline",
	RunE:  setOnline(false),
}

func setOnline(online bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.put(cmd.Context(), "/sync/online", map[string]bool{"online": online})
		if err != nil {
			return err
		}

		var result map[string]bool
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if online {
			printSuccess("Network marked online")
		} else {
			printSuccess("Network marked offline")
		}
		return nil
	}
}

func init() {
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncOnlineCmd)
	syncCmd.AddCommand(syncOfflineCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
