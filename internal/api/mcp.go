package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Marcelo060877/ict-tutor-pwa/internal/learning"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Tracker *learning.Tracker
}

// NewMCPServer creates an MCP server with all tutor tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"icttutor",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("icttutor — adaptive study tracker for the ICT exam: records practice sessions, tracks topic mastery, and generates study plans."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("record_session",
			mcp.WithDescription("Record a practice session: answered questions plus study time. Updates mastery, level, streak, and weak/strong topics."),
			mcp.WithString("answers", mcp.Description("JSON array of {topic, difficulty, correct, time_spent_seconds} objects"), mcp.Required()),
			mcp.WithNumber("study_minutes", mcp.Description("Minutes spent studying in this session (default 0)")),
		),
		mcpRecordSession(deps),
	)

	s.AddTool(
		mcp.NewTool("get_study_summary",
			mcp.WithDescription("Return the learner's current level, accuracy, study hours, streak, and weak/strong topics."),
		),
		mcpStudySummary(deps),
	)

	s.AddTool(
		mcp.NewTool("get_recommendations",
			mcp.WithDescription("Return prioritized study recommendations based on the learner's profile."),
		),
		mcpRecommendations(deps),
	)

	s.AddTool(
		mcp.NewTool("create_study_plan",
			mcp.WithDescription("Generate a day-by-day study plan with weekly milestones."),
			mcp.WithString("target_date", mcp.Description("Exam date in YYYY-MM-DD format; defaults to a 30-day plan")),
			mcp.WithNumber("hours_per_day", mcp.Description("Daily study hours (default 1)")),
		),
		mcpCreateStudyPlan(deps),
	)

	s.AddTool(
		mcp.NewTool("set_study_goal",
			mcp.WithDescription("Set the learner's study goal and optional exam date."),
			mcp.WithString("goal", mcp.Description("Study goal, e.g. \"aprobar\" or \"general\""), mcp.Required()),
			mcp.WithString("exam_date", mcp.Description("Exam date in YYYY-MM-DD format; empty clears it")),
		),
		mcpSetStudyGoal(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"user://study-profile",
			"Study Profile",
			mcp.WithResourceDescription("Current learner profile as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	return s
}

func mcpRecordSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		answersJSON, err := req.RequireString("answers")
		if err != nil {
			return mcpError("answers is required"), nil
		}

		var answers []learning.AnswerRecord
		if err := json.Unmarshal([]byte(answersJSON), &answers); err != nil {
			return mcpError(fmt.Sprintf("invalid answers JSON: %v", err)), nil
		}
		for i, a := range answers {
			if a.Topic == "" {
				return mcpError(fmt.Sprintf("answer %d is missing a topic", i)), nil
			}
		}

		studyMinutes := req.GetInt("study_minutes", 0)
		if studyMinutes < 0 {
			return mcpError("study_minutes must not be negative"), nil
		}
		if len(answers) == 0 && studyMinutes == 0 {
			return mcpError("at least one answer or study time is required"), nil
		}

		deps.Tracker.IngestSession(answers, studyMinutes)

		b, err := json.Marshal(deps.Tracker.Summary())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpStudySummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Tracker.Summary())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecommendations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		recs := deps.Tracker.Recommendations()
		if len(recs) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(recs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal recommendations: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCreateStudyPlan(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var targetDate *time.Time
		if s := req.GetString("target_date", ""); s != "" {
			d, err := time.Parse("2006-01-02", s)
			if err != nil {
				return mcpError(fmt.Sprintf("invalid target_date: %v", err)), nil
			}
			targetDate = &d
		}

		hoursPerDay := req.GetFloat("hours_per_day", 0)
		if hoursPerDay < 0 {
			return mcpError("hours_per_day must not be negative"), nil
		}

		plan := deps.Tracker.StudyPlan(targetDate, hoursPerDay)
		b, err := json.Marshal(plan)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal plan: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetStudyGoal(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		goal, err := req.RequireString("goal")
		if err != nil {
			return mcpError("goal is required"), nil
		}

		// An omitted exam_date keeps the stored one; an explicit "" clears it.
		var examDate *time.Time
		var clearDate bool
		if _, present := req.GetArguments()["exam_date"]; present {
			if s := req.GetString("exam_date", ""); s == "" {
				clearDate = true
			} else {
				d, parseErr := time.Parse("2006-01-02", s)
				if parseErr != nil {
					return mcpError(fmt.Sprintf("invalid exam_date: %v", parseErr)), nil
				}
				examDate = &d
			}
		}

		if err := deps.Tracker.SetStudyGoal(goal, examDate, clearDate); err != nil {
			return mcpError(fmt.Sprintf("failed to set study goal: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Study goal set to %q", goal)), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Tracker.GetProfile())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
