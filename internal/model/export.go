package model

import "time"

// ReportExport is the top-level JSON structure for report export.
type ReportExport struct {
	School      string          `json:"school"`
	GeneratedAt time.Time       `json:"generated_at"`
	NumStudents int             `json:"num_students"`
	NumReports  int             `json:"num_reports"`
	Results     []StudentResult `json:"results"`
}

// StudentResult holds one student's report history for export.
type StudentResult struct {
	StudentID   string         `json:"student_id"`
	DisplayName string         `json:"display_name"`
	ClassName   string         `json:"class_name"`
	Section     string         `json:"section"`
	Reports     []ReportResult `json:"reports"`
}

// ReportResult holds per-report data for export.
type ReportResult struct {
	Number         int         `json:"number"`
	Mode           CheckupMode `json:"mode"`
	Score          int         `json:"score"`
	MaxScore       int         `json:"max_score"`
	GeneratorScore int         `json:"generator_score"`
	ScoreMismatch  bool        `json:"score_mismatch"`
	Scores         []int       `json:"scores"`
	Analysis       string      `json:"analysis"`
	Suggestions    string      `json:"suggestions"`
	CreatedAt      time.Time   `json:"created_at"`
}
