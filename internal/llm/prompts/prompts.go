package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/mindcheck/internal/model"
)

// Templates holds the built-in prompt templates.
//
//go:embed templates/*.tmpl
var Templates embed.FS

var (
	journalEntryRegex       = regexp.MustCompile(`(?i)</?\s*journal-entry\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
	studentMessageRegex     = regexp.MustCompile(`(?i)</?\s*student-message\b[^>]*>`)
)

const (
	maxEntryRunes   = 10000
	maxMessageRunes = 2000
)

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[string]*template.Template
)

// QuestionData holds template data for the next-question prompt.
type QuestionData struct {
	Number    int
	Total     int
	ClassName string
	Section   string
	History   []model.Turn
}

// ReportData holds template data for the final report prompt.
type ReportData struct {
	Count    int
	Score    int
	MaxScore int
	Scores   string
	History  []model.Turn
}

// InsightData holds template data for the journal insight prompt.
type InsightData struct {
	Entry string
}

// AskData holds template data for the counselor chat prompt.
type AskData struct {
	Message string
}

// Load parses question.tmpl, report.tmpl, insight.tmpl and ask.tmpl from fsys.
// It uses sync.Once to ensure templates are loaded only once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		templates = make(map[string]*template.Template)
		for _, name := range []string{"question", "report", "insight", "ask"} {
			file := "templates/" + name + ".tmpl"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
				return
			}
			tmpl, err := template.New(name).Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
				return
			}
			templates[name] = tmpl
		}
	})
	return loadErr
}

func execute(name string, data any) (string, error) {
	if templates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := templates[name]
	if !ok {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("unknown prompt template: " + name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildQuestionPrompt builds the prompt asking for question number n of total.
// History is passed in full; for the first question it is empty.
func BuildQuestionPrompt(subject model.Subject, history []model.Turn, n, total int) (string, error) {
	return execute("question", QuestionData{
		Number:    n,
		Total:     total,
		ClassName: sanitizeField(subject.ClassName),
		Section:   sanitizeField(subject.Section),
		History:   history,
	})
}

// BuildReportPrompt builds the final report prompt from the computed totals.
func BuildReportPrompt(score, maxScore int, scores []int, history []model.Turn) (string, error) {
	return execute("report", ReportData{
		Count:    len(scores),
		Score:    score,
		MaxScore: maxScore,
		Scores:   JoinScores(scores),
		History:  history,
	})
}

// BuildInsightPrompt builds the journal insight prompt.
func BuildInsightPrompt(entry string) (string, error) {
	return execute("insight", InsightData{Entry: sanitizeEntry(entry)})
}

// BuildAskPrompt builds the counselor chat prompt for one student message.
func BuildAskPrompt(message string) (string, error) {
	return execute("ask", AskData{Message: sanitizeMessage(message)})
}

// JoinScores renders scores as "1, 0, 2".
func JoinScores(scores []int) string {
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = strconv.Itoa(s)
	}
	return strings.Join(parts, ", ")
}

func sanitizeEntry(entry string) string {
	entry = journalEntryRegex.ReplaceAllString(entry, "")
	entry = systemInstructionsRegex.ReplaceAllString(entry, "")
	entry = strings.TrimSpace(entry)

	if entry == "" {
		return "[Empty entry]"
	}

	if utf8.RuneCountInString(entry) > maxEntryRunes {
		runes := []rune(entry)
		entry = string(runes[:maxEntryRunes]) + "\n\n[Entry truncated due to length]"
	}

	return entry
}

func sanitizeMessage(msg string) string {
	msg = studentMessageRegex.ReplaceAllString(msg, "")
	msg = systemInstructionsRegex.ReplaceAllString(msg, "")
	msg = strings.TrimSpace(msg)

	if msg == "" {
		return "[Empty message]"
	}
	if utf8.RuneCountInString(msg) > maxMessageRunes {
		msg = string([]rune(msg)[:maxMessageRunes]) + "\n\n[Message truncated due to length]"
	}
	return msg
}

// sanitizeField keeps profile fields to a single short line.
func sanitizeField(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > 40 {
		s = string([]rune(s)[:40])
	}
	return s
}
