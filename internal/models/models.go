package models

import (
	"time"
)

// Stage is the lifecycle position of a research task.
type Stage string

const (
	StageInitial             Stage = "initial"
	StageEditingSubquestions Stage = "editing_subquestions"
	StageResearching         Stage = "researching"
	StageComplete            Stage = "complete"
)

// SubResult is the research outcome for one sub-question. A failed branch
// carries a placeholder Summary and the failure text in Error.
type SubResult struct {
	SubQuestion string   `json:"sub_question"`
	Summary     string   `json:"summary"`
	Failed      bool     `json:"failed,omitempty"`
	Error       string   `json:"error,omitempty"`
	Sources     []string `json:"sources,omitempty"`
}

// ResearchSnapshot is a point-in-time copy of a research task.
type ResearchSnapshot struct {
	ID            string      `json:"id"`
	MainQuestion  string      `json:"main_question"`
	SubQuestions  []string    `json:"sub_questions"`
	Results       []SubResult `json:"results"`
	Report        string      `json:"report"`
	Stage         Stage       `json:"stage"`
	StatusMessage string      `json:"status_message"`
	Busy          bool        `json:"busy"`
	Completed     int         `json:"completed"`
	Total         int         `json:"total"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// StageSnapshot is the observable state of one single-pass pipeline stage.
type StageSnapshot struct {
	Name       string `json:"name"`
	InProgress bool   `json:"in_progress"`
	Done       bool   `json:"done"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
}

type BlogSnapshot struct {
	Keyword       string          `json:"keyword"`
	Titles        []string        `json:"titles"`
	SelectedTitle string          `json:"selected_title"`
	Stages        []StageSnapshot `json:"stages"`
}

type YouTubeSnapshot struct {
	VideoURL       string          `json:"video_url"`
	VideoID        string          `json:"video_id"`
	SourceLanguage string          `json:"source_language"`
	TargetLanguage string          `json:"target_language"`
	Stages         []StageSnapshot `json:"stages"`
}
