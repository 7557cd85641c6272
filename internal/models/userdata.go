package models

import (
	"encoding/json"
	"time"
)

type ReportType string

const (
	ReportPerformance ReportType = "performance"
	ReportFinancial   ReportType = "financial"
	ReportOperational ReportType = "operational"
	ReportCommercial  ReportType = "commercial"
	ReportExecutive   ReportType = "executive"
)

type ReportPeriod string

const (
	PeriodDaily     ReportPeriod = "daily"
	PeriodWeekly    ReportPeriod = "weekly"
	PeriodMonthly   ReportPeriod = "monthly"
	PeriodQuarterly ReportPeriod = "quarterly"
	PeriodAnnual    ReportPeriod = "annual"
)

type Report struct {
	ID          string       `json:"id"`
	UserID      string       `json:"userId"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Type        ReportType   `json:"type"`
	Period      ReportPeriod `json:"period"`
	Indicators  []string     `json:"indicators"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   *time.Time   `json:"updatedAt,omitempty"`
}

type Widget struct {
	ID     string          `json:"id"`
	Title  string          `json:"title"`
	Type   string          `json:"type"`
	Size   string          `json:"size"`
	Data   json.RawMessage `json:"data,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

type Dashboard struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	VisualType  string     `json:"visualType"`
	Widgets     []Widget   `json:"widgets"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

type ActivityAction string

const (
	ActionLogin            ActivityAction = "login"
	ActionReportCreated    ActivityAction = "report_created"
	ActionDashboardCreated ActivityAction = "dashboard_created"
	ActionAIUsed           ActivityAction = "ai_used"
	ActionProfileUpdated   ActivityAction = "profile_updated"
)

type Activity struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Action    ActivityAction `json:"action"`
	Details   string         `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ActivityLimit is how many entries an activity listing returns.
const ActivityLimit = 20
