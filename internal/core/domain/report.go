package domain

import "time"

type ReportType string

const (
	ReportDaily      ReportType = "daily"
	ReportWeekly     ReportType = "weekly"
	ReportMonthly    ReportType = "monthly"
	ReportField      ReportType = "field"
	ReportSiteSurvey ReportType = "site_survey"
)

func ParseReportType(raw string) (ReportType, bool) {
	switch ReportType(raw) {
	case ReportDaily, ReportWeekly, ReportMonthly, ReportField, ReportSiteSurvey:
		return ReportType(raw), true
	case "":
		return ReportDaily, true
	default:
		return "", false
	}
}

// SummaryRequest is the payload of the hosted summary function.
type SummaryRequest struct {
	Notes             string     `json:"notes"`
	ImageURLs         []string   `json:"imageUrls"`
	PhotoCaptions     []string   `json:"photoCaptions"`
	VideoContextLines []string   `json:"videoContext"`
	ReportType        ReportType `json:"reportType"`
}

type LabelRequest struct {
	Kind      MediaKind `json:"kind"`
	Image     string    `json:"image,omitempty"`
	VoiceNote string    `json:"voiceNote,omitempty"`
}

// DisplayItem is the full-resolution representation handed to the review stage.
type DisplayItem struct {
	ID         string     `json:"id"`
	Kind       MediaKind  `json:"kind"`
	DataURL    string     `json:"data_url"`
	Caption    string     `json:"caption,omitempty"`
	VoiceNote  string     `json:"voice_note,omitempty"`
	Location   *Location  `json:"location,omitempty"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

type GeneratedReport struct {
	ReportType     ReportType    `json:"report_type"`
	Summary        string        `json:"summary"`
	Items          []DisplayItem `json:"items"`
	ImageRefs      int           `json:"image_refs"`
	SignedURLRefs  int           `json:"signed_url_refs"`
	InlineFallback int           `json:"inline_fallback_refs"`
}

type MediaRecord struct {
	ID           string     `json:"id"`
	ReportID     string     `json:"report_id"`
	UserID       string     `json:"user_id"`
	StoragePath  string     `json:"storage_path"`
	FileName     string     `json:"file_name"`
	MimeType     string     `json:"mime_type"`
	FileType     MediaKind  `json:"file_type"`
	FileSize     int64      `json:"file_size"`
	Caption      string     `json:"caption,omitempty"`
	VoiceNote    string     `json:"voice_note,omitempty"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	LocationName string     `json:"location_name,omitempty"`
	CapturedAt   *time.Time `json:"captured_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type ReportRecord struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	ReportType ReportType `json:"report_type"`
	Notes      string     `json:"notes"`
	Summary    string     `json:"summary"`
	CreatedAt  time.Time  `json:"created_at"`
}

// MediaSyncedEvent is published once a media record exists remotely.
type MediaSyncedEvent struct {
	MediaID     string `json:"media_id"`
	ReportID    string `json:"report_id"`
	UserID      string `json:"user_id"`
	StoragePath string `json:"storage_path"`
}

// HandoffBatch is the finalized list of captured items leaving the capture pipeline.
type HandoffBatch struct {
	ReportID   string
	UserID     string
	ReportType ReportType
	Notes      string
	Summary    string
	Items      []CapturedItem
}
