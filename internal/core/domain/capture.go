package domain

import "time"

type MediaKind string

const (
	KindPhoto MediaKind = "photo"
	KindVideo MediaKind = "video"
)

type UploadState string

const (
	UploadNone      UploadState = ""
	UploadUploading UploadState = "uploading"
	UploadUploaded  UploadState = "uploaded"
	UploadFailed    UploadState = "failed"
)

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
}

// CapturedItem is one photo or video captured in the current session.
// OriginalBinary is set only once an item has been annotated and always holds
// the binary as it was before the first annotation.
type CapturedItem struct {
	ID                  string      `json:"id"`
	Kind                MediaKind   `json:"kind"`
	FileName            string      `json:"file_name"`
	MimeType            string      `json:"mime_type"`
	Binary              []byte      `json:"binary"`
	OriginalBinary      []byte      `json:"original_binary,omitempty"`
	Caption             string      `json:"caption,omitempty"`
	CaptionEdited       bool        `json:"caption_edited,omitempty"`
	VoiceNote           string      `json:"voice_note,omitempty"`
	Location            *Location   `json:"location,omitempty"`
	CapturedAt          *time.Time  `json:"captured_at,omitempty"`
	RemoteThumbnailPath string      `json:"remote_thumbnail_path,omitempty"`
	UploadState         UploadState `json:"upload_state,omitempty"`
	Deleted             bool        `json:"deleted,omitempty"`
	Labeling            bool        `json:"-"`
}

func (i CapturedItem) Active() bool {
	return !i.Deleted
}

func (i CapturedItem) Annotated() bool {
	return i.OriginalBinary != nil
}

// Clone returns a copy that shares no mutable memory with i.
func (i CapturedItem) Clone() CapturedItem {
	out := i
	if i.Binary != nil {
		out.Binary = append([]byte(nil), i.Binary...)
	}
	if i.OriginalBinary != nil {
		out.OriginalBinary = append([]byte(nil), i.OriginalBinary...)
	}
	if i.Location != nil {
		loc := *i.Location
		out.Location = &loc
	}
	if i.CapturedAt != nil {
		ts := *i.CapturedAt
		out.CapturedAt = &ts
	}
	return out
}

// CaptureFile is a freshly captured file before it becomes a CapturedItem.
type CaptureFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// CaptureMetadata is applied to every file of one AddItems call. Location and
// CapturedAt are only recorded when StampLocation is on.
type CaptureMetadata struct {
	StampLocation bool
	Location      *Location
	CapturedAt    time.Time
}

type DraftSession struct {
	Items          []CapturedItem `json:"items"`
	FreeformNotes  string         `json:"freeform_notes"`
	LinkedReportID string         `json:"linked_report_id,omitempty"`
	SavedAt        time.Time      `json:"saved_at"`
}

func (d DraftSession) ActiveItems() []CapturedItem {
	out := make([]CapturedItem, 0, len(d.Items))
	for _, item := range d.Items {
		if item.Active() {
			out = append(out, item)
		}
	}
	return out
}

type PendingMediaItem struct {
	ID           string     `json:"id"`
	ReportID     string     `json:"report_id"`
	UserID       string     `json:"user_id"`
	FileData     []byte     `json:"-"`
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

// NewPendingMediaItem converts an active captured item into a queue record.
func NewPendingMediaItem(item CapturedItem, reportID, userID string, now time.Time) PendingMediaItem {
	pending := PendingMediaItem{
		ID:         item.ID,
		ReportID:   reportID,
		UserID:     userID,
		FileData:   append([]byte(nil), item.Binary...),
		FileName:   item.FileName,
		MimeType:   item.MimeType,
		FileType:   item.Kind,
		FileSize:   int64(len(item.Binary)),
		Caption:    item.Caption,
		VoiceNote:  item.VoiceNote,
		CapturedAt: item.CapturedAt,
		CreatedAt:  now,
	}
	if item.Location != nil {
		lat, lon := item.Location.Latitude, item.Location.Longitude
		pending.Latitude = &lat
		pending.Longitude = &lon
		pending.LocationName = item.Location.Name
	}
	return pending
}
