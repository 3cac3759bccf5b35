package httpadapter

import (
	"time"

	"github.com/kirillkom/field-capture/internal/core/domain"
)

// itemView is a captured item without its binaries.
type itemView struct {
	ID                  string             `json:"id"`
	Kind                domain.MediaKind   `json:"kind"`
	FileName            string             `json:"file_name"`
	MimeType            string             `json:"mime_type"`
	Size                int                `json:"size"`
	Caption             string             `json:"caption,omitempty"`
	CaptionEdited       bool               `json:"caption_edited,omitempty"`
	VoiceNote           string             `json:"voice_note,omitempty"`
	Location            *domain.Location   `json:"location,omitempty"`
	CapturedAt          *time.Time         `json:"captured_at,omitempty"`
	RemoteThumbnailPath string             `json:"remote_thumbnail_path,omitempty"`
	UploadState         domain.UploadState `json:"upload_state,omitempty"`
	Annotated           bool               `json:"annotated,omitempty"`
	Labeling            bool               `json:"labeling,omitempty"`
	Deleted             bool               `json:"deleted,omitempty"`
}

type sessionView struct {
	Restored       bool       `json:"restored"`
	Notes          string     `json:"notes"`
	LinkedReportID string     `json:"linked_report_id,omitempty"`
	Items          []itemView `json:"items"`
}

func newSessionView(session Session) sessionView {
	items := session.Items()
	view := sessionView{
		Notes:          session.Notes(),
		LinkedReportID: session.LinkedReportID(),
		Items:          make([]itemView, 0, len(items)),
	}
	for _, item := range items {
		view.Items = append(view.Items, itemView{
			ID:                  item.ID,
			Kind:                item.Kind,
			FileName:            item.FileName,
			MimeType:            item.MimeType,
			Size:                len(item.Binary),
			Caption:             item.Caption,
			CaptionEdited:       item.CaptionEdited,
			VoiceNote:           item.VoiceNote,
			Location:            item.Location,
			CapturedAt:          item.CapturedAt,
			RemoteThumbnailPath: item.RemoteThumbnailPath,
			UploadState:         item.UploadState,
			Annotated:           item.Annotated(),
			Labeling:            item.Labeling,
			Deleted:             item.Deleted,
		})
	}
	return view
}
