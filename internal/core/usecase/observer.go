package usecase

import (
	"time"

	"github.com/kirillkom/field-capture/internal/core/domain"
)

// Label outcomes reported to PipelineObserver.
const (
	LabelApplied    = "applied"
	LabelSuperseded = "superseded"
	LabelUserEdited = "user_edited"
	LabelEmpty      = "empty"
	LabelFailed     = "failed"
	LabelTimedOut   = "timeout"
)

// Summary outcomes reported to PipelineObserver.
const (
	SummaryOK       = "ok"
	SummaryTimeout  = "timeout"
	SummaryError    = "error"
	SummaryEmpty    = "empty"
	SummaryCanceled = "canceled"
)

// PipelineObserver receives capture pipeline events for metrics.
type PipelineObserver interface {
	ItemsCaptured(kind domain.MediaKind, count int)
	LabelFinished(outcome string)
	ThumbnailUploaded(ok bool)
	ImageRefsResolved(signed, inline int)
	SummaryFinished(outcome string, duration time.Duration)
	OfflineQueued(count int)
}

// SyncObserver receives offline sync events for metrics.
type SyncObserver interface {
	StartMedia()
	FinishMedia(duration time.Duration, err error)
	ObserveQueueLag(lag time.Duration)
}

type noopObserver struct{}

func (noopObserver) ItemsCaptured(domain.MediaKind, int) {}
func (noopObserver) LabelFinished(string) {}
func (noopObserver) ThumbnailUploaded(bool) {}
func (noopObserver) ImageRefsResolved(int, int) {}
func (noopObserver) SummaryFinished(string, time.Duration) {}
func (noopObserver) OfflineQueued(int) {}
func (noopObserver) StartMedia() {}
func (noopObserver) FinishMedia(time.Duration, error) {}
func (noopObserver) ObserveQueueLag(time.Duration) {}
