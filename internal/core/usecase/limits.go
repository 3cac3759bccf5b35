package usecase

import "time"

// CaptureLimits tunes the capture session manager.
type CaptureLimits struct {
	AIPhotoCap       int
	DraftQuietPeriod time.Duration
	LabelTimeout     time.Duration
	LabelImageMaxDim int
}

func DefaultCaptureLimits() CaptureLimits {
	return CaptureLimits{
		AIPhotoCap:       25,
		DraftQuietPeriod: 2 * time.Second,
		LabelTimeout:     30 * time.Second,
		LabelImageMaxDim: 512,
	}
}

func (l CaptureLimits) normalize() CaptureLimits {
	out := l
	def := DefaultCaptureLimits()
	if out.AIPhotoCap <= 0 {
		out.AIPhotoCap = def.AIPhotoCap
	}
	if out.DraftQuietPeriod <= 0 {
		out.DraftQuietPeriod = def.DraftQuietPeriod
	}
	if out.LabelTimeout <= 0 {
		out.LabelTimeout = def.LabelTimeout
	}
	if out.LabelImageMaxDim <= 0 {
		out.LabelImageMaxDim = def.LabelImageMaxDim
	}
	return out
}

// ReportLimits tunes the report generation client.
type ReportLimits struct {
	AIPhotoCap      int
	AIImageMaxDim   int
	SettleWait      time.Duration
	SettlePoll      time.Duration
	SummaryTimeout  time.Duration
	SignedURLTTL    time.Duration
	ResolveParallel int
}

func DefaultReportLimits() ReportLimits {
	return ReportLimits{
		AIPhotoCap:      25,
		AIImageMaxDim:   512,
		SettleWait:      15 * time.Second,
		SettlePoll:      300 * time.Millisecond,
		SummaryTimeout:  90 * time.Second,
		SignedURLTTL:    time.Hour,
		ResolveParallel: 8,
	}
}

func (l ReportLimits) normalize() ReportLimits {
	out := l
	def := DefaultReportLimits()
	if out.AIPhotoCap <= 0 {
		out.AIPhotoCap = def.AIPhotoCap
	}
	if out.AIImageMaxDim <= 0 {
		out.AIImageMaxDim = def.AIImageMaxDim
	}
	if out.SettleWait <= 0 {
		out.SettleWait = def.SettleWait
	}
	if out.SettlePoll <= 0 {
		out.SettlePoll = def.SettlePoll
	}
	if out.SettlePoll > out.SettleWait {
		out.SettlePoll = out.SettleWait
	}
	if out.SummaryTimeout <= 0 {
		out.SummaryTimeout = def.SummaryTimeout
	}
	if out.SignedURLTTL <= 0 {
		out.SignedURLTTL = def.SignedURLTTL
	}
	if out.ResolveParallel <= 0 {
		out.ResolveParallel = def.ResolveParallel
	}
	return out
}
