package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/field-capture/internal/core/domain"
	"github.com/kirillkom/field-capture/internal/infrastructure/resilience"
)

const (
	summaryPath    = "/functions/v1/generate-summary"
	labelPath      = "/functions/v1/generate-label"
	transcribePath = "/functions/v1/transcribe-audio"
)

type Options struct {
	BaseURL string
	APIKey  string
	// HTTPTimeout bounds a single label or transcription attempt. The summary
	// call carries no client-side limit; its caller's context bounds it.
	HTTPTimeout time.Duration
	// LabelRate and LabelBurst bound label and transcription calls per second.
	LabelRate  float64
	LabelBurst int
}

// Client talks to the hosted AI functions.
type Client struct {
	baseURL     string
	apiKey      string
	callTimeout time.Duration
	httpClient  *http.Client
	executor   *resilience.Executor
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func New(opts Options, executor *resilience.Executor, logger *slog.Logger) *Client {
	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	limit := rate.Inf
	if opts.LabelRate > 0 {
		limit = rate.Limit(opts.LabelRate)
	}
	burst := opts.LabelBurst
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		callTimeout: timeout,
		httpClient:  &http.Client{},
		executor:    executor,
		limiter:     rate.NewLimiter(limit, burst),
		logger:      logger,
	}
}

// SummaryService calls generate-summary once per request. The hosted function
// retries the model internally.
type SummaryService struct {
	client *Client
}

func NewSummaryService(client *Client) *SummaryService {
	return &SummaryService{client: client}
}

func (s *SummaryService) GenerateSummary(ctx context.Context, req domain.SummaryRequest) (string, error) {
	var response struct {
		Summary string `json:"summary"`
		Error   string `json:"error"`
	}
	if err := s.client.postJSON(ctx, summaryPath, req, &response, "generate summary"); err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			return "", &domain.ServiceError{StatusCode: statusErr.StatusCode, Message: statusErr.Message()}
		}
		return "", err
	}
	if strings.TrimSpace(response.Error) != "" {
		return "", &domain.ServiceError{StatusCode: http.StatusOK, Message: strings.TrimSpace(response.Error)}
	}
	return strings.TrimSpace(response.Summary), nil
}

type Labeler struct {
	client *Client
}

func NewLabeler(client *Client) *Labeler {
	return &Labeler{client: client}
}

func (l *Labeler) Label(ctx context.Context, req domain.LabelRequest) (string, error) {
	payload := labelPayload{
		Kind:      req.Kind,
		Image:     req.Image,
		VoiceNote: strings.TrimSpace(req.VoiceNote),
		Context:   buildLabelContext(req),
	}
	label, err := callLimited(ctx, l.client, "label", labelPath, payload, func(raw labelResponse) string {
		return raw.Label
	})
	if err != nil {
		return "", err
	}
	return normalizeLabel(label), nil
}

type Transcriber struct {
	client *Client
}

func NewTranscriber(client *Client) *Transcriber {
	return &Transcriber{client: client}
}

func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "transcribe audio", errors.New("empty audio"))
	}
	payload := transcribePayload{
		Audio:    base64.StdEncoding.EncodeToString(audio),
		MimeType: mimeType,
	}
	text, err := callLimited(ctx, t.client, "transcribe", transcribePath, payload, func(raw transcribeResponse) string {
		return raw.Text
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

type labelPayload struct {
	Kind      domain.MediaKind `json:"kind"`
	Image     string           `json:"image,omitempty"`
	VoiceNote string           `json:"voiceNote,omitempty"`
	Context   string           `json:"context"`
}

type labelResponse struct {
	Label string `json:"label"`
}

type transcribePayload struct {
	Audio    string `json:"audio"`
	MimeType string `json:"mimeType"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// callLimited runs a best-effort call through the rate limiter and the
// resilience executor.
func callLimited[Req any, Resp any](
	ctx context.Context,
	c *Client,
	operation string,
	path string,
	payload Req,
	pick func(Resp) string,
) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", domain.WrapError(domain.ErrTemporary, operation, err)
	}

	call := func(ctx context.Context) (string, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		var response Resp
		if err := c.postJSON(attemptCtx, path, payload, &response, operation); err != nil {
			return "", err
		}
		return pick(response), nil
	}

	var (
		out string
		err error
	)
	if c.executor != nil {
		out, err = resilience.Call(ctx, c.executor, "gateway."+operation, call, classifyGatewayError)
	} else {
		out, err = call(ctx)
	}
	if err != nil {
		c.logger.Warn("gateway_call_failed", "operation", operation, "error", err)
		return "", wrapTemporaryIfNeeded(operation, err)
	}
	return out, nil
}
