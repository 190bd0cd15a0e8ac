package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"visit-reports-go/internal/config"
	"visit-reports-go/internal/failure"
	"visit-reports-go/internal/logger"
	"visit-reports-go/internal/types"
)

var (
	errPending       = errors.New("transcript not ready")
	errMalformedBody = errors.New("malformed provider response")
)

type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	timeout      time.Duration
	now          func() time.Time
	log          *logger.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithPolling sets the fixed poll interval and the wall-clock bound on
// waiting for a terminal job state.
func WithPolling(interval, timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.pollInterval = interval
		c.timeout = timeout
	}
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

func WithLogger(l *logger.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		pollInterval: 3 * time.Second,
		timeout:      10 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.New()
	}
	c.log = c.log.Component("transcription")
	return c
}

// NewFromConfig builds a client from the transcription settings.
func NewFromConfig(cfg config.TranscriptionConfig, log *logger.Logger) *Client {
	return NewClient(cfg.BaseURL, cfg.APIKey,
		WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		WithPolling(cfg.PollInterval, cfg.Timeout),
		WithLogger(log),
	)
}

// Transcribe uploads audio, submits a diarized transcription job and waits
// for it to reach a terminal state. Only completed jobs produce an
// artifact. Nothing is retried here.
func (c *Client) Transcribe(ctx context.Context, audio types.AudioAsset, opts Options) (*types.TranscriptArtifact, error) {
	if err := audio.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if c.apiKey == "" {
		return nil, failure.New(failure.InvalidConfig, "transcribe", "transcription API key not configured")
	}

	log := c.log.With("filename", audio.Filename)
	log.WithField("size_bytes", audio.Size()).WithField("language_policy", opts.Language.String()).Info("uploading audio")

	uploadURL, err := c.upload(ctx, audio)
	if err != nil {
		return nil, err
	}
	id, err := c.submit(ctx, uploadURL, opts)
	if err != nil {
		return nil, err
	}
	log = log.With("transcript_id", id)
	log.Info("transcription job submitted")

	tr, err := c.poll(ctx, id)
	if err != nil {
		log.WithError(err).Warn("transcription failed")
		return nil, err
	}

	artifact := c.toArtifact(audio.Filename, tr)
	if opts.Language.Mode == PolicyGuided && artifact.AudioDurationSeconds != nil &&
		*artifact.AudioDurationSeconds < MinReliableDetectionSeconds {
		log.WithField("audio_seconds", *artifact.AudioDurationSeconds).
			WithField("language", artifact.Language).
			Warn("audio shorter than the reliable detection minimum, detected language may be wrong")
	}
	log.WithField("language", artifact.Language).
		WithField("speakers", artifact.SpeakerCount).
		WithField("utterances", artifact.UtteranceCount).
		Info("transcription completed")
	return artifact, nil
}

func (c *Client) upload(ctx context.Context, audio types.AudioAsset) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/upload", bytes.NewReader(audio.Data))
	if err != nil {
		return "", failure.Wrap(failure.TranscriptionProvider, "upload", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var resp uploadResponse
	if err := c.doJSON(req, &resp); err != nil {
		return "", c.requestError(ctx, "upload", err)
	}
	if resp.UploadURL == "" {
		return "", failure.New(failure.TranscriptionProvider, "upload", "provider returned no upload url")
	}
	return resp.UploadURL, nil
}

func (c *Client) submit(ctx context.Context, audioURL string, opts Options) (string, error) {
	body, err := json.Marshal(newTranscriptRequest(audioURL, opts))
	if err != nil {
		return "", failure.Wrap(failure.TranscriptionProvider, "submit", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return "", failure.Wrap(failure.TranscriptionProvider, "submit", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp transcriptResponse
	if err := c.doJSON(req, &resp); err != nil {
		return "", c.requestError(ctx, "submit", err)
	}
	if resp.ID == "" {
		return "", failure.New(failure.TranscriptionProvider, "submit", "provider returned no transcript id")
	}
	if resp.Status == statusError {
		return "", failure.New(failure.TranscriptionProvider, "submit", "%s", resp.Error).WithID(resp.ID)
	}
	return resp.ID, nil
}

// poll checks the job at a fixed interval until it is completed or errored,
// or until the timeout elapses.
func (c *Client) poll(ctx context.Context, id string) (*transcriptResponse, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := c.now()
	attempts := 0
	op := func() (*transcriptResponse, error) {
		attempts++
		tr, err := c.get(pollCtx, id)
		if err != nil {
			var se *httpStatusError
			if (errors.As(err, &se) && se.permanent()) || errors.Is(err, errMalformedBody) {
				return nil, backoff.Permanent((&failure.Error{Kind: failure.TranscriptionProvider, Op: "poll", Err: err}).WithID(id))
			}
			return nil, err
		}
		switch tr.Status {
		case statusCompleted:
			return tr, nil
		case statusError:
			msg := tr.Error
			if msg == "" {
				msg = "provider reported an error without a message"
			}
			return nil, backoff.Permanent(failure.New(failure.TranscriptionProvider, "poll", "%s", msg).WithID(id))
		default:
			return nil, errPending
		}
	}
	notify := func(err error, next time.Duration) {
		entry := c.log.WithField("transcript_id", id).WithField("attempt", attempts)
		if errors.Is(err, errPending) {
			entry.Debug("transcription pending")
			return
		}
		entry.WithError(err).Warn("poll request failed, retrying")
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(c.pollInterval), pollCtx)
	tr, err := backoff.RetryNotifyWithData(op, b, notify)
	if err == nil {
		return tr, nil
	}

	var fe *failure.Error
	if errors.As(err, &fe) {
		return nil, err
	}
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, (&failure.Error{Kind: failure.Canceled, Op: "poll", Err: ctx.Err()}).WithID(id)
	}
	if pollCtx.Err() != nil {
		return nil, failure.New(failure.TranscriptionTimeout, "poll",
			"job not finished after %s (%d polls)", c.now().Sub(started).Round(time.Millisecond), attempts).WithID(id)
	}
	return nil, (&failure.Error{Kind: failure.TranscriptionProvider, Op: "poll", Err: err}).WithID(id)
}

func (c *Client) get(ctx context.Context, id string) (*transcriptResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/transcript/"+id, nil)
	if err != nil {
		return nil, err
	}
	var tr transcriptResponse
	if err := c.doJSON(req, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

func (c *Client) toArtifact(filename string, tr *transcriptResponse) *types.TranscriptArtifact {
	utterances := make([]types.Utterance, 0, len(tr.Utterances))
	for i, pu := range tr.Utterances {
		u := types.Utterance{
			Speaker:    types.SpeakerID(pu.Speaker),
			Text:       strings.TrimSpace(pu.Text),
			StartMS:    pu.Start,
			EndMS:      pu.End,
			Confidence: pu.Confidence,
		}
		if u.Clamp() {
			c.log.WithField("index", i).WithField("start", pu.Start).WithField("end", pu.End).
				WithField("confidence", pu.Confidence).Warn("utterance timing or confidence out of range, clamping")
		}
		utterances = append(utterances, u)
	}

	artifact := &types.TranscriptArtifact{
		CreatedAt:            c.now(),
		OriginalFilename:     filename,
		TranscriptID:         tr.ID,
		Language:             types.ParseLanguage(tr.LanguageCode),
		LanguageConfidence:   tr.LanguageConfidence,
		AudioDurationSeconds: tr.AudioDuration,
		Utterances:           utterances,
	}
	artifact.Finalize()
	return artifact
}

type httpStatusError struct {
	code int
	msg  string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.code, e.msg)
}

// permanent reports whether repeating the request cannot help.
func (e *httpStatusError) permanent() bool {
	return e.code >= 400 && e.code < 500 && e.code != http.StatusTooManyRequests
}

func (c *Client) doJSON(req *http.Request, target any) error {
	req.Header.Set("Authorization", c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 300 {
		var er errorResponse
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return &httpStatusError{code: resp.StatusCode, msg: msg}
	}
	if len(body) == 0 {
		return fmt.Errorf("%w: empty body", errMalformedBody)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("%w: %v body=%s", errMalformedBody, err, string(body))
	}
	return nil
}

func (c *Client) requestError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return &failure.Error{Kind: failure.Canceled, Op: op, Err: err}
		}
		return &failure.Error{Kind: failure.TranscriptionTimeout, Op: op, Err: err}
	}
	return failure.Wrap(failure.TranscriptionProvider, op, err)
}
