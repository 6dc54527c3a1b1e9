package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"warelay/internal/constants"
	"warelay/internal/metrics"
	"warelay/internal/models"
	"warelay/internal/retry"
	"warelay/internal/tracing"
	"warelay/pkg/waclient/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// SendErrorClass tags a delivery failure for the retry policy
type SendErrorClass int

const (
	// SendErrorRetryable covers transient network/timeout-style failures
	SendErrorRetryable SendErrorClass = iota
	// SendErrorFatal covers permanent rejections; retrying cannot help
	SendErrorFatal
	// SendErrorSessionCorruption covers the provider's missing chat-metadata
	// condition, recovered by re-fetching the chat
	SendErrorSessionCorruption
)

func (c SendErrorClass) String() string {
	switch c {
	case SendErrorFatal:
		return "fatal"
	case SendErrorSessionCorruption:
		return "session-corruption"
	default:
		return "retryable"
	}
}

// fatalErrorSubstrings mark permanent rejections in provider error text.
// Kept as a heuristic behind classifySendError so it can be swapped for
// structured codes if the providers ever expose them.
var fatalErrorSubstrings = []string{
	"invalid parameter",
	"invalid chatid",
	"unsupported content",
	"unsupported media",
	"message rejected",
	"not authorized",
}

// classifySendError maps a raw send failure to its retry class. lidPattern is
// the provider-version-dependent session-corruption substring.
func classifySendError(err error, lidPattern string) SendErrorClass {
	if err == nil {
		return SendErrorRetryable
	}

	message := strings.ToLower(err.Error())
	if lidPattern != "" && strings.Contains(message, strings.ToLower(lidPattern)) {
		return SendErrorSessionCorruption
	}

	var sendErr *types.SendError
	if errors.As(err, &sendErr) && sendErr.StatusCode >= 400 && sendErr.StatusCode < 500 {
		return SendErrorFatal
	}

	for _, substr := range fatalErrorSubstrings {
		if strings.Contains(message, substr) {
			return SendErrorFatal
		}
	}
	return SendErrorRetryable
}

// SendOptions override the sender's configured retry budget for one call
type SendOptions struct {
	MaxAttempts int
	BaseDelayMs int
}

// DeliveryRecorder receives the outcome of every outbound send. Implemented
// by the delivery journal; nil-safe in the sender.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, rec models.DeliveryRecord) error
}

// Sender wraps outbound sends with readiness-waiting, error classification,
// bounded retries, and the narrow lid-recovery loop. Every failure mode
// presents as a boolean false to keep the caller contract simple; detail goes
// to logs and the journal.
type Sender struct {
	cfg      models.SendConfig
	logger   *logrus.Logger
	journal  DeliveryRecorder
	registry *metrics.Registry
}

// NewSender creates a reliable send layer. journal and registry may be nil.
func NewSender(cfg models.SendConfig, logger *logrus.Logger, journal DeliveryRecorder, registry *metrics.Registry) *Sender {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = constants.DefaultSendMaxAttempts
	}
	if cfg.BaseDelayMs < 0 {
		cfg.BaseDelayMs = constants.DefaultSendBaseDelayMs
	}
	if cfg.BaseDelayMs == 0 && cfg.MaxDelayMs == 0 {
		cfg.BaseDelayMs = constants.DefaultSendBaseDelayMs
	}
	if cfg.MaxDelayMs <= 0 {
		cfg.MaxDelayMs = constants.DefaultSendMaxDelayMs
	}
	if cfg.JitterRatio < 0 {
		cfg.JitterRatio = 0
	}
	if cfg.MaxLidRetries <= 0 {
		cfg.MaxLidRetries = constants.DefaultMaxLidRetries
	}
	if cfg.LidRetryDelayMs <= 0 {
		cfg.LidRetryDelayMs = constants.DefaultLidRetryDelayMs
	}
	if cfg.ReadyWaitSec <= 0 {
		cfg.ReadyWaitSec = constants.DefaultSendReadyWaitSec
	}
	if cfg.LidErrorPattern == "" {
		cfg.LidErrorPattern = constants.DefaultLidErrorSubstring
	}
	return &Sender{
		cfg:      cfg,
		logger:   logger,
		journal:  journal,
		registry: registry,
	}
}

// SendSafe attempts delivery with the full reliability policy. It returns
// true on delivery and false on any exhausted or fatal failure; it never
// panics and never returns an error, so call sites do not need their own
// failure handling.
func (s *Sender) SendSafe(ctx context.Context, client types.WAClient, chatID string, content types.OutboundContent, opts *SendOptions) bool {
	if client == nil {
		s.logger.WithField("chatId", chatID).Error("Send requested with nil client")
		return false
	}

	maxAttempts := s.cfg.MaxAttempts
	baseDelay := time.Duration(s.cfg.BaseDelayMs) * time.Millisecond
	if opts != nil {
		if opts.MaxAttempts > 0 {
			maxAttempts = opts.MaxAttempts
		}
		if opts.BaseDelayMs > 0 {
			baseDelay = time.Duration(opts.BaseDelayMs) * time.Millisecond
		}
	}

	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: baseDelay,
		MaxDelay:     time.Duration(s.cfg.MaxDelayMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  maxAttempts,
		JitterRatio:  s.cfg.JitterRatio,
	})

	log := s.logger.WithFields(logrus.Fields{
		"chatId": chatID,
		"client": client.Name(),
	})

	sendCtx, span := tracing.StartSpan(ctx, "sender.SendSafe",
		attribute.String("wa.client", client.Name()),
	)

	attempts := 0
	lidAttempts := 0

	for {
		if err := s.waitReady(sendCtx, client); err != nil {
			log.WithError(err).Warn("Gave up waiting for client readiness")
			s.record(sendCtx, client, chatID, "failed", attempts, SendErrorRetryable, err)
			tracing.EndSpan(span, err)
			return false
		}

		attempts++
		_, err := client.SendMessage(sendCtx, chatID, content)
		if err == nil {
			s.record(sendCtx, client, chatID, "delivered", attempts, SendErrorRetryable, nil)
			if s.registry != nil {
				s.registry.IncrementCounter("sends_delivered", map[string]string{"client": client.Name()}, "successful deliveries")
			}
			tracing.EndSpan(span, nil)
			return true
		}

		switch classifySendError(err, s.cfg.LidErrorPattern) {
		case SendErrorFatal:
			log.WithError(err).WithField("attempts", attempts).Error("Send failed permanently")
			s.record(sendCtx, client, chatID, "failed", attempts, SendErrorFatal, err)
			s.count("sends_failed", client, "fatal")
			tracing.EndSpan(span, err)
			return false

		case SendErrorSessionCorruption:
			lidAttempts++
			if lidAttempts > s.cfg.MaxLidRetries {
				log.WithError(err).WithField("lidAttempts", lidAttempts-1).Warn("Chat hydration did not resolve send failure")
				s.record(sendCtx, client, chatID, "failed", attempts, SendErrorSessionCorruption, err)
				s.count("sends_failed", client, "session-corruption")
				tracing.EndSpan(span, err)
				return false
			}
			log.WithError(err).WithField("lidAttempt", lidAttempts).Info("Session corruption detected, hydrating chat")
			if hydrateErr := client.HydrateChat(sendCtx, chatID); hydrateErr != nil {
				log.WithError(hydrateErr).Warn("Chat hydration failed")
			}
			if !sleepCtx(sendCtx, time.Duration(s.cfg.LidRetryDelayMs)*time.Millisecond) {
				tracing.EndSpan(span, sendCtx.Err())
				return false
			}

		default:
			if attempts >= maxAttempts {
				log.WithError(err).WithField("attempts", attempts).Warn("Send retry budget exhausted")
				s.record(sendCtx, client, chatID, "failed", attempts, SendErrorRetryable, err)
				s.count("sends_failed", client, "retryable-exhausted")
				tracing.EndSpan(span, err)
				return false
			}
			s.count("sends_retried", client, "retryable")
			if !sleepCtx(sendCtx, backoff.GetNextDelay(attempts)) {
				tracing.EndSpan(span, sendCtx.Err())
				return false
			}
		}
	}
}

// FallbackRequest describes a delivery that may route through a secondary
// client when the primary's budget is exhausted.
type FallbackRequest struct {
	ChatID   string
	Content  types.OutboundContent
	Primary  types.WAClient
	Fallback types.WAClient
	Options  *SendOptions
}

// SendWithFallback tries the primary client with the full reliability policy,
// then makes one pass through the fallback client. Cross-adapter failover
// without duplicating retry logic.
func (s *Sender) SendWithFallback(ctx context.Context, req FallbackRequest) bool {
	if req.Primary != nil && s.SendSafe(ctx, req.Primary, req.ChatID, req.Content, req.Options) {
		return true
	}
	if req.Fallback == nil {
		return false
	}

	s.logger.WithFields(logrus.Fields{
		"chatId": req.ChatID,
	}).Info("Primary client failed, attempting fallback delivery")
	return s.SendSafe(ctx, req.Fallback, req.ChatID, req.Content, req.Options)
}

func (s *Sender) waitReady(ctx context.Context, client types.WAClient) error {
	if client.IsReady() {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.ReadyWaitSec)*time.Second)
	defer cancel()
	return client.WaitReady(waitCtx)
}

func (s *Sender) record(ctx context.Context, client types.WAClient, chatID, status string, attempts int, class SendErrorClass, err error) {
	if s.journal == nil {
		return
	}
	rec := models.DeliveryRecord{
		ChatID:     chatID,
		ClientName: client.Name(),
		Status:     status,
		Attempts:   attempts,
	}
	if err != nil {
		rec.ErrorClass = class.String()
		rec.Error = err.Error()
	}
	if journalErr := s.journal.RecordDelivery(ctx, rec); journalErr != nil {
		s.logger.WithError(journalErr).Warn("Failed to journal delivery outcome")
	}
}

func (s *Sender) count(name string, client types.WAClient, class string) {
	if s.registry == nil {
		return
	}
	s.registry.IncrementCounter(name, map[string]string{
		"client": client.Name(),
		"class":  class,
	}, "")
}

// sleepCtx waits for d or until the context is done. Returns false when the
// context ended the wait.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		// Still yield to cancellation between attempts
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
