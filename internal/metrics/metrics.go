// Package metrics exposes Prometheus counters for the session engine.
package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"parley/internal/domain"
)

// Metrics holds the engine counters. It implements ratchet.Observer.
type Metrics struct {
	messagesEncrypted   prometheus.Counter
	messagesDecrypted   prometheus.Counter
	decryptFailures     *prometheus.CounterVec
	sessionsEstablished *prometheus.CounterVec
	dhRatchetSteps      prometheus.Counter
	skippedKeysStored   prometheus.Counter
	skippedKeysEvicted  prometheus.Counter
	recordsSwept        prometheus.Counter
}

// New creates the counters and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesEncrypted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "parley_messages_encrypted_total",
				Help: "Number of messages encrypted",
			},
		),
		messagesDecrypted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "parley_messages_decrypted_total",
				Help: "Number of messages decrypted",
			},
		),
		decryptFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_decrypt_failures_total",
				Help: "Number of messages that could not be decrypted",
			},
			[]string{"reason"},
		),
		sessionsEstablished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_sessions_established_total",
				Help: "Number of sessions established by handshake mode",
			},
			[]string{"mode"},
		),
		dhRatchetSteps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "parley_dh_ratchet_steps_total",
				Help: "Number of DH ratchet steps",
			},
		),
		skippedKeysStored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "parley_skipped_keys_stored_total",
				Help: "Number of skipped message keys cached",
			},
		),
		skippedKeysEvicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "parley_skipped_keys_evicted_total",
				Help: "Number of skipped message keys evicted from a full cache",
			},
		),
		recordsSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "parley_storage_swept_records_total",
				Help: "Number of expired storage records removed",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.messagesEncrypted,
			m.messagesDecrypted,
			m.decryptFailures,
			m.sessionsEstablished,
			m.dhRatchetSteps,
			m.skippedKeysStored,
			m.skippedKeysEvicted,
			m.recordsSwept,
		)
	}
	return m
}

func (m *Metrics) MessageEncrypted() { m.messagesEncrypted.Inc() }
func (m *Metrics) MessageDecrypted() { m.messagesDecrypted.Inc() }

// DecryptFailed counts a failed decrypt under a reason derived from err.
func (m *Metrics) DecryptFailed(err error) {
	m.decryptFailures.WithLabelValues(Reason(err)).Inc()
}

func (m *Metrics) SessionEstablished(mode domain.HandshakeMode) {
	m.sessionsEstablished.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) DHRatchetStep()           { m.dhRatchetSteps.Inc() }
func (m *Metrics) SkippedKeysStored(n int)  { m.skippedKeysStored.Add(float64(n)) }
func (m *Metrics) SkippedKeysEvicted(n int) { m.skippedKeysEvicted.Add(float64(n)) }
func (m *Metrics) RecordsSwept(n int)       { m.recordsSwept.Add(float64(n)) }

// Reason maps an error to a low-cardinality label value.
func Reason(err error) string {
	switch {
	case errors.Is(err, domain.ErrSkippedKeyNotFound):
		return "skipped_key_not_found"
	case errors.Is(err, domain.ErrDecryption):
		return "decryption"
	case errors.Is(err, domain.ErrMaxSkipExceeded):
		return "max_skip_exceeded"
	case errors.Is(err, domain.ErrRatchetNotInitialized):
		return "not_initialized"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, domain.ErrSignatureVerification):
		return "signature"
	default:
		return "other"
	}
}
