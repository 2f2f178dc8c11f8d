// Package metrics provides Prometheus collectors for the radio core and the
// reconciliation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Discovery ──────────────────────────────────────────────────────────────

// ScansStarted counts scan sessions by discovery mode (primary/fallback).
var ScansStarted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "offlink",
	Name:      "scans_started_total",
	Help:      "Total scan sessions started, by discovery mode.",
}, []string{"mode"})

// ScanRetries counts primary-mode scan retry attempts.
var ScanRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "offlink",
	Name:      "scan_retries_total",
	Help:      "Total scan start retries.",
})

// FallbackActivations counts switches to the degraded discovery mode.
var FallbackActivations = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "offlink",
	Name:      "scan_fallback_activations_total",
	Help:      "Total activations of name-based fallback discovery.",
})

// PeersDiscovered counts accepted scan results.
var PeersDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "offlink",
	Name:      "peers_discovered_total",
	Help:      "Total accepted scan results, by discovery mode.",
}, []string{"mode"})

// ─── Advertising / roles ────────────────────────────────────────────────────

// AdvertiseRetries counts advertise start retries.
var AdvertiseRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "offlink",
	Name:      "advertise_retries_total",
	Help:      "Total advertise start retries.",
})

// RoleTransitions counts arbiter transitions by target role.
var RoleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "offlink",
	Name:      "role_transitions_total",
	Help:      "Total radio role transitions, by target state.",
}, []string{"to"})

// ConnectedCentrals gauges centrals currently connected in server role.
var ConnectedCentrals = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "offlink",
	Name:      "connected_centrals",
	Help:      "Centrals currently connected while serving.",
})

// ─── Messaging ──────────────────────────────────────────────────────────────

// MessagesSent counts outbound sends by outcome (sent/failed).
var MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "offlink",
	Name:      "messages_sent_total",
	Help:      "Total outbound message sends, by outcome.",
}, []string{"outcome"})

// MessagesReceived counts inbound messages.
var MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "offlink",
	Name:      "messages_received_total",
	Help:      "Total inbound messages.",
})

// ─── Reconciliation ─────────────────────────────────────────────────────────

// ConversationsCreated counts new conversations.
var ConversationsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "offlink",
	Name:      "conversations_created_total",
	Help:      "Total conversations created.",
})

// ConversationsMerged counts conversation merges.
var ConversationsMerged = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "offlink",
	Name:      "conversations_merged_total",
	Help:      "Total conversation merges.",
})

// CanonicalUpgrades counts transient-to-stable canonical ID upgrades.
var CanonicalUpgrades = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "offlink",
	Name:      "canonical_upgrades_total",
	Help:      "Total canonical ID upgrades from transient to stable.",
})

// ReconcileRuleHits counts matches by reconciliation rule.
var ReconcileRuleHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "offlink",
	Name:      "reconcile_rule_hits_total",
	Help:      "Total reconciliation matches, by rule.",
}, []string{"rule"})
