package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChatMessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afroboost_chat_messages_posted_total",
			Help: "Chat messages persisted, by session mode",
		},
		[]string{"mode"},
	)

	ChatNonceReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "afroboost_chat_nonce_replays_total",
			Help: "Posts answered with an already persisted message",
		},
	)

	HubSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "afroboost_hub_subscriptions",
			Help: "Active (subscriber, session) memberships in the chat hub",
		},
	)

	HubDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "afroboost_hub_dropped_subscribers_total",
			Help: "Subscribers dropped because their buffer was full",
		},
	)

	CampaignDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afroboost_campaign_deliveries_total",
			Help: "Campaign send attempts by channel and outcome",
		},
		[]string{"channel", "status"},
	)

	CampaignTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afroboost_campaign_transitions_total",
			Help: "Campaign status changes made by the scheduler",
		},
		[]string{"status"},
	)

	SchedulerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "afroboost_scheduler_tick_duration_seconds",
			Help: "Duration of one scheduler tick",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afroboost_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
)
