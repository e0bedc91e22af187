package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_bidding", Name: "rides_created_total", Help: "Rides created, by pricing model"},
		[]string{"pricing_model"},
	)
	RidesAccepted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_bidding", Name: "rides_accepted_total", Help: "Rides assigned to a rider (direct accept or winning offer)"})
	RidesCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_bidding", Name: "rides_completed_total", Help: "Rides that reached COMPLETED"})

	OffersSubmitted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_bidding", Name: "offers_submitted_total", Help: "Offers submitted or resubmitted"})
	OffersAccepted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_bidding", Name: "offers_accepted_total", Help: "Winning offers accepted by customers"})

	TransitionConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_bidding", Name: "transition_conflicts_total", Help: "Mutations that lost a version-guarded update race"})

	FanoutEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_bidding", Name: "fanout_events_total", Help: "Events delivered to subscribers, by kind"},
		[]string{"kind"},
	)
	FanoutDropped     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_bidding", Name: "fanout_dropped_subscribers_total", Help: "Subscribers dropped after a failed write"})
	FanoutSubscribers = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_bidding", Name: "fanout_subscribers", Help: "Currently connected fan-out subscribers"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_bidding", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_bidding",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
