package services

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels for posts_ingested_total.
const (
	outcomeAccepted      = "accepted"
	outcomePendingReview = "pending_review"
	outcomeBlocked       = "blocked"
	outcomeRejected      = "rejected"
)

// Result labels for group_assignments_total.
const (
	assignSticky  = "sticky"
	assignJoined  = "joined"
	assignCreated = "created"
)

var (
	// postsIngested counts pipeline terminal outcomes.
	postsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posts_ingested_total",
			Help: "Posts processed by the ingestion pipeline, by outcome.",
		},
		[]string{"outcome"},
	)

	// groupsCreated counts groups opened by the matchmaker.
	groupsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "groups_created_total",
			Help: "Groups created by the matchmaker.",
		},
	)

	// groupAssignments counts join calls by how they were resolved.
	groupAssignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "group_assignments_total",
			Help: "Group join calls, by result (sticky, joined, created).",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(postsIngested, groupsCreated, groupAssignments)
}
