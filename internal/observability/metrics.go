package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	reconnectCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hourglass",
		Subsystem: "sync",
		Name:      "reconnect_attempts_total",
		Help:      "Reconnect attempts made by the connection manager.",
	})

	framesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hourglass",
		Subsystem: "sync",
		Name:      "frames_total",
		Help:      "Frames processed by direction and message type.",
	}, []string{"direction", "type"})

	droppedFramesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hourglass",
		Subsystem: "sync",
		Name:      "dropped_frames_total",
		Help:      "Inbound frames dropped as malformed or unknown.",
	})

	reconcileOpsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hourglass",
		Subsystem: "reconcile",
		Name:      "operations_total",
		Help:      "Reconciliation operations applied, by direction and kind.",
	}, []string{"direction", "kind"})

	invitationsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hourglass",
		Subsystem: "share",
		Name:      "invitations_total",
		Help:      "Invitation outcomes observed by the sharing protocol.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		reconnectCounter,
		framesCounter,
		droppedFramesCounter,
		reconcileOpsCounter,
		invitationsCounter,
	)
}

// RecordReconnectAttempt counts one reconnect attempt.
func RecordReconnectAttempt() {
	reconnectCounter.Inc()
}

// RecordFrame counts one processed frame. Direction is "in" or "out".
func RecordFrame(direction, msgType string) {
	framesCounter.WithLabelValues(direction, msgType).Inc()
}

// RecordDroppedFrame counts one malformed or unknown inbound frame.
func RecordDroppedFrame() {
	droppedFramesCounter.Inc()
}

// RecordReconcileOp counts one applied diff operation. Direction is
// "local_to_remote" or "remote_to_local"; kind is "insert", "remove" or
// "update".
func RecordReconcileOp(direction, kind string) {
	reconcileOpsCounter.WithLabelValues(direction, kind).Inc()
}

// RecordInvitation counts an invitation outcome: "sent", "failed",
// "accepted" or "rejected".
func RecordInvitation(outcome string) {
	invitationsCounter.WithLabelValues(outcome).Inc()
}
