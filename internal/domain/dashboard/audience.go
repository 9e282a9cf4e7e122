// Package dashboard defines the cross-audience update events, live-feed
// projections, and pub/sub contracts that keep the three dashboard views in
// sync with the shared data set.
package dashboard

// Audience identifies one of the three dashboard consumer roles.
type Audience string

// The supported audiences.
const (
	AudienceWorker Audience = "worker"
	AudienceAdmin  Audience = "admin"
	AudienceClient Audience = "client"
)

// Valid reports whether the audience is one of the supported roles.
func (a Audience) Valid() bool {
	switch a {
	case AudienceWorker, AudienceAdmin, AudienceClient:
		return true
	}
	return false
}

// Severity grades an admin alert.
type Severity string

// Alert severities, in increasing order of urgency.
const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)
