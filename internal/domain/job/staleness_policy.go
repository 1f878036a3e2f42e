package job

import (
	"errors"
	"time"

	"github.com/target/mmk-autoingest/internal/domain/model"
)

// ErrInvalidStalenessTimeout indicates the configured staleness timeout is not positive.
var ErrInvalidStalenessTimeout = errors.New("staleness timeout must be positive")

// minHeartbeatInterval bounds SuggestedHeartbeat from below.
const minHeartbeatInterval = time.Second

// StalenessPolicy decides when a running job's owner is presumed dead.
type StalenessPolicy struct {
	timeout time.Duration
}

// NewStalenessPolicy constructs a StalenessPolicy with the provided timeout.
func NewStalenessPolicy(timeout time.Duration) (*StalenessPolicy, error) {
	if timeout <= 0 {
		return nil, ErrInvalidStalenessTimeout
	}
	return &StalenessPolicy{timeout: timeout}, nil
}

// Timeout returns the configured staleness timeout.
func (p *StalenessPolicy) Timeout() time.Duration {
	if p == nil {
		return 0
	}
	return p.timeout
}

// Deadline returns the instant after which rec is considered stale. ok is
// false for jobs that are not running or carry no stage timestamp.
func (p *StalenessPolicy) Deadline(rec model.JobRecord) (time.Time, bool) {
	if p == nil || rec.State != model.JobStateRunning || rec.StageStartedAt == nil {
		return time.Time{}, false
	}
	return rec.StageStartedAt.Add(p.timeout), true
}

// IsStale reports whether rec has gone longer than the timeout without a stage
// update or heartbeat. A running record without a stage timestamp is stale.
func (p *StalenessPolicy) IsStale(rec model.JobRecord, now time.Time) bool {
	if p == nil || rec.State != model.JobStateRunning {
		return false
	}
	deadline, ok := p.Deadline(rec)
	if !ok {
		return true
	}
	return now.After(deadline)
}

// SuggestedHeartbeat returns a heartbeat interval comfortably inside the timeout.
func (p *StalenessPolicy) SuggestedHeartbeat() time.Duration {
	if p == nil {
		return 0
	}
	interval := p.timeout / 3
	if interval < minHeartbeatInterval {
		return minHeartbeatInterval
	}
	return interval
}
