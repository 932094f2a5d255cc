package engine

import "time"

// BackendStats are rolling statistics for one backend.
type BackendStats struct {
	Name       string        `json:"name"`
	Calls      int64         `json:"calls"`
	Successes  int64         `json:"successes"`
	Failures   int64         `json:"failures"`
	AvgLatency time.Duration `json:"avgLatency"`
	LastError  string        `json:"lastError,omitempty"`
	LastUsed   time.Time     `json:"lastUsed"`
}

// SuccessRate returns Successes/Calls, or 0 before the first call.
func (s BackendStats) SuccessRate() float64 {
	if s.Calls == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Calls)
}

// observe records one call. Latency is folded in with an exponential moving
// average; the first sample seeds it.
func (s *BackendStats) observe(latency time.Duration, err error, alpha float64, now time.Time) {
	s.Calls++
	s.LastUsed = now
	if err != nil {
		s.Failures++
		s.LastError = err.Error()
		return
	}
	s.Successes++
	if s.Successes == 1 {
		s.AvgLatency = latency
		return
	}
	s.AvgLatency = time.Duration(alpha*float64(latency) + (1-alpha)*float64(s.AvgLatency))
}
