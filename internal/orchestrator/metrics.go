package orchestrator

// Metrics is the progress shown while processing. The concrete type tells
// which execution mode produced it; callers switch on it.
type Metrics interface {
	Mode() Mode
	Percent() int
	withPercent(p int) Metrics
}

// LocalMetrics is reported by the in-process engine.
type LocalMetrics struct {
	Progress int    `json:"progress"`
	Time     string `json:"time"`
}

func (LocalMetrics) Mode() Mode     { return ModeClient }
func (m LocalMetrics) Percent() int { return m.Progress }

func (m LocalMetrics) withPercent(p int) Metrics {
	m.Progress = p
	return m
}

// RemoteMetrics mirrors the telemetry the worker writes to the record.
type RemoteMetrics struct {
	Progress int     `json:"progress"`
	Time     string  `json:"time"`
	FPS      float64 `json:"fps"`
	Speed    float64 `json:"speed"`
	Frames   int64   `json:"frames"`
	Size     int64   `json:"size"`
}

func (RemoteMetrics) Mode() Mode     { return ModeRemote }
func (m RemoteMetrics) Percent() int { return m.Progress }

func (m RemoteMetrics) withPercent(p int) Metrics {
	m.Progress = p
	return m
}

// ZeroMetrics is the reset state for a mode.
func ZeroMetrics(mode Mode) Metrics {
	if mode == ModeRemote {
		return RemoteMetrics{}
	}
	return LocalMetrics{}
}

// UploadProgress tracks the transfer phase of a remote run.
type UploadProgress struct {
	BytesUploaded int64 `json:"bytes_uploaded"`
	BytesTotal    int64 `json:"bytes_total"`
}

func (u UploadProgress) Percent() int {
	if u.BytesTotal <= 0 {
		return 0
	}
	return clampPercent(int(u.BytesUploaded * 100 / u.BytesTotal))
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
