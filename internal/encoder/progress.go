package encoder

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Progress is one block of `-progress` output.
type Progress struct {
	Frame       int64
	FPS         float64
	BitrateKbps float64
	TotalSize   int64
	OutTime     time.Duration
	Speed       float64
	Done        bool
}

// Timemark renders OutTime as HH:MM:SS.cc.
func (p Progress) Timemark() string {
	return FormatTimemark(p.OutTime)
}

// Fraction reports progress against the input duration in [0,1].
func (p Progress) Fraction(duration time.Duration) float64 {
	if p.Done {
		return 1
	}
	if duration <= 0 {
		return 0
	}
	f := float64(p.OutTime) / float64(duration)
	return math.Max(0, math.Min(1, f))
}

// ProgressParser accumulates key=value lines emitted by `ffmpeg -progress`
// and yields a Progress each time a block ends. Values carry over between
// blocks, so a bare terminator repeats the last known telemetry.
type ProgressParser struct {
	cur Progress
}

// Feed consumes one line. It returns a completed block when the line is the
// block's "progress=" terminator.
func (p *ProgressParser) Feed(line string) (Progress, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return Progress{}, false
	}
	value = strings.TrimSpace(value)

	switch key {
	case "frame":
		p.cur.Frame, _ = strconv.ParseInt(value, 10, 64)
	case "fps":
		p.cur.FPS, _ = strconv.ParseFloat(value, 64)
	case "bitrate":
		v := strings.TrimSuffix(value, "kbits/s")
		p.cur.BitrateKbps, _ = strconv.ParseFloat(strings.TrimSpace(v), 64)
	case "total_size":
		p.cur.TotalSize, _ = strconv.ParseInt(value, 10, 64)
	case "out_time_us", "out_time_ms":
		// out_time_ms is microseconds as well, despite its name.
		if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
			p.cur.OutTime = time.Duration(us) * time.Microsecond
		}
	case "speed":
		v := strings.TrimSuffix(value, "x")
		p.cur.Speed, _ = strconv.ParseFloat(strings.TrimSpace(v), 64)
	case "progress":
		p.cur.Done = value == "end"
		out := p.cur
		p.cur.Done = false
		return out, true
	}
	return Progress{}, false
}

// FormatTimemark renders a duration as HH:MM:SS.cc.
func FormatTimemark(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	cs := d / (10 * time.Millisecond)
	return pad2(int64(h)) + ":" + pad2(int64(m)) + ":" + pad2(int64(s)) + "." + pad2(int64(cs))
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}

// Percent maps a fraction to an integer percentage clamped to [0,100].
func Percent(fraction float64) int {
	if math.IsNaN(fraction) {
		return 0
	}
	p := int(math.Round(fraction * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
