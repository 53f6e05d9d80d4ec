package tracker

// Quartile is a completion milestone expressed in percent.
type Quartile int

const (
	Quartile25  Quartile = 25
	Quartile50  Quartile = 50
	Quartile75  Quartile = 75
	Quartile100 Quartile = 100
)

// completionThreshold is where the 100% quartile fires. Players rarely report
// a final time update exactly at the duration.
const completionThreshold = 99.5

var quartileThresholds = [4]struct {
	quartile Quartile
	percent  float64
}{
	{Quartile25, 25},
	{Quartile50, 50},
	{Quartile75, 75},
	{Quartile100, completionThreshold},
}

// Quartiles holds one latch per milestone. A latch never resets.
type Quartiles struct {
	fired [4]bool
}

// Cross latches every unfired quartile whose threshold is at or below
// percent and returns them in ascending order.
func (q *Quartiles) Cross(percent float64) []Quartile {
	var crossed []Quartile
	for i, th := range quartileThresholds {
		if q.fired[i] || percent < th.percent {
			continue
		}
		q.fired[i] = true
		crossed = append(crossed, th.quartile)
	}
	return crossed
}

// Fired reports whether the given quartile has already been emitted.
func (q Quartiles) Fired(quartile Quartile) bool {
	for i, th := range quartileThresholds {
		if th.quartile == quartile {
			return q.fired[i]
		}
	}
	return false
}
