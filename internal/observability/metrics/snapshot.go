package metrics

import (
	"math"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Snapshot is a JSON-friendly summary of the coalescer counters.
type Snapshot struct {
	Inbound        map[string]float64 `json:"inbound"`
	Flushes        map[string]float64 `json:"flushes"`
	Chunks         map[string]float64 `json:"chunks"`
	InferenceCalls uint64             `json:"inference_calls"`
	InferenceP95Ms float64            `json:"inference_p95_ms"`
}

// TakeSnapshot reads the current values from gatherer (nil means the default).
func TakeSnapshot(gatherer prometheus.Gatherer) Snapshot {
	snap := Snapshot{
		Inbound: map[string]float64{},
		Flushes: map[string]float64{},
		Chunks:  map[string]float64{},
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return snap
	}

	for _, mf := range mfs {
		if mf == nil {
			continue
		}
		switch mf.GetName() {
		case namespace + "_inbound_messages_total":
			sumCounterBy(mf, "mode", snap.Inbound)
		case namespace + "_flush_total":
			sumCounterBy(mf, "outcome", snap.Flushes)
		case namespace + "_chunks_total":
			sumCounterBy(mf, "status", snap.Chunks)
		case namespace + "_inference_latency_seconds":
			snap.InferenceCalls, snap.InferenceP95Ms = histogramP95(mf)
		}
	}
	return snap
}

func sumCounterBy(mf *dto.MetricFamily, label string, into map[string]float64) {
	for _, metric := range mf.Metric {
		if metric == nil || metric.GetCounter() == nil {
			continue
		}
		into[labelValue(metric, label)] += metric.GetCounter().GetValue()
	}
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.Label {
		if lp != nil && lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// histogramP95 merges every series of the family and estimates the 95th
// percentile as the upper bound of the bucket containing it.
func histogramP95(mf *dto.MetricFamily) (uint64, float64) {
	cumulative := map[float64]uint64{}
	var total uint64
	for _, metric := range mf.Metric {
		h := metric.GetHistogram()
		if h == nil {
			continue
		}
		total += h.GetSampleCount()
		for _, b := range h.Bucket {
			if b != nil {
				cumulative[b.GetUpperBound()] += b.GetCumulativeCount()
			}
		}
	}
	if total == 0 {
		return 0, 0
	}

	uppers := make([]float64, 0, len(cumulative))
	for upper := range cumulative {
		uppers = append(uppers, upper)
	}
	sort.Float64s(uppers)

	target := uint64(math.Ceil(0.95 * float64(total)))
	last := 0.0
	for _, upper := range uppers {
		if math.IsInf(upper, 1) {
			break
		}
		last = upper
		if cumulative[upper] >= target {
			return total, upper * 1000
		}
	}
	return total, last * 1000
}
