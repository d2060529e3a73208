package metrics

// Pipeline holds the fixed set of series the pipeline runtime reports
// through, bound once against whichever Registry the environment
// constructed.
type Pipeline struct {
	RawCount      Counter
	GoodCount     Counter
	PIICount      Counter
	BadCount      Counter
	EnrichLatency Timer
	SinkLatency   Timer
	AssetRefresh  Counter
	AssetFailures Counter
}

// NewPipeline binds the pipeline's named series against r.
func NewPipeline(r Registry) *Pipeline {
	return &Pipeline{
		RawCount:      r.GetCounter("pipeline.raw_count"),
		GoodCount:     r.GetCounter("pipeline.good_count"),
		PIICount:      r.GetCounter("pipeline.pii_count"),
		BadCount:      r.GetCounter("pipeline.bad_count"),
		EnrichLatency: r.GetTimer("pipeline.enrich_latency"),
		SinkLatency:   r.GetTimer("pipeline.sink_latency"),
		AssetRefresh:  r.GetCounter("pipeline.asset_refresh_count"),
		AssetFailures: r.GetCounter("pipeline.asset_refresh_failures"),
	}
}
