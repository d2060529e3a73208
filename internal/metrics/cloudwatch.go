package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/nplex/streamenrich/internal/log"
)

// CloudWatchConfig configures the CloudWatch registry.
type CloudWatchConfig struct {
	Namespace   string        `yaml:"namespace"`
	FlushPeriod time.Duration `yaml:"flush_period"`
}

type cloudwatchStat struct {
	name string
	cw   *CloudWatch
}

func (c *cloudwatchStat) Incr(count int64) { c.cw.add(c.name, float64(count)) }
func (c *cloudwatchStat) Set(value int64)  { c.cw.set(c.name, float64(value)) }
func (c *cloudwatchStat) Timing(delta int64) {
	c.cw.add(c.name, float64(delta)/float64(time.Millisecond))
}

// CloudWatch aggregates stats locally and pushes batched PutMetricData
// calls on a fixed interval, mirroring the batching discipline the
// Kinesis sink applies to its own AWS calls rather than issuing one API
// call per increment.
type CloudWatch struct {
	client    *cloudwatch.Client
	namespace string
	log       log.Modular

	mut    sync.Mutex
	values map[string]float64

	cancel context.CancelFunc
	done   chan struct{}
}

// defaultNamespace is used when CloudWatch is enabled implicitly (a
// Kinesis sink is configured, monitoring.metrics.cloudwatch was never set)
// rather than explicitly configured with its own namespace.
const defaultNamespace = "streamenrich"

// NewCloudWatch starts the periodic flush loop against cfg.
func NewCloudWatch(cfg CloudWatchConfig, client *cloudwatch.Client, logger log.Modular) *CloudWatch {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &CloudWatch{
		client:    client,
		namespace: namespace,
		log:       logger,
		values:    make(map[string]float64),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	period := cfg.FlushPeriod
	if period <= 0 {
		period = 10 * time.Second
	}
	go c.loop(ctx, period)
	return c
}

// add accumulates delta into name, for counters and timings.
func (c *CloudWatch) add(name string, delta float64) {
	c.mut.Lock()
	c.values[name] += delta
	c.mut.Unlock()
}

// set overwrites name with value, so the last Set call wins — matching
// Gauge's contract and internal/metrics.Local's atomic.StoreInt64 behavior.
func (c *CloudWatch) set(name string, value float64) {
	c.mut.Lock()
	c.values[name] = value
	c.mut.Unlock()
}

func (c *CloudWatch) loop(ctx context.Context, period time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.flush(ctx); err != nil {
				c.log.Errorf("cloudwatch flush failed: %v", err)
			}
		case <-ctx.Done():
			_ = c.flush(context.Background())
			return
		}
	}
}

func (c *CloudWatch) flush(ctx context.Context) error {
	c.mut.Lock()
	snapshot := c.values
	c.values = make(map[string]float64, len(snapshot))
	c.mut.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	data := make([]types.MetricDatum, 0, len(snapshot))
	for name, v := range snapshot {
		data = append(data, types.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(v),
			Unit:       types.StandardUnitCount,
		})
	}

	// CloudWatch caps PutMetricData at 1000 datums per call.
	const maxDatums = 1000
	for i := 0; i < len(data); i += maxDatums {
		end := i + maxDatums
		if end > len(data) {
			end = len(data)
		}
		if _, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(c.namespace),
			MetricData: data[i:end],
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *CloudWatch) GetCounter(path string) Counter { return c.GetCounterVec(path).With() }

func (c *CloudWatch) GetCounterVec(path string, _ ...string) CounterVec {
	return FakeCounterVec(func(_ ...string) Counter {
		return &cloudwatchStat{name: path, cw: c}
	})
}

func (c *CloudWatch) GetGauge(path string) Gauge { return c.GetGaugeVec(path).With() }

func (c *CloudWatch) GetGaugeVec(path string, _ ...string) GaugeVec {
	return FakeGaugeVec(func(_ ...string) Gauge {
		return &cloudwatchStat{name: path, cw: c}
	})
}

func (c *CloudWatch) GetTimer(path string) Timer { return c.GetTimerVec(path).With() }

func (c *CloudWatch) GetTimerVec(path string, _ ...string) TimerVec {
	return FakeTimerVec(func(_ ...string) Timer {
		return &cloudwatchStat{name: path, cw: c}
	})
}

func (c *CloudWatch) HandlerFunc() http.HandlerFunc { return nil }

func (c *CloudWatch) Close() error {
	c.cancel()
	<-c.done
	return nil
}
