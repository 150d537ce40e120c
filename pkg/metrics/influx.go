package metrics

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sirupsen/logrus"

	"sportsfetch/pkg/logger"
)

// Reporter 将取数结果写入 InfluxDB，供历史趋势分析。
// 写入是异步批量的，失败只记录日志。nil Reporter 的所有方法都是空操作，
// 未启用上报时调用方无需判空。
type Reporter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cancel   context.CancelFunc
	log      *logrus.Entry
}

// NewReporter 创建 InfluxDB 上报器并验证连接。
func NewReporter(url, token, org, bucket string) (*Reporter, error) {
	client := influxdb2.NewClient(url, token)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB health check failed: %s", health.Status)
	}

	writeAPI := client.WriteAPI(org, bucket)

	drainCtx, drainCancel := context.WithCancel(context.Background())
	r := &Reporter{
		client:   client,
		writeAPI: writeAPI,
		cancel:   drainCancel,
		log:      logger.WithComponent("metrics.influx"),
	}
	go r.handleWriteErrors(drainCtx)

	return r, nil
}

// ReportFetch 上报一次取数结果。
func (r *Reporter) ReportFetch(provider, outcome string, duration time.Duration, attempts int, degraded bool) {
	if r == nil {
		return
	}

	point := influxdb2.NewPointWithMeasurement("fetch_outcome").
		AddTag("provider", provider).
		AddTag("outcome", outcome).
		AddField("duration_ms", duration.Milliseconds()).
		AddField("attempts", attempts).
		AddField("degraded", degraded).
		SetTime(time.Now())

	r.writeAPI.WritePoint(point)
}

// ReportSweep 上报一次过期清理结果。
func (r *Reporter) ReportSweep(removed int64) {
	if r == nil {
		return
	}

	point := influxdb2.NewPointWithMeasurement("cache_sweep").
		AddField("removed", removed).
		SetTime(time.Now())

	r.writeAPI.WritePoint(point)
}

// Close 刷出未写入的数据点并关闭客户端。
func (r *Reporter) Close() {
	if r == nil {
		return
	}

	r.cancel()
	r.writeAPI.Flush()
	r.client.Close()
}

func (r *Reporter) handleWriteErrors(ctx context.Context) {
	errorsCh := r.writeAPI.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errorsCh:
			r.log.WithError(err).Error("InfluxDB write error")
		}
	}
}
