package metrics

import (
	"bufio"
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MetricsProvider returns the current value of every metric of a component, keyed by the metric
// name including its labels.
type MetricsProvider interface {
	Collect(context.Context, *logrus.Entry) (map[string]float64, error)
}

type ManualMetricsProvider struct {
	metrics map[string]float64
	mu      sync.Mutex
}

func (srv *ManualMetricsProvider) WithMetrics(metrics map[string]float64) *ManualMetricsProvider {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.metrics = metrics
	return srv
}

func (srv *ManualMetricsProvider) Collect(_ context.Context, _ *logrus.Entry) (map[string]float64, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	metrics := make(map[string]float64, len(srv.metrics))
	for k, v := range srv.metrics {
		metrics[k] = v
	}
	return metrics, nil
}

// HttpMetricsProvider scrapes the Prometheus text exposition of a broker's management interface.
type HttpMetricsProvider struct {
	url    string
	client *http.Client
}

func NewHttpMetricsProvider(url string, client *http.Client) *HttpMetricsProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &HttpMetricsProvider{
		url:    url,
		client: client,
	}
}

func (srv *HttpMetricsProvider) Collect(ctx context.Context, log *logrus.Entry) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.url, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	resp, err := srv.client.Do(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("scraping %s returned %s", srv.url, resp.Status)
	}

	metrics := make(map[string]float64)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := parseSample(line)
		if !ok {
			log.Debugf("skipping unparseable sample %q", line)
			continue
		}
		metrics[key] = value
	}
	return metrics, errors.WithStack(scanner.Err())
}

// parseSample splits `name{labels} value [timestamp]`. Label values may contain spaces.
func parseSample(line string) (string, float64, bool) {
	rest := line
	if i := strings.LastIndex(line, "}"); i >= 0 {
		rest = line[i+1:]
		line = line[:i+1]
	} else if i := strings.Index(line, " "); i >= 0 {
		rest = line[i:]
		line = line[:i]
	} else {
		return "", 0, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 || len(fields) > 2 {
		return "", 0, false
	}
	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", 0, false
	}
	return line, value, true
}
