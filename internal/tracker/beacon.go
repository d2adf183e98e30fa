package tracker

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Beacon 发送只管发出、不关心结果的追踪请求
type Beacon interface {
	Fire(params url.Values)
}

// HTTPBeacon 以像素请求的方式发送事件，失败不重试
type HTTPBeacon struct {
	client   *http.Client
	endpoint string
	logger   *zap.SugaredLogger
}

func NewHTTPBeacon(client *http.Client, endpoint string, logger *zap.SugaredLogger) *HTTPBeacon {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HTTPBeacon{client: client, endpoint: endpoint, logger: logger.Named("beacon")}
}

// Fire 在后台 goroutine 中发送请求后立即返回
func (b *HTTPBeacon) Fire(params url.Values) {
	target := b.endpoint
	if strings.Contains(target, "?") {
		target += "&" + params.Encode()
	} else {
		target += "?" + params.Encode()
	}
	go b.send(target)
}

func (b *HTTPBeacon) send(target string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, target, nil)
	if err != nil {
		b.logger.Debugf("构造追踪请求失败: %v", err)
		return
	}
	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Debugf("追踪请求发送失败: %v", err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

type nopBeacon struct{}

func (nopBeacon) Fire(url.Values) {}
