package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// UnknownIP IP 查询失败时的取值
const UnknownIP = "unknown"

// IPResolver 查询客户端公网 IP
type IPResolver interface {
	LookupIP(ctx context.Context) (string, error)
}

// HTTPIPResolver 调用返回 {"ip": "..."} 的外部服务，超时由 client 决定
type HTTPIPResolver struct {
	client   *http.Client
	endpoint string
}

func NewHTTPIPResolver(client *http.Client, endpoint string) *HTTPIPResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPIPResolver{client: client, endpoint: endpoint}
}

func (r *HTTPIPResolver) LookupIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip 查询返回状态码 %d", resp.StatusCode)
	}
	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return "", fmt.Errorf("解析 ip 查询结果失败: %w", err)
	}
	ip := strings.TrimSpace(body.IP)
	if ip == "" {
		return "", errors.New("ip 查询结果为空")
	}
	return ip, nil
}
