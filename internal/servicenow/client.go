// Package servicenow 提供 ServiceNow CMDB 表 API 的最小只读客户端，
// 用于按主机名查询 cmdb_ci_server 配置项。
package servicenow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// 客户端错误哨兵。
var (
	// ErrNotConfigured 未配置实例地址或凭证，查询能力不可用。
	ErrNotConfigured = errors.New("servicenow not configured")

	// ErrHostNotFound CMDB 中不存在该主机记录。
	ErrHostNotFound = errors.New("host not found in cmdb")
)

// Config ServiceNow 连接配置。
type Config struct {
	Instance       string // 实例地址, 如 https://dev12345.service-now.com
	Username       string
	Password       string
	TimeoutSeconds int
}

// HostRecord cmdb_ci_server 表中一台主机的关键字段。
type HostRecord struct {
	Name          string `json:"name"`
	IPAddress     string `json:"ip_address"`
	OS            string `json:"os"`
	Location      string `json:"location"`
	InstallStatus string `json:"install_status"`
}

// Client ServiceNow 表 API 客户端。
type Client struct {
	cfg    Config
	client *http.Client
}

// New 创建客户端。配置不完整时客户端仍可创建，查询时返回 ErrNotConfigured。
func New(cfg Config) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if cfg.TimeoutSeconds <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Configured 是否具备发起查询的完整配置。
func (c *Client) Configured() bool {
	return c.cfg.Instance != "" && c.cfg.Username != "" && c.cfg.Password != ""
}

// 表 API 的原始记录。location 等引用字段可能是对象
// {link, display_value} 也可能是普通字符串，需兼容两种形态。
type rawRecord struct {
	Name          string          `json:"name"`
	IPAddress     string          `json:"ip_address"`
	OS            string          `json:"os"`
	Location      json.RawMessage `json:"location"`
	InstallStatus string          `json:"install_status"`
}

type tableResponse struct {
	Result []rawRecord `json:"result"`
}

// LookupHost 按主机名精确查询 cmdb_ci_server 表。
// 未配置返回 ErrNotConfigured，无记录返回 ErrHostNotFound。
func (c *Client) LookupHost(ctx context.Context, host string) (*HostRecord, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	query := url.Values{}
	query.Set("sysparm_query", "name="+host)
	query.Set("sysparm_limit", "1")
	endpoint := c.cfg.Instance + "/api/now/table/cmdb_ci_server?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 ServiceNow 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ServiceNow 返回状态 %d", resp.StatusCode)
	}

	var parsed tableResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("解析 ServiceNow 响应失败: %w", err)
	}

	if len(parsed.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrHostNotFound, host)
	}

	raw := parsed.Result[0]
	return &HostRecord{
		Name:          raw.Name,
		IPAddress:     raw.IPAddress,
		OS:            raw.OS,
		Location:      decodeReference(raw.Location),
		InstallStatus: raw.InstallStatus,
	}, nil
}

// decodeReference 解码引用字段：对象取 display_value，字符串原样返回。
func decodeReference(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var asObject struct {
		DisplayValue string `json:"display_value"`
	}
	if err := json.Unmarshal(raw, &asObject); err == nil {
		return asObject.DisplayValue
	}
	return ""
}
