// Package engine 生成引擎 HTTP 客户端
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/mautops/report-gin/internal/config"
	"github.com/mautops/report-gin/internal/fault"
	"github.com/mautops/report-gin/internal/model"
	"github.com/sirupsen/logrus"
)

const (
	// defaultMaxResponseSize 默认响应体上限
	defaultMaxResponseSize = 64 << 20

	contentTypePDF  = "application/pdf"
	contentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Step1Request 创建任务(步骤一)请求体
type Step1Request struct {
	TaskID          string          `json:"task_id"`
	ProjectName     string          `json:"project_name"`
	CompanyName     string          `json:"company_name"`
	ResearchContent string          `json:"research_content"`
	Topic           string          `json:"topic,omitempty"`
	ConfigParams    json.RawMessage `json:"config_params,omitempty"`
}

// Step1Result 步骤一结果
type Step1Result struct {
	EngineTaskID string
	Output       json.RawMessage
}

// ExportResult 导出结果
type ExportResult struct {
	DownloadURL string `json:"download_url"`
	Filename    string `json:"filename,omitempty"`
}

// File 下载的文件
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Client 生成引擎客户端
type Client struct {
	baseURL         string
	httpClient      *http.Client
	maxResponseSize int64
	logger          *logrus.Logger
}

// NewClient 创建生成引擎客户端,连接超时作用于建连,读取超时作用于等待响应
func NewClient(cfg config.EngineConfig, logger *logrus.Logger) *Client {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	maxResponseSize := cfg.MaxResponseSize
	if maxResponseSize <= 0 {
		maxResponseSize = defaultMaxResponseSize
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   connectTimeout + readTimeout,
		},
		maxResponseSize: maxResponseSize,
		logger:          logger,
	}
}

// CreateTask 同步执行步骤一,返回引擎任务 ID 和输出
func (c *Client) CreateTask(ctx context.Context, req *Step1Request) (*Step1Result, error) {
	op := fault.OpExecuteStep(model.Step1.String())
	body, err := c.do(ctx, op, fault.CodeStepExecution, http.MethodPost, "/step1", req)
	if err != nil {
		return nil, err
	}

	engineTaskID := extractTaskID(body)
	if engineTaskID == "" {
		return nil, fault.Decode(op, fault.CodeStepExecution, string(body), fmt.Errorf("response has no task_id"))
	}
	return &Step1Result{EngineTaskID: engineTaskID, Output: body}, nil
}

// ExecuteStep 执行步骤二到步骤五
func (c *Client) ExecuteStep(ctx context.Context, engineTaskID string, step model.Step) (json.RawMessage, error) {
	op := fault.OpExecuteStep(step.String())
	if !step.IsBackground() {
		return nil, fault.InvalidInput(op, fault.Msg("只能单独执行 step2 到 step5", "only step2 to step5 can be executed individually"))
	}
	endpoint := "/" + step.String() + "/" + url.PathEscape(engineTaskID)
	return c.do(ctx, op, fault.CodeStepExecution, http.MethodPost, endpoint, map[string]string{"task_id": engineTaskID})
}

// Rerun 重新执行某一步骤
func (c *Client) Rerun(ctx context.Context, engineTaskID string, step model.Step) (json.RawMessage, error) {
	return c.do(ctx, fault.OpRerun(step.String()), fault.CodeStepRerun, http.MethodPost, "/rerun", map[string]interface{}{
		"task_id": engineTaskID,
		"step":    step.String(),
	})
}

// Rollback 通知引擎将步骤回滚到指定版本
func (c *Client) Rollback(ctx context.Context, engineTaskID string, step model.Step, version int) (json.RawMessage, error) {
	return c.do(ctx, fault.OpRollback, fault.CodeStepRollback, http.MethodPost, "/rollback", map[string]interface{}{
		"task_id": engineTaskID,
		"step":    step.String(),
		"version": version,
	})
}

// GetTask 获取引擎侧的任务内容
func (c *Client) GetTask(ctx context.Context, engineTaskID string) (json.RawMessage, error) {
	return c.do(ctx, fault.OpGetContent, fault.CodeStepExecution, http.MethodGet, "/tasks/"+url.PathEscape(engineTaskID), nil)
}

// Export 导出报告,返回下载地址
func (c *Client) Export(ctx context.Context, engineTaskID string, format string, uploadToOSS bool) (*ExportResult, error) {
	body, err := c.do(ctx, fault.OpExport, fault.CodeExport, http.MethodPost, "/export/"+url.PathEscape(engineTaskID), map[string]interface{}{
		"format":        format,
		"upload_to_oss": uploadToOSS,
	})
	if err != nil {
		return nil, err
	}

	var result ExportResult
	if err := decodePayload(body, &result); err != nil {
		return nil, fault.Decode(fault.OpExport, fault.CodeExport, string(body), err)
	}
	if result.DownloadURL == "" {
		return nil, fault.Decode(fault.OpExport, fault.CodeExport, string(body), fmt.Errorf("response has no download_url"))
	}
	if result.Filename == "" {
		result.Filename = filenameFromURL(result.DownloadURL)
	}
	return &result, nil
}

// Download 下载导出的文件
func (c *Client) Download(ctx context.Context, engineTaskID string, filename string) (*File, error) {
	endpoint := "/download/" + url.PathEscape(engineTaskID) + "/" + url.PathEscape(filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fault.Internal(fault.OpDownload, err)
	}

	resp, data, err := c.send(req, fault.OpDownload, fault.CodeDownload)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fault.FileEmpty(fault.OpDownload)
	}

	return &File{
		Filename:    filename,
		ContentType: detectContentType(filename, resp.Header.Get("Content-Type")),
		Data:        data,
	}, nil
}

// Cleanup 清理引擎侧临时文件
func (c *Client) Cleanup(ctx context.Context, engineTaskID string) (bool, error) {
	body, err := c.do(ctx, fault.OpCleanup, fault.CodeStepExecution, http.MethodDelete, "/cleanup/"+url.PathEscape(engineTaskID), nil)
	if err != nil {
		return false, err
	}
	var result struct {
		Success bool `json:"success"`
	}
	if err := decodePayload(body, &result); err != nil {
		return false, fault.Decode(fault.OpCleanup, fault.CodeStepExecution, string(body), err)
	}
	return result.Success, nil
}

// Ping 检查引擎是否可达
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("engine health check returned status %d", resp.StatusCode)
	}
	return nil
}

// do 发送 JSON 请求并返回响应体
func (c *Client) do(ctx context.Context, op fault.Op, domainCode int, method, endpoint string, payload interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fault.Internal(op, fmt.Errorf("failed to marshal request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fault.Internal(op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	_, body, err := c.send(req, op, domainCode)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// send 发送请求并按状态码分类错误
func (c *Client) send(req *http.Request, op fault.Op, domainCode int) (*http.Response, []byte, error) {
	start := time.Now()
	entry := c.logger.WithFields(logrus.Fields{
		"method": req.Method,
		"path":   req.URL.Path,
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		entry.WithError(err).Warn("engine request failed")
		return nil, nil, fault.Transport(op, domainCode, err)
	}
	defer resp.Body.Close()

	// 多读一个字节用于判断是否超出上限
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize+1))
	if err != nil {
		entry.WithError(err).Warn("failed to read engine response")
		return nil, nil, fault.Transport(op, domainCode, err)
	}
	if int64(len(body)) > c.maxResponseSize {
		err := fmt.Errorf("engine response exceeds %d bytes", c.maxResponseSize)
		entry.WithError(err).Warn("engine response too large")
		return nil, nil, fault.Transport(op, domainCode, err)
	}

	entry = entry.WithFields(logrus.Fields{
		"status":  resp.StatusCode,
		"latency": time.Since(start).String(),
	})
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f := fault.FromHTTPStatus(op, resp.StatusCode, string(body))
		entry.WithField("code", f.Code).Warn("engine returned error status")
		return nil, nil, f
	}

	entry.Debug("engine request completed")
	return resp, body, nil
}

// extractTaskID 从顶层或 data 字段中读取 task_id
func extractTaskID(body []byte) string {
	var payload struct {
		TaskID string `json:"task_id"`
		Data   struct {
			TaskID string `json:"task_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.TaskID != "" {
		return payload.TaskID
	}
	return payload.Data.TaskID
}

// decodePayload 解析响应,兼容 {"data": {...}} 包装
func decodePayload(body []byte, out interface{}) error {
	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && len(wrapper.Data) > 0 && wrapper.Data[0] == '{' {
		return json.Unmarshal(wrapper.Data, out)
	}
	return json.Unmarshal(body, out)
}

// filenameFromURL 取下载地址的最后一段作为文件名
func filenameFromURL(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(raw)
}

// detectContentType 按扩展名判断文件类型,.pdf 以外均视为 docx
func detectContentType(filename, header string) string {
	if strings.EqualFold(path.Ext(filename), ".pdf") {
		return contentTypePDF
	}
	if header != "" {
		if mediaType, _, err := mime.ParseMediaType(header); err == nil && mediaType != "application/octet-stream" && mediaType != "application/json" {
			return mediaType
		}
	}
	return contentTypeDOCX
}
