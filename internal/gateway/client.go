/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package gateway

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"marketplace-ledger-go/internal/metrics"
	"marketplace-ledger-go/internal/models"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 1 << 20
)

func createCustomHttpClient(timeout time.Duration) (http.Client, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	tr := &http.Transport{
		ResponseHeaderTimeout: timeout,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// restClient performs authenticated calls against one gateway's REST API
type restClient struct {
	gateway   string
	baseURL   string
	secretKey string
	http      http.Client
}

func newRestClient(gateway string, cfg models.GatewayConfig, defaultBaseURL string) (*restClient, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%s secret key is required", gateway)
	}
	httpClient, err := createCustomHttpClient(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &restClient{
		gateway:   gateway,
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: cfg.SecretKey,
		http:      httpClient,
	}, nil
}

type response struct {
	status int
	body   []byte
}

// do sends one request. Transport failures and unreadable bodies return a
// GatewayError marked Unknown, since the call may have executed upstream.
func (c *restClient) do(ctx context.Context, operation, method, path, contentType string, body io.Reader, headers map[string]string) (*response, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("unable to build %s request: %w", c.gateway, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(operation, start, "unreachable")
		zap.L().Warn("Gateway request failed",
			zap.String("gateway", c.gateway),
			zap.String("operation", operation),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, &models.GatewayError{
			Gateway: c.gateway,
			Code:    "unreachable",
			Reason:  "the payment provider did not respond",
			Raw:     err.Error(),
			Unknown: true,
		}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			zap.L().Debug("Failed to close response body", zap.Error(err))
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.observe(operation, start, "unreadable")
		return nil, &models.GatewayError{
			Gateway:    c.gateway,
			Code:       "unreadable_response",
			Reason:     "the payment provider response could not be read",
			StatusCode: resp.StatusCode,
			Raw:        err.Error(),
			Unknown:    true,
		}
	}

	c.observe(operation, start, http.StatusText(resp.StatusCode))
	zap.L().Debug("Gateway response",
		zap.String("gateway", c.gateway),
		zap.String("operation", operation),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))
	return &response{status: resp.StatusCode, body: raw}, nil
}

func (c *restClient) observe(operation string, start time.Time, result string) {
	metrics.Business.GatewayRequestDuration.WithLabelValues(c.gateway, operation, result).Observe(time.Since(start).Seconds())
}

// translate turns a non-2xx response into a GatewayError. 5xx responses leave
// the outcome unknown.
func (c *restClient) translate(operation string, resp *response, code, message string) error {
	if message == "" {
		message = http.StatusText(resp.status)
	}
	if code == "" {
		code = fmt.Sprintf("http_%d", resp.status)
	}
	gwErr := &models.GatewayError{
		Gateway:    c.gateway,
		Code:       code,
		Reason:     message,
		StatusCode: resp.status,
		Raw:        string(resp.body),
		Unknown:    resp.status >= http.StatusInternalServerError,
	}
	zap.L().Warn("Gateway returned an error",
		zap.String("gateway", c.gateway),
		zap.String("operation", operation),
		zap.Int("status", resp.status),
		zap.String("code", code),
		zap.String("raw", gwErr.Raw))
	return gwErr
}

func (c *restClient) malformed(operation string, resp *response, err error) error {
	zap.L().Error("Malformed gateway response",
		zap.String("gateway", c.gateway),
		zap.String("operation", operation),
		zap.String("raw", string(resp.body)),
		zap.Error(err))
	return &models.GatewayError{
		Gateway:    c.gateway,
		Code:       "malformed_response",
		Reason:     "the payment provider returned an unexpected response",
		StatusCode: resp.status,
		Raw:        string(resp.body),
		Unknown:    true,
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
