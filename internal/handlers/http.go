package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/petrijr/chatflow/pkg/api"
)

// DefaultSignatureHeader carries the webhook body signature.
const DefaultSignatureHeader = "X-Webhook-Signature"

const maxResponseBody = 1 << 20

// APICallHandler issues an HTTP request.
//
// Config: url, method (GET), headers, body, timeout (seconds),
// responseVariable, continueOnError.
//
// With continueOnError a failure becomes {status: "error", error} instead
// of failing the node.
type APICallHandler struct {
	Client *http.Client
}

func (*APICallHandler) Type() api.NodeType { return api.NodeAPICall }

func (h *APICallHandler) Execute(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	c := configOf(node)
	req, err := buildRequest(c, ec, "GET")
	if err != nil {
		return nil, configError(node, "%v", err)
	}

	res, err := doRequest(ctx, h.Client, c, req)
	if err != nil {
		if c.boolean("continueOnError") {
			return api.Result{"status": "error", "error": err.Error()}, nil
		}
		return nil, err
	}
	if out := c.str("responseVariable", "outputVariable"); out != "" {
		ec.Set(out, res["data"])
	}
	return res, nil
}

// WebhookHandler POSTs a JSON payload signed with HMAC-SHA256.
//
// Config: url, method (POST), payload (or body), secret, signatureHeader,
// headers, timeout, responseVariable, waitForResponse.
//
// The signature is the hex HMAC of the exact bytes sent. With
// waitForResponse the run pauses after delivery until a webhook_response
// event resumes it; the event data becomes the node's result.
type WebhookHandler struct {
	Client *http.Client
}

func (*WebhookHandler) Type() api.NodeType { return api.NodeWebhook }

func (h *WebhookHandler) Execute(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	c := configOf(node)

	if ec.ResumingAt(node.ID) {
		data := ec.Resume.Data
		if out := c.str("responseVariable", "outputVariable"); out != "" {
			ec.Set(out, data)
		}
		return api.Result{"status": "received", "data": data}, nil
	}

	payload := c["payload"]
	if payload == nil {
		payload = c["body"]
	}
	if payload == nil {
		payload = map[string]any{
			"executionId": ec.ExecutionID,
			"flowId":      ec.FlowID,
			"nodeId":      node.ID,
			"variables":   ec.Variables,
		}
	}
	body, err := encodeBody(interpolateValue(payload, ec.Variables))
	if err != nil {
		return nil, configError(node, "encode payload: %v", err)
	}

	url := Interpolate(c.str("url"), ec.Variables)
	if url == "" {
		return nil, configError(node, "url is empty")
	}
	method := strings.ToUpper(c.str("method"))
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, configError(node, "%v", err)
	}
	setBody(req, body)
	req.Header.Set("Content-Type", "application/json")
	applyHeaders(req, c, ec)
	req.Header.Set("X-Flow-Execution-Id", ec.ExecutionID)
	if secret := c.str("secret"); secret != "" {
		header := c.str("signatureHeader")
		if header == "" {
			header = DefaultSignatureHeader
		}
		req.Header.Set(header, SignPayload(secret, body))
	}

	res, err := doRequest(ctx, h.Client, c, req)
	if err != nil {
		return nil, err
	}
	if out := c.str("responseVariable", "outputVariable"); out != "" {
		ec.Set(out, res["data"])
	}
	if c.boolean("waitForResponse") {
		return nil, api.NewWaitForInputError("webhook " + node.ID + ": awaiting response")
	}
	return res, nil
}

// SignPayload returns the hex-encoded HMAC-SHA256 of body under secret.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by SignPayload in constant
// time.
func VerifySignature(secret string, body []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

func buildRequest(c cfg, ec *api.ExecutionContext, defaultMethod string) (*http.Request, error) {
	url := Interpolate(c.str("url"), ec.Variables)
	if url == "" {
		return nil, fmt.Errorf("url is empty")
	}
	method := strings.ToUpper(c.str("method"))
	if method == "" {
		method = defaultMethod
	}
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, err
	}

	if raw, ok := c["body"]; ok && raw != nil && method != http.MethodGet {
		var body []byte
		if s, isString := raw.(string); isString {
			body = []byte(Interpolate(s, ec.Variables))
		} else {
			body, err = encodeBody(interpolateValue(raw, ec.Variables))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
		}
		setBody(req, body)
	}
	applyHeaders(req, c, ec)
	return req, nil
}

// encodeBody serializes with sorted map keys so signatures are stable.
func encodeBody(v any) ([]byte, error) {
	return sonic.ConfigStd.Marshal(v)
}

func setBody(req *http.Request, body []byte) {
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
}

func applyHeaders(req *http.Request, c cfg, ec *api.ExecutionContext) {
	for k, v := range c.object("headers") {
		req.Header.Set(k, Interpolate(fmt.Sprint(v), ec.Variables))
	}
}

func doRequest(ctx context.Context, client *http.Client, c cfg, req *http.Request) (api.Result, error) {
	if secs, ok := c.number("timeout"); ok && secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs*float64(time.Second)))
		defer cancel()
	}
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", req.Method, req.URL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL, resp.StatusCode)
	}

	var data any = string(raw)
	if len(raw) > 0 && strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var parsed any
		if err := sonic.Unmarshal(raw, &parsed); err == nil {
			data = parsed
		}
	}
	return api.Result{"status": resp.StatusCode, "data": data}, nil
}
