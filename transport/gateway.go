package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-verify/core"
)

const defaultClientTimeout = 30 * time.Second
const defaultResponseBodyLimit int64 = 4 << 20 // 4 MiB

const (
	exchangePath      = "/v1/api-keys"
	validationsPath   = "/v1/validations"
	enrollmentPathFmt = "/v1/accounts/%s/enrollment"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Option func(*RESTGateway)

func WithDefaultHeaders(headers map[string]string) Option {
	return func(g *RESTGateway) {
		for key, value := range headers {
			if strings.TrimSpace(key) == "" {
				continue
			}
			g.defaultHeaders[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
}

func WithMaxResponseBodyBytes(limit int64) Option {
	return func(g *RESTGateway) {
		if limit > 0 {
			g.maxBodyBytes = limit
		}
	}
}

// RESTGateway implements core.Gateway against the verification API over a
// caller-supplied HTTP client. It owns what is sent and how responses are
// interpreted; the HTTP stack itself stays outside.
type RESTGateway struct {
	client         HTTPDoer
	baseURL        string
	defaultHeaders map[string]string
	maxBodyBytes   int64
}

func NewRESTGateway(baseURL string, client HTTPDoer, options ...Option) (*RESTGateway, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, clientError(
			fmt.Sprintf("transport: base url %q is not an absolute url", baseURL),
			core.ErrorInternal,
			nil,
		)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	gateway := &RESTGateway{
		client:         client,
		baseURL:        baseURL,
		defaultHeaders: map[string]string{},
		maxBodyBytes:   defaultResponseBodyLimit,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(gateway)
	}
	return gateway, nil
}

type createSessionResponse struct {
	ValidationID string   `json:"validation_id"`
	AccountID    string   `json:"account_id"`
	UploadURLs   []string `json:"upload_urls"`
}

func (g *RESTGateway) CreateSession(ctx context.Context, cred core.Credential, req core.CreateSessionRequest) (core.Session, error) {
	if !req.Kind.IsValid() {
		return core.Session{}, clientError(
			fmt.Sprintf("transport: invalid session kind %q", req.Kind),
			core.ErrorInternal,
			nil,
		)
	}

	form := url.Values{}
	form.Set("type", string(req.Kind))
	form.Set("account_id", strings.TrimSpace(req.AccountID))
	if country := strings.TrimSpace(req.Country); country != "" {
		form.Set("country", country)
	}
	if documentType := strings.TrimSpace(req.DocumentType); documentType != "" {
		form.Set("document_type", documentType)
	}
	if req.Threshold > 0 {
		form.Set("threshold", strconv.FormatFloat(req.Threshold, 'f', -1, 64))
	}
	if req.Timeout > 0 {
		form.Set("timeout", strconv.Itoa(int(req.Timeout.Seconds())))
	}
	for _, subvalidation := range req.Subvalidations {
		if trimmed := strings.TrimSpace(subvalidation); trimmed != "" {
			form.Add("subvalidations", trimmed)
		}
	}

	status, body, err := g.postForm(ctx, g.baseURL+validationsPath, cred.Token, form)
	if err != nil {
		return core.Session{}, err
	}
	if !is2xx(status) {
		return core.Session{}, serverRejection("create session", status, body)
	}

	var decoded createSessionResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return core.Session{}, transportError(err, "transport: decode create session response", map[string]any{
			"status_code": status,
		})
	}
	if strings.TrimSpace(decoded.ValidationID) == "" {
		return core.Session{}, transportError(nil, "transport: create session response is missing validation_id", map[string]any{
			"status_code": status,
		})
	}

	targets := make([]core.UploadTarget, 0, len(decoded.UploadURLs))
	for _, uploadURL := range decoded.UploadURLs {
		if trimmed := strings.TrimSpace(uploadURL); trimmed != "" {
			targets = append(targets, core.UploadTarget{URL: trimmed})
		}
	}

	return core.Session{
		ID:               strings.TrimSpace(decoded.ValidationID),
		Kind:             req.Kind,
		AccountID:        strings.TrimSpace(req.AccountID),
		UploadTargets:    targets,
		RetriesRemaining: req.MaxRetries,
	}, nil
}

type sessionStatusResponse struct {
	ValidationStatus string `json:"validation_status"`
	Details          struct {
		FaceMatch struct {
			Confidence *float64 `json:"confidence"`
		} `json:"face_match"`
		Document struct {
			Confidence *float64 `json:"confidence"`
		} `json:"document"`
	} `json:"details"`
}

func (g *RESTGateway) GetSessionStatus(ctx context.Context, cred core.Credential, sessionID string) (core.SessionStatus, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return core.SessionStatus{}, clientError("transport: session id is required", core.ErrorInternal, nil)
	}

	status, body, err := g.do(ctx, http.MethodGet, g.baseURL+validationsPath+"/"+url.PathEscape(sessionID), cred.Token, "", nil)
	if err != nil {
		return core.SessionStatus{}, err
	}
	if !is2xx(status) {
		return core.SessionStatus{}, serverRejection("get session status", status, body)
	}

	var decoded sessionStatusResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return core.SessionStatus{}, transportError(err, "transport: decode session status response", map[string]any{
			"status_code": status,
			"session_id":  sessionID,
		})
	}

	result := core.SessionStatus{Status: core.Status(strings.TrimSpace(decoded.ValidationStatus))}
	if decoded.Details.FaceMatch.Confidence != nil {
		result.Confidence = decoded.Details.FaceMatch.Confidence
	} else if decoded.Details.Document.Confidence != nil {
		result.Confidence = decoded.Details.Document.Confidence
	}
	return result, nil
}

type exchangeResponse struct {
	APIKey  string `json:"api_key"`
	Message string `json:"message"`
}

// ExchangeCredential issues one POST to the credential-issuance endpoint,
// authenticating with the generator token. Any failure here is a client
// error: the resolver does not retry, callers retry the whole resolution.
func (g *RESTGateway) ExchangeCredential(ctx context.Context, generatorToken string) (string, error) {
	form := url.Values{}
	form.Set("key_type", "sdk")
	form.Set("grant", "validations")
	form.Set("api_key_version", "1")
	form.Set("key_name", "sdk_usage")

	status, body, err := g.postForm(ctx, g.baseURL+exchangePath, generatorToken, form)
	if err != nil {
		return "", wrapClientError(err, "transport: credential exchange request failed", core.ErrorGenerationFailed, nil)
	}
	if !is2xx(status) {
		return "", clientError(
			fmt.Sprintf("transport: credential exchange rejected: %s", serverMessage(body, status)),
			core.ErrorGenerationFailed,
			map[string]any{"status_code": status},
		)
	}

	var decoded exchangeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", wrapClientError(err, "transport: decode credential exchange response", core.ErrorGenerationFailed, map[string]any{
			"status_code": status,
		})
	}
	if strings.TrimSpace(decoded.APIKey) == "" {
		return "", clientError("transport: credential exchange returned no api key", core.ErrorGenerationFailed, map[string]any{
			"status_code": status,
		})
	}
	return strings.TrimSpace(decoded.APIKey), nil
}

func (g *RESTGateway) UploadMedia(ctx context.Context, target core.UploadTarget, media core.MediaArtifact) error {
	targetURL := strings.TrimSpace(target.URL)
	if targetURL == "" {
		return clientError("transport: upload target url is required", core.ErrorInternal, nil)
	}
	if len(media.Bytes) == 0 {
		return clientError("transport: media artifact is empty", core.ErrorInternal, map[string]any{
			"upload_url": targetURL,
		})
	}

	status, body, err := g.do(ctx, http.MethodPut, targetURL, "", media.ContentType, media.Bytes)
	if err != nil {
		return err
	}
	if !is2xx(status) {
		return serverRejection("upload media", status, body)
	}
	return nil
}

func (g *RESTGateway) EnrollFace(ctx context.Context, cred core.Credential, accountID string, media core.MediaArtifact) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return clientError("transport: account id is required for enrollment", core.ErrorInternal, nil)
	}
	if len(media.Bytes) == 0 {
		return clientError("transport: reference face artifact is empty", core.ErrorInternal, nil)
	}

	endpoint := g.baseURL + fmt.Sprintf(enrollmentPathFmt, url.PathEscape(accountID))
	status, body, err := g.do(ctx, http.MethodPost, endpoint, cred.Token, media.ContentType, media.Bytes)
	if err != nil {
		return err
	}
	if !is2xx(status) {
		return serverRejection("enroll face", status, body)
	}
	return nil
}

func (g *RESTGateway) postForm(ctx context.Context, endpoint string, token string, form url.Values) (int, []byte, error) {
	return g.do(ctx, http.MethodPost, endpoint, token, "application/x-www-form-urlencoded", []byte(form.Encode()))
}

func (g *RESTGateway) do(ctx context.Context, method string, endpoint string, token string, contentType string, body []byte) (int, []byte, error) {
	if g == nil || g.client == nil {
		return 0, nil, clientError("transport: gateway requires an http client", core.ErrorInternal, nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, clientError(
			fmt.Sprintf("transport: build %s request: %v", method, err),
			core.ErrorInternal,
			map[string]any{"url": endpoint},
		)
	}
	for key, value := range g.defaultHeaders {
		httpReq.Header.Set(key, value)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if token = strings.TrimSpace(token); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	httpRes, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation is the caller's terminal outcome, not a
			// transport failure.
			return 0, nil, ctx.Err()
		}
		return 0, nil, transportError(err, "transport: execute http request", map[string]any{
			"method": method,
			"url":    endpoint,
		})
	}
	defer httpRes.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpRes.Body, g.maxBodyBytes+1))
	if err != nil {
		return 0, nil, transportError(err, "transport: read response body", map[string]any{
			"status_code": httpRes.StatusCode,
		})
	}
	if int64(len(payload)) > g.maxBodyBytes {
		return 0, nil, transportError(nil, fmt.Sprintf("transport: response body exceeds limit of %d bytes", g.maxBodyBytes), map[string]any{
			"status_code": httpRes.StatusCode,
		})
	}
	return httpRes.StatusCode, payload, nil
}

type serverErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func serverRejection(operation string, statusCode int, body []byte) error {
	message := serverMessage(body, statusCode)
	textCode := core.ErrorAPIRejected

	var envelope serverErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil {
		if code := strings.TrimSpace(envelope.Error.Code); code != "" {
			textCode = code
		}
	}

	return apiError(
		fmt.Sprintf("transport: %s rejected: %s", operation, message),
		statusCode,
		textCode,
		map[string]any{"status_code": statusCode},
	)
}

func serverMessage(body []byte, statusCode int) string {
	var envelope serverErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil {
		if message := strings.TrimSpace(envelope.Error.Message); message != "" {
			return message
		}
		if message := strings.TrimSpace(envelope.Message); message != "" {
			return message
		}
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		return trimmed
	}
	return http.StatusText(statusCode)
}

func is2xx(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

var _ core.Gateway = (*RESTGateway)(nil)
