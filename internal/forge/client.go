package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURLConstant            = "https://api.bitbucket.org/2.0"
	defaultRequestTimeoutConstant     = 30 * time.Second
	requestsPerSecondConstant         = 20
	requestBurstConstant              = 10
	acceptHeaderNameConstant          = "Accept"
	contentTypeHeaderNameConstant     = "Content-Type"
	jsonContentTypeConstant           = "application/json"
	requestBuildErrorTemplateConstant = "unable to build %s request for %s: %w"
	requestSendErrorTemplateConstant  = "request to %s failed: %w"
	responseReadErrorTemplateConstant = "unable to read response from %s: %w"
	responseJSONErrorTemplateConstant = "unable to decode response from %s: %w"
	apiErrorTemplateConstant          = "%s %s returned %d: %s"
	responseBodyPreviewLimitConstant  = 512
	logFieldResourcePathConstant      = "resource_path"
	logFieldStatusCodeConstant        = "status_code"
	logMessageRequestFailedConstant   = "forge API request failed"
)

// ErrorKind classifies API failures so callers can decide retry versus abort.
type ErrorKind string

// Error kinds surfaced by the client.
const (
	ErrorKindUnauthorized ErrorKind = "unauthorized"
	ErrorKindForbidden    ErrorKind = "forbidden"
	ErrorKindNotFound     ErrorKind = "not_found"
	ErrorKindConflict     ErrorKind = "conflict"
	ErrorKindTransient    ErrorKind = "transient"
	ErrorKindFatal        ErrorKind = "fatal"
)

// APIError reports a classified forge API failure.
type APIError struct {
	Kind         ErrorKind
	StatusCode   int
	ResourcePath string
	Method       string
	BodyPreview  string
}

// Error renders the failure with enough context to diagnose without re-running.
func (apiError *APIError) Error() string {
	return fmt.Sprintf(apiErrorTemplateConstant, apiError.Method, apiError.ResourcePath, apiError.StatusCode, apiError.BodyPreview)
}

// AsAPIError unwraps an APIError when present.
func AsAPIError(candidate error) (*APIError, bool) {
	var apiError *APIError
	if errors.As(candidate, &apiError) {
		return apiError, true
	}
	return nil, false
}

// IsNotFound reports whether the error is a not-found API failure.
func IsNotFound(candidate error) bool {
	apiError, matched := AsAPIError(candidate)
	return matched && apiError.Kind == ErrorKindNotFound
}

// IsConflict reports whether the error is a conflict API failure.
func IsConflict(candidate error) bool {
	apiError, matched := AsAPIError(candidate)
	return matched && apiError.Kind == ErrorKindConflict
}

// Credentials carries one identity for basic authentication against the API.
type Credentials struct {
	Email    string
	APIToken string
}

// Configured reports whether both halves of the credential pair are present.
func (credentials Credentials) Configured() bool {
	return len(strings.TrimSpace(credentials.Email)) > 0 && len(strings.TrimSpace(credentials.APIToken)) > 0
}

// Client performs authenticated HTTP JSON calls against the hosting API.
// A shared limiter keeps request bursts polite toward the API regardless of
// which engine is calling.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	requestPacer *rate.Limiter
	logger       *zap.Logger
}

// NewClient constructs a Client for the given base URL. An empty base URL
// selects the public Bitbucket Cloud endpoint.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	trimmedBaseURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if len(trimmedBaseURL) == 0 {
		trimmedBaseURL = defaultBaseURLConstant
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient:   &http.Client{Timeout: defaultRequestTimeoutConstant},
		baseURL:      trimmedBaseURL,
		requestPacer: rate.NewLimiter(rate.Limit(requestsPerSecondConstant), requestBurstConstant),
		logger:       logger,
	}
}

// Get retrieves a single resource as an opaque JSON object.
func (client *Client) Get(executionContext context.Context, credentials Credentials, resourcePath string) (json.RawMessage, error) {
	return client.execute(executionContext, credentials, http.MethodGet, resourcePath, nil, nil)
}

// Create issues a POST for the resource; an existing resource surfaces as a
// conflict-kind APIError.
func (client *Client) Create(executionContext context.Context, credentials Credentials, resourcePath string, body any) (json.RawMessage, error) {
	return client.execute(executionContext, credentials, http.MethodPost, resourcePath, nil, body)
}

// Put issues a PUT for the resource.
func (client *Client) Put(executionContext context.Context, credentials Credentials, resourcePath string, body any) (json.RawMessage, error) {
	return client.execute(executionContext, credentials, http.MethodPut, resourcePath, nil, body)
}

// GetWithParams retrieves a single resource with query parameters attached.
func (client *Client) GetWithParams(executionContext context.Context, credentials Credentials, resourcePath string, params url.Values) (json.RawMessage, error) {
	return client.execute(executionContext, credentials, http.MethodGet, resourcePath, params, nil)
}

func (client *Client) execute(executionContext context.Context, credentials Credentials, method string, resourcePath string, params url.Values, body any) (json.RawMessage, error) {
	if client.requestPacer != nil {
		if pacingError := client.requestPacer.Wait(executionContext); pacingError != nil {
			return nil, fmt.Errorf(requestSendErrorTemplateConstant, resourcePath, pacingError)
		}
	}

	requestURL := client.resolveURL(resourcePath)
	if params != nil && len(params) > 0 {
		separator := "?"
		if strings.Contains(requestURL, "?") {
			separator = "&"
		}
		requestURL = requestURL + separator + params.Encode()
	}

	var requestBody io.Reader
	if body != nil {
		encodedBody, encodeError := json.Marshal(body)
		if encodeError != nil {
			return nil, fmt.Errorf(requestBuildErrorTemplateConstant, method, resourcePath, encodeError)
		}
		requestBody = bytes.NewReader(encodedBody)
	}

	request, requestError := http.NewRequestWithContext(executionContext, method, requestURL, requestBody)
	if requestError != nil {
		return nil, fmt.Errorf(requestBuildErrorTemplateConstant, method, resourcePath, requestError)
	}

	request.SetBasicAuth(credentials.Email, credentials.APIToken)
	request.Header.Set(acceptHeaderNameConstant, jsonContentTypeConstant)
	if body != nil {
		request.Header.Set(contentTypeHeaderNameConstant, jsonContentTypeConstant)
	}

	response, sendError := client.httpClient.Do(request)
	if sendError != nil {
		return nil, &APIError{
			Kind:         ErrorKindTransient,
			ResourcePath: resourcePath,
			Method:       method,
			BodyPreview:  sendError.Error(),
		}
	}
	defer func() {
		_ = response.Body.Close()
	}()

	responseBytes, readError := io.ReadAll(response.Body)
	if readError != nil {
		return nil, fmt.Errorf(responseReadErrorTemplateConstant, resourcePath, readError)
	}

	if response.StatusCode >= http.StatusBadRequest {
		apiError := &APIError{
			Kind:         classifyStatusCode(response.StatusCode),
			StatusCode:   response.StatusCode,
			ResourcePath: resourcePath,
			Method:       method,
			BodyPreview:  previewBody(responseBytes),
		}
		client.logger.Debug(
			logMessageRequestFailedConstant,
			zap.String(logFieldResourcePathConstant, resourcePath),
			zap.Int(logFieldStatusCodeConstant, response.StatusCode),
		)
		return nil, apiError
	}

	if len(responseBytes) == 0 {
		return json.RawMessage("{}"), nil
	}

	return json.RawMessage(responseBytes), nil
}

func (client *Client) resolveURL(resourcePath string) string {
	if strings.HasPrefix(resourcePath, "http://") || strings.HasPrefix(resourcePath, "https://") {
		return resourcePath
	}
	return client.baseURL + "/" + strings.TrimLeft(resourcePath, "/")
}

func classifyStatusCode(statusCode int) ErrorKind {
	switch {
	case statusCode == http.StatusUnauthorized:
		return ErrorKindUnauthorized
	case statusCode == http.StatusForbidden:
		return ErrorKindForbidden
	case statusCode == http.StatusNotFound:
		return ErrorKindNotFound
	case statusCode == http.StatusConflict:
		return ErrorKindConflict
	case statusCode == http.StatusTooManyRequests:
		return ErrorKindTransient
	case statusCode >= http.StatusInternalServerError:
		return ErrorKindTransient
	default:
		return ErrorKindFatal
	}
}

func previewBody(responseBytes []byte) string {
	preview := strings.TrimSpace(string(responseBytes))
	if len(preview) > responseBodyPreviewLimitConstant {
		preview = preview[:responseBodyPreviewLimitConstant]
	}
	return preview
}

// DecodeInto unmarshals an opaque payload into a typed target.
func DecodeInto(payload json.RawMessage, target any) error {
	if decodeError := json.Unmarshal(payload, target); decodeError != nil {
		return fmt.Errorf(responseJSONErrorTemplateConstant, "payload", decodeError)
	}
	return nil
}
