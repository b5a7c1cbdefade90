// Package backend talks to the simulation and synthesis services.
//
// A call never returns a Go error: every way it can end is an Outcome, so
// callers can tell a design problem (BackendFailure) from an infrastructure
// problem (TransportFailure, Timeout). No retries happen here.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"chipforge-gateway/internal/config"
	"chipforge-gateway/internal/logging"
)

const maxResponseBytes = 64 << 20

var logger = logging.For("backend")

// Call is one request to a backend.
type Call struct {
	SubmissionID string
	Design       []byte
	DesignName   string
	// Bundle is the backend's own slice of the evaluator archive.
	Bundle []byte
}

type Client struct {
	name        string
	base        string
	url         string
	bundleField string
	logField    string
	timeout     time.Duration
	http        *http.Client
}

// New builds a client posting to baseURL+path. bundleField names the multipart
// file field for the sub-bundle and logField the response field holding the
// backend's log.
func New(name, baseURL, path, bundleField, logField string, timeout time.Duration) *Client {
	return &Client{
		name:        name,
		base:        strings.TrimRight(baseURL, "/"),
		url:         strings.TrimRight(baseURL, "/") + path,
		bundleField: bundleField,
		logField:    logField,
		timeout:     timeout,
		http:        &http.Client{},
	}
}

// NewSimulation returns the client for the Verilator service.
func NewSimulation(cfg *config.Config) *Client {
	return New("verilator", cfg.VerilatorURL, "/simulate_and_evaluate", "verilator_bundle", "evaluator_log", cfg.SimTimeout)
}

// NewSynthesis returns the client for the OpenLane service.
func NewSynthesis(cfg *config.Config) *Client {
	return New("openlane", cfg.OpenLaneURL, "/run_openlane", "openlane_bundle", "logs", cfg.SynthTimeout)
}

func (c *Client) Name() string { return c.name }

// Invoke sends one multipart POST and classifies how it ended. The call's
// deadline is its own; cancelling ctx aborts the request.
func (c *Client) Invoke(ctx context.Context, call Call) Outcome {
	log := logger.WithFields(logrus.Fields{"backend": c.name, "submission_id": call.SubmissionID})

	body, contentType, err := encodeCall(call, c.bundleField)
	if err != nil {
		return TransportFailure{Err: fmt.Errorf("encode %s request: %w", c.name, err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.url, body)
	if err != nil {
		return TransportFailure{Err: fmt.Errorf("build %s request: %w", c.name, err)}
	}
	req.Header.Set("Content-Type", contentType)

	log.Debug("Dispatching to backend")
	res, err := c.http.Do(req)
	if err != nil {
		return c.classify(ctx, callCtx, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return c.classify(ctx, callCtx, err)
	}

	if res.StatusCode/100 != 2 {
		log.WithField("status", res.StatusCode).Warn("Backend returned non-2xx status")
		return BackendFailure{
			StatusCode: res.StatusCode,
			Message:    fmt.Sprintf("%s API error %d: %s", c.name, res.StatusCode, errorText(data)),
			Body:       decodeObject(data),
		}
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		return BackendFailure{
			StatusCode: res.StatusCode,
			Message:    fmt.Sprintf("%s returned invalid JSON", c.name),
			Log:        truncate(string(data), 4096),
		}
	}
	if ok, _ := doc["success"].(bool); !ok {
		msg, _ := doc["error_message"].(string)
		if msg == "" {
			msg = fmt.Sprintf("%s reported failure", c.name)
		}
		backendLog, _ := doc[c.logField].(string)
		return BackendFailure{StatusCode: res.StatusCode, Message: msg, Log: backendLog, Body: doc}
	}
	return Success{Body: doc}
}

func (c *Client) classify(parent, callCtx context.Context, err error) Outcome {
	switch {
	case parent.Err() != nil:
		return TransportFailure{Err: fmt.Errorf("%s call aborted: %w", c.name, parent.Err())}
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return Timeout{After: c.timeout}
	default:
		return TransportFailure{Err: fmt.Errorf("%s unreachable: %w", c.name, err)}
	}
}

// Health returns the backend's /health document, or "unhealthy" for a
// non-200 answer and "unreachable" when no answer arrives.
func (c *Client) Health(ctx context.Context) any {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return "unreachable"
	}
	res, err := c.http.Do(req)
	if err != nil {
		return "unreachable"
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "unhealthy"
	}
	var doc any
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&doc); err != nil {
		return "unhealthy"
	}
	return doc
}

func encodeCall(call Call, bundleField string) (*bytes.Buffer, string, error) {
	buf := new(bytes.Buffer)
	mw := multipart.NewWriter(buf)

	designName := call.DesignName
	if designName == "" {
		designName = "design.zip"
	}
	if err := writeFile(mw, "design_zip", designName, call.Design); err != nil {
		return nil, "", err
	}
	if err := writeFile(mw, bundleField, bundleField+".zip", call.Bundle); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("submission_id", call.SubmissionID); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf, mw.FormDataContentType(), nil
}

func writeFile(mw *multipart.Writer, field, name string, data []byte) error {
	w, err := mw.CreateFormFile(field, name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func decodeObject(data []byte) map[string]any {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc
}

// errorText prefers the structured message of a JSON error body.
func errorText(data []byte) string {
	if doc := decodeObject(data); doc != nil {
		for _, k := range []string{"error_message", "detail", "error"} {
			if s, ok := doc[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return truncate(strings.TrimSpace(string(data)), 2048)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
