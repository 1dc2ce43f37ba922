package interceptor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/funnyzak/reportsync/internal/logger"
)

// OriginalURLHeader carries the observed URL in mirror mode.
const OriginalURLHeader = "X-Original-URL"

var errRequestBodyTooLarge = errors.New("request body exceeds configured limit")

// IngestConfig configures the ingest endpoint
type IngestConfig struct {
	MaxBodyBytes int64
	// Mirror treats each incoming request itself as the observed request.
	Mirror bool
}

// IngestHandler accepts observed requests posted by a relay
type IngestHandler struct {
	interceptor *Interceptor
	logger      logger.Logger
	config      IngestConfig
	baseCtx     context.Context
	procWG      *sync.WaitGroup
}

// NewIngestHandler creates the ingest handler. Processing goroutines are
// tracked on procWG so shutdown can wait for them.
func NewIngestHandler(i *Interceptor, log logger.Logger, cfg IngestConfig, baseCtx context.Context, procWG *sync.WaitGroup) *IngestHandler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if procWG == nil {
		procWG = &sync.WaitGroup{}
	}
	return &IngestHandler{
		interceptor: i,
		logger:      log.With("ingest"),
		config:      cfg,
		baseCtx:     baseCtx,
		procWG:      procWG,
	}
}

// ServeHTTP implements the http.Handler interface
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Read request body before sending response
	bodyBytes, err := h.readRequestBody(r)
	if err != nil {
		h.handleBodyReadError(w, err)
		return
	}

	var evs []Event
	if h.config.Mirror {
		evs = []Event{mirrorEvent(r, bodyBytes)}
	} else {
		evs, err = decodeEvents(bodyBytes)
		if err != nil {
			h.logger.Debug("Rejecting ingest body", "error", err)
			http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Server", "ReportSync/1.0")
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, `{"accepted":%d}`, len(evs))

	h.procWG.Add(1)
	go func() {
		defer h.procWG.Done()
		h.process(evs)
	}()
}

func (h *IngestHandler) process(evs []Event) {
	for _, ev := range evs {
		if h.baseCtx.Err() != nil {
			return
		}
		if err := h.interceptor.Observe(ev); err != nil && !errors.Is(err, ErrNotMatched) {
			h.logger.Debug("Event not captured", "url", ev.URL, "error", err)
		}
	}
}

// decodeEvents accepts a CDP Network.requestWillBeSent envelope, a bare
// event, or an array of either.
func decodeEvents(body []byte) ([]Event, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	if body[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, fmt.Errorf("decode event list: %w", err)
		}
		out := make([]Event, 0, len(raws))
		for i, raw := range raws {
			ev, err := decodeEvent(raw)
			if err != nil {
				return nil, fmt.Errorf("event %d: %w", i, err)
			}
			out = append(out, ev)
		}
		return out, nil
	}
	ev, err := decodeEvent(body)
	if err != nil {
		return nil, err
	}
	return []Event{ev}, nil
}

func decodeEvent(raw []byte) (Event, error) {
	var probe struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if probe.Method == requestWillBeSent {
		return eventFromCDP(probe.Params)
	}

	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.URL == "" {
		return Event{}, fmt.Errorf("event url is required")
	}
	return ev, nil
}

const requestWillBeSent = "Network.requestWillBeSent"

type cdpRequestParams struct {
	RequestID string `json:"requestId"`
	Request   struct {
		URL             string            `json:"url"`
		Method          string            `json:"method"`
		Headers         map[string]string `json:"headers"`
		PostData        string            `json:"postData"`
		PostDataEntries []struct {
			Bytes string `json:"bytes"`
		} `json:"postDataEntries"`
	} `json:"request"`
}

func eventFromCDP(params json.RawMessage) (Event, error) {
	var p cdpRequestParams
	if err := json.Unmarshal(params, &p); err != nil {
		return Event{}, fmt.Errorf("decode %s params: %w", requestWillBeSent, err)
	}
	postData := p.Request.PostData
	if postData == "" && len(p.Request.PostDataEntries) > 0 {
		var buf bytes.Buffer
		for _, entry := range p.Request.PostDataEntries {
			chunk, err := base64.StdEncoding.DecodeString(entry.Bytes)
			if err != nil {
				return Event{}, fmt.Errorf("decode post data entry: %w", err)
			}
			buf.Write(chunk)
		}
		postData = buf.String()
	}
	return Event{
		URL:      p.Request.URL,
		Method:   p.Request.Method,
		Headers:  p.Request.Headers,
		PostData: postData,
	}, nil
}

func mirrorEvent(r *http.Request, body []byte) Event {
	target := r.Header.Get(OriginalURLHeader)
	if target == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		target = scheme + "://" + r.Host + r.URL.RequestURI()
	}
	headers := make(map[string]string, len(r.Header))
	for key, values := range r.Header {
		if strings.EqualFold(key, OriginalURLHeader) {
			continue
		}
		headers[key] = strings.Join(values, ", ")
	}
	return Event{
		URL:      target,
		Method:   r.Method,
		Headers:  headers,
		PostData: string(body),
	}
}

func (h *IngestHandler) readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()

	if h.config.MaxBodyBytes <= 0 {
		return io.ReadAll(r.Body)
	}

	limited := io.LimitReader(r.Body, h.config.MaxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > h.config.MaxBodyBytes {
		return nil, errRequestBodyTooLarge
	}
	return body, nil
}

func (h *IngestHandler) handleBodyReadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errRequestBodyTooLarge):
		h.logger.Warn("Request body exceeds configured limit",
			"limit_bytes", h.config.MaxBodyBytes,
		)
		http.Error(w, "Payload Too Large", http.StatusRequestEntityTooLarge)
	default:
		h.logger.Error("Failed to read request body", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
