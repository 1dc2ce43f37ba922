package interceptor

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/funnyzak/reportsync/internal/logger"
	"github.com/funnyzak/reportsync/pkg/request"
)

var (
	// ErrNotMatched marks traffic that is not a configuration mutation.
	ErrNotMatched = errors.New("request does not match the mutation endpoint")
	// ErrMalformedPayload marks a matching request whose body is not a report payload.
	ErrMalformedPayload = errors.New("malformed mutation payload")
	// ErrBufferFull is returned when the capture channel cannot accept more captures.
	ErrBufferFull = errors.New("capture buffer full")
	// ErrClosed is returned after the interceptor has been closed.
	ErrClosed = errors.New("interceptor closed")
)

// Event is one observed outbound request.
type Event struct {
	URL      string            `json:"url"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers"`
	PostData string            `json:"postData"`
}

// Matcher decides whether an event is a configuration mutation.
type Matcher struct {
	pattern *regexp.Regexp
	method  string
}

// NewMatcher compiles the endpoint pattern. An empty method defaults to PUT.
func NewMatcher(pattern, method string) (*Matcher, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("endpoint pattern cannot be empty")
	}
	expr, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint pattern: %w", err)
	}
	if method == "" {
		method = http.MethodPut
	}
	return &Matcher{pattern: expr, method: strings.ToUpper(method)}, nil
}

// Match reports whether the event targets the mutation endpoint with a body.
func (m *Matcher) Match(ev Event) bool {
	if !strings.EqualFold(ev.Method, m.method) {
		return false
	}
	if strings.TrimSpace(ev.PostData) == "" {
		return false
	}
	return m.pattern.MatchString(ev.URL)
}

// Interceptor turns matching events into captures
type Interceptor struct {
	matcher  *Matcher
	logger   logger.Logger
	kind     request.ResourceKind
	captures chan *request.CapturedRequest

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// New creates an interceptor whose capture channel holds up to buffer captures.
func New(log logger.Logger, matcher *Matcher, buffer int) *Interceptor {
	if buffer < 1 {
		buffer = 1
	}
	return &Interceptor{
		matcher:  matcher,
		logger:   log.With("interceptor"),
		kind:     request.ResourceCustomReport,
		captures: make(chan *request.CapturedRequest, buffer),
	}
}

// Captures is the stream of captured requests. It is closed by Close.
func (i *Interceptor) Captures() <-chan *request.CapturedRequest {
	return i.captures
}

// Inspect checks one event and builds a capture without publishing it.
func (i *Interceptor) Inspect(ev Event) (*request.CapturedRequest, error) {
	if !i.matcher.Match(ev) {
		return nil, ErrNotMatched
	}
	captured, err := request.NewCapturedRequest(ev.URL, ev.Method, ev.Headers, []byte(ev.PostData), i.kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return captured, nil
}

// Observe inspects an event and publishes the capture. It never blocks: when
// the buffer is full the capture is dropped.
func (i *Interceptor) Observe(ev Event) error {
	captured, err := i.Inspect(ev)
	if err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			i.logger.Debug("Dropping malformed capture", "url", ev.URL, "error", err)
		}
		return err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return ErrClosed
	}

	select {
	case i.captures <- captured:
		i.logger.Info("Request captured",
			"capture_id", captured.ID,
			"name", captured.DisplayName,
			"property_id", captured.SourcePropertyID,
		)
		return nil
	default:
		i.dropped.Add(1)
		i.logger.Warn("Capture buffer full, dropping capture",
			"capture_id", captured.ID,
			"name", captured.DisplayName,
		)
		return ErrBufferFull
	}
}

// Dropped reports how many captures were lost to a full buffer.
func (i *Interceptor) Dropped() uint64 {
	return i.dropped.Load()
}

// Close stops accepting events and closes the capture channel.
func (i *Interceptor) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	i.closed = true
	close(i.captures)
}
