package printer

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/funnyzak/reportsync/internal/events"
	"github.com/funnyzak/reportsync/internal/logger"
	"github.com/funnyzak/reportsync/internal/results"
	"github.com/funnyzak/reportsync/pkg/request"
)

// JSONPrinter 以 JSON 行输出事件
type JSONPrinter struct {
	mu           sync.Mutex
	encoder      *json.Encoder
	logger       logger.Logger
	out          io.Writer
	linkTemplate string
}

// NewJSONPrinter 创建 JSON 输出器
func NewJSONPrinter(log logger.Logger, linkTemplate string) *JSONPrinter {
	p := &JSONPrinter{logger: log, linkTemplate: linkTemplate}
	p.SetOutput(os.Stdout)
	return p
}

// SetOutput 替换输出目标，便于测试
func (p *JSONPrinter) SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = w
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	p.encoder = encoder
}

type jsonEventEnvelope struct {
	Type    events.Kind              `json:"type"`
	ID      uint64                   `json:"id"`
	RunID   string                   `json:"run_id,omitempty"`
	Capture *request.CapturedRequest `json:"capture,omitempty"`
	Result  *request.ReplayResult    `json:"result,omitempty"`
	Batch   *events.Batch            `json:"batch,omitempty"`
	Link    string                   `json:"link,omitempty"`
}

// PrintEvent 输出事件 JSON
func (p *JSONPrinter) PrintEvent(ev events.Event) error {
	env := jsonEventEnvelope{
		Type:    ev.Kind,
		ID:      nextEventNumber(),
		RunID:   ev.RunID,
		Capture: ev.Capture,
		Result:  ev.Result,
		Batch:   ev.Batch,
	}
	if ev.Result != nil {
		env.Link = results.LinkWithTemplate(p.linkTemplate, *ev.Result)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.encoder.Encode(env); err != nil {
		if p.logger != nil {
			p.logger.Error("Failed to encode event JSON", "error", err)
		}
		return err
	}
	return nil
}
