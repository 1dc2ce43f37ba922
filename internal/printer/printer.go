package printer

import (
	"sync/atomic"

	"github.com/funnyzak/reportsync/internal/config"
	"github.com/funnyzak/reportsync/internal/events"
	"github.com/funnyzak/reportsync/internal/logger"
	"github.com/funnyzak/reportsync/pkg/i18n"
)

// Printer 抽象输出接口
type Printer interface {
	PrintEvent(events.Event) error
}

var globalEventCounter uint64

func nextEventNumber() uint64 {
	return atomic.AddUint64(&globalEventCounter, 1)
}

// New 创建指定模式的 Printer
func New(mode string, log logger.Logger, cfg *config.OutputConfig, translator *i18n.Translator, linkTemplate string) Printer {
	if cfg == nil {
		cfg = &config.OutputConfig{}
	}
	switch mode {
	case "json":
		return NewJSONPrinter(log, linkTemplate)
	default:
		return NewConsolePrinter(log, &cfg.Payload, translator, cfg.Locale, linkTemplate)
	}
}
