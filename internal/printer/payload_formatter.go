package printer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/funnyzak/reportsync/internal/config"
	"github.com/funnyzak/reportsync/internal/logger"
	"github.com/funnyzak/reportsync/pkg/i18n"
)

type payloadFormatter struct {
	cfg    *config.PayloadViewConfig
	logger logger.Logger
	intl   *i18n.Translator
	locale string
}

type formattedPayload struct {
	Text    string
	Notices []string
}

func newPayloadFormatter(cfg *config.PayloadViewConfig, log logger.Logger, translator *i18n.Translator, locale string) *payloadFormatter {
	if cfg == nil {
		cfg = &config.PayloadViewConfig{}
	}
	resolved := strings.TrimSpace(locale)
	if resolved == "" && translator != nil {
		resolved = translator.DefaultLocale()
	}
	return &payloadFormatter{cfg: cfg, logger: log, intl: translator, locale: resolved}
}

func (f *payloadFormatter) t(key string) string {
	if f == nil || f.intl == nil {
		return key
	}
	return f.intl.Text(f.locale, key)
}

// Format renders a captured payload for the console, honouring the preview limit.
func (f *payloadFormatter) Format(payload []byte) formattedPayload {
	if f == nil || len(bytes.TrimSpace(payload)) == 0 {
		return formattedPayload{}
	}
	if !f.cfg.Enable {
		return formattedPayload{}
	}

	res := f.formatJSON(payload)
	if limit := f.cfg.MaxPreviewBytes; limit > 0 && len(res.Text) > limit {
		res.Text = truncateUTF8(res.Text, limit)
		res.Notices = append(res.Notices, fmt.Sprintf(f.t(keyPayloadTruncate),
			humanize.Bytes(uint64(limit)), humanize.Bytes(uint64(len(payload)))))
	}
	return res
}

func (f *payloadFormatter) formatJSON(payload []byte) formattedPayload {
	trimmed := bytes.TrimSpace(payload)
	if !f.cfg.Pretty || !json.Valid(trimmed) {
		return formattedPayload{Text: string(trimmed)}
	}
	if f.cfg.MaxIndentBytes > 0 && len(trimmed) > f.cfg.MaxIndentBytes {
		notice := fmt.Sprintf(f.t(keyJSONIndentSkipped), humanize.Bytes(uint64(f.cfg.MaxIndentBytes)))
		return formattedPayload{Text: string(trimmed), Notices: []string{notice}}
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		if f.logger != nil {
			f.logger.Debug("json indent failed", "error", err)
		}
		return formattedPayload{Text: string(trimmed)}
	}
	return formattedPayload{Text: buf.String()}
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
