package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/funnyzak/reportsync/internal/config"
	"github.com/funnyzak/reportsync/internal/events"
	"github.com/funnyzak/reportsync/internal/logger"
	"github.com/funnyzak/reportsync/internal/results"
	"github.com/funnyzak/reportsync/pkg/i18n"
	"github.com/funnyzak/reportsync/pkg/request"
)

const nameColumnWidth = 32

// ColorScheme color scheme
type ColorScheme struct {
	MethodPOST   *color.Color
	MethodPUT    *color.Color
	MethodDELETE *color.Color
	HeaderKey    *color.Color
	HeaderValue  *color.Color
	Separator    *color.Color
	Timestamp    *color.Color
	BodyContent  *color.Color
	Notice       *color.Color
	Property     *color.Color
	Success      *color.Color
	Failure      *color.Color
	Link         *color.Color
}

// NewColorScheme creates a new color scheme
func NewColorScheme() *ColorScheme {
	return &ColorScheme{
		MethodPOST:   color.New(color.FgGreen, color.Bold),
		MethodPUT:    color.New(color.FgYellow, color.Bold),
		MethodDELETE: color.New(color.FgRed, color.Bold),
		HeaderKey:    color.New(color.FgCyan),
		HeaderValue:  color.New(color.FgWhite),
		Separator:    color.New(color.FgYellow, color.Bold),
		Timestamp:    color.New(color.FgHiBlack),
		BodyContent:  color.New(color.FgWhite),
		Notice:       color.New(color.FgHiYellow, color.Bold),
		Property:     color.New(color.FgHiBlue),
		Success:      color.New(color.FgGreen, color.Bold),
		Failure:      color.New(color.FgHiRed, color.Bold),
		Link:         color.New(color.FgHiMagenta, color.Underline),
	}
}

// ConsolePrinter console printer
type ConsolePrinter struct {
	colorScheme  *ColorScheme
	logger       logger.Logger
	formatter    *payloadFormatter
	intl         *i18n.Translator
	locale       string
	linkTemplate string

	mu  sync.Mutex
	out io.Writer
}

// NewConsolePrinter creates a new console printer
func NewConsolePrinter(log logger.Logger, cfg *config.PayloadViewConfig, translator *i18n.Translator, locale, linkTemplate string) *ConsolePrinter {
	if cfg == nil {
		cfg = &config.PayloadViewConfig{Enable: true, Pretty: true}
	}
	resolved := strings.TrimSpace(locale)
	if resolved == "" && translator != nil {
		resolved = translator.DefaultLocale()
	}
	return &ConsolePrinter{
		colorScheme:  NewColorScheme(),
		logger:       log,
		formatter:    newPayloadFormatter(cfg, log, translator, resolved),
		intl:         translator,
		locale:       resolved,
		linkTemplate: linkTemplate,
		out:          os.Stdout,
	}
}

func (p *ConsolePrinter) t(key string) string {
	if p.intl == nil {
		return key
	}
	return p.intl.Text(p.locale, key)
}

// getTerminalWidth gets the current terminal width with fallback
func (p *ConsolePrinter) getTerminalWidth() int {
	if testWidth := os.Getenv("REPORTSYNC_TEST_WIDTH"); testWidth != "" {
		if width, err := strconv.Atoi(testWidth); err == nil {
			return clampWidth(width)
		}
	}

	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return clampWidth(width)
}

func clampWidth(width int) int {
	switch {
	case width < 40:
		return 40
	case width > 150:
		return 150
	default:
		return width
	}
}

// PrintEvent prints one pipeline event
func (p *ConsolePrinter) PrintEvent(ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Kind {
	case events.KindCapture:
		if ev.Capture != nil {
			p.printCapture(ev.Capture)
		}
	case events.KindBatchStart:
		if ev.Batch != nil {
			p.printBatchStart(ev.RunID, ev.Batch)
		}
	case events.KindResult:
		if ev.Result != nil {
			p.printResult(ev.Result)
		}
	case events.KindBatchComplete:
		if ev.Batch != nil {
			p.printBatchComplete(ev.Batch)
		}
	}
	return nil
}

func (p *ConsolePrinter) printCapture(c *request.CapturedRequest) {
	num := nextEventNumber()
	width := p.getTerminalWidth()
	separator := strings.Repeat("-", width)

	p.colorScheme.Separator.Fprintln(p.out, separator)
	p.colorScheme.Separator.Fprintf(p.out, p.t(keyCaptureTitle)+"  ", num)
	p.colorScheme.Timestamp.Fprintln(p.out, c.Timestamp.Format("2006-01-02T15:04:05-07:00"))
	p.printMetadataLine(c)
	p.colorScheme.Separator.Fprintln(p.out, separator)

	p.getMethodColor(c.Method).Fprintf(p.out, "%s ", strings.ToUpper(c.Method))
	fmt.Fprintln(p.out, c.SourceURL)
	p.printHeaders(c.Headers, width)
	fmt.Fprintln(p.out)
	p.printPayload(c.Payload)
	p.colorScheme.Success.Fprintf(p.out, "+ %s\n\n", p.t(keyCaptureSelected))
}

func (p *ConsolePrinter) printMetadataLine(c *request.CapturedRequest) {
	fields := []struct {
		key   string
		value string
	}{
		{p.t(keyCaptureProperty), c.SourcePropertyID},
		{p.t(keyCaptureResource), strings.TrimSpace(c.OriginalResourceID + " " + quoteName(c.DisplayName))},
		{p.t(keyCaptureSize), humanize.Bytes(uint64(len(c.Payload)))},
	}
	first := true
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if !first {
			fmt.Fprint(p.out, " | ")
		}
		first = false
		fmt.Fprint(p.out, f.key+": ")
		p.colorScheme.Property.Fprint(p.out, f.value)
	}
	fmt.Fprintln(p.out)
}

func (p *ConsolePrinter) printHeaders(headers map[string]string, width int) {
	if len(headers) == 0 {
		return
	}
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := headers[key]
		if p.isSensitiveHeader(strings.ToLower(key)) {
			value = p.t(keyHeadersRedacted)
		}
		p.printHeaderLine(key, value, width)
	}
}

func (p *ConsolePrinter) printHeaderLine(key, value string, width int) {
	prefix := key + ": "
	available := width - utf8.RuneCountInString(prefix)
	if available < 20 {
		available = 20
	}
	wrapped := wrapText(value, available)

	p.colorScheme.HeaderKey.Fprint(p.out, prefix)
	p.colorScheme.HeaderValue.Fprintln(p.out, wrapped[0])
	indent := strings.Repeat(" ", utf8.RuneCountInString(prefix))
	for _, line := range wrapped[1:] {
		fmt.Fprint(p.out, indent)
		p.colorScheme.HeaderValue.Fprintln(p.out, line)
	}
}

func (p *ConsolePrinter) printPayload(payload []byte) {
	if len(payload) == 0 {
		p.colorScheme.BodyContent.Fprintln(p.out, p.t(keyPayloadEmpty))
		return
	}
	formatted := p.formatter.Format(payload)
	if formatted.Text != "" {
		for _, line := range strings.Split(formatted.Text, "\n") {
			p.colorScheme.BodyContent.Fprintln(p.out, strings.TrimRight(line, "\r"))
		}
	}
	for _, notice := range formatted.Notices {
		p.colorScheme.Notice.Fprintln(p.out, notice)
	}
}

func (p *ConsolePrinter) printBatchStart(runID string, b *events.Batch) {
	p.colorScheme.Separator.Fprintln(p.out, strings.Repeat("=", p.getTerminalWidth()))
	p.colorScheme.Separator.Fprintf(p.out, p.t(keyBatchStart), string(b.Action), b.Total, strings.Join(b.Destinations, ", "))
	p.colorScheme.Timestamp.Fprintf(p.out, "  %s\n", runID)
}

func (p *ConsolePrinter) printResult(r *request.ReplayResult) {
	name := runewidth.FillRight(runewidth.Truncate(r.ResourceName, nameColumnWidth, "…"), nameColumnWidth)

	fmt.Fprintf(p.out, "%3d ", r.Sequence+1)
	p.getMethodColor(methodFor(r.Action)).Fprintf(p.out, "%-6s ", string(r.Action))
	p.colorScheme.Property.Fprintf(p.out, "p%-12s ", r.DestinationPropertyID)
	fmt.Fprint(p.out, name, " ")

	if r.Succeeded() {
		p.colorScheme.Success.Fprintf(p.out, "%s %d", p.t(keyResultOK), r.StatusCode)
		fmt.Fprintf(p.out, "  %s", r.NewResourceID)
	} else {
		p.colorScheme.Failure.Fprintf(p.out, "%s", p.t(keyResultFailed))
		if r.StatusCode != 0 {
			p.colorScheme.Failure.Fprintf(p.out, " %d", r.StatusCode)
		}
		if r.FailureKind != request.FailureNone {
			fmt.Fprintf(p.out, " [%s]", r.FailureKind)
		}
	}
	p.colorScheme.Timestamp.Fprintf(p.out, "  %dms\n", r.DurationMs)

	if !r.Succeeded() && r.Error != "" {
		p.colorScheme.Failure.Fprintf(p.out, "    %s\n", r.Error)
	}
	if link := results.LinkWithTemplate(p.linkTemplate, *r); link != "" {
		fmt.Fprintf(p.out, "    %s: ", p.t(keyResultLink))
		p.colorScheme.Link.Fprintln(p.out, link)
	}
}

func (p *ConsolePrinter) printBatchComplete(b *events.Batch) {
	summary := fmt.Sprintf(p.t(keyBatchComplete), b.Succeeded, b.Failed)
	if b.Cancelled {
		summary += " " + p.t(keyBatchCancelled)
	}
	if b.Failed > 0 || b.Cancelled {
		p.colorScheme.Failure.Fprintln(p.out, summary)
	} else {
		p.colorScheme.Success.Fprintln(p.out, summary)
	}
	if b.Error != "" {
		p.colorScheme.Failure.Fprintln(p.out, b.Error)
	}
	fmt.Fprintln(p.out)
}

// getMethodColor gets the corresponding color based on HTTP method
func (p *ConsolePrinter) getMethodColor(method string) *color.Color {
	switch strings.ToUpper(method) {
	case "POST":
		return p.colorScheme.MethodPOST
	case "PUT":
		return p.colorScheme.MethodPUT
	case "DELETE":
		return p.colorScheme.MethodDELETE
	default:
		return color.New(color.FgWhite, color.Bold)
	}
}

// isSensitiveHeader checks if it's sensitive header information
func (p *ConsolePrinter) isSensitiveHeader(key string) bool {
	switch key {
	case "authorization", "cookie", "x-gafe4-xsrf-token", "x-csrf-token", "x-auth-token":
		return true
	}
	return false
}

func methodFor(action request.ActionKind) string {
	switch action {
	case request.ActionCreate:
		return "POST"
	case request.ActionUpdate:
		return "PUT"
	case request.ActionDelete:
		return "DELETE"
	}
	return ""
}

func quoteName(name string) string {
	if name == "" {
		return ""
	}
	return strconv.Quote(name)
}

// wrapText wraps text to fit within the specified width, preserving words
func wrapText(text string, maxWidth int) []string {
	words := strings.Fields(text)
	if maxWidth <= 0 || len(words) == 0 {
		return []string{text}
	}

	var lines []string
	current := words[0]
	currentWidth := runewidth.StringWidth(current)
	for _, word := range words[1:] {
		w := runewidth.StringWidth(word)
		if currentWidth+1+w > maxWidth {
			lines = append(lines, current)
			current, currentWidth = word, w
			continue
		}
		current += " " + word
		currentWidth += 1 + w
	}
	return append(lines, current)
}
