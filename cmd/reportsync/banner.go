package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/funnyzak/reportsync/internal/config"
	"github.com/funnyzak/reportsync/pkg/i18n"
)

const minBoxWidth = 50

// bannerOutput keeps stdout clean for JSON lines.
func bannerOutput(cfg *config.Config) io.Writer {
	if strings.EqualFold(cfg.Output.Mode, "json") {
		return os.Stderr
	}
	return os.Stdout
}

func bannerLines(cfg *config.Config, tr *i18n.Translator) (string, string, []string) {
	locale := tr.Resolve(cfg.Output.Locale)
	label := func(key string) string {
		return runewidth.FillRight(tr.Text(locale, "cli.banner."+key)+":", 18)
	}

	title := fmt.Sprintf("ReportSync v%s", version)
	subtitle := "Custom Report Capture & Replay"

	var lines []string
	lines = append(lines, fmt.Sprintf("%s http://0.0.0.0:%d%s", label("capture"), cfg.Server.Port, cfg.Server.Path))
	lines = append(lines, fmt.Sprintf("   └─ %s %s", cfg.Capture.Method, cfg.Capture.EndpointPattern))
	if cfg.Web.Enable {
		lines = append(lines, fmt.Sprintf("%s http://0.0.0.0:%d%s", label("api"), cfg.Server.Port, cfg.Web.AdminPath))
		if cfg.Web.Auth.Enable {
			lines = append(lines, fmt.Sprintf("   └─ Auth: %d user(s), %v session", len(cfg.Web.Auth.Users), cfg.Web.Auth.SessionTimeout))
		}
	} else {
		lines = append(lines, fmt.Sprintf("%s off", label("api")))
	}
	if cfg.Capture.DevTools.Enable {
		lines = append(lines, fmt.Sprintf("%s %s", label("devtools"), cfg.Capture.DevTools.URL))
	}

	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("%s %s", label("upstream"), cfg.Upstream.BaseURL))
	pacing := cfg.Replay.Pacing.Mode
	if pacing == "" {
		pacing = "fixed"
	}
	if pacing != "none" {
		pacing = fmt.Sprintf("%s (%v)", pacing, cfg.Replay.Pacing.Interval)
	}
	lines = append(lines, fmt.Sprintf("%s %s", label("pacing"), pacing))

	lines = append(lines, "")
	if cfg.Log.FileLogging.Enable {
		lines = append(lines, fmt.Sprintf("Log: %s -> %s", cfg.Log.Level, cfg.Log.FileLogging.Path))
	} else {
		lines = append(lines, fmt.Sprintf("Log: %s", cfg.Log.Level))
	}
	lines = append(lines, "", "(Press Ctrl+C to stop)")

	return title, subtitle, lines
}

func printStartupBanner(w io.Writer, cfg *config.Config, tr *i18n.Translator) {
	title, subtitle, lines := bannerLines(cfg, tr)

	maxLength := runewidth.StringWidth(title)
	for _, line := range append([]string{subtitle}, lines...) {
		if n := runewidth.StringWidth(line); n > maxLength {
			maxLength = n
		}
	}
	boxWidth := maxLength + 4
	if boxWidth < minBoxWidth {
		boxWidth = minBoxWidth
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "┌%s┐\n", strings.Repeat("─", boxWidth-2))
	fmt.Fprintln(w, boxContent(title, boxWidth, true))
	fmt.Fprintln(w, boxContent(subtitle, boxWidth, true))
	fmt.Fprintf(w, "├%s┤\n", strings.Repeat("─", boxWidth-2))
	for _, line := range lines {
		fmt.Fprintln(w, boxContent(line, boxWidth, false))
	}
	fmt.Fprintf(w, "└%s┘\n", strings.Repeat("─", boxWidth-2))
	fmt.Fprintln(w)
}

// boxContent pads content between the box borders
func boxContent(content string, boxWidth int, center bool) string {
	padding := boxWidth - 2 - runewidth.StringWidth(content)
	if padding < 2 {
		padding = 2
	}

	var leftPad, rightPad string
	if center {
		leftPad = strings.Repeat(" ", padding/2)
		rightPad = strings.Repeat(" ", padding-padding/2)
	} else {
		leftPad = "  "
		rightPad = strings.Repeat(" ", padding-2)
	}
	return "│" + leftPad + content + rightPad + "│"
}
