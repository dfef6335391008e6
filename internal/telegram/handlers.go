package telegram

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"marketForecast/internal/storage"
)

var (
	// /forecast runs the pipeline now
	reForecast = regexp.MustCompile(`^/forecast(?:@[\w_]+)?$`)
	// /runs [N]
	reRuns = regexp.MustCompile(`^/runs(?:@[\w_]+)?(?:\s+(\d+))?$`)
	reHelp = regexp.MustCompile(`^/(help|start)(?:@[\w_]+)?$`)
)

// Runner runs the pipeline and returns the text report and chart paths.
type Runner interface {
	RunReport(ctx context.Context) (string, []string, error)
}

// RunLister lists recorded runs.
type RunLister interface {
	RecentRuns(limit int) ([]storage.Run, error)
}

// Handlers answers chat commands. Runs started from chat inherit ctx, so
// they stop when the server shuts down.
type Handlers struct {
	ctx     context.Context
	n       *Notifier
	runner  Runner
	runs    RunLister
	timeout time.Duration
}

func NewHandlers(ctx context.Context, n *Notifier, runner Runner, runs RunLister) *Handlers {
	return &Handlers{ctx: ctx, n: n, runner: runner, runs: runs, timeout: 10 * time.Minute}
}

func (h *Handlers) HandleMessage(chatID int64, text string) {
	txt := strings.TrimSpace(text)
	switch {
	case reForecast.MatchString(txt):
		h.handleForecast(chatID)
	case reRuns.MatchString(txt):
		limit := 5
		if g := reRuns.FindStringSubmatch(txt); len(g) == 2 && g[1] != "" {
			limit, _ = strconv.Atoi(g[1])
			if limit < 1 {
				limit = 1
			}
			if limit > 50 {
				limit = 50
			}
		}
		h.handleRuns(chatID, limit)
	case reHelp.MatchString(txt):
		h.handleHelp(chatID)
	}
}

func (h *Handlers) handleForecast(chatID int64) {
	if h.runner == nil {
		h.reply(chatID, "Forecasting is not available.")
		return
	}
	h.reply(chatID, "Running the forecast pipeline…")
	ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
	defer cancel()
	report, charts, err := h.runner.RunReport(ctx)
	if err != nil {
		h.reply(chatID, "Forecast failed: "+err.Error())
		return
	}
	for _, chunk := range splitMessage(report, maxMessageLen) {
		h.reply(chatID, chunk)
	}
	for _, path := range charts {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
		if _, err := h.n.api.Send(photo); err != nil {
			log.Error().Err(err).Str("path", path).Msg("telegram: chart upload failed")
		}
	}
}

func (h *Handlers) handleRuns(chatID int64, limit int) {
	if h.runs == nil {
		h.reply(chatID, "Run history is not configured.")
		return
	}
	runs, err := h.runs.RecentRuns(limit)
	if err != nil {
		h.reply(chatID, "Listing runs failed: "+err.Error())
		return
	}
	h.reply(chatID, FormatRuns(runs))
}

func (h *Handlers) handleHelp(chatID int64) {
	help := "Commands\n\n" +
		"- /forecast - Fetch, clean, analyse and forecast now; replies with the report and charts\n" +
		"- /runs [N] - List the last N pipeline runs (default: 5, max: 50)"
	h.reply(chatID, help)
}

func (h *Handlers) reply(chatID int64, text string) {
	if _, err := h.n.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("telegram: reply failed")
	}
}

// FormatRuns renders runs one per line, newest first.
func FormatRuns(runs []storage.Run) string {
	if len(runs) == 0 {
		return "No runs recorded yet."
	}
	var b strings.Builder
	b.WriteString("Recent runs\n")
	for _, r := range runs {
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(&b, "\n%s  %s  %s h=%d  %s", r.StartedAt.Format("2006-01-02 15:04"), r.Status, r.Target, r.Horizon, id)
		if r.Error != "" {
			fmt.Fprintf(&b, "\n  %s", r.Error)
		}
	}
	return b.String()
}
