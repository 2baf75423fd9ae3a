package receiver

import (
	"context"
	"fmt"
	"strings"

	"docbot/internal/domain"
)

// handleText answers events that carry no attachment.
func (r *Receiver) handleText(ctx context.Context, ev domain.InboundEvent) string {
	switch ev.Command() {
	case "start", "help":
		return r.welcomeText()
	case "limits":
		return r.limitsText(ctx, ev.SenderID)
	case "history":
		return r.historyText(ctx, ev.SenderID)
	case "":
		return fmt.Sprintf("Send me a %s file and I will reply with its text. Type /help for details.", r.formatList())
	default:
		return fmt.Sprintf("Unknown command /%s. Type /help for the list of commands.", ev.Command())
	}
}

func (r *Receiver) welcomeText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Send me a %s file and I will reply with the text it contains.\n\n", r.formatList())
	if r.quota.Enabled() {
		fmt.Fprintf(&sb, "Limits: %s.\n\n", limitSummary(Usage{PerHour: r.quota.perHour, PerDay: r.quota.perDay}))
	}
	sb.WriteString("Commands:\n")
	sb.WriteString("/help - show this message\n")
	sb.WriteString("/limits - show how many files you can still send\n")
	sb.WriteString("/history - show your recent files")
	return sb.String()
}

func (r *Receiver) limitsText(ctx context.Context, senderID string) string {
	if !r.quota.Enabled() {
		return "There are no limits on how many files you can send."
	}
	u, err := r.quota.Remaining(ctx, senderID)
	if err != nil {
		r.logger.Warn("quota lookup failed", "sender", senderID, "error", err)
		return "Could not look up your usage right now."
	}
	var sb strings.Builder
	if u.PerHour > 0 {
		fmt.Fprintf(&sb, "Last hour: %d of %d files\n", u.Hour, u.PerHour)
	}
	if u.PerDay > 0 {
		fmt.Fprintf(&sb, "Last 24 hours: %d of %d files\n", u.Day, u.PerDay)
	}
	fmt.Fprintf(&sb, "You can send %d more now.", u.Left())
	return sb.String()
}

func (r *Receiver) historyText(ctx context.Context, senderID string) string {
	if r.log == nil {
		return "History is not enabled."
	}
	recs, err := r.log.RecentExtractions(ctx, senderID, historyLimit)
	if err != nil {
		r.logger.Warn("history lookup failed", "sender", senderID, "error", err)
		return "Could not load your history right now."
	}
	if len(recs) == 0 {
		return "You have not sent any files yet."
	}
	var sb strings.Builder
	sb.WriteString("Your recent files:\n")
	for _, rec := range recs {
		fmt.Fprintf(&sb, "- %s %s: ", rec.CreatedAt.Format("2006-01-02 15:04"), rec.FileName)
		if rec.Status == domain.StatusOK {
			fmt.Fprintf(&sb, "%s, %d characters\n", pageCount(rec.Pages), rec.Chars)
		} else {
			fmt.Fprintf(&sb, "failed (%s)\n", rec.ErrorKind)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
