package formatter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mixelka/repa/internal/monitor"
	"github.com/mixelka/repa/pkg/models"
)

// TelegramFormatter formats reports and settings as Telegram HTML
type TelegramFormatter struct {
	maxLength int
}

// NewTelegramFormatter creates a new Telegram formatter
func NewTelegramFormatter() *TelegramFormatter {
	return &TelegramFormatter{
		maxLength: 4000, // Leave room for markup
	}
}

var verdictLabels = map[models.Verdict]string{
	models.VerdictHighlyRecommended: "Highly recommended",
	models.VerdictWorthConsidering:  "Worth considering",
	models.VerdictNotAGoodFit:       "Not a good fit",
}

// FormatReport formats a match report. Subject is the alert email subject, if any.
func (f *TelegramFormatter) FormatReport(r models.MatchReport, subject string) string {
	var sb strings.Builder

	if r.Status == models.ReportFailed {
		sb.WriteString("<b>Could not analyze this listing</b>\n")
		if r.ListingURL != "" {
			sb.WriteString(f.escapeHTML(r.ListingURL) + "\n")
		}
		if r.FailedStage != nil {
			sb.WriteString(fmt.Sprintf("Failed at: %s\n", f.escapeHTML(*r.FailedStage)))
		}
		if r.Recommendation != "" {
			sb.WriteString("\n" + f.escapeHTML(r.Recommendation))
		}
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("<b>Match score: %d/100</b>", r.Score))
	if label, ok := verdictLabels[r.Verdict]; ok {
		sb.WriteString(fmt.Sprintf(" · %s", label))
	}
	sb.WriteString("\n")

	title := r.ListingTitle
	if title == "" {
		title = r.ListingURL
	}
	if r.ListingURL != "" {
		sb.WriteString(fmt.Sprintf("<a href=\"%s\">%s</a>\n", f.escapeHTML(r.ListingURL), f.escapeHTML(title)))
	}
	if subject != "" {
		sb.WriteString(fmt.Sprintf("<b>From email:</b> %s\n", f.escapeHTML(subject)))
	}
	sb.WriteString("\n")

	if len(r.Matched) > 0 {
		sb.WriteString(fmt.Sprintf("<b>Matches:</b> %s\n", f.escapeHTML(criterionList(r.Matched))))
	}
	if len(r.Mismatched) > 0 {
		sb.WriteString(fmt.Sprintf("<b>Mismatches:</b> %s\n", f.escapeHTML(criterionList(r.Mismatched))))
	}

	if len(r.Highlights) > 0 {
		sb.WriteString("\n<b>Highlights:</b>\n")
		for _, h := range r.Highlights {
			sb.WriteString("• " + f.escapeHTML(h) + "\n")
		}
	}

	if r.Recommendation != "" {
		sb.WriteString("\n" + f.escapeHTML(r.Recommendation) + "\n")
	}

	if analyzed, failed := imageCounts(r.Images); analyzed+failed > 0 {
		sb.WriteString(fmt.Sprintf("\n<i>Images: %d analyzed", analyzed))
		if failed > 0 {
			sb.WriteString(fmt.Sprintf(", %d failed", failed))
		}
		sb.WriteString("</i>\n")
	}

	if r.Status == models.ReportDegraded {
		sb.WriteString("<i>Partial analysis")
		if len(r.DegradedStages) > 0 {
			sb.WriteString(": " + f.escapeHTML(strings.Join(r.DegradedStages, ", ")) + " incomplete")
		}
		sb.WriteString("</i>\n")
	}

	return f.truncate(strings.TrimRight(sb.String(), "\n"), f.maxLength)
}

// FormatContactMessage formats the suggested message to the advertiser
func (f *TelegramFormatter) FormatContactMessage(msg string) string {
	return "<b>Suggested message to the advertiser:</b>\n\n" + f.escapeHTML(msg)
}

// FormatCriteria formats a summary of saved criteria
func (f *TelegramFormatter) FormatCriteria(c models.UserCriteria) string {
	var lines []string

	if c.PropertyType != nil {
		lines = append(lines, "<b>Property type:</b> "+f.escapeHTML(titleCase(string(*c.PropertyType))))
	}
	if c.Location != nil {
		lines = append(lines, "<b>Location:</b> "+f.escapeHTML(*c.Location))
	}
	if r := rangeText(intText(c.MinRooms), intText(c.MaxRooms), ""); r != "" {
		lines = append(lines, "<b>Rooms:</b> "+r)
	}
	if r := rangeText(floatText(c.MinLivingSpace), floatText(c.MaxLivingSpace), " m²"); r != "" {
		lines = append(lines, "<b>Living space:</b> "+r)
	}
	priceLabel := "Price"
	if c.PropertyType != nil && *c.PropertyType == models.PropertyRent {
		priceLabel = "Rent"
	}
	if r := rangeText(chfText(c.MinRent), chfText(c.MaxRent), ""); r != "" {
		lines = append(lines, fmt.Sprintf("<b>%s:</b> %s", priceLabel, r))
	}
	if c.Occupants != nil {
		lines = append(lines, fmt.Sprintf("<b>Occupants:</b> %d", *c.Occupants))
	}
	if c.StartingWhen != nil {
		lines = append(lines, "<b>Move-in:</b> "+f.escapeHTML(*c.StartingWhen))
	}
	if c.Duration != nil {
		lines = append(lines, "<b>Duration:</b> "+f.escapeHTML(*c.Duration))
	}
	if len(c.AdditionalRequirements) > 0 {
		lines = append(lines, "<b>Also wanted:</b> "+f.escapeHTML(strings.Join(c.AdditionalRequirements, ", ")))
	}

	if len(lines) == 0 {
		return "No criteria saved yet. Describe the apartment you are looking for."
	}
	return strings.Join(lines, "\n")
}

// FormatMonitorStatus formats the mailbox monitoring settings of a user
func (f *TelegramFormatter) FormatMonitorStatus(p *models.UserProfile, defaultSender string, defaultKeywords models.Keywords) string {
	if !p.Configured() {
		return "Mailbox monitoring is not set up.\nUse /monitor &lt;email&gt; &lt;provider&gt; &lt;app password&gt;"
	}

	var sb strings.Builder
	state := "disabled"
	if p.Enabled {
		state = "enabled"
	}
	sb.WriteString(fmt.Sprintf("<b>Mailbox:</b> %s (%s)\n", f.escapeHTML(*p.MonitorEmail), f.escapeHTML(string(p.Provider))))
	sb.WriteString(fmt.Sprintf("<b>Monitoring:</b> %s\n", state))

	sender := defaultSender
	if p.EmailSender != nil && *p.EmailSender != "" {
		sender = *p.EmailSender
	}
	if sender == "" {
		sender = "any"
	}
	sb.WriteString(fmt.Sprintf("<b>Senders:</b> %s\n", f.escapeHTML(sender)))

	keywords := defaultKeywords
	if len(p.EmailSubjectKeywords) > 0 {
		keywords = p.EmailSubjectKeywords
	}
	if len(keywords) == 0 {
		keywords = models.Keywords{"match"}
	}
	sb.WriteString(fmt.Sprintf("<b>Subject keywords:</b> %s\n", f.escapeHTML(strings.Join(keywords, ", "))))

	if p.LastCheck != nil {
		sb.WriteString(fmt.Sprintf("<b>Last check:</b> %s", p.LastCheck.Local().Format("02.01.2006 15:04")))
	} else {
		sb.WriteString("<b>Last check:</b> never")
	}

	return sb.String()
}

// FormatRecords formats recent processed emails, newest first
func (f *TelegramFormatter) FormatRecords(recs []*models.ProcessedEmailRecord) string {
	if len(recs) == 0 {
		return "No analyzed emails yet."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("<b>Recent analyses (%d)</b>\n", len(recs)))
	for _, rec := range recs {
		entry := f.formatRecord(rec)
		if sb.Len()+len(entry) > f.maxLength {
			sb.WriteString("\n<i>... more not shown</i>")
			break
		}
		sb.WriteString("\n" + entry)
	}
	return sb.String()
}

func (f *TelegramFormatter) formatRecord(rec *models.ProcessedEmailRecord) string {
	var sb strings.Builder

	subject := rec.Subject
	if subject == "" {
		subject = "No subject"
	}
	sb.WriteString(fmt.Sprintf("<b>%s</b> · %s\n", f.escapeHTML(subject), rec.ProcessedAt.Local().Format("02.01.2006 15:04")))

	switch {
	case len(rec.ListingURLs) == 0:
		sb.WriteString("  no listing links found\n")
	case len(rec.Reports) == 0:
		sb.WriteString(fmt.Sprintf("  analysis failed for %d link(s)\n", len(rec.ListingURLs)))
	default:
		for _, lr := range rec.Reports {
			label := verdictLabels[lr.Report.Verdict]
			if label == "" {
				label = string(lr.Report.Status)
			}
			sb.WriteString(fmt.Sprintf("  %d/100 %s · %s\n", lr.Report.Score, f.escapeHTML(label), f.escapeHTML(lr.URL)))
		}
		if failed := len(rec.ListingURLs) - len(rec.Reports); failed > 0 {
			sb.WriteString(fmt.Sprintf("  %d link(s) failed\n", failed))
		}
	}
	return sb.String()
}

// FormatCheckSummary formats the result of a manual mailbox check
func (f *TelegramFormatter) FormatCheckSummary(s monitor.CheckSummary, took time.Duration) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("<b>Mailbox checked</b> in %s\n", took.Round(time.Second)))
	sb.WriteString(fmt.Sprintf("Unread emails: %d\n", s.Messages))
	sb.WriteString(fmt.Sprintf("New alerts recorded: %d (%d listing analyses)\n", s.Recorded, s.Runs))
	if s.Filtered > 0 {
		sb.WriteString(fmt.Sprintf("Skipped by filters: %d\n", s.Filtered))
	}
	if s.Duplicates > 0 {
		sb.WriteString(fmt.Sprintf("Already analyzed: %d\n", s.Duplicates))
	}
	if s.Abandoned > 0 {
		sb.WriteString(fmt.Sprintf("Left for next check: %d\n", s.Abandoned))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// EscapeHTML escapes HTML special characters for Telegram
func (f *TelegramFormatter) EscapeHTML(s string) string {
	return f.escapeHTML(s)
}

// escapeHTML escapes HTML special characters for Telegram
func (f *TelegramFormatter) escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// truncate truncates text to maxLen characters
func (f *TelegramFormatter) truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 100
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "\n\n<i>... (truncated)</i>"
}

func criterionList(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = strings.ReplaceAll(n, "_", " ")
	}
	return strings.Join(out, ", ")
}

func imageCounts(images []models.ImageAnalysisResult) (analyzed, failed int) {
	for _, img := range images {
		if img.Failed() {
			failed++
		} else {
			analyzed++
		}
	}
	return analyzed, failed
}

func rangeText(lo, hi, unit string) string {
	switch {
	case lo != "" && hi != "" && lo == hi:
		return lo + unit
	case lo != "" && hi != "":
		return lo + unit + " to " + hi + unit
	case lo != "":
		return lo + unit + "+"
	case hi != "":
		return "up to " + hi + unit
	}
	return ""
}

func intText(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func floatText(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func chfText(v *float64) string {
	if v == nil {
		return ""
	}
	return "CHF " + strconv.FormatFloat(*v, 'f', -1, 64)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
