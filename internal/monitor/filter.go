package monitor

import (
	"strings"

	"github.com/mixelka/repa/pkg/models"
)

// DefaultSubjectKeyword used when neither the user nor the config sets keywords
const DefaultSubjectKeyword = "match"

// MatchesSender reports whether from contains any of the comma-separated filters.
// An empty filter matches every sender.
func MatchesSender(filter, from string) bool {
	from = strings.ToLower(from)
	set := false
	for _, part := range strings.Split(filter, ",") {
		f := strings.ToLower(strings.TrimSpace(part))
		if f == "" {
			continue
		}
		set = true
		if strings.Contains(from, f) {
			return true
		}
	}
	return !set
}

// MatchesSubject reports whether subject contains any keyword, case-insensitive.
// No keywords matches every subject.
func MatchesSubject(keywords models.Keywords, subject string) bool {
	if len(keywords) == 0 {
		return true
	}
	subject = strings.ToLower(subject)
	for _, kw := range keywords {
		if strings.Contains(subject, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// filters effective mailbox filters of a user
type filters struct {
	sender   string
	keywords models.Keywords
}

// filtersFor resolves user filters over configured defaults
func (m *Monitor) filtersFor(p *models.UserProfile) filters {
	f := filters{
		sender:   m.cfg.DefaultSenderFilter,
		keywords: m.cfg.DefaultSubjectKeywords,
	}
	if p.EmailSender != nil && strings.TrimSpace(*p.EmailSender) != "" {
		f.sender = *p.EmailSender
	}
	if len(p.EmailSubjectKeywords) > 0 {
		f.keywords = p.EmailSubjectKeywords
	}
	if len(f.keywords) == 0 {
		f.keywords = models.Keywords{DefaultSubjectKeyword}
	}
	return f
}

func (f filters) match(from, subject string) bool {
	return MatchesSender(f.sender, from) && MatchesSubject(f.keywords, subject)
}
