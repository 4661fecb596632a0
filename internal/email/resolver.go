package email

import (
	"fmt"
	"strings"

	"github.com/mixelka/repa/pkg/models"
)

// IMAP servers of the supported providers
var providerServers = map[models.EmailProvider]string{
	models.ProviderGmail:   "imap.gmail.com:993",
	models.ProviderOutlook: "outlook.office365.com:993",
	models.ProviderYahoo:   "imap.mail.yahoo.com:993",
	models.ProviderICloud:  "imap.mail.me.com:993",
}

// Address domains that imply a provider
var domainProviders = map[string]models.EmailProvider{
	"gmail.com":      models.ProviderGmail,
	"googlemail.com": models.ProviderGmail,
	"outlook.com":    models.ProviderOutlook,
	"hotmail.com":    models.ProviderOutlook,
	"hotmail.ch":     models.ProviderOutlook,
	"live.com":       models.ProviderOutlook,
	"msn.com":        models.ProviderOutlook,
	"yahoo.com":      models.ProviderYahoo,
	"yahoo.co.uk":    models.ProviderYahoo,
	"yahoo.de":       models.ProviderYahoo,
	"icloud.com":     models.ProviderICloud,
	"me.com":         models.ProviderICloud,
	"mac.com":        models.ProviderICloud,
}

// ServerForProvider returns host:port of the provider's IMAP server
func ServerForProvider(p models.EmailProvider) (string, error) {
	server, ok := providerServers[p]
	if !ok {
		return "", fmt.Errorf("unsupported email provider %q", p)
	}
	return server, nil
}

// ParseProvider validates a provider name typed by the user
func ParseProvider(s string) (models.EmailProvider, error) {
	p := models.EmailProvider(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := providerServers[p]; !ok {
		return "", fmt.Errorf("unsupported email provider %q, use gmail, outlook, yahoo or icloud", s)
	}
	return p, nil
}

// ProviderForAddress guesses the provider from the address domain
func ProviderForAddress(address string) (models.EmailProvider, bool) {
	p, ok := domainProviders[GetDomainFromEmail(address)]
	return p, ok
}

// GetDomainFromEmail extracts domain from email address
func GetDomainFromEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(parts[1]))
}
