package whitelist

import (
	"net/mail"
	"strings"

	"go.uber.org/zap"
)

// Checker decides whether a message sender belongs to one of the trusted domains
type Checker struct {
	domains []string
	logger  *zap.Logger
}

// NewChecker creates a new sender domain checker
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	normalized := make([]string, 0, len(domains))
	for _, domain := range domains {
		domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "@")
		if domain != "" {
			normalized = append(normalized, domain)
		}
	}

	if len(normalized) > 0 && logger != nil {
		logger.Info("Initialized sender domain checker", zap.Strings("domains", normalized))
	}

	return &Checker{
		domains: normalized,
		logger:  logger,
	}
}

// Allows reports whether from, a bare address or a full From header, was sent by one
// of the domains or a subdomain of one. An empty checker allows everything.
func (c *Checker) Allows(from string) bool {
	if len(c.domains) == 0 {
		return true
	}

	domain := senderDomain(from)
	if domain == "" {
		return false
	}

	for _, trusted := range c.domains {
		if domain == trusted || strings.HasSuffix(domain, "."+trusted) {
			return true
		}
	}

	if c.logger != nil {
		c.logger.Debug("Sender domain not trusted", zap.String("domain", domain))
	}
	return false
}

// senderDomain extracts the lowercase domain of an address
func senderDomain(from string) string {
	address := from
	if parsed, err := mail.ParseAddress(from); err == nil {
		address = parsed.Address
	}
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(strings.Trim(address[at+1:], "> "))
}
