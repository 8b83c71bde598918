package verify

import (
	"fmt"
	"net"
	"strings"

	"github.com/oldschoolag/Faivr"
)

// Method is how an agent owner proves control of a domain.
type Method string

const (
	MethodDNS    Method = "dns"
	MethodFile   Method = "file"
	MethodSocial Method = "social"
)

// Methods lists every supported method in the order they are offered to users.
var Methods = []Method{MethodDNS, MethodFile, MethodSocial}

// ParseMethod maps a wire value to a Method. "twitter" is accepted as an alias
// of MethodSocial for clients built against the first version of the API.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodDNS, MethodFile, MethodSocial:
		return m, nil
	case "twitter":
		return MethodSocial, nil
	default:
		return "", fmt.Errorf("%w: unknown method %q", ErrInvalidRequest, s)
	}
}

func (m Method) Valid() error {
	_, err := ParseMethod(string(m))
	return err
}

// Instructions tells the agent owner where to publish token.
func (m Method) Instructions(agentID, domain, token string) string {
	switch m {
	case MethodDNS:
		host, _ := SplitDomain(domain)
		return fmt.Sprintf("Add a DNS TXT record to %s with the value: %s", host, DNSRecordValue(token))
	case MethodFile:
		return fmt.Sprintf("Host a JSON file at %s with the content: { \"token\": \"%s\" }", WellKnownURL(domain), token)
	case MethodSocial:
		return fmt.Sprintf("Post the following from your official account:\n\n%s", SocialPost(agentID, token))
	default:
		return ""
	}
}

// DNSRecordValue is the exact TXT record value the DNS checker looks for.
func DNSRecordValue(token string) string {
	return faivr.DNSRecordPrefix + token
}

// SplitDomain separates an optional port from a claimed domain. A domain
// without a port is returned as is.
func SplitDomain(domain string) (host, port string) {
	domain = strings.TrimSuffix(domain, "/")

	if h, p, err := net.SplitHostPort(domain); err == nil {
		return h, p
	}

	return domain, ""
}

// WellKnownURL is the location the file checker fetches for domain.
func WellKnownURL(domain string) string {
	return "https://" + strings.TrimSuffix(domain, "/") + faivr.WellKnownPath
}

// SocialPost is the message an agent owner posts from their official account.
func SocialPost(agentID, token string) string {
	return fmt.Sprintf("I'm verifying agent #%s on %s 🔐 Code: %s", agentID, faivr.SocialHandle, token)
}
