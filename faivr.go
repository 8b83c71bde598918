// Package faivr contains the version number and shared constants of the FAIVR
// verification and support service.
package faivr

import "time"

// Version is the current version of the service.
//
// This variable is set at build time using the -X linker flag. If not set,
// it defaults to "devel".
var Version = "devel"

// ProductPrefix is prepended to every externally visible proof artifact. It
// must not change once instructions have been handed out to agent owners.
const ProductPrefix = "faivr"

// DNSRecordPrefix is the prefix of the TXT record value an agent owner adds to
// their domain, followed by the challenge token.
const DNSRecordPrefix = ProductPrefix + "-verify="

// WellKnownPath is the path of the hosted verification document.
const WellKnownPath = "/.well-known/" + ProductPrefix + "-verification.json"

// SocialHandle is the account mentioned in social verification posts.
const SocialHandle = "@faivr_ai"

// ChallengeExpiry is how long an issued challenge may be checked before the
// owner has to request a new one.
const ChallengeExpiry = time.Hour

// CheckTimeout is the default deadline for a single outbound proof lookup.
const CheckTimeout = 10 * time.Second

// BasePrefix is a global prefix for all routes, set from the command line.
var BasePrefix = ""

// APIPrefix is the path every JSON endpoint is served under.
const APIPrefix = "/api/"

// ChatRateLimit is the number of chat requests a single client may make per
// ChatRateWindow.
const (
	ChatRateLimit  = 20
	ChatRateWindow = time.Minute
)
