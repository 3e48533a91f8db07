package app

import (
	"regexp"
	"strings"
)

var (
	subscriberNumberPattern = regexp.MustCompile(`^254\d{9}$`)
	billPayMSISDNPattern    = regexp.MustCompile(`^2547\d{8}$`)
	nonDigitPattern         = regexp.MustCompile(`\D`)
	nonAlphanumericPattern  = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// NormalizePhone maps a locally formatted Kenyan phone number to the canonical
// subscriber-number format the provider requires (2547XXXXXXXX). Pure; callers
// must check the result with IsValidSubscriberNumber before contacting the
// gateway.
func NormalizePhone(raw string) string {
	p := nonDigitPattern.ReplaceAllString(strings.TrimSpace(raw), "")
	if p == "" {
		return p
	}
	if strings.HasPrefix(p, "0") {
		p = "254" + p[1:]
	}
	// bare subscriber form, e.g. 7XXXXXXXX
	if len(p) == 9 && strings.HasPrefix(p, "7") {
		p = "254" + p
	}
	return p
}

// IsValidSubscriberNumber reports whether the value is a canonical 254XXXXXXXXX
// subscriber number.
func IsValidSubscriberNumber(phone string) bool {
	return subscriberNumberPattern.MatchString(phone)
}

// IsValidBillPayMSISDN applies the stricter format the C2B validation phase
// expects from the provider.
func IsValidBillPayMSISDN(msisdn string) bool {
	return billPayMSISDNPattern.MatchString(msisdn)
}

// NormalizeMemberNo maps a free-text bill reference to the internal member
// number format: strip non-alphanumerics, uppercase, insert a dash after the
// first three characters (e.g. "tpsk1234" -> "TPS-K1234"). References of three
// characters or fewer are returned cleaned but undashed.
func NormalizeMemberNo(raw string) string {
	cleaned := strings.ToUpper(nonAlphanumericPattern.ReplaceAllString(raw, ""))
	if len(cleaned) <= 3 {
		return cleaned
	}
	return cleaned[:3] + "-" + cleaned[3:]
}
