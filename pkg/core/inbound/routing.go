package inbound

import "regexp"

// DefaultOrganization receives mail without an org tag or a known deal code.
const DefaultOrganization = "default"

var (
	plusTag        = regexp.MustCompile(`\+([^@]+)@`)
	subjectBracket = regexp.MustCompile(`(?i)(?:Re:|Fwd:|FW:)?\s*\[([A-Za-z0-9_-]+)\]`)
	subjectDeal    = regexp.MustCompile(`(?i)Deal[:\s]+([A-Za-z0-9_-]+)`)
)

// OrgTag returns the +tag of an address: deals+org123@host -> org123.
func OrgTag(address string) (string, bool) {
	if m := plusTag.FindStringSubmatch(address); m != nil {
		return m[1], true
	}
	return "", false
}

// OrganizationOf returns the org tag of the first To address carrying one.
func (e *Email) OrganizationOf() (string, bool) {
	for _, addr := range e.To {
		if org, ok := OrgTag(addr); ok {
			return org, true
		}
	}
	return "", false
}

// DealCodeFromSubject finds "[CODE]" or "Deal: CODE" in a subject line.
func DealCodeFromSubject(subject string) (string, bool) {
	if m := subjectBracket.FindStringSubmatch(subject); m != nil {
		return m[1], true
	}
	if m := subjectDeal.FindStringSubmatch(subject); m != nil {
		return m[1], true
	}
	return "", false
}
