// Package parser decodes CT log entries and applies the domain-suffix
// filter (SPEC_FULL.md §4.5). The X.509/precertificate parser itself
// is treated as a library: decoding reuses
// github.com/google/certificate-transparency-go's MerkleTreeLeaf and
// certificate types exactly as scanner/matcher.go and
// trillian/util/log_leaf.go do in the teacher repo, rather than
// re-implementing ASN.1/TLS decoding.
package parser

import (
	"fmt"
	"strings"
	"time"

	ct "github.com/google/certificate-transparency-go"

	"github.com/ctfleet/ctfleet/internal/model"
)

// Filter matches DNS names (CN and SAN) ending in Suffix, case
// insensitive, on a dot boundary, per spec.md §4.5.
type Filter struct {
	Suffix string
}

// NewFilter normalizes suffix to lower case, strips one leading dot (so
// ".jp" and "jp" behave the same), and returns a Filter.
func NewFilter(suffix string) Filter {
	return Filter{Suffix: strings.TrimPrefix(strings.ToLower(suffix), ".")}
}

// Matches reports whether any of names ends with f.Suffix on a dot
// boundary (or equals it exactly).
func (f Filter) Matches(names []string) bool {
	for _, n := range names {
		if f.matchesOne(n) {
			return true
		}
	}
	return false
}

func (f Filter) matchesOne(name string) bool {
	name = strings.ToLower(name)
	if name == f.Suffix {
		return true
	}
	return strings.HasSuffix(name, "."+f.Suffix)
}

// ParseLeaf decodes one raw CT log leaf entry (as returned from
// get-entries, at position index in the log) and, if its names pass
// filter, returns a Certificate record with CtEntry holding the
// original leaf bytes and Fingerprint populated for dedupe.
//
// Returns ok=false (with no error) when the leaf parses but its names
// do not match filter; callers should simply discard it.
func ParseLeaf(leaf *ct.LeafEntry, index int64, logURL, logName string, filter Filter) (cert model.Certificate, ok bool, err error) {
	entry, err := ct.LogEntryFromLeaf(index, leaf)
	if entry == nil {
		return model.Certificate{}, false, fmt.Errorf("parser: decode leaf %d: %w", index, err)
	}

	var names []string
	var cn, issuer, serial string
	var notBefore, notAfter time.Time

	switch {
	case entry.X509Cert != nil:
		c := entry.X509Cert
		names = append([]string{c.Subject.CommonName}, c.DNSNames...)
		cn, issuer, serial = c.Subject.CommonName, c.Issuer.String(), c.SerialNumber.String()
		notBefore, notAfter = c.NotBefore, c.NotAfter
	case entry.Precert != nil:
		p := entry.Precert.TBSCertificate
		names = append([]string{p.Subject.CommonName}, p.DNSNames...)
		cn, issuer, serial = p.Subject.CommonName, p.Issuer.String(), p.SerialNumber.String()
		notBefore, notAfter = p.NotBefore, p.NotAfter
	default:
		return model.Certificate{}, false, fmt.Errorf("parser: leaf %d is neither cert nor precert", index)
	}

	if !filter.Matches(names) {
		return model.Certificate{}, false, nil
	}

	return model.Certificate{
		CtEntry: leaf.LeafInput,
		LogURL:  logURL,
		LogName: logName,
		CtIndex: index,
		Fingerprint: model.CertFingerprint{
			Issuer:       issuer,
			SerialNumber: serial,
			NotBefore:    notBefore,
			NotAfter:     notAfter,
			CommonName:   cn,
		},
	}, true, nil
}
