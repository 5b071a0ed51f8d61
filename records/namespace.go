package records

import (
	"strings"
)

// Namespace is an identifier scheme under which an article may carry a
// non-canonical identifier, e.g. "pmid" or "doi".
type Namespace string

const (
	NamespacePMC  Namespace = "pmc"
	NamespacePMID Namespace = "pmid"
	NamespaceDOI  Namespace = "doi"
	NamespacePII  Namespace = "pii"
)

// Normalizer maps a raw identifier value to the form used for matching.
// An empty result means the value carries no identifier.
type Normalizer func(string) string

var (
	namespaceOrder []Namespace
	normalizers    = map[Namespace]Normalizer{}
)

func init() {
	RegisterNamespace(NamespacePMC, strings.TrimSpace)
	RegisterNamespace(NamespacePMID, normalizePMID)
	RegisterNamespace(NamespaceDOI, normalizeDOI)
	RegisterNamespace(NamespacePII, strings.TrimSpace)
}

// RegisterNamespace adds an identifier namespace. Records expose its values
// under "article_<ns>", references name it in "id_type". Registering an
// existing namespace replaces its normalizer. Not safe for concurrent use;
// call it during program initialization.
func RegisterNamespace(ns Namespace, normalize Normalizer) {
	if normalize == nil {
		normalize = strings.TrimSpace
	}
	if _, ok := normalizers[ns]; !ok {
		namespaceOrder = append(namespaceOrder, ns)
	}
	normalizers[ns] = normalize
}

// Namespaces returns the registered namespaces in registration order.
func Namespaces() []Namespace {
	out := make([]Namespace, len(namespaceOrder))
	copy(out, namespaceOrder)
	return out
}

// Known reports whether ns has been registered.
func (ns Namespace) Known() bool {
	_, ok := normalizers[ns]
	return ok
}

// Normalize returns the matching form of value. Unregistered namespaces
// only get their whitespace trimmed.
func (ns Namespace) Normalize(value string) string {
	if fn, ok := normalizers[ns]; ok {
		return fn(value)
	}
	return strings.TrimSpace(value)
}

func normalizeDOI(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "https://doi.org/")
	s = strings.TrimPrefix(s, "http://doi.org/")
	s = strings.TrimPrefix(s, "doi:")
	return strings.TrimSpace(s)
}

// normalizePMID drops an optional "PMID:" label. Anything that is not a plain
// run of digits afterwards is kept as written and only matches itself.
func normalizePMID(s string) string {
	s = strings.TrimSpace(s)
	v := s
	if len(v) >= 4 && strings.EqualFold(v[:4], "pmid") {
		v = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v[4:]), ":"))
	}
	if v == "" {
		return s
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return s
		}
	}
	return v
}
