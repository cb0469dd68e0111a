package nettap

import "strings"

type SerializationMode string

const (
	ModeJSON    SerializationMode = "json"
	ModeText    SerializationMode = "text"
	ModeDataURI SerializationMode = "dataUri"
)

// Rule classifies observed traffic. URL matching is either exact
// equality or substring containment; the first matching rule wins.
type Rule struct {
	Label  string
	URL    string
	Method string
	Exact  bool
	Mode   SerializationMode
}

func (r Rule) matches(method, url string) bool {
	if !strings.EqualFold(r.Method, method) {
		return false
	}
	if r.Exact {
		return url == r.URL
	}
	return strings.Contains(url, r.URL)
}

func match(rules []Rule, method, url string) (Rule, bool) {
	for _, r := range rules {
		if r.matches(method, url) {
			return r, true
		}
	}
	return Rule{}, false
}
