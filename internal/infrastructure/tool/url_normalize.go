package tool

import (
	"hash/fnv"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// trackingParams is the set of query keys stripped during URL
// normalization: campaign/referrer tracking params that don't change
// what a URL points at.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"utm_id":       true,
	"gclid":        true,
	"fbclid":       true,
	"msclkid":      true,
	"ref":          true,
	"ref_src":      true,
}

// NormalizeURL case-folds the scheme and host, strips a default port,
// drops tracking query params, sorts the remaining query params,
// removes a trailing slash (except on the root path), and discards any
// fragment. Two differently-ordered equivalent URLs normalize to the
// same string.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(stripDefaultPort(u.Scheme, u.Host))
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		if trackingParams[strings.ToLower(key)] {
			q.Del(key)
		}
	}
	u.RawQuery = sortedEncode(q)

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String()
}

func stripDefaultPort(scheme, host string) string {
	switch scheme {
	case "http":
		return strings.TrimSuffix(host, ":80")
	case "https":
		return strings.TrimSuffix(host, ":443")
	default:
		return host
	}
}

// sortedEncode mirrors url.Values.Encode but is spelled out explicitly
// since Encode already sorts by key — kept as a named step so the
// normalization sequence above stays self-documenting.
func sortedEncode(q url.Values) string {
	return q.Encode()
}

// SearchCacheKey computes the search-result cache key: the normalized
// (lowercased, trimmed) query plus an order-independent hash of the
// engine set, so two requests for the same query against the same
// engines in a different order hit the same cache entry.
func SearchCacheKey(query string, engines []string) string {
	normalizedQuery := strings.ToLower(strings.TrimSpace(query))

	sorted := append([]string(nil), engines...)
	sort.Strings(sorted)

	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(sorted, ",")))

	return normalizedQuery + ":" + strconv.FormatUint(h.Sum64(), 16)
}
