package metric

import (
	"fmt"
	"sort"
	"strings"

	"github.com/thoas/go-funk"
)

// Metrics is a snapshot of named counters of an exchange, e.g. bytes written per buffer.
type Metrics map[string]uint64

// Add merges two metrics. When a key collides, it sums two values.
func (m Metrics) Add(o Metrics) {
	for k, v := range o {
		m[k] += v
	}
}

// WithPrefix returns new metrics where all keys are prefixed with given prefix.
func (m Metrics) WithPrefix(p string) Metrics {
	prefixed := make(Metrics, len(m))
	for k, v := range m {
		prefixed[p+k] = v
	}
	return prefixed
}

// Filter returns metrics whose keys start with given prefix, with the prefix trimmed.
func (m Metrics) Filter(prefix string) Metrics {
	filtered := make(Metrics)
	for k, v := range m {
		if strings.HasPrefix(k, prefix) {
			filtered[strings.TrimPrefix(k, prefix)] = v
		}
	}
	return filtered
}

func (m Metrics) String() string {
	keys := funk.Keys(m).([]string)
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		sb.WriteString(fmt.Sprintf(" - %s: %d\n", key, m[key]))
	}
	return sb.String()
}
