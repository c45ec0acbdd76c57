package telemetry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zanz1n/stunning-waffle/common"
)

// Schema is the channel set a consumer build expects from its producer.
// An empty schema accepts any non-empty set of channels.
type Schema struct {
	Channels []string
}

// FirmwareSchema is the schema of the single thermocouple firmware.
func FirmwareSchema() Schema {
	return Schema{Channels: []string{common.DefaultChannel}}
}

// IsGeneric reports whether the schema accepts any channel set.
func (s Schema) IsGeneric() bool { return len(s.Channels) == 0 }

// Check verifies that r carries exactly the schema channels.
func (s Schema) Check(r common.Reading) error {
	if s.IsGeneric() {
		return nil
	}

	want := make(map[string]struct{}, len(s.Channels))
	for _, name := range s.Channels {
		want[name] = struct{}{}
	}

	var extra []string
	for _, name := range r.Names() {
		if _, ok := want[name]; !ok {
			extra = append(extra, name)
			continue
		}
		delete(want, name)
	}

	if len(extra) == 0 && len(want) == 0 {
		return nil
	}

	missing := make([]string, 0, len(want))
	for name := range want {
		missing = append(missing, name)
	}
	sort.Strings(missing)

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing "+quoteAll(missing))
	}
	if len(extra) > 0 {
		parts = append(parts, "unexpected "+quoteAll(extra))
	}
	return fmt.Errorf("%s", strings.Join(parts, ", "))
}

func quoteAll(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(q, " ")
}
