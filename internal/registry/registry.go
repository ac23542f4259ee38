// Package registry holds the fixed, ordered set of work units a run
// processes: one per subject, or one per subject/session pair. The set is
// computed once by the dataset-preparation tooling and is immutable for the
// lifetime of a run.
package registry

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Level selects the granularity work units are keyed at.
type Level string

const (
	LevelSubject Level = "subject"
	LevelSession Level = "session"
)

// ParseLevel validates a processing-level string from config.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "subject", "":
		return LevelSubject, nil
	case "session":
		return LevelSession, nil
	default:
		return "", fmt.Errorf("unknown processing level %q (want subject or session)", s)
	}
}

// Key identifies one work unit. SesID is empty at subject level and
// non-empty at session level.
type Key struct {
	SubID string
	SesID string
}

// String renders the key in BIDS path form.
func (k Key) String() string {
	if k.SesID == "" {
		return k.SubID
	}
	return k.SubID + "/" + k.SesID
}

// Compare orders keys lexicographically by (SubID, SesID).
func (k Key) Compare(o Key) int {
	if c := strings.Compare(k.SubID, o.SubID); c != 0 {
		return c
	}
	return strings.Compare(k.SesID, o.SesID)
}

// Less reports whether k orders before o.
func (k Key) Less(o Key) bool { return k.Compare(o) < 0 }

// Registry is the immutable, sorted, duplicate-free set of work-unit keys.
type Registry struct {
	level Level
	keys  []Key
}

// Level returns the processing level the registry was built at.
func (r *Registry) Level() Level { return r.level }

// Keys returns the units in their canonical order. Callers must not mutate
// the returned slice.
func (r *Registry) Keys() []Key { return r.keys }

// Len returns the number of work units.
func (r *Registry) Len() int { return len(r.keys) }

// Contains reports whether key is part of the run.
func (r *Registry) Contains(key Key) bool {
	i := sort.Search(len(r.keys), func(i int) bool {
		return r.keys[i].Compare(key) >= 0
	})
	return i < len(r.keys) && r.keys[i] == key
}

// New builds a registry from keys, sorting and validating them.
func New(level Level, keys []Key) (*Registry, error) {
	sorted := make([]Key, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	for i, k := range sorted {
		if err := validateKey(level, k); err != nil {
			return nil, err
		}
		if i > 0 && sorted[i-1] == k {
			return nil, fmt.Errorf("duplicate work unit %s in inclusion list", k)
		}
	}
	return &Registry{level: level, keys: sorted}, nil
}

func validateKey(level Level, k Key) error {
	if k.SubID == "" {
		return fmt.Errorf("work unit with empty sub_id")
	}
	if !strings.HasPrefix(k.SubID, "sub-") {
		return fmt.Errorf("work unit %q: sub_id must start with sub-", k.SubID)
	}
	switch level {
	case LevelSubject:
		if k.SesID != "" {
			return fmt.Errorf("work unit %s: ses_id set at subject level", k)
		}
	case LevelSession:
		if k.SesID == "" {
			return fmt.Errorf("work unit %s: missing ses_id at session level", k)
		}
		if !strings.HasPrefix(k.SesID, "ses-") {
			return fmt.Errorf("work unit %s: ses_id must start with ses-", k)
		}
	}
	return nil
}

// Load reads the inclusion list CSV written by the dataset-preparation step.
// The file has a header of sub_id (subject level) or sub_id,ses_id (session
// level); rows are validated against the requested level.
func Load(path string, level Level) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open inclusion list: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse inclusion list %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("inclusion list %s is empty", path)
	}

	header := rows[0]
	switch level {
	case LevelSubject:
		if len(header) != 1 || header[0] != "sub_id" {
			return nil, fmt.Errorf("inclusion list %s: want header sub_id, got %v", path, header)
		}
	case LevelSession:
		if len(header) != 2 || header[0] != "sub_id" || header[1] != "ses_id" {
			return nil, fmt.Errorf("inclusion list %s: want header sub_id,ses_id, got %v", path, header)
		}
	}

	keys := make([]Key, 0, len(rows)-1)
	for i, row := range rows[1:] {
		k := Key{SubID: strings.TrimSpace(row[0])}
		if level == LevelSession {
			if len(row) < 2 {
				return nil, fmt.Errorf("inclusion list %s row %d: missing ses_id", path, i+2)
			}
			k.SesID = strings.TrimSpace(row[1])
		}
		keys = append(keys, k)
	}
	return New(level, keys)
}
