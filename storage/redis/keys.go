package redis

import (
	"fmt"
	"strings"

	"github.com/poiesic/chatkeep/storage"
)

// Key layout, all below the backend prefix:
//
//	{prefix}:tbl:{table}                      -> mus-encoded family list
//	{prefix}:idx:{table}:{family}             -> ZSET of row keys, score 0, lex ordered
//	{prefix}:row:{table}:{family}:{rowKey}    -> HASH column -> value
//
// Table and family names may not contain ':', so the row key is always
// the unambiguous trailing segment.

const keySep = ":"

func (b *Backend) schemaKey(table string) string {
	return b.prefix + keySep + "tbl" + keySep + table
}

func (b *Backend) indexKey(table, family string) string {
	return b.prefix + keySep + "idx" + keySep + table + keySep + family
}

func (b *Backend) rowKey(table, family, key string) string {
	return b.prefix + keySep + "row" + keySep + table + keySep + family + keySep + key
}

// validateName rejects empty names and names containing NUL. Table and
// family names additionally may not contain the key separator.
func validateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty %s", storage.ErrInvalidKey, kind)
	}
	if strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("%w: %s %q contains NUL", storage.ErrInvalidKey, kind, name)
	}
	if (kind == "table" || kind == "family") && strings.Contains(name, keySep) {
		return fmt.Errorf("%w: %s %q contains %q", storage.ErrInvalidKey, kind, name, keySep)
	}
	return nil
}

func validateMutation(m *storage.Mutation) error {
	if m == nil {
		return fmt.Errorf("%w: nil mutation", storage.ErrInvalidKey)
	}
	if err := validateName("row key", m.Key); err != nil {
		return err
	}
	for family, cells := range m.Columns {
		if err := validateName("family", family); err != nil {
			return err
		}
		for column := range cells {
			if err := validateName("column", column); err != nil {
				return err
			}
		}
	}
	return nil
}

// lexMin and lexMax turn a half-open [start, end) range into ZRANGEBYLEX bounds.
func lexMin(start string) string {
	if start == "" {
		return "-"
	}
	return "[" + start
}

func lexMax(end string) string {
	return "(" + end
}
