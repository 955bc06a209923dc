package badger

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/poiesic/chatkeep/storage"
)

// Key prefixes for different data types
const (
	schemaPrefix = "tbl"
	cellPrefix   = "row"
	keySep       = byte(0)
)

// makeSchemaKey generates the key holding a table's column families.
// Format: tbl\x00table
func makeSchemaKey(table string) []byte {
	buf := make([]byte, 0, len(schemaPrefix)+1+len(table))
	buf = append(buf, schemaPrefix...)
	buf = append(buf, keySep)
	return append(buf, table...)
}

// makeTablePrefix generates the prefix shared by every cell of a table.
// Format: row\x00table\x00
func makeTablePrefix(table string) []byte {
	buf := make([]byte, 0, len(cellPrefix)+len(table)+2)
	buf = append(buf, cellPrefix...)
	buf = append(buf, keySep)
	buf = append(buf, table...)
	return append(buf, keySep)
}

// makeFamilyPrefix generates the prefix shared by every cell of one family.
// Format: row\x00table\x00family\x00
func makeFamilyPrefix(table, family string) []byte {
	prefix := makeTablePrefix(table)
	buf := make([]byte, 0, len(prefix)+len(family)+1)
	buf = append(buf, prefix...)
	buf = append(buf, family...)
	return append(buf, keySep)
}

// makeRowPrefix generates the prefix of all cells of one row in one family.
// Format: row\x00table\x00family\x00rowkey\x00
func makeRowPrefix(table, family, rowKey string) []byte {
	prefix := makeFamilyPrefix(table, family)
	buf := make([]byte, 0, len(prefix)+len(rowKey)+1)
	buf = append(buf, prefix...)
	buf = append(buf, rowKey...)
	return append(buf, keySep)
}

// makeCellKey generates the key of a single cell.
// Format: row\x00table\x00family\x00rowkey\x00column
//
// NUL is the smallest byte, so all cells of row "a" sort before those of
// row "ab" and cell order follows row key order.
func makeCellKey(table, family, rowKey, column string) []byte {
	return append(makeRowPrefix(table, family, rowKey), column...)
}

// splitCellKey extracts the row key and column from a cell key below familyPrefix.
func splitCellKey(familyPrefix, key []byte) (rowKey, column string, ok bool) {
	if !bytes.HasPrefix(key, familyPrefix) {
		return "", "", false
	}
	rest := key[len(familyPrefix):]
	i := bytes.IndexByte(rest, keySep)
	if i < 0 {
		return "", "", false
	}
	return string(rest[:i]), string(rest[i+1:]), true
}

// validateName rejects empty names and names containing the key separator.
func validateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty %s", storage.ErrInvalidKey, kind)
	}
	if strings.IndexByte(name, keySep) >= 0 {
		return fmt.Errorf("%w: %s %q contains NUL", storage.ErrInvalidKey, kind, name)
	}
	return nil
}

// validateMutation checks every name a mutation would write.
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
