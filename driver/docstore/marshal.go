package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/internal/atomicfile"
)

// encodeTable renders records as an indented JSON array. Map keys are
// emitted in sorted order by encoding/json, so the same table content
// always produces the same bytes. HTML escaping is disabled so field
// values like "<" survive a round trip unmangled.
func encodeTable(records []driver.Record) ([]byte, error) {
	if records == nil {
		records = []driver.Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeTable parses a table file into normalized records. Numbers are
// decoded through json.Number and mapped to int64 when integral so a
// record written with int fields reads back with the same types. An
// empty or missing file is an empty table. Every record must carry an
// id; updates, deletes, and the equality index all address records by
// it.
func decodeTable(raw []byte) ([]driver.Record, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []driver.Record{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var records []driver.Record
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	for i, rec := range records {
		norm := driver.NormalizeRecord(rec)
		if _, ok := driver.RecordID(norm); !ok {
			return nil, fmt.Errorf("record %d has no usable id", i)
		}
		records[i] = norm
	}
	return records, nil
}

// writeTableFile persists encoded table content atomically.
func writeTableFile(path string, data []byte) error {
	return atomicfile.WriteFile(path, data, 0o644)
}
