package identity

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Ledger blobs use protobuf wire format so stored records survive
// schema growth: field 1 is a repeated entry message, and within an
// entry field 1 is the fixed64 identifier, field 2 the varint
// observed-at timestamp. Unknown fields are skipped on decode.
const (
	fieldEntry      = 1
	fieldID         = 1
	fieldObservedAt = 2
)

// MarshalLedger encodes the ledger for persistence.
func MarshalLedger(l *Ledger) []byte {
	var buf []byte
	for _, e := range l.entries {
		var rec []byte
		rec = protowire.AppendTag(rec, fieldID, protowire.Fixed64Type)
		rec = protowire.AppendFixed64(rec, uint64(e.ID))
		rec = protowire.AppendTag(rec, fieldObservedAt, protowire.VarintType)
		rec = protowire.AppendVarint(rec, uint64(e.ObservedAt))

		buf = protowire.AppendTag(buf, fieldEntry, protowire.BytesType)
		buf = protowire.AppendBytes(buf, rec)
	}
	return buf
}

// UnmarshalLedger decodes a persisted ledger blob.
func UnmarshalLedger(data []byte) (*Ledger, error) {
	l := &Ledger{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("identity: ledger tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if num == fieldEntry && typ == protowire.BytesType {
			rec, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("identity: ledger entry: %w", protowire.ParseError(n))
			}
			data = data[n:]

			e, err := unmarshalEntry(rec)
			if err != nil {
				return nil, err
			}
			l.entries = append(l.entries, e)
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("identity: ledger field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return l, nil
}

func unmarshalEntry(rec []byte) (Entry, error) {
	var e Entry
	for len(rec) > 0 {
		num, typ, n := protowire.ConsumeTag(rec)
		if n < 0 {
			return Entry{}, fmt.Errorf("identity: entry tag: %w", protowire.ParseError(n))
		}
		rec = rec[n:]

		switch {
		case num == fieldID && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(rec)
			if n < 0 {
				return Entry{}, fmt.Errorf("identity: entry id: %w", protowire.ParseError(n))
			}
			e.ID = Identifier(v)
			rec = rec[n:]
		case num == fieldObservedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(rec)
			if n < 0 {
				return Entry{}, fmt.Errorf("identity: entry timestamp: %w", protowire.ParseError(n))
			}
			e.ObservedAt = int64(v)
			rec = rec[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, rec)
			if n < 0 {
				return Entry{}, fmt.Errorf("identity: entry field %d: %w", num, protowire.ParseError(n))
			}
			rec = rec[n:]
		}
	}
	return e, nil
}
