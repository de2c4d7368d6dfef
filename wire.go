/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package ikv

import (
	"encoding/json"
	"fmt"
)

// wireEvent is the JSON envelope a Kafka message payload decodes into. Kind
// names one of the four Event variants; the remaining fields are populated
// according to which kind it is. JSON (rather than protobuf, which no
// retrieved example carries a dependency for) is used for event payloads and
// for the schema, header, offset and segment metadata files; the operation
// log and the arena use their own binary encodings.
type wireEvent struct {
	Kind              string               `json:"kind"`
	Document          map[string]wireField `json:"document,omitempty"`
	FieldNames        []string             `json:"field_names,omitempty"`
	FieldNamePrefixes []string             `json:"field_name_prefixes,omitempty"`
	DropAll           bool                 `json:"drop_all,omitempty"`
}

type wireField struct {
	Type  FieldType `json:"type"`
	Bytes []byte    `json:"bytes"`
}

func encodeWireDocument(doc Document) map[string]wireField {
	out := make(map[string]wireField, len(doc))
	for name, v := range doc {
		out[name] = wireField{Type: v.Type, Bytes: v.Bytes}
	}
	return out
}

func decodeWireDocument(w map[string]wireField) Document {
	doc := make(Document, len(w))
	for name, v := range w {
		doc[name] = FieldValue{Type: v.Type, Bytes: v.Bytes}
	}
	return doc
}

// EncodeEvent serializes ev as a Kafka message payload.
func EncodeEvent(ev Event) ([]byte, error) {
	var w wireEvent
	switch e := ev.(type) {
	case UpsertDocumentFields:
		w = wireEvent{Kind: "upsert", Document: encodeWireDocument(e.Document)}
	case DeleteDocumentFields:
		w = wireEvent{Kind: "delete_fields", Document: encodeWireDocument(e.Document), FieldNames: e.FieldNames}
	case DeleteDocument:
		w = wireEvent{Kind: "delete_document", Document: encodeWireDocument(e.Document)}
	case DropFields:
		w = wireEvent{Kind: "drop_fields", FieldNames: e.FieldNames, FieldNamePrefixes: e.FieldNamePrefixes, DropAll: e.DropAll}
	default:
		return nil, fmt.Errorf("ikv: unknown event type %T", ev)
	}
	return json.Marshal(w)
}

// DecodeEvent parses a Kafka message payload produced by EncodeEvent.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("ikv: malformed event payload: %w", err)
	}
	switch w.Kind {
	case "upsert":
		return UpsertDocumentFields{Document: decodeWireDocument(w.Document)}, nil
	case "delete_fields":
		return DeleteDocumentFields{Document: decodeWireDocument(w.Document), FieldNames: w.FieldNames}, nil
	case "delete_document":
		return DeleteDocument{Document: decodeWireDocument(w.Document)}, nil
	case "drop_fields":
		return DropFields{FieldNames: w.FieldNames, FieldNamePrefixes: w.FieldNamePrefixes, DropAll: w.DropAll}, nil
	default:
		return nil, fmt.Errorf("ikv: unknown event kind %q", w.Kind)
	}
}
