// Package serviceitems stores the parts and labor lines of a service order
// inside the order's free-text description.
//
// A description is either plain notes, or notes followed by a blank line
// and a JSON fragment of the form
//
//	{"items":[...],"__metadata":{"type":"serviceItems"}}
//
// Callers never build or parse the fragment themselves. They go through
// Decode and Encode (or the helpers built on them).
package serviceitems

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/hoken/service-manager/pkg/models"
)

const (
	MetadataType = "serviceItems"

	// separator between the notes and the fragment
	separator = "\n\n"
)

type Decoded struct {
	Notes string               `json:"notes"`
	Items []models.ServiceItem `json:"items"`
}

type fragmentMetadata struct {
	Type string `json:"type"`
}

type fragment struct {
	Items    []models.ServiceItem `json:"items"`
	Metadata fragmentMetadata     `json:"__metadata"`
}

// Decode splits a stored description into notes and items. It never fails:
// a missing or unreadable fragment yields the whole input as notes and no
// items.
func Decode(description string) Decoded {
	decoded, _ := decode(description)
	return decoded
}

func decode(description string) (Decoded, bool) {
	if description == "" {
		return Decoded{Notes: "", Items: []models.ServiceItem{}}, false
	}

	start, end, items, ok := findFragment(description)
	if !ok {
		return Decoded{Notes: description, Items: []models.ServiceItem{}}, false
	}

	notes := strings.TrimSpace(description[:start] + description[end:])
	return Decoded{Notes: notes, Items: items}, true
}

// findFragment tries a streaming decode at every '{' from left to right and
// returns the byte range of the first object shaped like a fragment.
func findFragment(s string) (start, end int, items []models.ServiceItem, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}

		dec := json.NewDecoder(strings.NewReader(s[i:]))
		var object map[string]json.RawMessage
		if err := dec.Decode(&object); err != nil {
			continue
		}
		raw, ok := fragmentItems(object)
		if !ok {
			continue
		}

		var parsed []models.ServiceItem
		if err := json.Unmarshal(raw, &parsed); err != nil {
			continue
		}
		return i, i + int(dec.InputOffset()), parsed, true
	}
	return 0, 0, nil, false
}

// fragmentItems returns the raw items array of an object shaped like a
// fragment. Keys are matched exactly; encoding/json struct tags would accept
// any casing.
func fragmentItems(object map[string]json.RawMessage) (json.RawMessage, bool) {
	items, ok := object["items"]
	if !ok || len(items) == 0 || items[0] != '[' {
		return nil, false
	}

	var metadata map[string]json.RawMessage
	if err := json.Unmarshal(object["__metadata"], &metadata); err != nil || metadata == nil {
		return nil, false
	}
	var kind string
	if err := json.Unmarshal(metadata["type"], &kind); err != nil || kind != MetadataType {
		return nil, false
	}
	return items, true
}

// ContainsFragment reports whether s holds anything Decode would take for
// an items fragment.
func ContainsFragment(s string) bool {
	_, _, _, ok := findFragment(s)
	return ok
}

// Encode appends the items fragment to notes. With no items the notes are
// returned unchanged.
func Encode(notes string, items []models.ServiceItem) string {
	encoded, err := encode(notes, items)
	if err != nil {
		return notes
	}
	return encoded
}

func encode(notes string, items []models.ServiceItem) (string, error) {
	if len(items) == 0 {
		return notes, nil
	}

	data, err := json.Marshal(fragment{
		Items:    items,
		Metadata: fragmentMetadata{Type: MetadataType},
	})
	if err != nil {
		return "", err
	}
	return notes + separator + string(data), nil
}

// ReplaceNotes swaps the notes of a description and keeps its items.
func ReplaceNotes(description, notes string) string {
	return replaceNotes(Decode(description), notes)
}

func replaceNotes(decoded Decoded, notes string) string {
	return Encode(notes, decoded.Items)
}

// AppendItem adds item to the end of the description's item list.
func AppendItem(description string, item models.ServiceItem) string {
	return appendItem(Decode(description), item)
}

func appendItem(decoded Decoded, item models.ServiceItem) string {
	items := append(slices.Clone(decoded.Items), item)
	return Encode(decoded.Notes, items)
}

// RemoveItem drops the item with the given id. It reports false and returns
// the description untouched when no such item exists.
func RemoveItem(description, itemID string) (string, bool) {
	updated, ok := removeItem(Decode(description), itemID)
	if !ok {
		return description, false
	}
	return updated, true
}

func removeItem(decoded Decoded, itemID string) (string, bool) {
	idx := indexOf(decoded.Items, itemID)
	if idx < 0 {
		return "", false
	}
	items := slices.Delete(slices.Clone(decoded.Items), idx, idx+1)
	return Encode(decoded.Notes, items), true
}

func indexOf(items []models.ServiceItem, itemID string) int {
	return slices.IndexFunc(items, func(item models.ServiceItem) bool {
		return item.ID == itemID
	})
}
