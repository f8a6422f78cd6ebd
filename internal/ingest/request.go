package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"pictor/internal/apperr"
)

const (
	newPrefix    = "new"
	singlePrefix = "_single"
)

// Entry is the value of one request key.
type Entry struct {
	Delete bool                   `json:"delete"`
	Order  *int                   `json:"order"`
	Meta   map[string]interface{} `json:"meta"`
	// Temp names the temp upload of a single slot entry.
	Temp string `json:"temp"`
}

// Kind tells what a target refers to.
type Kind int

const (
	KindNew Kind = iota
	KindExisting
	KindSingle
)

// Target is one parsed request key.
type Target struct {
	Key      string
	Kind     Kind
	Slot     string
	TempID   string
	RecordID uint
	Entry
}

// ParseRequest splits a keyed ingestion request:
//
//	new.<slot>.<tempId>  -> {delete?, order?, meta?}
//	<slot>.<recordId>    -> {delete?, order?, meta?}
//	_single.<slot>       -> "<tempId>" | {temp?, delete?, meta?}
//
// Targets are returned with existing records first, then single slots,
// then new uploads, each group sorted by key.
func ParseRequest(raw map[string]json.RawMessage) ([]Target, error) {
	targets := make([]Target, 0, len(raw))
	for key, value := range raw {
		t, err := parseKey(key)
		if err != nil {
			return nil, err
		}
		if err := decodeEntry(value, &t); err != nil {
			return nil, apperr.Validation("invalid value for %q: %v", key, err)
		}
		targets = append(targets, t)
	}

	rank := map[Kind]int{KindExisting: 0, KindSingle: 1, KindNew: 2}
	sort.Slice(targets, func(i, j int) bool {
		if rank[targets[i].Kind] != rank[targets[j].Kind] {
			return rank[targets[i].Kind] < rank[targets[j].Kind]
		}
		return targets[i].Key < targets[j].Key
	})
	return targets, nil
}

func parseKey(key string) (Target, error) {
	parts := strings.Split(key, ".")
	switch {
	case len(parts) == 3 && parts[0] == newPrefix:
		if parts[1] == "" || parts[2] == "" {
			break
		}
		return Target{Key: key, Kind: KindNew, Slot: parts[1], TempID: parts[2]}, nil

	case len(parts) == 2 && parts[0] == singlePrefix:
		if parts[1] == "" {
			break
		}
		return Target{Key: key, Kind: KindSingle, Slot: parts[1]}, nil

	case len(parts) == 2:
		id, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil || id == 0 || parts[0] == "" {
			break
		}
		return Target{Key: key, Kind: KindExisting, Slot: parts[0], RecordID: uint(id)}, nil
	}
	return Target{}, apperr.Validation("malformed image key %q", key)
}

func decodeEntry(value json.RawMessage, t *Target) error {
	value = bytes.TrimSpace(value)
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return nil
	}
	if value[0] == '"' {
		if t.Kind != KindSingle {
			return fmt.Errorf("expected an object")
		}
		return json.Unmarshal(value, &t.Entry.Temp)
	}
	return json.Unmarshal(value, &t.Entry)
}
