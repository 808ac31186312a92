package input

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"sluice/pkg/models"
)

const flattenSeparator = "_"

// keys with a meaning of their own in JSON payloads
const (
	jsonKeyMessage    = "message"
	jsonKeyTimestamp  = "@timestamp"
	jsonKeySourceType = "source_type"
	jsonKeyTags       = "tags"
	jsonKeyMetadata   = "@metadata"
)

// decodeJSON parses one JSON object into an event of the given source type.
func decodeJSON(sourceType string, payload []byte) (models.Event, error) {
	obj, err := unmarshalObject(payload)
	if err != nil {
		return models.Event{}, err
	}
	return eventFromObject(sourceType, obj, payload), nil
}

// decodeJSONBatch accepts a single object or an array of objects.
func decodeJSONBatch(sourceType string, payload []byte) ([]models.Event, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] != '[' {
		ev, err := decodeJSON(sourceType, trimmed)
		if err != nil {
			return nil, err
		}
		return []models.Event{ev}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("invalid json array: %w", err)
	}
	events := make([]models.Event, 0, len(items))
	for i, item := range items {
		ev, err := decodeJSON(sourceType, item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func unmarshalObject(payload []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("invalid json: expected an object")
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid json: trailing data")
	}
	return obj, nil
}

// eventFromObject maps a decoded object onto an event. Nested objects are
// flattened with underscores and arrays are kept as JSON text. A literal key
// wins over a flattened key of the same name.
func eventFromObject(sourceType string, obj map[string]interface{}, raw []byte) models.Event {
	if st, ok := obj[jsonKeySourceType].(string); ok && st != "" {
		sourceType = st
	}

	message, hasMessage := obj[jsonKeyMessage].(string)
	if !hasMessage {
		message = string(bytes.TrimSpace(raw))
	}
	ev := models.NewEvent(sourceType, message)

	for _, key := range sortedKeys(obj) {
		value := obj[key]
		switch key {
		case jsonKeySourceType, jsonKeyMetadata:
			continue
		case jsonKeyMessage:
			if hasMessage {
				continue
			}
		case jsonKeyTimestamp:
			if !ev.Has("timestamp") {
				setJSONValue(&ev, "timestamp", value, false)
			}
			continue
		case jsonKeyTags:
			if tags, ok := value.([]interface{}); ok {
				for _, t := range tags {
					if s, ok := t.(string); ok {
						ev.AddTag(s)
					}
				}
				continue
			}
		}
		setJSONValue(&ev, key, value, false)
	}
	return ev
}

func setJSONValue(ev *models.Event, key string, value interface{}, flattened bool) {
	set := ev.Set
	if flattened {
		set = func(name string, v models.Value) { ev.SetIfAbsent(name, v) }
	}

	switch t := value.(type) {
	case map[string]interface{}:
		for _, k := range sortedKeys(t) {
			setJSONValue(ev, key+flattenSeparator+k, t[k], true)
		}
	case []interface{}:
		b, err := json.Marshal(t)
		if err != nil {
			return
		}
		set(key, models.StringValue(string(b)))
	default:
		if v, ok := models.ValueOf(t); ok {
			set(key, v)
		}
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// splitLines yields non-empty lines, dropping a trailing carriage return.
func splitLines(payload []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(payload, []byte{'\n'}) {
		line = bytes.TrimRight(line, "\r")
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
