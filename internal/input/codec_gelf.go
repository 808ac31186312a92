package input

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"sluice/pkg/models"
)

const (
	gelfChunkHeaderLen = 12
	gelfMaxChunks      = 128
	gelfChunkTimeout   = 5 * time.Second
)

var gelfChunkMagic = []byte{0x1e, 0x0f}

// gelfFields maps standard GELF keys onto attribute names. Keys not listed
// here are ignored unless they carry the additional-field underscore.
var gelfFields = map[string]string{
	"host":      "hostname",
	"timestamp": "timestamp",
	"level":     "",
	"version":   "gelf_version",
	"facility":  "facility",
	"file":      "file",
	"line":      "line",
}

// decompressGELF returns the JSON document inside a GELF datagram.
func decompressGELF(payload []byte, max int) ([]byte, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("gelf payload too short")
	}
	var r io.ReadCloser
	var err error
	switch {
	case payload[0] == 0x1f && payload[1] == 0x8b:
		r, err = gzip.NewReader(bytes.NewReader(payload))
	case payload[0] == 0x78:
		r, err = zlib.NewReader(bytes.NewReader(payload))
	default:
		return payload, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gelf decompress: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, int64(max)+1))
	if err != nil {
		return nil, fmt.Errorf("gelf decompress: %w", err)
	}
	if len(out) > max {
		return nil, errFrameTooLarge
	}
	return out, nil
}

func decodeGELF(sourceType string, doc []byte) (models.Event, error) {
	obj, err := unmarshalObject(doc)
	if err != nil {
		return models.Event{}, err
	}

	short, _ := obj["short_message"].(string)
	if short == "" {
		return models.Event{}, fmt.Errorf("gelf message without short_message")
	}
	ev := models.NewEvent(sourceType, short)
	if full, ok := obj["full_message"].(string); ok && full != "" {
		ev.Set("full_message", models.StringValue(full))
	}

	for _, key := range sortedKeys(obj) {
		value := obj[key]
		if name, ok := gelfFields[key]; ok {
			if name != "" {
				setJSONValue(&ev, name, value, false)
			}
			continue
		}
		if strings.HasPrefix(key, "_") && key != "_id" {
			setJSONValue(&ev, strings.TrimPrefix(key, "_"), value, false)
		}
	}

	if lv, ok := obj["level"]; ok {
		if v, ok := models.ValueOf(lv); ok {
			if code, ok := v.Int(); ok && code >= 0 && code < int64(len(severityLevels)) {
				ev.Set("level", models.StringValue(severityLevels[code]))
				ev.Set("severity_code", models.IntValue(code))
			}
		}
	}
	return ev, nil
}

type gelfChunkSet struct {
	parts    [][]byte
	received int
	size     int
	first    time.Time
}

// gelfAssembler reassembles chunked GELF datagrams. Incomplete messages are
// discarded after gelfChunkTimeout.
type gelfAssembler struct {
	mu      sync.Mutex
	pending map[string]*gelfChunkSet
	max     int
	now     func() time.Time
}

func newGELFAssembler(max int) *gelfAssembler {
	return &gelfAssembler{pending: make(map[string]*gelfChunkSet), max: max, now: time.Now}
}

func isGELFChunk(payload []byte) bool {
	return len(payload) >= gelfChunkHeaderLen && bytes.HasPrefix(payload, gelfChunkMagic)
}

// add stores a chunk and returns the complete payload once every chunk of
// the message has arrived.
func (a *gelfAssembler) add(chunk []byte) ([]byte, bool, error) {
	id := string(chunk[2:10])
	seq, count := int(chunk[10]), int(chunk[11])
	if count == 0 || count > gelfMaxChunks || seq >= count {
		return nil, false, fmt.Errorf("invalid gelf chunk %d/%d", seq, count)
	}
	body := chunk[gelfChunkHeaderLen:]

	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	a.expire(now)

	set, ok := a.pending[id]
	if !ok {
		set = &gelfChunkSet{parts: make([][]byte, count), first: now}
		a.pending[id] = set
	}
	if len(set.parts) != count {
		delete(a.pending, id)
		return nil, false, fmt.Errorf("gelf chunk count changed for message")
	}
	if set.parts[seq] != nil {
		return nil, false, nil
	}
	set.parts[seq] = append([]byte{}, body...)
	set.received++
	set.size += len(body)
	if set.size > a.max {
		delete(a.pending, id)
		return nil, false, errFrameTooLarge
	}
	if set.received < count {
		return nil, false, nil
	}

	delete(a.pending, id)
	return bytes.Join(set.parts, nil), true, nil
}

func (a *gelfAssembler) expire(now time.Time) {
	for id, set := range a.pending {
		if now.Sub(set.first) > gelfChunkTimeout {
			delete(a.pending, id)
		}
	}
}

func (a *gelfAssembler) pendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
