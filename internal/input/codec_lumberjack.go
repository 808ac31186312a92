package input

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"sluice/pkg/models"
)

// Lumberjack frame layout: one version byte, one type byte, then a
// type-specific body with big-endian integers.
const (
	ljVersion1 byte = '1'
	ljVersion2 byte = '2'

	ljWindow     byte = 'W'
	ljJSON       byte = 'J'
	ljData       byte = 'D'
	ljCompressed byte = 'C'
	ljAck        byte = 'A'

	ljMaxCompressed = 64 << 20
	ljMaxDataPairs  = 1 << 12
)

type ljFrame struct {
	version byte
	kind    byte
	seq     uint32
	window  uint32
	payload []byte
	fields  map[string]string
}

// readLumberjackFrame reads one frame. io.EOF is returned only on a clean
// frame boundary.
func readLumberjackFrame(r io.Reader, max int) (ljFrame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return ljFrame{}, err
	}
	f := ljFrame{version: hdr[0], kind: hdr[1]}
	if f.version != ljVersion1 && f.version != ljVersion2 {
		return f, fmt.Errorf("unsupported lumberjack version %q", f.version)
	}

	var err error
	switch f.kind {
	case ljWindow:
		f.window, err = readUint32(r)
	case ljJSON:
		if f.seq, err = readUint32(r); err != nil {
			break
		}
		f.payload, err = readSized(r, max)
	case ljCompressed:
		f.payload, err = readSized(r, ljMaxCompressed)
	case ljData:
		f.seq, f.fields, err = readDataFrame(r, max)
	default:
		return f, fmt.Errorf("unknown lumberjack frame type %q", f.kind)
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return f, err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readSized(r io.Reader, max int) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if int64(n) > int64(max) {
		return nil, errFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readDataFrame(r io.Reader, max int) (uint32, map[string]string, error) {
	seq, err := readUint32(r)
	if err != nil {
		return 0, nil, err
	}
	pairs, err := readUint32(r)
	if err != nil {
		return 0, nil, err
	}
	if pairs > ljMaxDataPairs {
		return 0, nil, fmt.Errorf("too many lumberjack data pairs: %d", pairs)
	}
	fields := make(map[string]string, pairs)
	total := 0
	for i := uint32(0); i < pairs; i++ {
		k, err := readSized(r, max)
		if err != nil {
			return 0, nil, err
		}
		v, err := readSized(r, max)
		if err != nil {
			return 0, nil, err
		}
		total += len(k) + len(v)
		if total > max {
			return 0, nil, errFrameTooLarge
		}
		fields[string(k)] = string(v)
	}
	return seq, fields, nil
}

func writeLumberjackAck(w io.Writer, version byte, seq uint32) error {
	var buf [6]byte
	buf[0] = version
	buf[1] = ljAck
	binary.BigEndian.PutUint32(buf[2:], seq)
	_, err := w.Write(buf[:])
	return err
}

// lumberjackSession tracks the acknowledgement window of one connection.
type lumberjackSession struct {
	b       *base
	ack     io.Writer
	remote  string
	version byte
	window  uint32
	pending uint32
	lastSeq uint32
}

// run consumes frames until r is exhausted. The caller treats io.EOF as a
// clean disconnect.
func (s *lumberjackSession) run(ctx context.Context, r io.Reader) error {
	for {
		f, err := readLumberjackFrame(r, s.b.maxBytes)
		if err != nil {
			return err
		}
		s.version = f.version

		switch f.kind {
		case ljWindow:
			s.window = f.window
			s.pending = 0
		case ljCompressed:
			if err := s.inflate(ctx, f.payload); err != nil {
				return err
			}
		case ljJSON, ljData:
			s.b.touch(len(f.payload))
			s.deliver(ctx, f)
			s.pending++
			s.lastSeq = f.seq
			if s.window == 0 || s.pending >= s.window {
				if err := writeLumberjackAck(s.ack, s.version, s.lastSeq); err != nil {
					return fmt.Errorf("failed to write ack: %w", err)
				}
				s.pending = 0
			}
		}
	}
}

func (s *lumberjackSession) inflate(ctx context.Context, payload []byte) error {
	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("invalid compressed frame: %w", err)
	}
	defer zr.Close()
	if err := s.run(ctx, zr); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *lumberjackSession) deliver(ctx context.Context, f ljFrame) {
	if f.kind == ljData {
		ev := models.NewEvent(s.b.sourceType, f.fields[jsonKeyMessage])
		for k, v := range f.fields {
			if k != jsonKeyMessage {
				ev.Set(k, models.StringValue(v))
			}
		}
		_ = s.b.emit(ctx, ev, s.remote)
		return
	}

	ev, err := decodeJSON(s.b.sourceType, f.payload)
	if err != nil {
		_ = s.b.malformed(ctx, f.payload, s.remote, err)
		return
	}
	_ = s.b.emit(ctx, ev, s.remote)
}
