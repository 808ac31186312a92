package input

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"sluice/pkg/models"
)

var facilityNames = []string{
	"kern", "user", "mail", "daemon", "auth", "syslog", "lpr", "news",
	"uucp", "cron", "authpriv", "ftp", "ntp", "security", "console", "solaris-cron",
	"local0", "local1", "local2", "local3", "local4", "local5", "local6", "local7",
}

var severityNames = []string{"emerg", "alert", "crit", "err", "warning", "notice", "info", "debug"}

// severityLevels maps a syslog severity onto the pipeline's level names.
var severityLevels = []string{"critical", "critical", "critical", "error", "warn", "info", "info", "debug"}

const nilValue = "-"

var errNoPriority = errors.New("missing <PRI> header")

type syslogMessage struct {
	Facility  int
	Severity  int
	Version   int
	Timestamp string
	Hostname  string
	AppName   string
	ProcID    string
	MsgID     string
	Message   string
	Data      map[string]string
}

// parseSyslog accepts RFC 5424 and the BSD format of RFC 3164.
func parseSyslog(line []byte) (syslogMessage, error) {
	s := strings.TrimRight(string(line), "\r\n\x00")
	if !strings.HasPrefix(s, "<") {
		return syslogMessage{}, errNoPriority
	}
	end := strings.IndexByte(s, '>')
	if end < 2 || end > 4 {
		return syslogMessage{}, errNoPriority
	}
	pri, err := strconv.Atoi(s[1:end])
	if err != nil || pri < 0 || pri > 191 {
		return syslogMessage{}, fmt.Errorf("invalid priority %q", s[1:end])
	}
	msg := syslogMessage{Facility: pri / 8, Severity: pri % 8}
	rest := s[end+1:]

	if len(rest) > 1 && rest[0] >= '1' && rest[0] <= '9' && rest[1] == ' ' {
		msg.Version = int(rest[0] - '0')
		return parse5424(msg, rest[2:])
	}
	return parse3164(msg, rest), nil
}

func parse5424(msg syslogMessage, rest string) (syslogMessage, error) {
	fields := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			if i == 4 {
				fields = append(fields, rest)
				rest = ""
				break
			}
			return msg, fmt.Errorf("truncated rfc5424 header")
		}
		fields = append(fields, rest[:sp])
		rest = rest[sp+1:]
	}
	msg.Timestamp = nilToEmpty(fields[0])
	msg.Hostname = nilToEmpty(fields[1])
	msg.AppName = nilToEmpty(fields[2])
	msg.ProcID = nilToEmpty(fields[3])
	msg.MsgID = nilToEmpty(fields[4])

	data, rest, err := parseStructuredData(rest)
	if err != nil {
		return msg, err
	}
	msg.Data = data
	msg.Message = strings.TrimPrefix(strings.TrimPrefix(rest, " "), "\ufeff")
	return msg, nil
}

// parseStructuredData consumes "-" or a run of [id k="v" ...] elements.
func parseStructuredData(s string) (map[string]string, string, error) {
	if s == "" || s == nilValue {
		return nil, "", nil
	}
	if strings.HasPrefix(s, nilValue+" ") {
		return nil, s[2:], nil
	}
	if s[0] != '[' {
		return nil, s, nil
	}

	data := make(map[string]string)
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
		idEnd := strings.IndexAny(s[i:], " ]")
		if idEnd < 0 {
			return nil, "", fmt.Errorf("unterminated structured data")
		}
		id := s[i : i+idEnd]
		i += idEnd
		for i < len(s) && s[i] == ' ' {
			i++
			eq := strings.IndexByte(s[i:], '=')
			if eq < 0 || i+eq+1 >= len(s) || s[i+eq+1] != '"' {
				return nil, "", fmt.Errorf("malformed structured data param in %q", id)
			}
			name := s[i : i+eq]
			i += eq + 2
			var val strings.Builder
			for ; i < len(s) && s[i] != '"'; i++ {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				val.WriteByte(s[i])
			}
			if i >= len(s) {
				return nil, "", fmt.Errorf("unterminated structured data value in %q", id)
			}
			i++
			data["sd"+flattenSeparator+sdKey(id)+flattenSeparator+sdKey(name)] = val.String()
		}
		if i >= len(s) || s[i] != ']' {
			return nil, "", fmt.Errorf("unterminated structured data element %q", id)
		}
		i++
	}
	return data, s[i:], nil
}

func sdKey(s string) string {
	return strings.NewReplacer("@", flattenSeparator, ".", flattenSeparator, "-", flattenSeparator).Replace(s)
}

// parse3164 never fails once a priority is present; whatever does not look
// like a header ends up in the message.
func parse3164(msg syslogMessage, rest string) syslogMessage {
	const stampLen = len("Jan _2 15:04:05")
	if len(rest) > stampLen && rest[stampLen] == ' ' && isMonth(rest[:3]) {
		msg.Timestamp = rest[:stampLen]
		rest = rest[stampLen+1:]

		// The hostname is absent when the next word is already the tag.
		if sp := strings.IndexByte(rest, ' '); sp > 0 && !strings.ContainsAny(rest[:sp], ":[") {
			msg.Hostname = rest[:sp]
			rest = rest[sp+1:]
		}
	}

	if colon := strings.Index(rest, ": "); colon > 0 && !strings.Contains(rest[:colon], " ") {
		tag := rest[:colon]
		if lb := strings.IndexByte(tag, '['); lb > 0 && strings.HasSuffix(tag, "]") {
			msg.ProcID = tag[lb+1 : len(tag)-1]
			tag = tag[:lb]
		}
		msg.AppName = tag
		rest = rest[colon+2:]
	}
	msg.Message = rest
	return msg
}

func isMonth(s string) bool {
	switch s {
	case "Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec":
		return true
	}
	return false
}

func nilToEmpty(s string) string {
	if s == nilValue {
		return ""
	}
	return s
}

func (m syslogMessage) event(sourceType string) models.Event {
	ev := models.NewEvent(sourceType, m.Message)
	ev.Set("facility", models.StringValue(facilityNames[m.Facility]))
	ev.Set("facility_code", models.IntValue(int64(m.Facility)))
	ev.Set("severity", models.StringValue(severityNames[m.Severity]))
	ev.Set("severity_code", models.IntValue(int64(m.Severity)))
	ev.Set("level", models.StringValue(severityLevels[m.Severity]))
	if m.Version > 0 {
		ev.Set("syslog_version", models.IntValue(int64(m.Version)))
	}
	setNonEmpty(&ev, "timestamp", m.Timestamp)
	setNonEmpty(&ev, "hostname", m.Hostname)
	setNonEmpty(&ev, "app_name", m.AppName)
	setNonEmpty(&ev, "proc_id", m.ProcID)
	setNonEmpty(&ev, "msg_id", m.MsgID)
	for k, v := range m.Data {
		ev.Set(k, models.StringValue(v))
	}
	return ev
}

func setNonEmpty(ev *models.Event, name, value string) {
	if value != "" {
		ev.Set(name, models.StringValue(value))
	}
}

func decodeSyslog(sourceType string, line []byte) (models.Event, error) {
	msg, err := parseSyslog(line)
	if err != nil {
		return models.Event{}, err
	}
	return msg.event(sourceType), nil
}

// errFrameTooLarge is returned when a frame exceeds the configured maximum.
// The remainder of the stream cannot be trusted afterwards.
var errFrameTooLarge = errors.New("frame exceeds max message size")

// readSyslogFrame reads one frame from a syslog TCP stream. Frames starting
// with a digit use octet counting (RFC 6587); anything else is newline
// delimited.
func readSyslogFrame(r *bufio.Reader, max int) ([]byte, error) {
	first, err := r.Peek(1)
	if err != nil {
		return nil, err
	}
	if first[0] >= '1' && first[0] <= '9' {
		prefix, err := r.ReadSlice(' ')
		if err != nil {
			return nil, fmt.Errorf("invalid octet count: %w", err)
		}
		n, err := strconv.Atoi(string(prefix[:len(prefix)-1]))
		if err != nil {
			return nil, fmt.Errorf("invalid octet count %q", prefix)
		}
		if n > max {
			return nil, errFrameTooLarge
		}
		frame := make([]byte, n)
		if _, err := io.ReadFull(r, frame); err != nil {
			return nil, err
		}
		return frame, nil
	}
	return readLine(r, max)
}

// oversizedLineError reports a newline delimited line longer than the
// maximum. The rest of the line has already been consumed, so the stream is
// positioned at the next line.
type oversizedLineError struct {
	prefix []byte
	size   int
}

func (e *oversizedLineError) Error() string {
	return fmt.Sprintf("line of %d bytes exceeds max message size", e.size)
}

func (e *oversizedLineError) Is(target error) bool { return target == errFrameTooLarge }

// readLine reads a newline terminated line of at most max bytes. A final
// line without terminator is returned with io.EOF deferred to the next call.
// Longer lines are skipped and reported as *oversizedLineError.
func readLine(r *bufio.Reader, max int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) > max+1 {
			return nil, skipLine(r, line, chunk, err, max)
		}
		line = append(line, chunk...)
		switch {
		case err == nil:
			return bytes.TrimRight(line, "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return bytes.TrimRight(line, "\r\n"), nil
		default:
			return nil, err
		}
	}
}

// skipLine consumes the remainder of an oversized line and keeps its first
// max bytes.
func skipLine(r *bufio.Reader, line, chunk []byte, err error, max int) error {
	prefix := append(append([]byte(nil), line...), chunk...)
	size := len(prefix)
	for errors.Is(err, bufio.ErrBufferFull) {
		chunk, err = r.ReadSlice('\n')
		size += len(chunk)
	}
	prefix = bytes.TrimRight(prefix, "\r\n")
	if len(prefix) > max {
		prefix = prefix[:max]
	}
	return &oversizedLineError{prefix: prefix, size: size}
}
