package fluidnc

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
)

// Kind tags one classified protocol line.
type Kind int

const (
	KindUnclassified Kind = iota
	KindStatus
	KindAck
	KindAlarm
	KindDebug
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindAck:
		return "ack"
	case KindAlarm:
		return "alarm"
	case KindDebug:
		return "debug"
	case KindJSON:
		return "json"
	}
	return "unclassified"
}

// Message is exactly one line of firmware output, classified. It is
// immutable after construction.
type Message struct {
	Kind Kind
	Raw  string
	At   time.Time

	// Ok and Code carry ack verdicts; Code doubles as the alarm
	// number for KindAlarm.
	Ok   bool
	Code int

	// Text holds the body of debug messages and the raw text of
	// unclassified lines.
	Text string

	// Value is the decoded [JSON:...] body, or the raw body string
	// when it does not parse.
	Value any

	// Report is populated for KindStatus.
	Report Report
}

// Classifier splits the raw byte stream into lines and classifies
// each one. It keeps the last good status report so individual fields
// that fail to parse can fall back to their previous values.
type Classifier struct {
	logger golog.Logger
	clk    clock.Clock

	buf  []byte
	prev Report
}

func NewClassifier(logger golog.Logger, clk clock.Clock) *Classifier {
	return &Classifier{logger: logger, clk: clk}
}

// Feed appends raw bytes and returns the messages for every complete
// line they finish. Partial trailing lines stay buffered.
func (c *Classifier) Feed(data []byte) []Message {
	c.buf = append(c.buf, data...)
	var msgs []Message
	for {
		i := bytes.IndexAny(c.buf, "\r\n")
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(c.buf[:i]))
		c.buf = c.buf[i+1:]
		if line == "" {
			continue
		}
		msgs = append(msgs, c.classify(line))
	}
	if len(c.buf) == 0 {
		c.buf = nil
	}
	return msgs
}

func (c *Classifier) classify(line string) Message {
	msg := Message{Raw: line, At: c.clk.Now()}

	switch {
	case strings.HasPrefix(line, "<") && strings.HasSuffix(line, ">"):
		rep, err := DecodeStatus(line, c.prev)
		if err != nil {
			c.logger.Debugw("malformed status report", "line", line, "error", err)
			msg.Kind = KindUnclassified
			msg.Text = line
			return msg
		}
		c.prev = rep
		msg.Kind = KindStatus
		msg.Report = rep

	case strings.EqualFold(line, "ok"):
		msg.Kind = KindAck
		msg.Ok = true

	case line == "error" || strings.HasPrefix(line, "error:"):
		msg.Kind = KindAck
		msg.Code = trailingInt(line, "error:")

	case strings.HasPrefix(line, "ALARM:"):
		msg.Kind = KindAlarm
		msg.Code = trailingInt(line, "ALARM:")

	case strings.HasPrefix(line, "[MSG:"):
		msg.Kind = KindDebug
		msg.Text = strings.TrimSuffix(strings.TrimPrefix(line, "[MSG:"), "]")

	case strings.HasPrefix(line, "[JSON:"):
		msg.Kind = KindJSON
		body := strings.TrimSuffix(strings.TrimPrefix(line, "[JSON:"), "]")
		var v any
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			c.logger.Debugw("unparseable json payload", "line", line, "error", err)
			msg.Value = body
		} else {
			msg.Value = v
		}

	default:
		msg.Kind = KindUnclassified
		msg.Text = line
	}
	return msg
}

func trailingInt(line, prefix string) int {
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, prefix)))
	if err != nil {
		return 0
	}
	return n
}
