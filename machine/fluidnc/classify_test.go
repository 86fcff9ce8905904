package fluidnc

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanbotics/rigctl/coord"
)

func newTestClassifier(t *testing.T) (*Classifier, *clock.Mock) {
	clk := clock.NewMock()
	return NewClassifier(golog.NewTestLogger(t), clk), clk
}

func TestClassifier_Feed_Splitting(t *testing.T) {
	cl, clk := newTestClassifier(t)

	// partial line stays buffered
	msgs := cl.Feed([]byte("o"))
	assert.Empty(t, msgs)

	clk.Add(time.Second)
	msgs = cl.Feed([]byte("k\r\nerror:5\n\n<Id"))
	require.Len(t, msgs, 2)

	assert.Equal(t, KindAck, msgs[0].Kind)
	assert.True(t, msgs[0].Ok)
	assert.Equal(t, clk.Now(), msgs[0].At)

	assert.Equal(t, KindAck, msgs[1].Kind)
	assert.False(t, msgs[1].Ok)
	assert.Equal(t, 5, msgs[1].Code)

	msgs = cl.Feed([]byte("le>\n"))
	require.Len(t, msgs, 1)
	assert.Equal(t, KindStatus, msgs[0].Kind)
	assert.Equal(t, "Idle", msgs[0].Report.State)
}

func TestClassifier_Rules(t *testing.T) {
	cl, _ := newTestClassifier(t)

	classify := func(line string) Message {
		msgs := cl.Feed([]byte(line + "\n"))
		require.Len(t, msgs, 1)
		return msgs[0]
	}

	m := classify("<Run|MPos:1.000,2.000,90.000,0.000|FS:500,0>")
	assert.Equal(t, KindStatus, m.Kind)
	assert.Equal(t, coord.Point{X: 1, Y: 2, Z: 90}, m.Report.MPos)

	m = classify("OK") // case-insensitive
	assert.Equal(t, KindAck, m.Kind)
	assert.True(t, m.Ok)

	m = classify("error") // bare error defaults to code 0
	assert.Equal(t, KindAck, m.Kind)
	assert.False(t, m.Ok)
	assert.Equal(t, 0, m.Code)

	m = classify("ALARM:9")
	assert.Equal(t, KindAlarm, m.Kind)
	assert.Equal(t, 9, m.Code)

	m = classify("[MSG:INFO: Caution: Unlocked]")
	assert.Equal(t, KindDebug, m.Kind)
	assert.Equal(t, "INFO: Caution: Unlocked", m.Text)

	m = classify(`[JSON:{"rpm":1200}]`)
	assert.Equal(t, KindJSON, m.Kind)
	assert.Equal(t, map[string]any{"rpm": 1200.0}, m.Value)

	m = classify("$10=3")
	assert.Equal(t, KindUnclassified, m.Kind)
	assert.Equal(t, "$10=3", m.Text)
}

func TestClassifier_MalformedStatusDegrades(t *testing.T) {
	cl, _ := newTestClassifier(t)

	msgs := cl.Feed([]byte("<>\n<1.0,2.0|MPos:1,2,3>\nok\n"))
	require.Len(t, msgs, 3)
	assert.Equal(t, KindUnclassified, msgs[0].Kind)
	assert.Equal(t, KindUnclassified, msgs[1].Kind)
	// pipeline keeps going
	assert.Equal(t, KindAck, msgs[2].Kind)
}

func TestClassifier_BadJSONKeepsRawBody(t *testing.T) {
	cl, _ := newTestClassifier(t)

	msgs := cl.Feed([]byte("[JSON:{not json}]\n"))
	require.Len(t, msgs, 1)
	assert.Equal(t, KindJSON, msgs[0].Kind)
	assert.Equal(t, "{not json}", msgs[0].Value)
}

func TestClassifier_FieldFallbackAcrossReports(t *testing.T) {
	cl, _ := newTestClassifier(t)

	msgs := cl.Feed([]byte("<Idle|MPos:1.000,2.000,3.000,4.000>\n<Run|MPos:9.000,oops,30.000,40.000>\n"))
	require.Len(t, msgs, 2)

	rep := msgs[1].Report
	assert.Equal(t, "Run", rep.State)
	// the garbled Y keeps its previous value, the rest update
	assert.Equal(t, coord.Point{X: 9, Y: 2, Z: 30, C: 40}, rep.MPos)
}

func renderMessage(msg Message) string {
	switch msg.Kind {
	case KindStatus:
		r := msg.Report
		s := fmt.Sprintf("status state=%s mpos=[%s] wpos=[%s] feed=%.0f planner=%d rx=%d",
			r.State, r.MPos, r.WPos, r.Feed, r.Planner, r.RxFree)
		if len(r.Extra) > 0 {
			s += fmt.Sprintf(" extra=%v", r.Extra)
		}
		return s
	case KindAck:
		if msg.Ok {
			return "ack ok"
		}
		return fmt.Sprintf("ack error code=%d", msg.Code)
	case KindAlarm:
		return fmt.Sprintf("alarm code=%d", msg.Code)
	case KindDebug:
		return "debug " + msg.Text
	case KindJSON:
		return fmt.Sprintf("json %v", msg.Value)
	}
	return "unclassified " + msg.Text
}

func TestClassifier_GoldenSession(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("testdata", "session.txt"))
	require.NoError(t, err)

	cl, _ := newTestClassifier(t)

	var buf bytes.Buffer
	for _, msg := range cl.Feed(raw) {
		fmt.Fprintln(&buf, renderMessage(msg))
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(filepath.Join("testdata", "golden")),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "session", buf.Bytes())
}
