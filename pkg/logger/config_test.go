package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"gotest.tools/assert"
)

func TestValidate(t *testing.T) {
	assert.Equal(t, len(DefaultConfig().Validate()), 0)
	assert.Equal(t, len(Config{Level: "loud", Format: FormatText}.Validate()), 1)
	assert.Equal(t, len(Config{Level: "loud", Format: "xml"}.Validate()), 2)
}

func TestApplyJSON(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)

	assert.NilError(t, Config{Level: "debug", Format: FormatJSON, Caller: true}.Apply(l))
	assert.Equal(t, l.GetLevel(), logrus.DebugLevel)
	l.WithField("task", "7").Debug("dispatched")

	var entry map[string]interface{}
	assert.NilError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, entry["msg"], "dispatched")
	assert.Equal(t, entry["task"], "7")
	_, ok := entry["func"]
	assert.Assert(t, ok, "caller reporting should add the calling function")
}

func TestApplyText(t *testing.T) {
	l := logrus.New()
	assert.NilError(t, Config{Level: "warn", Format: FormatText}.Apply(l))
	text, ok := l.Formatter.(*logrus.TextFormatter)
	assert.Assert(t, ok)
	assert.Assert(t, text.DisableColors)
	assert.Assert(t, !l.ReportCaller)
}

func TestApplyInvalidLevelKeepsLogger(t *testing.T) {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	assert.ErrorContains(t, Config{Level: "loud"}.Apply(l), "configuring logger")
	assert.Equal(t, l.GetLevel(), logrus.ErrorLevel)
}

func TestSetLogrus(t *testing.T) {
	defer SetLogrus(*DefaultConfig())

	SetLogrus(Config{Level: "debug", Format: FormatText})
	assert.Equal(t, logrus.GetLevel(), logrus.DebugLevel)

	defer func() {
		assert.Assert(t, recover() != nil)
	}()
	SetLogrus(Config{Level: "loud"})
}
