package toolstream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestFormat_String(t *testing.T) {
	assert.Equal(t, "none", FormatNone.String())
	assert.Equal(t, "native", FormatNative.String())
	assert.Equal(t, "xml", FormatXML.String())
	assert.Equal(t, "json", FormatJSON.String())
}

func TestResultKind_String(t *testing.T) {
	assert.Equal(t, "success", ResultSuccess.String())
	assert.Equal(t, "no_match", ResultNoMatch.String())
	assert.Equal(t, "schema_invalid", ResultSchemaInvalid.String())
	assert.Equal(t, "repair_failed", ResultRepairFailed.String())
	assert.Equal(t, "timeout", ResultTimeout.String())
	assert.Equal(t, "crash", ResultCrash.String())
	assert.Equal(t, "cancelled", ResultCancelled.String())
}

func TestNativeCall_JSON(t *testing.T) {
	nc := NativeCall{ID: "c1", Name: "search", Arguments: json.RawMessage(`{"query":"go"}`)}
	data, err := json.Marshal(nc)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"id":"c1","name":"search","arguments":{"query":"go"}}`, string(data))

	var back NativeCall
	assert.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "search", back.Name)
	assert.JSONEq(t, `{"query":"go"}`, string(back.Arguments))
}

func TestEvent_Sealed(t *testing.T) {
	var _ Event = TextDelta{Text: "x"}
	var _ Event = ToolCallConfirmed{}
	var _ Event = StreamResumed{}

	ev := Event(TextDelta{Text: "hi"})
	td, ok := ev.(TextDelta)
	assert.True(t, ok)
	assert.Equal(t, "hi", td.Text)
}
