package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","action":"press","ts_ms":456}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != ActionPress {
		t.Fatalf("Action = %q, want %q", control.Action, ActionPress)
	}
	if control.TSMs != 456 {
		t.Fatalf("TSMs = %d, want %d", control.TSMs, 456)
	}
}

func TestParseClientMessageRejectsUnknownAction(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_control","action":"approve_task_step"}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageCaptureResult(t *testing.T) {
	raw := []byte(`{"type":"client_capture_result","result_index":1,"results":[{"transcript":"hola","is_final":true},{"transcript":"qué","is_final":false}]}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	res, ok := msg.(ClientCaptureResult)
	if !ok {
		t.Fatalf("message type = %T, want ClientCaptureResult", msg)
	}
	if res.ResultIndex != 1 || len(res.Results) != 2 || !res.Results[0].IsFinal {
		t.Fatalf("unexpected capture result: %+v", res)
	}
}

func TestParseClientMessageRejectsOutOfRangeResultIndex(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_capture_result","result_index":3,"results":[]}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientMessageCaptureErrorNeedsCode(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"client_capture_error"}`)); err == nil {
		t.Fatalf("expected validation error")
	}
	msg, err := ParseClientMessage([]byte(`{"type":"client_capture_error","code":"no-speech"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if got := msg.(ClientCaptureError).Code; got != "no-speech" {
		t.Fatalf("Code = %q, want %q", got, "no-speech")
	}
}

func BenchmarkParseClientMessageCaptureResult(b *testing.B) {
	raw := []byte(`{"type":"client_capture_result","result_index":0,"results":[{"transcript":"enciende la luz","is_final":false}]}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(ClientCaptureResult); !ok {
			b.Fatalf("message type = %T, want ClientCaptureResult", msg)
		}
	}
}
