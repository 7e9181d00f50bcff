package envelope

import (
	"errors"
	"strings"
	"testing"
)

const envelopeTestPrefix = "envelope:envelope_test"

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{
			name: "valid",
			data: `{"correlation_id":"abc","method":"tools/call","params":{"name":"x"},"session_id":"s1","response_location":"r"}`,
		},
		{name: "malformed json", data: `{not json`, wantErr: true},
		{name: "empty", data: ``, wantErr: true},
		{name: "missing correlation id", data: `{"method":"initialize"}`, wantErr: true},
		{name: "missing method", data: `{"correlation_id":"abc"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("%s - expected error but got nil", envelopeTestPrefix)
				}
				var perr *ProtocolError
				if !errors.As(err, &perr) {
					t.Errorf("%s - expected *ProtocolError, got %T", envelopeTestPrefix, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", envelopeTestPrefix, err)
			}
			if req.CorrelationID != "abc" || req.Method != MethodToolsCall || req.SessionID != "s1" {
				t.Errorf("%s - unexpected request %+v", envelopeTestPrefix, req)
			}
			if req.Params["name"] != "x" {
				t.Errorf("%s - params.name = %v, want x", envelopeTestPrefix, req.Params["name"])
			}
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantErr   bool
		wantError bool
	}{
		{name: "result", data: `{"correlation_id":"a","result":{"status":"healthy"}}`},
		{name: "error", data: `{"correlation_id":"a","error":{"code":-32602,"message":"unknown tool"}}`, wantError: true},
		{name: "neither", data: `{"correlation_id":"a"}`, wantErr: true},
		{name: "missing id", data: `{"result":{}}`, wantErr: true},
		{name: "garbage", data: `[]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("%s - expected error but got nil", envelopeTestPrefix)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", envelopeTestPrefix, err)
			}
			if tt.wantError {
				if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
					t.Errorf("%s - expected error code %d, got %+v", envelopeTestPrefix, CodeInvalidParams, resp.Error)
				}
				return
			}
			if string(resp.Result) != `{"status":"healthy"}` {
				t.Errorf("%s - result = %s", envelopeTestPrefix, resp.Result)
			}
		})
	}
}

func TestDecodeResponse_NullResult(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"correlation_id":"a","result":null}`))
	if err != nil {
		t.Fatalf("%s - null result should decode: %v", envelopeTestPrefix, err)
	}
	if string(resp.Result) != "null" {
		t.Errorf("%s - result = %s, want null", envelopeTestPrefix, resp.Result)
	}
}

func TestNewResult(t *testing.T) {
	resp, err := NewResult("id-1", map[string]string{"status": "healthy"})
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", envelopeTestPrefix, err)
	}
	data, err := Encode(resp)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", envelopeTestPrefix, err)
	}
	want := `{"correlation_id":"id-1","result":{"status":"healthy"}}`
	if string(data) != want {
		t.Errorf("%s - Encode() = %s, want %s", envelopeTestPrefix, data, want)
	}

	if _, err := NewResult("id-2", make(chan int)); err == nil {
		t.Errorf("%s - expected error for unserializable result", envelopeTestPrefix)
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("id-1", CodeToolError, "boom")
	data, err := Encode(resp)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", envelopeTestPrefix, err)
	}
	want := `{"correlation_id":"id-1","error":{"code":-32000,"message":"boom"}}`
	if string(data) != want {
		t.Errorf("%s - Encode() = %s, want %s", envelopeTestPrefix, data, want)
	}
	if !strings.Contains(resp.Error.Error(), "-32000") {
		t.Errorf("%s - Error() = %q should contain the code", envelopeTestPrefix, resp.Error.Error())
	}
}

func TestNewCorrelationID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewCorrelationID()
		if len(id) != 32 {
			t.Fatalf("%s - id %q has length %d, want 32", envelopeTestPrefix, id, len(id))
		}
		if strings.Contains(id, "-") {
			t.Fatalf("%s - id %q contains a dash", envelopeTestPrefix, id)
		}
		if seen[id] {
			t.Fatalf("%s - duplicate id %q", envelopeTestPrefix, id)
		}
		seen[id] = true
	}
}
