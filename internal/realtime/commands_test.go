package realtime

import (
	"encoding/json"
	"testing"
)

func TestCommandEncoding(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{
			name: "insert",
			cmd:  InsertCommand("alice/phone/battery", []Datapoint{{Timestamp: 1.5, Data: 87}}),
			want: `{"cmd":"insert","arg":"alice/phone/battery","d":[{"t":1.5,"d":87}]}`,
		},
		{
			name: "insert nil keeps d",
			cmd:  InsertCommand("alice/phone/battery", nil),
			want: `{"cmd":"insert","arg":"alice/phone/battery","d":null}`,
		},
		{
			name: "subscribe",
			cmd:  SubscribeCommand("alice/phone"),
			want: `{"cmd":"subscribe","arg":"alice/phone"}`,
		},
		{
			name: "unsubscribe",
			cmd:  UnsubscribeCommand("alice"),
			want: `{"cmd":"unsubscribe","arg":"alice"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.cmd)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr bool
	}{
		{"stream event", `{"stream":"alice/phone/battery","data":[{"t":1,"d":2}]}`, false},
		{"missing stream", `{"data":[]}`, true},
		{"missing data", `{"stream":"alice"}`, true},
		{"not json", `hello`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeMessage([]byte(tt.frame))
			if (err != nil) != tt.wantErr {
				t.Errorf("decodeMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
