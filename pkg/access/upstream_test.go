package access

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    any
		wantErr bool
	}{
		{name: "object", body: `{"ok":true}`, want: map[string]any{"ok": true}},
		{name: "trailing whitespace", body: "{\"ok\":true}\n\n", want: map[string]any{"ok": true}},
		{name: "null", body: `null`, want: nil},
		{name: "empty", body: ``, wantErr: true},
		{name: "html", body: `<html>login</html>`, wantErr: true},
		{name: "trailing html", body: `{"join_url":"u"} <html>oops`, wantErr: true},
		{name: "two values", body: `{"ok":true} {"ok":false}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v any
			err := decodeBody(strings.NewReader(tt.body), &v)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, v)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}
