package csblob

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEntitlements(t *testing.T) {
	want := `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
<key>get-task-allow</key><true/>
</dict>
</plist>
`
	assert.Equal(t, want, RenderEntitlements("<key>get-task-allow</key><true/>"))
	// fragments are not escaped
	assert.Contains(t, RenderEntitlements("a & b"), "\na & b\n")
}

func TestRewritePayload(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		doc     string
		wantErr bool
	}{
		{name: "fits", length: 16, doc: "abc"},
		{name: "one byte short of capacity", length: 16, doc: "abcdefg"},
		{name: "fills capacity", length: 16, doc: "abcdefgh", wantErr: true},
		{name: "empty payload", length: 8, doc: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := bytes.Repeat([]byte{0xcc}, tt.length)
			orig := append([]byte(nil), blob...)
			err := RewritePayload(blob, tt.doc)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTooLong)
				assert.Equal(t, orig, blob)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, orig[:8], blob[:8], "header untouched")
			assert.Equal(t, tt.doc, string(blob[8:8+len(tt.doc)]))
			assert.Equal(t, byte(0), blob[8+len(tt.doc)])
			assert.Equal(t, orig[9+len(tt.doc):], blob[9+len(tt.doc):], "tail keeps old bytes")
		})
	}
}

func TestFragmentFromPlist(t *testing.T) {
	input := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>platform-application</key>
	<true/>
	<key>com.apple.private.security.no-container</key>
	<true/>
	<key>application-identifier</key>
	<string>a&amp;b</string>
</dict>
</plist>`)

	frag, err := FragmentFromPlist(input)
	require.NoError(t, err)
	lines := strings.Split(frag, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "<key>application-identifier</key><string>a&amp;b</string>", lines[0])
	assert.Equal(t, "<key>com.apple.private.security.no-container</key><true/>", lines[1])
	assert.Equal(t, "<key>platform-application</key><true/>", lines[2])

	require.NoError(t, CheckDocument(RenderEntitlements(frag)))

	_, err = FragmentFromPlist([]byte("not a plist <"))
	assert.Error(t, err)
}

func TestCheckDocument(t *testing.T) {
	assert.NoError(t, CheckDocument(RenderEntitlements("<key>get-task-allow</key><true/>")))
	err := CheckDocument(RenderEntitlements("<key>get-task-allow</key><true>"))
	assert.ErrorIs(t, err, ErrMalformed)
}
