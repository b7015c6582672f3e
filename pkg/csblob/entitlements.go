package csblob

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/blacktop/go-plist"
)

const (
	plistHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">` + "\n" +
		`<plist version="1.0">` + "\n" +
		"<dict>\n"
	plistFooter = "\n</dict>\n</plist>\n"
)

// RenderEntitlements wraps fragment, verbatim, in a plist <dict>.
func RenderEntitlements(fragment string) string {
	return plistHeader + fragment + plistFooter
}

// RewritePayload copies doc into the blob's payload without resizing it.
// The document is NUL terminated and must leave room for the terminator;
// payload bytes past the terminator keep their previous contents.
func RewritePayload(blob []byte, doc string) error {
	capacity := len(blob) - 8
	if len(doc) >= capacity {
		return newError(KindCapacity, "%w: %d bytes rendered, %d available", ErrTooLong, len(doc), capacity)
	}
	n := copy(blob[8:], doc)
	blob[8+n] = 0
	return nil
}

// CheckDocument makes sure doc parses as a plist dictionary.
func CheckDocument(doc string) error {
	var ents map[string]any
	if err := plist.NewDecoder(bytes.NewReader([]byte(doc))).Decode(&ents); err != nil {
		return newError(KindPayload, "%w: %v", ErrMalformed, err)
	}
	return nil
}

// FragmentFromPlist renders the top-level dictionary of a plist document
// (XML, binary or OpenStep) as an XML fragment suitable for RenderEntitlements.
func FragmentFromPlist(data []byte) (string, error) {
	var ents map[string]any
	if _, err := plist.Unmarshal(data, &ents); err != nil {
		return "", fmt.Errorf("failed to decode entitlements plist: %v", err)
	}
	keys := make([]string, 0, len(ents))
	for k := range ents {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for i, k := range keys {
		v, err := plist.Marshal(ents[k], plist.XMLFormat)
		if err != nil {
			return "", fmt.Errorf("failed to encode entitlement %s: %v", k, err)
		}
		val, err := plistValue(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode entitlement %s: %v", k, err)
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString("<key>")
		if err := xml.EscapeText(&buf, []byte(k)); err != nil {
			return "", err
		}
		buf.WriteString("</key>")
		buf.Write(val)
	}
	return buf.String(), nil
}

// plistValue strips the document wrapper emitted by plist.Marshal.
func plistValue(doc []byte) ([]byte, error) {
	start := bytes.Index(doc, []byte(`<plist version="1.0">`))
	end := bytes.LastIndex(doc, []byte("</plist>"))
	if start < 0 || end < 0 {
		return nil, fmt.Errorf("unexpected plist encoding")
	}
	return bytes.TrimSpace(doc[start+len(`<plist version="1.0">`) : end]), nil
}
