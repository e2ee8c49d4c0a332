// Package imeta parses and builds NIP-92 imeta tags, the per-file
// metadata descriptor used by kind-15 attachment rumors. No library in
// the example pack covers this tag grammar (space-separated "k v" items
// inside one tag value), so it is hand-rolled here; see DESIGN.md.
package imeta

import "strings"

// FileMetadata mirrors spec §3's FileMetadata record.
type FileMetadata struct {
	URL        string
	MimeType   string
	Size       string
	Name       string // from "alt"
	Dim        string
	Blurhash   string
	Thumb      string
	Fallback   []string
	Hash       string // "x"
	Algorithm  string // "encryption-algorithm"
	KeyBase64  string // "decryption-key"
	NonceBase64 string // "decryption-nonce"
}

// ParseTag parses one "imeta" tag's items (space-separated "k v" pairs,
// tag[0] == "imeta", tag[1:] are the items) into a FileMetadata. Returns
// nil if the tag has no url item — a url-less imeta tag isn't a usable
// attachment descriptor.
func ParseTag(tagValues []string) *FileMetadata {
	fm := &FileMetadata{}
	hasURL := false
	for _, item := range tagValues {
		k, v, ok := splitKV(item)
		if !ok {
			continue
		}
		switch k {
		case "url":
			fm.URL = v
			hasURL = true
		case "m":
			fm.MimeType = v
		case "size":
			fm.Size = v
		case "alt":
			fm.Name = v
		case "dim":
			fm.Dim = v
		case "blurhash":
			fm.Blurhash = v
		case "thumb":
			fm.Thumb = v
		case "fallback":
			fm.Fallback = append(fm.Fallback, v)
		case "x":
			fm.Hash = v
		case "encryption-algorithm":
			fm.Algorithm = v
		case "decryption-key":
			fm.KeyBase64 = v
		case "decryption-nonce":
			fm.NonceBase64 = v
		}
	}
	if !hasURL {
		return nil
	}
	return fm
}

// ParseAllTags scans a full tag list for "imeta" tags and returns one
// FileMetadata per tag that carries a url, per spec §4.5(a).
func ParseAllTags(tags [][]string) []FileMetadata {
	var out []FileMetadata
	for _, tag := range tags {
		if len(tag) < 1 || tag[0] != "imeta" {
			continue
		}
		if fm := ParseTag(tag[1:]); fm != nil {
			out = append(out, *fm)
		}
	}
	return out
}

// ParseLegacyFlatTags scans top-level tags (not wrapped in imeta) for the
// same keys, producing at most one FileMetadata, per spec §4.5(b) for
// older kind-15 rumors.
func ParseLegacyFlatTags(tags [][]string) *FileMetadata {
	fm := &FileMetadata{}
	hasURL := false
	for _, tag := range tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "url":
			fm.URL = tag[1]
			hasURL = true
		case "m":
			fm.MimeType = tag[1]
		case "size":
			fm.Size = tag[1]
		case "alt":
			fm.Name = tag[1]
		case "dim":
			fm.Dim = tag[1]
		case "blurhash":
			fm.Blurhash = tag[1]
		case "thumb":
			fm.Thumb = tag[1]
		case "fallback":
			fm.Fallback = append(fm.Fallback, tag[1])
		case "x":
			fm.Hash = tag[1]
		case "encryption-algorithm":
			fm.Algorithm = tag[1]
		case "decryption-key":
			fm.KeyBase64 = tag[1]
		case "decryption-nonce":
			fm.NonceBase64 = tag[1]
		}
	}
	if !hasURL {
		return nil
	}
	return fm
}

// BuildTag renders a FileMetadata back into an imeta tag's item list
// (tag[0] == "imeta" is added by the caller assembling the full event
// tag), for the send pipeline's attachment descriptor.
func BuildTag(fm FileMetadata) []string {
	items := []string{"url " + fm.URL}
	if fm.MimeType != "" {
		items = append(items, "m "+fm.MimeType)
	}
	if fm.Size != "" {
		items = append(items, "size "+fm.Size)
	}
	if fm.Name != "" {
		items = append(items, "alt "+fm.Name)
	}
	if fm.Dim != "" {
		items = append(items, "dim "+fm.Dim)
	}
	if fm.Blurhash != "" {
		items = append(items, "blurhash "+fm.Blurhash)
	}
	if fm.Thumb != "" {
		items = append(items, "thumb "+fm.Thumb)
	}
	for _, fb := range fm.Fallback {
		items = append(items, "fallback "+fb)
	}
	if fm.Hash != "" {
		items = append(items, "x "+fm.Hash)
	}
	if fm.Algorithm != "" {
		items = append(items, "encryption-algorithm "+fm.Algorithm)
	}
	if fm.KeyBase64 != "" {
		items = append(items, "decryption-key "+fm.KeyBase64)
	}
	if fm.NonceBase64 != "" {
		items = append(items, "decryption-nonce "+fm.NonceBase64)
	}
	return items
}

// splitKV splits "key value" on the first space; keys/values beyond that
// (e.g. a value containing spaces) keep the remainder intact.
func splitKV(item string) (key, value string, ok bool) {
	idx := strings.IndexByte(item, ' ')
	if idx < 0 {
		return "", "", false
	}
	return item[:idx], item[idx+1:], true
}
