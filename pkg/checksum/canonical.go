package checksum

import (
	"bytes"
	"encoding/binary"
	"sort"
	"strings"
)

// canonical type tags. Each encoded value is prefixed with one of these so
// that two structurally equivalent values - a JSON object with its keys in
// a different order, a YAML mapping re-indented - always produce identical
// bytes.
const (
	tagNil byte = iota
	tagBool
	tagInt
	tagFloat
	tagString
	tagList
	tagMap
)

// canonicalEncode renders data (the result of decoding JSON or YAML into
// interface{}) into its canonical byte form: maps become key-sorted
// (key,value) sequences, slices become sequences sorted by their own
// encoded bytes, strings are trimmed, and every value carries a fixed type
// tag so encodings of differently-typed-but-textually-similar values never
// collide.
func canonicalEncode(data interface{}) []byte {
	var buf bytes.Buffer
	encodeValue(&buf, data)
	return buf.Bytes()
}

func encodeValue(buf *bytes.Buffer, v interface{}) {
	switch val := v.(type) {
	case nil:
		buf.WriteByte(tagNil)
	case bool:
		buf.WriteByte(tagBool)
		if val {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case int:
		encodeInt(buf, int64(val))
	case int64:
		encodeInt(buf, val)
	case float64:
		encodeFloat(buf, val)
	case string:
		encodeString(buf, val)
	case []byte:
		encodeString(buf, string(val))
	case []interface{}:
		encodeList(buf, val)
	case map[string]interface{}:
		encodeMap(buf, val)
	case map[interface{}]interface{}:
		// gopkg.in/yaml.v3 decodes mappings as map[string]interface{} when
		// keys are strings, but falls back to this shape for non-string
		// keys; stringify keys so JSON and YAML normalize identically.
		m := make(map[string]interface{}, len(val))
		for k, v := range val {
			m[stringifyKey(k)] = v
		}
		encodeMap(buf, m)
	default:
		// Unsupported scalar kinds (e.g. a YAML !!timestamp) fall back to
		// their string form - still deterministic, never silently dropped.
		encodeString(buf, toString(val))
	}
}

func encodeInt(buf *bytes.Buffer, n int64) {
	buf.WriteByte(tagInt)
	_ = binary.Write(buf, binary.BigEndian, n)
}

func encodeFloat(buf *bytes.Buffer, f float64) {
	buf.WriteByte(tagFloat)
	_ = binary.Write(buf, binary.BigEndian, f)
}

func encodeString(buf *bytes.Buffer, s string) {
	s = strings.TrimSpace(s)
	buf.WriteByte(tagString)
	_ = binary.Write(buf, binary.BigEndian, uint32(len(s)))
	buf.WriteString(s)
}

func encodeList(buf *bytes.Buffer, items []interface{}) {
	encoded := make([][]byte, len(items))
	for i, item := range items {
		var itemBuf bytes.Buffer
		encodeValue(&itemBuf, item)
		encoded[i] = itemBuf.Bytes()
	}
	sort.Slice(encoded, func(i, j int) bool { return bytes.Compare(encoded[i], encoded[j]) < 0 })

	buf.WriteByte(tagList)
	_ = binary.Write(buf, binary.BigEndian, uint32(len(encoded)))
	for _, e := range encoded {
		_ = binary.Write(buf, binary.BigEndian, uint32(len(e)))
		buf.Write(e)
	}
}

type encodedEntry struct {
	key   []byte
	value []byte
}

func encodeMap(buf *bytes.Buffer, m map[string]interface{}) {
	entries := make([]encodedEntry, 0, len(m))
	for k, v := range m {
		var keyBuf, valBuf bytes.Buffer
		encodeString(&keyBuf, k)
		encodeValue(&valBuf, v)
		entries = append(entries, encodedEntry{key: keyBuf.Bytes(), value: valBuf.Bytes()})
	}
	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].key, entries[j].key) < 0 })

	buf.WriteByte(tagMap)
	_ = binary.Write(buf, binary.BigEndian, uint32(len(entries)))
	for _, e := range entries {
		_ = binary.Write(buf, binary.BigEndian, uint32(len(e.key)))
		buf.Write(e.key)
		_ = binary.Write(buf, binary.BigEndian, uint32(len(e.value)))
		buf.Write(e.value)
	}
}

func stringifyKey(k interface{}) string {
	if s, ok := k.(string); ok {
		return s
	}
	return toString(k)
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case []byte:
		return string(val)
	default:
		return bytesFallback(val)
	}
}

func bytesFallback(v interface{}) string {
	return strings.TrimSpace(sprint(v))
}
