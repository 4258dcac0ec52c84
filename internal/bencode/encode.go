package bencode

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// Encode produces the canonical bencoding of v: strings as <len>:<bytes>,
// integers as i<digits>e with no leading zeros or '+' sign, lists as
// l<elements>e, and dictionaries as d<key><value>...e with keys emitted in
// ascending lexicographic byte order (spec.md §4.1).
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encodeInto(&buf, v)
	return buf.Bytes()
}

func encodeInto(buf *bytes.Buffer, v Value) {
	switch v.Kind {
	case KindInt:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.Int, 10))
		buf.WriteByte('e')
	case KindString:
		buf.WriteString(strconv.Itoa(len(v.Str)))
		buf.WriteByte(':')
		buf.Write(v.Str)
	case KindList:
		buf.WriteByte('l')
		for _, item := range v.List {
			encodeInto(buf, item)
		}
		buf.WriteByte('e')
	case KindDict:
		buf.WriteByte('d')
		keys := make([]string, 0, len(v.Dict))
		for k := range v.Dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			encodeInto(buf, Value{Kind: KindString, Str: []byte(k)})
			encodeInto(buf, v.Dict[k])
		}
		buf.WriteByte('e')
	default:
		panic(fmt.Sprintf("bencode: encode of invalid Value kind %d", v.Kind))
	}
}
