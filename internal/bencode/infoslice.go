package bencode

import "fmt"

// ExtractInfoSlice decodes the top-level bencoded dictionary in data and
// returns both the decoded value and the exact half-open byte range the raw
// "info" value occupied in data. The range must come from the original
// bytes, not a re-encoding: tracker/metainfo producers are not guaranteed
// to emit canonical bencode, so re-encoding a decoded dictionary before
// hashing it would silently change the info hash (spec.md §3, §4.1).
//
// A top level that is not a dictionary fails with ErrMalformed. ok is
// false if the dictionary has no "info" key; in that case start and end
// are both 0.
func ExtractInfoSlice(data []byte) (top Value, start int, end int, ok bool, err error) {
	if len(data) == 0 || data[0] != 'd' {
		return Value{}, 0, 0, false, fmt.Errorf("%w: top-level value is not a dictionary", ErrMalformed)
	}

	infoStart, infoEnd := -1, -1
	onPair := func(key []byte, valStart, valEnd int) {
		if string(key) == "info" {
			infoStart, infoEnd = valStart, valEnd
		}
	}

	top, consumed, decErr := decodeDict(data, 0, onPair)
	if decErr != nil {
		return Value{}, 0, 0, false, decErr
	}
	_ = consumed

	if infoStart < 0 {
		return top, 0, 0, false, nil
	}
	return top, infoStart, infoEnd, true, nil
}
