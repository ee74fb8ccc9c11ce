package marketdata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrMalformedPayload is returned when an inbound feed message can not be
// decoded into a batch of quotes.
var ErrMalformedPayload = errors.New("malformed feed payload")

const contentTypeMsgpack = "application/msgpack"

// wrappedPayload is the envelope some publishers put around the batch. Raw is
// either the array itself or a JSON string holding the array.
type wrappedPayload struct {
	Raw json.RawMessage `json:"raw"`
}

// DecodeBatch decodes an inbound feed message into quotes.
//
// The primary format is a JSON array of quotes. A wrapper object whose "raw"
// field is an array or a JSON-encoded string containing an array is accepted as
// well, and so is a bare JSON string containing an array. Messages with the
// application/msgpack content type are decoded as a msgpack array.
//
// Quotes without a token are dropped.
func DecodeBatch(contentType string, body []byte) ([]InstrumentQuote, error) {
	var (
		batch []InstrumentQuote
		err   error
	)
	if strings.HasPrefix(contentType, contentTypeMsgpack) {
		err = msgpack.Unmarshal(body, &batch)
	} else {
		batch, err = decodeJSON(body, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return dropTokenless(batch), nil
}

// maxUnwrapDepth bounds how many layers of wrapping decodeJSON follows.
const maxUnwrapDepth = 2

func decodeJSON(body []byte, depth int) ([]InstrumentQuote, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}

	switch body[0] {
	case '[':
		var batch []InstrumentQuote
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, err
		}
		return batch, nil
	case '{':
		if depth >= maxUnwrapDepth {
			return nil, errors.New("too many wrapper levels")
		}
		var w wrappedPayload
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, err
		}
		if len(w.Raw) == 0 || string(w.Raw) == "null" {
			return nil, errors.New("wrapper without raw field")
		}
		return decodeJSON(w.Raw, depth+1)
	case '"':
		if depth >= maxUnwrapDepth {
			return nil, errors.New("too many wrapper levels")
		}
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return nil, err
		}
		return decodeJSON([]byte(s), depth+1)
	}
	return nil, fmt.Errorf("unexpected leading byte %q", body[0])
}

func dropTokenless(batch []InstrumentQuote) []InstrumentQuote {
	out := batch[:0]
	for _, q := range batch {
		if q.Token == 0 {
			continue
		}
		out = append(out, q)
	}
	return out
}
