package transport

import (
	"unicode/utf8"

	"github.com/skarch/logpanel/internal/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultEncoding is the legacy code page assumed for local output that is
// not UTF-8. Korean Windows consoles default to CP949, a superset of EUC-KR.
func DefaultEncoding(goos string) string {
	if goos == "windows" {
		return "euc-kr"
	}
	return ""
}

// Decoder converts raw process output to text. Valid UTF-8 passes through;
// anything else goes through the fallback encoding if one is set.
type Decoder struct {
	name     string
	fallback encoding.Encoding
}

// NewDecoder looks up the fallback by its WHATWG name ("euc-kr",
// "shift_jis", "windows-1252", ...). An empty name disables the fallback.
func NewDecoder(name string) (*Decoder, error) {
	if name == "" {
		return &Decoder{}, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Unknown output encoding: "+name,
			"Set local.encoding to a WHATWG encoding name such as euc-kr or windows-1252")
	}
	return &Decoder{name: name, fallback: enc}, nil
}

// Name returns the fallback encoding name, or "" when there is none.
func (d *Decoder) Name() string {
	return d.name
}

// Decode returns b as a string.
func (d *Decoder) Decode(b []byte) string {
	if d.fallback == nil || utf8.Valid(b) {
		return string(b)
	}
	out, err := d.fallback.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
