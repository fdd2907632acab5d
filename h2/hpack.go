package h2

import (
	"golang.org/x/net/http2/hpack"
)

// HeaderField is a single decoded header.
type HeaderField struct {
	Name  string
	Value string
}

// IsPseudo reports whether the field is an HTTP/2 pseudo-header.
func (f HeaderField) IsPseudo() bool {
	return len(f.Name) > 0 && f.Name[0] == ':'
}

// HeaderDecoder is the HPACK collaborator. One decoder exists per direction
// of a flow; its dynamic table persists across the header blocks of that
// direction. Literal and Huffman decoding happen behind this interface, not
// in the engine.
type HeaderDecoder interface {
	// Feed appends a header block fragment. endHeaders marks the final
	// fragment of the block.
	Feed(fragment []byte, endHeaders bool) error

	// TakeHeaderList returns the fields decoded since the last call and
	// clears them. Valid after Feed with endHeaders set.
	TakeHeaderList() []HeaderField

	// Reset discards any partially decoded block, for use on RST_STREAM or
	// an aborted stream. The dynamic table is kept: it is connection state.
	Reset()
}

// hpackDecoder is the default HeaderDecoder backed by
// golang.org/x/net/http2/hpack.
type hpackDecoder struct {
	dec    *hpack.Decoder
	fields []HeaderField
}

const hpackDefaultTableSize = 4096

// NewHeaderDecoder returns the default HPACK collaborator.
func NewHeaderDecoder(maxHeaderListSize uint32) HeaderDecoder {
	d := &hpackDecoder{}
	d.dec = hpack.NewDecoder(hpackDefaultTableSize, func(f hpack.HeaderField) {
		d.fields = append(d.fields, HeaderField{Name: f.Name, Value: f.Value})
	})
	d.dec.SetMaxStringLength(int(maxHeaderListSize))
	return d
}

func (d *hpackDecoder) Feed(fragment []byte, endHeaders bool) error {
	if _, err := d.dec.Write(fragment); err != nil {
		return err
	}
	if endHeaders {
		return d.dec.Close()
	}
	return nil
}

func (d *hpackDecoder) TakeHeaderList() []HeaderField {
	fields := d.fields
	d.fields = nil
	return fields
}

func (d *hpackDecoder) Reset() {
	// Close drops any undecoded bytes of the unfinished block; the
	// truncation error it reports for them is expected here.
	_ = d.dec.Close()
	d.fields = nil
}
