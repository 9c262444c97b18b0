package hilink

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>`

// successMarker is the body of a <response> root acknowledging a write.
const successMarker = "OK"

// Field is one element of a request body. Order is preserved on the wire.
type Field struct {
	Name  string
	Value string
}

// EncodeRequest builds a <request> document from fields in the given order.
func EncodeRequest(fields ...Field) []byte {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	buf.WriteString("<request>")
	for _, f := range fields {
		buf.WriteString("<")
		buf.WriteString(f.Name)
		buf.WriteString(">")
		_ = xml.EscapeText(&buf, []byte(f.Value))
		buf.WriteString("</")
		buf.WriteString(f.Name)
		buf.WriteString(">")
	}
	buf.WriteString("</request>")
	return buf.Bytes()
}

// Response is a decoded <response> document. Fields holds the text of the
// direct children of the root; Value holds the root's own text.
type Response struct {
	Fields map[string]string
	Value  string
}

// Get returns the named field, or def when the device omitted it.
func (r *Response) Get(name, def string) string {
	if v, ok := r.Fields[name]; ok {
		return v
	}
	return def
}

// Has reports whether the device sent the named field.
func (r *Response) Has(name string) bool {
	_, ok := r.Fields[name]
	return ok
}

// OK reports whether the response carries the write success marker.
func (r *Response) OK() bool {
	return r.Value == successMarker
}

// DecodeResponse parses a device reply. An <error> root is returned as a
// *DeviceError; malformed documents and unknown roots as a *ProtocolError.
func DecodeResponse(data []byte) (*Response, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	root, err := firstElement(dec)
	if err != nil {
		return nil, &ProtocolError{Op: "decode", Err: err}
	}

	switch root.Name.Local {
	case "error":
		fields, _, err := readChildren(dec)
		if err != nil {
			return nil, &ProtocolError{Op: "decode", Err: err}
		}
		code, _ := strconv.Atoi(fields["code"])
		return nil, &DeviceError{Code: code, Kind: KindForCode(code)}
	case "response":
		fields, value, err := readChildren(dec)
		if err != nil {
			return nil, &ProtocolError{Op: "decode", Err: err}
		}
		return &Response{Fields: fields, Value: value}, nil
	default:
		return nil, &ProtocolError{Op: "decode", Err: fmt.Errorf("unexpected root element <%s>", root.Name.Local)}
	}
}

func firstElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return xml.StartElement{}, errors.New("empty document")
		}
		if err != nil {
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

// readChildren consumes tokens up to the end of the current element.
// Grandchildren are skipped; for repeated names the first one wins.
func readChildren(dec *xml.Decoder) (map[string]string, string, error) {
	fields := make(map[string]string)
	var own, text strings.Builder
	var child string
	depth := 0

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, "", errors.New("unexpected end of document")
		}
		if err != nil {
			return nil, "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				child = t.Name.Local
				text.Reset()
			}
		case xml.EndElement:
			if depth == 0 {
				return fields, strings.TrimSpace(own.String()), nil
			}
			if depth == 1 {
				if _, dup := fields[child]; !dup {
					fields[child] = strings.TrimSpace(text.String())
				}
			}
			depth--
		case xml.CharData:
			switch depth {
			case 0:
				own.Write(t)
			case 1:
				text.Write(t)
			}
		}
	}
}
