package roap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrEmptyDocument is returned when the input holds no root element
	ErrEmptyDocument = errors.New("document has no root element")

	// ErrMalformed is returned when a document or message cannot be parsed
	ErrMalformed = errors.New("malformed ROAP message")
)

// Document is a decoded XML document. Only the root element is exposed;
// typed access goes through Element.Decode or the Parse functions.
type Document struct {
	root *Element
}

// Element is the root element of a decoded document.
type Element struct {
	name string
	raw  []byte
}

// Name returns the local name of the element (the message type tag)
func (e *Element) Name() string { return e.name }

// Decode unmarshals the element into v.
func (e *Element) Decode(v any) error {
	if err := xml.Unmarshal(e.raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, e.name, err)
	}
	return nil
}

// RootElement returns the document root
func (d *Document) RootElement() *Element { return d.root }

// DecodeDocument parses text and checks that it is a well-formed document
// with exactly one root element.
func DecodeDocument(text string) (*Document, error) {
	return decode([]byte(text))
}

// DecodeDocumentFromFile reads and decodes the document stored at path.
func DecodeDocumentFromFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return decode(data)
}

func decode(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyDocument
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	var root string
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				if root != "" {
					return nil, fmt.Errorf("%w: multiple root elements", ErrMalformed)
				}
				root = t.Name.Local
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && len(strings.TrimSpace(string(t))) > 0 {
				return nil, fmt.Errorf("%w: text outside root element", ErrMalformed)
			}
		}
	}

	if root == "" {
		return nil, ErrEmptyDocument
	}

	return &Document{root: &Element{name: root, raw: data}}, nil
}
