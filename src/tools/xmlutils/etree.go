// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package xmlutils

import (
	"fmt"

	"github.com/beevik/etree"
)

// DocumentToXML returns the indented XML bytes of the given document
func DocumentToXML(doc *etree.Document) ([]byte, error) {
	doc.Indent(2)
	xml, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("unable to marshal document: %s", err)
	}
	return xml, nil
}

// ElementToXML returns the indented XML bytes of the given element and
// all its children.
func ElementToXML(element *etree.Element) ([]byte, error) {
	doc := etree.NewDocument()
	doc.SetRoot(element.Copy())
	return DocumentToXML(doc)
}

// ElementToString returns the XML of the given element and all its
// children without indentation.
func ElementToString(element *etree.Element) string {
	doc := etree.NewDocument()
	doc.SetRoot(element.Copy())
	str, err := doc.WriteToString()
	if err != nil {
		return fmt.Sprintf("<!-- %s -->", err)
	}
	return str
}

// XMLToDocument parses the given xml string and returns an etree.Document
func XMLToDocument(xmlStr string) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.Permissive = false
	if err := doc.ReadFromString(xmlStr); err != nil {
		return nil, fmt.Errorf("unable to parse XML: %s", err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("unable to parse XML: no root element")
	}
	return doc, nil
}

// XMLToElement parses the given xml string and returns the root node
func XMLToElement(xmlStr string) (*etree.Element, error) {
	doc, err := XMLToDocument(xmlStr)
	if err != nil {
		return nil, err
	}
	return doc.Root(), nil
}

// NextSibling returns the next sibling of the given token or nil if this
// is the last token of its parent
func NextSibling(token etree.Token) etree.Token {
	var found bool
	for _, el := range token.Parent().Child {
		if found {
			return el
		}
		if el == token {
			found = true
		}
	}
	return nil
}

// CopyElement deep copies the given element, setting it as root to a new document
func CopyElement(element *etree.Element) *etree.Element {
	el := element.Copy()
	doc := etree.NewDocument()
	doc.SetRoot(el)
	return el
}

// InnerXML returns the XML of the children of the given element, without
// the element itself.
func InnerXML(element *etree.Element) string {
	doc := etree.NewDocument()
	for _, child := range element.Child {
		switch c := child.(type) {
		case *etree.Element:
			doc.AddChild(c.Copy())
		case *etree.CharData:
			doc.CreateCharData(c.Data)
		}
	}
	str, _ := doc.WriteToString()
	return str
}
