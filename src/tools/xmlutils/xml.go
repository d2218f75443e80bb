// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

// Package xmlutils provides utilities for working with XML documents:
// conversions and patch programs applied to view architectures.
package xmlutils

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// A Position tells where the payload of a patch goes relative to the
// located node.
type Position string

// Patch positions
const (
	PositionAppend     Position = "append"
	PositionPrepend    Position = "prepend"
	PositionBefore     Position = "before"
	PositionAfter      Position = "after"
	PositionReplace    Position = "replace"
	PositionAttributes Position = "attributes"
)

// ParsePosition returns the Position for the given string. "inside" is an
// alias of append.
func ParsePosition(str string) (Position, error) {
	switch str {
	case "inside", "", string(PositionAppend):
		return PositionAppend, nil
	case string(PositionPrepend), string(PositionBefore), string(PositionAfter),
		string(PositionReplace), string(PositionAttributes):
		return Position(str), nil
	}
	return "", fmt.Errorf("unknown patch position '%s'", str)
}

// A Patch is a single (locator, operation, payload) instruction.
type Patch struct {
	Locator  string
	Position Position
	Payload  []etree.Token
	// Attributes holds attribute values to set for PositionAttributes.
	// An empty value removes the attribute.
	Attributes []etree.Attr
}

// ParsePatches converts the children of a patch program element into
// a list of patches. Each child is either an <xpath expr="..."> element
// or a shorthand element such as <field name="x" position="after">.
func ParsePatches(program *etree.Element) ([]Patch, error) {
	var res []Patch
	for _, spec := range program.ChildElements() {
		locator, err := locatorFromSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("error in spec %s: %s", ElementToString(spec), err)
		}
		pos, err := ParsePosition(spec.SelectAttrValue("position", ""))
		if err != nil {
			return nil, fmt.Errorf("error in spec %s: %s", ElementToString(spec), err)
		}
		patch := Patch{Locator: locator, Position: pos}
		if pos == PositionAttributes {
			for _, node := range spec.SelectElements("attribute") {
				patch.Attributes = append(patch.Attributes, etree.Attr{
					Key:   node.SelectAttrValue("name", ""),
					Value: strings.TrimSpace(node.Text()),
				})
			}
		}
		for _, child := range spec.Copy().Child {
			if cd, ok := child.(*etree.CharData); ok && strings.TrimSpace(cd.Data) == "" {
				continue
			}
			patch.Payload = append(patch.Payload, child)
		}
		res = append(res, patch)
	}
	return res, nil
}

// ApplyPatches returns a copy of base with the given patches applied in
// order. base is never modified.
func ApplyPatches(base *etree.Element, patches []Patch) (*etree.Element, error) {
	root := CopyElement(base)
	wrapper := etree.NewElement("_root")
	wrapper.AddChild(root)
	for _, patch := range patches {
		var node *etree.Element
		if patch.Locator == "." || patch.Locator == "/"+root.Tag {
			node = root
		} else {
			path, err := etree.CompilePath(patch.Locator)
			if err != nil {
				return nil, fmt.Errorf("invalid locator '%s': %s", patch.Locator, err)
			}
			node = wrapper.FindElementPath(path)
		}
		if node == nil {
			return nil, fmt.Errorf("node not found in parent view: %s", patch.Locator)
		}
		if err := applyPatch(node, patch); err != nil {
			return nil, err
		}
		root = wrapper.ChildElements()[0]
	}
	res := root.Copy()
	etree.NewDocument().SetRoot(res)
	return res, nil
}

// applyPatch applies a single patch on the given node
func applyPatch(node *etree.Element, patch Patch) error {
	payload := make([]etree.Token, len(patch.Payload))
	for i, p := range patch.Payload {
		switch tok := p.(type) {
		case *etree.Element:
			payload[i] = tok.Copy()
		case *etree.CharData:
			payload[i] = etree.NewText(tok.Data)
		default:
			payload[i] = p
		}
	}
	switch patch.Position {
	case PositionBefore:
		for _, p := range payload {
			node.Parent().InsertChild(node, p)
		}
	case PositionAfter:
		next := NextSibling(node)
		for _, p := range payload {
			node.Parent().InsertChild(next, p)
		}
	case PositionReplace:
		parent := node.Parent()
		if parent.Tag == "_root" && len(payload) != 1 {
			return fmt.Errorf("replacing the root node requires exactly one element")
		}
		for _, p := range payload {
			parent.InsertChild(node, p)
		}
		parent.RemoveChild(node)
	case PositionAppend:
		for _, p := range payload {
			node.AddChild(p)
		}
	case PositionPrepend:
		var first etree.Token
		if len(node.Child) > 0 {
			first = node.Child[0]
		}
		for _, p := range payload {
			node.InsertChild(first, p)
		}
	case PositionAttributes:
		for _, attr := range patch.Attributes {
			node.RemoveAttr(attr.Key)
			if attr.Value != "" {
				node.CreateAttr(attr.Key, attr.Value)
			}
		}
	default:
		return fmt.Errorf("unknown patch position '%s'", patch.Position)
	}
	return nil
}

// locatorFromSpec returns an XPath string that is suitable for
// searching the base view and find the node to modify.
func locatorFromSpec(spec *etree.Element) (string, error) {
	if spec.Tag == "xpath" {
		expr := spec.SelectAttrValue("expr", "")
		if expr == "" {
			return "", fmt.Errorf("xpath spec without 'expr' attribute")
		}
		return expr, nil
	}
	var attrStr string
	for _, attr := range spec.Attr {
		if attr.Key == "position" {
			continue
		}
		attrStr += fmt.Sprintf("[@%s='%s']", attr.Key, attr.Value)
	}
	return fmt.Sprintf("//%s%s", spec.Tag, attrStr), nil
}
