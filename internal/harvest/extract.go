// internal/harvest/extract.go
package harvest

import (
	"io"

	jsoniter "github.com/json-iterator/go"
)

type nodeKind uint8

const (
	otherNode nodeKind = iota
	objectNode
	arrayNode
	stringNode
)

// jsonNode keeps object members in document order, which a decoded map loses.
type jsonNode struct {
	kind   nodeKind
	keys   []string
	values []*jsonNode
	str    string
}

func decodeNode(iter *jsoniter.Iterator) *jsonNode {
	switch iter.WhatIsNext() {
	case jsoniter.ObjectValue:
		n := &jsonNode{kind: objectNode}
		iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
			n.keys = append(n.keys, key)
			n.values = append(n.values, decodeNode(it))
			return it.Error == nil
		})
		return n
	case jsoniter.ArrayValue:
		n := &jsonNode{kind: arrayNode}
		iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			n.values = append(n.values, decodeNode(it))
			return it.Error == nil
		})
		return n
	case jsoniter.StringValue:
		return &jsonNode{kind: stringNode, str: iter.ReadString()}
	default:
		iter.Skip()
		return &jsonNode{kind: otherNode}
	}
}

// parseJSON returns nil when body is not a single well-formed JSON value.
func parseJSON(body []byte) *jsonNode {
	iter := jsoniter.ConfigCompatibleWithStandardLibrary.BorrowIterator(body)
	defer jsoniter.ConfigCompatibleWithStandardLibrary.ReturnIterator(iter)

	root := decodeNode(iter)
	if iter.Error != nil && iter.Error != io.EOF {
		return nil
	}
	// Only whitespace may follow; reaching the end is reported as io.EOF.
	if iter.WhatIsNext() != jsoniter.InvalidValue || iter.Error != io.EOF {
		return nil
	}
	return root
}

// descend collects, in document order, every value stored under key at any
// depth below the given nodes.
func descend(nodes []*jsonNode, key string) []*jsonNode {
	var out []*jsonNode
	var walk func(n *jsonNode)
	walk = func(n *jsonNode) {
		switch n.kind {
		case objectNode:
			for i, k := range n.keys {
				if k == key {
					out = append(out, n.values[i])
				}
				walk(n.values[i])
			}
		case arrayNode:
			for _, v := range n.values {
				walk(v)
			}
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return out
}

// ExtractValues evaluates the recursive-descent path ..path[0]..path[1]... over
// body and returns the string leaves it selects, in document order. Invalid
// JSON and an empty path yield nil.
func ExtractValues(body []byte, path ...string) []string {
	if len(path) == 0 {
		return nil
	}
	root := parseJSON(body)
	if root == nil {
		return nil
	}
	nodes := []*jsonNode{root}
	for _, key := range path {
		nodes = descend(nodes, key)
		if len(nodes) == 0 {
			return nil
		}
	}
	var values []string
	for _, n := range nodes {
		if n.kind == stringNode {
			values = append(values, n.str)
		}
	}
	return values
}
