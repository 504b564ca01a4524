package doc

import (
	"encoding/json"
	"fmt"
)

// SerializedNode is the JSON form of a document tree.
type SerializedNode struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	IDs      []string         `json:"ids,omitempty"`
	Children []SerializedNode `json:"children,omitempty"`
	Version  int              `json:"version"`
}

const serializedVersion = 1

// Export serializes the whole document.
func Export(st *State) SerializedNode {
	return exportNode(st, RootKey)
}

func exportNode(st *State, key NodeKey) SerializedNode {
	n := st.nodes[key]
	out := SerializedNode{Type: n.kind.String(), Version: serializedVersion}
	switch n.kind {
	case KindText:
		out.Text = n.text
	case KindMark:
		out.IDs = n.Labels()
	}
	for _, c := range n.children {
		out.Children = append(out.Children, exportNode(st, c))
	}
	return out
}

// MarshalState encodes the document as JSON.
func MarshalState(st *State) ([]byte, error) {
	return json.Marshal(Export(st))
}

// ParseSerialized decodes a JSON document tree.
func ParseSerialized(data []byte) (SerializedNode, error) {
	var root SerializedNode
	if err := json.Unmarshal(data, &root); err != nil {
		return SerializedNode{}, fmt.Errorf("decode document: %w", err)
	}
	if root.Type != KindRoot.String() {
		return SerializedNode{}, fmt.Errorf("decode document: top-level node is %q, want root", root.Type)
	}
	return root, nil
}

// Import replaces the document content with root's children. The selection
// is cleared.
func (tx *Txn) Import(root SerializedNode) error {
	for _, c := range tx.st.Root().Children() {
		if err := tx.Remove(c); err != nil {
			return err
		}
	}
	tx.ClearSelection()
	for _, child := range root.Children {
		key, err := tx.build(child)
		if err != nil {
			return err
		}
		if err := tx.Append(RootKey, key); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Txn) build(s SerializedNode) (NodeKey, error) {
	kind, ok := ParseKind(s.Type)
	if !ok || kind == KindRoot {
		return 0, fmt.Errorf("import: unsupported node type %q", s.Type)
	}
	if kind == KindText {
		return tx.CreateText(s.Text), nil
	}
	key := tx.CreateElement(kind, s.IDs)
	for _, c := range s.Children {
		child, err := tx.build(c)
		if err != nil {
			return 0, err
		}
		if err := tx.Append(key, child); err != nil {
			return 0, err
		}
	}
	return key, nil
}
