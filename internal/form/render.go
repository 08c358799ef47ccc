package form

import (
	"github.com/saviour-lab/console/internal/configtree"
	"github.com/saviour-lab/console/model"
)

// Render walks a filtered snapshot and emits form nodes in the snapshot's
// key order. Nested objects become section nodes; when a section is
// expanded its children are resolved recursively, when collapsed the
// children are omitted but the section node itself is always present so the
// frontend can still show the header. Leaves become field nodes with the
// input kind inferred from the value's kind.
//
// Traversal terminates because snapshots arrive serialized from the rig
// controller and are therefore finite and acyclic.
func Render(filtered configtree.Value, collapse CollapseState) []model.FormNode {
	return renderObject(filtered, collapse, nil)
}

func renderObject(v configtree.Value, collapse CollapseState, path configtree.Path) []model.FormNode {
	if v.Kind() != configtree.KindObject {
		return nil
	}

	var nodes []model.FormNode
	for _, key := range v.Obj().Keys() {
		child, _ := v.Obj().Get(key)
		childPath := path.Child(key)

		if child.Kind() == configtree.KindObject {
			node := model.FormNode{
				Kind:      model.NodeSection,
				Label:     key,
				Path:      childPath.String(),
				Collapsed: collapse.Collapsed(childPath.String()),
			}
			if !node.Collapsed {
				node.Children = renderObject(child, collapse, childPath)
			}
			nodes = append(nodes, node)
			continue
		}

		nodes = append(nodes, model.FormNode{
			Kind:  model.NodeField,
			Label: key,
			Path:  childPath.String(),
			Input: inputKind(child),
			Value: child.Interface(),
		})
	}
	return nodes
}

func inputKind(v configtree.Value) string {
	switch v.Kind() {
	case configtree.KindBool:
		return model.InputCheckbox
	case configtree.KindNumber:
		return model.InputNumber
	default:
		return model.InputText
	}
}
