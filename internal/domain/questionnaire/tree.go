package questionnaire

import (
	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// SplitItems walks a wire item tree depth-first, storing every item without
// its children in into and returning the matching order nodes. Empty linkIds
// are replaced with generated ones.
func SplitItems(items []Item, into map[string]Item) []OrderItem {
	order := make([]OrderItem, 0, len(items))
	for _, item := range items {
		if item.LinkID == "" {
			item.LinkID = uuid.NewString()
		}
		children := SplitItems(item.Item, into)
		item.Item = nil
		into[item.LinkID] = item
		order = append(order, OrderItem{LinkID: item.LinkID, Items: children})
	}
	return order
}

// children resolves a parent path to the slice holding its child nodes. An
// empty path is the root. The path must match the tree exactly.
func children(s *State, path []string) (*[]OrderItem, error) {
	if len(path) == 0 {
		return &s.Order, nil
	}
	parent := path[len(path)-1]
	found, ok := FindPath(s.Order, parent)
	if !ok || !slices.Equal(found, path) {
		return nil, ErrItemNotFound
	}
	node, _ := FindNode(s.Order, parent)
	return &node.Items, nil
}

func insertNode(nodes *[]OrderItem, index *int, node OrderItem) {
	at := len(*nodes)
	if index != nil && *index >= 0 && *index < at {
		at = *index
	}
	*nodes = slices.Insert(*nodes, at, node)
}

// detachNode removes linkID from the tree and returns its node.
func detachNode(order *[]OrderItem, linkID string) (OrderItem, bool) {
	for i, n := range *order {
		if n.LinkID == linkID {
			*order = slices.Delete(*order, i, i+1)
			return n, true
		}
		if found, ok := detachNode(&(*order)[i].Items, linkID); ok {
			return found, true
		}
	}
	return OrderItem{}, false
}
