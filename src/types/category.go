package types

// Category is a node of the category tree. Events hang directly off the
// category that owns them; sub-categories are ordered as configured.
type Category struct {
	ID         string
	Title      string
	Visibility int

	Parent        *Category
	SubCategories []*Category
	Events        []*Event
}

// NewCategory creates a detached category with default visibility.
func NewCategory(id, title string) *Category {
	return &Category{
		ID:         id,
		Title:      title,
		Visibility: DefaultVisibility,
	}
}

// OwnerPath returns the IDs from c up to (excluding) the root.
func (c *Category) OwnerPath() []string {
	var path []string
	for cur := c; cur != nil && cur.ID != RootCategoryID; cur = cur.Parent {
		path = append(path, cur.ID)
	}
	return path
}

// IsAncestorOf reports whether c is other or one of its ancestors.
func (c *Category) IsAncestorOf(other *Category) bool {
	for cur := other; cur != nil; cur = cur.Parent {
		if cur == c {
			return true
		}
	}
	return false
}

// WalkPostOrder visits every category of the sub-tree rooted at root,
// children before parents, siblings in order. The walk uses an explicit
// stack; fn returning false stops it.
func WalkPostOrder(root *Category, fn func(*Category) bool) {
	if root == nil {
		return
	}
	type frame struct {
		cat  *Category
		next int
	}
	stack := []frame{{cat: root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.cat.SubCategories) {
			child := top.cat.SubCategories[top.next]
			top.next++
			stack = append(stack, frame{cat: child})
			continue
		}
		cat := top.cat
		stack = stack[:len(stack)-1]
		if !fn(cat) {
			return
		}
	}
}

// CountEvents returns the number of events in the sub-tree rooted at root.
func CountEvents(root *Category) int {
	n := 0
	WalkPostOrder(root, func(c *Category) bool {
		n += len(c.Events)
		return true
	})
	return n
}
