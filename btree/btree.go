// Package btree implements Cryo's ordered index over the pager: search,
// insert with split-on-overflow, update, delete with merge-on-underflow,
// full traversal, and a DOT export of the page structure for debugging.
package btree

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/DavisRayM/cryo/page"
	"github.com/DavisRayM/cryo/pager"
	"github.com/DavisRayM/cryo/row"
)

// Breadcrumb records one step of a descent: the parent page visited and
// the index of the separator row that led to the next level. The
// upward phases of insert (split propagation) and delete (merge) walk
// these back without re-searching from the root.
type Breadcrumb struct {
	Parent pager.ID
	Index  int
}

// BTree indexes rows stored across pager pages.
type BTree struct {
	pager *pager.Pager
}

// New returns a B-Tree backed by p. The pager must already have a root
// page (pager.Open bootstraps a fresh file with an empty leaf root).
func New(p *pager.Pager) *BTree {
	return &BTree{pager: p}
}

func searchRows(rows []row.Row, id uint64) (pos int, found bool) {
	n := len(rows)
	pos = sort.Search(n, func(i int) bool { return rows[i].ID() >= id })
	if pos < n && rows[pos].ID() == id {
		return pos, true
	}
	return pos, false
}

func insertSorted(rows []row.Row, r row.Row) []row.Row {
	pos, _ := searchRows(rows, r.ID())
	out := make([]row.Row, 0, len(rows)+1)
	out = append(out, rows[:pos]...)
	out = append(out, r)
	out = append(out, rows[pos:]...)
	return out
}

// locate descends from the root to the leaf that does or should contain
// id, returning the leaf's page id, its decoded page, and the
// breadcrumb trail of internal pages visited along the way.
func (bt *BTree) locate(id uint64) (pager.ID, *page.Page, []Breadcrumb, error) {
	current := bt.pager.Root()
	pg, err := bt.pager.Read(current)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("btree: locate %d: %w", id, err)
	}

	var breadcrumbs []Breadcrumb
	for pg.Kind == page.KindInternal {
		rows := pg.Select()
		pos, exact := searchRows(rows, id)

		var idx int
		var nextID pager.ID
		if exact {
			idx = pos
			right, err := rows[pos].Right()
			if err != nil {
				return 0, nil, nil, fmt.Errorf("btree: locate %d: %w", id, err)
			}
			nextID = pager.ID(right)
		} else {
			var chosen row.Row
			if pos < len(rows) {
				chosen, idx = rows[pos], pos
			} else {
				chosen, idx = rows[pos-1], pos-1
			}
			if chosen.ID() >= id {
				left, err := chosen.Left()
				if err != nil {
					return 0, nil, nil, fmt.Errorf("btree: locate %d: %w", id, err)
				}
				nextID = pager.ID(left)
			} else {
				right, err := chosen.Right()
				if err != nil {
					return 0, nil, nil, fmt.Errorf("btree: locate %d: %w", id, err)
				}
				nextID = pager.ID(right)
			}
		}

		breadcrumbs = append(breadcrumbs, Breadcrumb{Parent: current, Index: idx})
		current = nextID
		pg, err = bt.pager.Read(current)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("btree: locate %d: %w", id, err)
		}
	}
	return current, pg, breadcrumbs, nil
}

// Get returns the leaf row with the given id.
func (bt *BTree) Get(id uint64) (row.Row, error) {
	_, leaf, _, err := bt.locate(id)
	if err != nil {
		return row.Row{}, err
	}
	rows := leaf.Select()
	pos, found := searchRows(rows, id)
	if !found {
		return row.Row{}, fmt.Errorf("btree: get %d: %w", id, page.ErrMissing)
	}
	return rows[pos], nil
}

// Insert adds a new leaf row, splitting pages up the tree as needed.
func (bt *BTree) Insert(id uint64, value []byte) error {
	r := row.NewLeaf(id, value)
	leafID, leaf, breadcrumbs, err := bt.locate(id)
	if err != nil {
		return err
	}

	if err := leaf.Insert(r); err != nil {
		if errors.Is(err, page.ErrFull) {
			return bt.split(leafID, leaf, breadcrumbs, r)
		}
		return fmt.Errorf("btree: insert %d: %w", id, err)
	}
	return bt.pager.Write(leafID, leaf)
}

// Update replaces the value stored under id. If the new value no
// longer fits in the leaf, it falls back to delete+insert, which may
// split.
func (bt *BTree) Update(id uint64, value []byte) error {
	leafID, leaf, breadcrumbs, err := bt.locate(id)
	if err != nil {
		return err
	}
	r := row.NewLeaf(id, value)

	if _, err := leaf.Update(r); err != nil {
		if !errors.Is(err, page.ErrFull) {
			return fmt.Errorf("btree: update %d: %w", id, err)
		}
		if err := leaf.Delete(row.NewLeaf(id, nil)); err != nil {
			return fmt.Errorf("btree: update %d: %w", id, err)
		}
		if err := leaf.Insert(r); err != nil {
			if errors.Is(err, page.ErrFull) {
				return bt.split(leafID, leaf, breadcrumbs, r)
			}
			return fmt.Errorf("btree: update %d: %w", id, err)
		}
	}
	return bt.pager.Write(leafID, leaf)
}

// Delete removes the row with the given id, merging the containing
// leaf with a sibling if the combined size fits in one page.
func (bt *BTree) Delete(id uint64) error {
	leafID, leaf, breadcrumbs, err := bt.locate(id)
	if err != nil {
		return err
	}
	if err := leaf.Delete(row.NewLeaf(id, nil)); err != nil {
		return fmt.Errorf("btree: delete %d: %w", id, err)
	}
	if err := bt.pager.Write(leafID, leaf); err != nil {
		return err
	}
	if leafID == bt.pager.Root() {
		return nil
	}
	return bt.mergeIfNeeded(leafID, leaf, breadcrumbs)
}

// Select performs a full in-order traversal, returning every leaf row.
// A page reachable through more than one pointer (after an internal
// split, the two halves both point at the child between them) is
// visited only the first time it is reached.
func (bt *BTree) Select() ([]row.Row, error) {
	var out []row.Row
	visited := make(map[pager.ID]bool)
	var walk func(id pager.ID) error
	walk = func(id pager.ID) error {
		if visited[id] {
			return nil
		}
		visited[id] = true
		pg, err := bt.pager.Read(id)
		if err != nil {
			return err
		}
		if pg.Kind == page.KindLeaf {
			out = append(out, pg.Select()...)
			return nil
		}
		rows := pg.Select()
		for _, r := range rows {
			left, err := r.Left()
			if err != nil {
				return err
			}
			if err := walk(pager.ID(left)); err != nil {
				return err
			}
		}
		if len(rows) > 0 {
			right, err := rows[len(rows)-1].Right()
			if err != nil {
				return err
			}
			if err := walk(pager.ID(right)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(bt.pager.Root()); err != nil {
		return nil, fmt.Errorf("btree: select: %w", err)
	}
	return out, nil
}

// split handles an overfull page T (id/pg), redistributing its rows
// plus the triggering row between T and a newly allocated sibling, then
// propagates the new separator up via breadcrumbs (or creates a new
// root if T had none).
func (bt *BTree) split(id pager.ID, pg *page.Page, breadcrumbs []Breadcrumb, trigger row.Row) error {
	all := insertSorted(pg.Select(), trigger)
	mid := len(all) / 2
	leftRows, rightRows := all[:mid], all[mid:]

	siblingID, sibling, err := bt.pager.Allocate(pg.Kind)
	if err != nil {
		return fmt.Errorf("btree: split %d: allocate sibling: %w", id, err)
	}

	if err := sibling.ReplaceAll(rightRows); err != nil {
		return fmt.Errorf("btree: split %d: %w", id, err)
	}
	if err := pg.ReplaceAll(leftRows); err != nil {
		return fmt.Errorf("btree: split %d: %w", id, err)
	}
	sibling.HasParent = pg.HasParent
	sibling.Parent = pg.Parent

	if pg.Kind == page.KindInternal {
		for _, r := range rightRows {
			left, _ := r.Left()
			right, _ := r.Right()
			if err := bt.reparent(pager.ID(left), siblingID); err != nil {
				return err
			}
			if err := bt.reparent(pager.ID(right), siblingID); err != nil {
				return err
			}
		}
	}

	if err := bt.pager.Write(id, pg); err != nil {
		return err
	}
	if err := bt.pager.Write(siblingID, sibling); err != nil {
		return err
	}

	sep := row.NewInternal(rightRows[0].ID(), uint64(id), uint64(siblingID))

	if len(breadcrumbs) == 0 {
		return bt.createNewRoot(id, siblingID, sep)
	}

	parent := breadcrumbs[len(breadcrumbs)-1]
	parentPage, err := bt.pager.Read(parent.Parent)
	if err != nil {
		return err
	}
	if err := parentPage.Insert(sep); err != nil {
		if errors.Is(err, page.ErrFull) {
			return bt.split(parent.Parent, parentPage, breadcrumbs[:len(breadcrumbs)-1], sep)
		}
		return fmt.Errorf("btree: split %d: propagate separator: %w", id, err)
	}
	return bt.pager.Write(parent.Parent, parentPage)
}

func (bt *BTree) reparent(childID pager.ID, parentID pager.ID) error {
	child, err := bt.pager.Read(childID)
	if err != nil {
		return fmt.Errorf("btree: reparent %d: %w", childID, err)
	}
	child.HasParent = true
	child.Parent = uint64(parentID)
	return bt.pager.Write(childID, child)
}

func (bt *BTree) createNewRoot(leftID, rightID pager.ID, sep row.Row) error {
	newRootID, newRoot, err := bt.pager.Allocate(page.KindInternal)
	if err != nil {
		return fmt.Errorf("btree: create new root: %w", err)
	}
	if err := newRoot.Insert(sep); err != nil {
		return fmt.Errorf("btree: create new root: %w", err)
	}
	if err := bt.reparent(leftID, newRootID); err != nil {
		return err
	}
	if err := bt.reparent(rightID, newRootID); err != nil {
		return err
	}
	if err := bt.pager.Write(newRootID, newRoot); err != nil {
		return err
	}
	return bt.pager.SetRoot(newRootID)
}

// mergeIfNeeded implements the underflow policy: find current's sibling
// via the parent separator named by the top breadcrumb, and merge the
// two pages into one if they fit together in a single page's body.
func (bt *BTree) mergeIfNeeded(currentID pager.ID, current *page.Page, breadcrumbs []Breadcrumb) error {
	if len(breadcrumbs) == 0 {
		return nil
	}

	top := breadcrumbs[len(breadcrumbs)-1]
	parentPage, err := bt.pager.Read(top.Parent)
	if err != nil {
		return err
	}
	parentRows := parentPage.Select()
	if top.Index >= len(parentRows) {
		return fmt.Errorf("btree: merge: breadcrumb index %d out of range", top.Index)
	}
	sep := parentRows[top.Index]

	left, err := sep.Left()
	if err != nil {
		return err
	}
	right, err := sep.Right()
	if err != nil {
		return err
	}
	siblingID := pager.ID(right)
	if pager.ID(left) != currentID {
		siblingID = pager.ID(left)
	}

	sibling, err := bt.pager.Read(siblingID)
	if err != nil {
		return err
	}

	if current.UsedBytes()+sibling.UsedBytes() > page.BodySize {
		return nil
	}

	successorID, successor := currentID, current
	ancestorID, ancestor := siblingID, sibling
	if siblingID < currentID {
		successorID, successor = siblingID, sibling
		ancestorID, ancestor = currentID, current
	}

	for _, r := range ancestor.Select() {
		if err := successor.Insert(r); err != nil {
			return fmt.Errorf("btree: merge %d into %d: %w", ancestorID, successorID, err)
		}
	}
	if ancestor.Kind == page.KindInternal {
		// The rows just absorbed from ancestor carry child pointers whose
		// Parent field still names ancestorID; repoint them at successor,
		// the same way split reparents children moved into a new sibling.
		for _, r := range ancestor.Select() {
			left, _ := r.Left()
			right, _ := r.Right()
			if err := bt.reparent(pager.ID(left), successorID); err != nil {
				return err
			}
			if err := bt.reparent(pager.ID(right), successorID); err != nil {
				return err
			}
		}
	}
	if err := bt.pager.Write(successorID, successor); err != nil {
		return err
	}

	if err := parentPage.Delete(sep); err != nil {
		return err
	}
	remaining := parentPage.Select()
	if top.Index > 0 {
		leftSep := remaining[top.Index-1]
		if err := leftSep.SetRight(uint64(successorID)); err == nil {
			if _, err := parentPage.Update(leftSep); err != nil {
				return err
			}
		}
	}
	remaining = parentPage.Select()
	if top.Index < len(remaining) {
		rightSep := remaining[top.Index]
		if err := rightSep.SetLeft(uint64(successorID)); err == nil {
			if _, err := parentPage.Update(rightSep); err != nil {
				return err
			}
		}
	}

	if err := bt.pager.Free(ancestorID); err != nil {
		return err
	}
	if err := bt.pager.Write(top.Parent, parentPage); err != nil {
		return err
	}

	if top.Parent == bt.pager.Root() {
		if parentPage.NumRows() == 0 {
			successor.HasParent = false
			successor.Parent = 0
			if err := bt.pager.Write(successorID, successor); err != nil {
				return err
			}
			if err := bt.pager.SetRoot(successorID); err != nil {
				return err
			}
			return bt.pager.Free(top.Parent)
		}
		return nil
	}
	return bt.mergeIfNeeded(top.Parent, parentPage, breadcrumbs[:len(breadcrumbs)-1])
}

// Structure renders the tree as a Graphviz DOT graph: solid edges from
// internal pages to their children, dashed edges from a page to its
// parent.
func (bt *BTree) Structure() (string, error) {
	var b strings.Builder
	b.WriteString("digraph cryo {\n")

	var walk func(id pager.ID) error
	walk = func(id pager.ID) error {
		pg, err := bt.pager.Read(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "  page%d [label=\"%d\\n%s (%d rows)\"];\n", id, id, pg.Kind, pg.NumRows())
		if pg.HasParent {
			fmt.Fprintf(&b, "  page%d -> page%d [style=dashed];\n", id, pg.Parent)
		}
		if pg.Kind != page.KindInternal {
			return nil
		}
		rows := pg.Select()
		for _, r := range rows {
			left, err := r.Left()
			if err != nil {
				return err
			}
			fmt.Fprintf(&b, "  page%d -> page%d;\n", id, left)
			if err := walk(pager.ID(left)); err != nil {
				return err
			}
		}
		if len(rows) > 0 {
			right, err := rows[len(rows)-1].Right()
			if err != nil {
				return err
			}
			fmt.Fprintf(&b, "  page%d -> page%d;\n", id, right)
			if err := walk(pager.ID(right)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(bt.pager.Root()); err != nil {
		return "", fmt.Errorf("btree: structure: %w", err)
	}
	b.WriteString("}\n")
	return b.String(), nil
}
