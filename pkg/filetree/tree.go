// Package filetree holds the local copy of a project's file tree, the
// selection over it, and the listener that keeps both in step with the
// server's real-time structural events.
package filetree

import (
	"errors"
	"fmt"
	"sync"

	"github.com/leafsync/leafsync/pkg/models"
)

var (
	// ErrEntityNotFound means an id is not in the tree. Coming from a
	// server event it indicates the local tree has diverged.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrEntityExists is returned when a create names an id already present.
	ErrEntityExists = errors.New("entity already exists")
	// ErrNotAFolder is returned when a parent or move target is not a folder.
	ErrNotAFolder = errors.New("not a folder")
	// ErrInvalidMove is returned for moves of the root or into a node's own subtree.
	ErrInvalidMove = errors.New("invalid move")
)

// Entity is a snapshot of one tree node.
type Entity struct {
	ID       string
	Name     string
	Kind     models.EntityKind
	ParentID string
	// Path lists ancestor ids from the root down to the parent. It is
	// empty for the root.
	Path []string
	// File is set for file entities.
	File *models.File
}

type node struct {
	id       string
	name     string
	kind     models.EntityKind
	parent   *node
	children []*node
	file     *models.File
}

func (n *node) path() []string {
	var ids []string
	for p := n.parent; p != nil; p = p.parent {
		ids = append(ids, p.id)
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids
}

func (n *node) entity() Entity {
	e := Entity{ID: n.id, Name: n.name, Kind: n.kind, Path: n.path()}
	if n.file != nil {
		e.File = copyFile(n.file)
	}
	if n.parent != nil {
		e.ParentID = n.parent.id
	}
	return e
}

// copyFile returns a copy of f that shares no pointers with it.
func copyFile(f *models.File) *models.File {
	c := *f
	if f.LinkedFileData != nil {
		data := *f.LinkedFileData
		c.LinkedFileData = &data
	}
	return &c
}

func (n *node) removeChild(child *node) {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return
		}
	}
}

// Tree is the tree-mutation store. Reads may happen from any goroutine;
// mutations are expected from a single dispatcher.
type Tree struct {
	mu       sync.RWMutex
	root     *node
	index    map[string]*node
	onChange func(count int)
}

// NewTree builds a tree from the server's root folder.
func NewTree(root *models.Folder) (*Tree, error) {
	if root == nil || root.ID == "" {
		return nil, fmt.Errorf("root folder must have an id")
	}
	t := &Tree{index: make(map[string]*node)}
	n, err := t.buildFolder(nil, root)
	if err != nil {
		return nil, err
	}
	t.root = n
	return t, nil
}

// Reset replaces the whole tree with root, as after fetching a fresh
// snapshot. On error the tree is left as it was.
func (t *Tree) Reset(root *models.Folder) error {
	fresh, err := NewTree(root)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root, t.index = fresh.root, fresh.index
	t.changed()
	return nil
}

func (t *Tree) add(parent *node, n *node) error {
	if _, ok := t.index[n.id]; ok {
		return fmt.Errorf("%s: %w", n.id, ErrEntityExists)
	}
	n.parent = parent
	t.index[n.id] = n
	if parent != nil {
		parent.children = append(parent.children, n)
	}
	return nil
}

func (t *Tree) buildFolder(parent *node, f *models.Folder) (*node, error) {
	n := &node{id: f.ID, name: f.Name, kind: models.KindFolder}
	if err := t.add(parent, n); err != nil {
		return nil, err
	}
	for _, d := range f.Docs {
		if err := t.add(n, &node{id: d.ID, name: d.Name, kind: models.KindDoc}); err != nil {
			return nil, err
		}
	}
	for _, file := range f.FileRefs {
		if err := t.add(n, &node{id: file.ID, name: file.Name, kind: models.KindFile, file: copyFile(file)}); err != nil {
			return nil, err
		}
	}
	for _, sub := range f.Folders {
		if _, err := t.buildFolder(n, sub); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// OnChange registers fn to be called with the node count after every
// successful mutation. fn runs under the tree lock and must not call back
// into the tree.
func (t *Tree) OnChange(fn func(count int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

func (t *Tree) changed() {
	if t.onChange != nil {
		t.onChange(len(t.index))
	}
}

// RootID returns the root folder's id.
func (t *Tree) RootID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.id
}

// Count returns the number of entities, root included.
func (t *Tree) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.index)
}

// Find looks up an entity by id.
func (t *Tree) Find(id string) (Entity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.index[id]
	if !ok {
		return Entity{}, false
	}
	return n.entity(), true
}

// FindOrErr is Find returning ErrEntityNotFound for unknown ids.
func (t *Tree) FindOrErr(id string) (Entity, error) {
	e, ok := t.Find(id)
	if !ok {
		return Entity{}, fmt.Errorf("%s: %w", id, ErrEntityNotFound)
	}
	return e, nil
}

func (t *Tree) lookup(id string) (*node, error) {
	n, ok := t.index[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrEntityNotFound)
	}
	return n, nil
}

func (t *Tree) lookupFolder(id string) (*node, error) {
	n, err := t.lookup(id)
	if err != nil {
		return nil, err
	}
	if n.kind != models.KindFolder {
		return nil, fmt.Errorf("%s: %w", id, ErrNotAFolder)
	}
	return n, nil
}

// Rename renames an entity in place.
func (t *Tree) Rename(id, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.lookup(id)
	if err != nil {
		return err
	}
	n.name = name
	if n.file != nil {
		f := *n.file
		f.Name = name
		n.file = &f
	}
	t.changed()
	return nil
}

// Delete removes an entity and its whole subtree.
func (t *Tree) Delete(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.lookup(id)
	if err != nil {
		return err
	}
	if n.parent == nil {
		return fmt.Errorf("delete root %s: %w", id, ErrInvalidMove)
	}
	n.parent.removeChild(n)
	t.unindex(n)
	t.changed()
	return nil
}

func (t *Tree) unindex(n *node) {
	delete(t.index, n.id)
	for _, c := range n.children {
		t.unindex(c)
	}
}

// Move reparents an entity under the folder toFolderID.
func (t *Tree) Move(id, toFolderID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.lookup(id)
	if err != nil {
		return err
	}
	target, err := t.lookupFolder(toFolderID)
	if err != nil {
		return err
	}
	if n.parent == nil {
		return fmt.Errorf("move root %s: %w", id, ErrInvalidMove)
	}
	for p := target; p != nil; p = p.parent {
		if p == n {
			return fmt.Errorf("move %s into its own subtree: %w", id, ErrInvalidMove)
		}
	}
	n.parent.removeChild(n)
	n.parent = target
	target.children = append(target.children, n)
	t.changed()
	return nil
}

// CreateFolder inserts a folder, with any content it carries, under parentID.
func (t *Tree) CreateFolder(parentID string, folder *models.Folder) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	parent, err := t.lookupFolder(parentID)
	if err != nil {
		return err
	}
	if folder == nil || folder.ID == "" {
		return fmt.Errorf("create folder: missing id")
	}
	if err := t.checkFree(folder); err != nil {
		return err
	}
	if _, err := t.buildFolder(parent, folder); err != nil {
		return err
	}
	t.changed()
	return nil
}

// checkFree verifies no id in the folder subtree is already present, so a
// failed create leaves the tree untouched.
func (t *Tree) checkFree(f *models.Folder) error {
	seen := make(map[string]struct{})
	var walk func(f *models.Folder) error
	check := func(id string) error {
		if _, ok := t.index[id]; ok {
			return fmt.Errorf("%s: %w", id, ErrEntityExists)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%s: %w", id, ErrEntityExists)
		}
		seen[id] = struct{}{}
		return nil
	}
	walk = func(f *models.Folder) error {
		if err := check(f.ID); err != nil {
			return err
		}
		for _, d := range f.Docs {
			if err := check(d.ID); err != nil {
				return err
			}
		}
		for _, file := range f.FileRefs {
			if err := check(file.ID); err != nil {
				return err
			}
		}
		for _, sub := range f.Folders {
			if err := walk(sub); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(f)
}

// CreateDoc inserts a doc under parentID.
func (t *Tree) CreateDoc(parentID string, doc *models.Doc) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("create doc: missing id")
	}
	return t.createLeaf(parentID, &node{id: doc.ID, name: doc.Name, kind: models.KindDoc})
}

// CreateFile inserts a file under parentID.
func (t *Tree) CreateFile(parentID string, file *models.File) error {
	if file == nil || file.ID == "" {
		return fmt.Errorf("create file: missing id")
	}
	return t.createLeaf(parentID, &node{id: file.ID, name: file.Name, kind: models.KindFile, file: copyFile(file)})
}

func (t *Tree) createLeaf(parentID string, n *node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	parent, err := t.lookupFolder(parentID)
	if err != nil {
		return err
	}
	if err := t.add(parent, n); err != nil {
		return err
	}
	t.changed()
	return nil
}

// Walk visits every entity depth-first, parents before children, until
// fn returns false.
func (t *Tree) Walk(fn func(e Entity) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var visit func(n *node) bool
	visit = func(n *node) bool {
		if !fn(n.entity()) {
			return false
		}
		for _, c := range n.children {
			if !visit(c) {
				return false
			}
		}
		return true
	}
	visit(t.root)
}

// Snapshot converts the tree back to the server's folder representation.
func (t *Tree) Snapshot() *models.Folder {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return snapshotFolder(t.root)
}

func snapshotFolder(n *node) *models.Folder {
	f := &models.Folder{ID: n.id, Name: n.name}
	for _, c := range n.children {
		switch c.kind {
		case models.KindFolder:
			f.Folders = append(f.Folders, snapshotFolder(c))
		case models.KindDoc:
			f.Docs = append(f.Docs, &models.Doc{ID: c.id, Name: c.name})
		case models.KindFile:
			file := models.File{ID: c.id, Name: c.name}
			if c.file != nil {
				file = *c.file
			}
			f.FileRefs = append(f.FileRefs, &file)
		}
	}
	return f
}
