package commit_test

import "github.com/calvinalkan/tux3ce/pkg/commit"

// fakeBTree is a minimal in-memory BTree collaborator: it only tracks the
// root word it was told to initialize with and hands it back through
// Pack/UnpackRoot. No production b-tree is implemented here (out of scope
// per the package doc); this exists solely to exercise the delta
// controller's calls to PackRoot.
type fakeBTree struct {
	root commit.Root
}

func newFakeBTree() *fakeBTree {
	return &fakeBTree{}
}

func (t *fakeBTree) InitBTree(root commit.Root) error {
	t.root = root

	return nil
}

func (t *fakeBTree) PackRoot() uint64 {
	return t.root.Pack()
}

func (t *fakeBTree) UnpackRoot(word uint64) commit.Root {
	return commit.UnpackRoot(word)
}
