package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/viewkit/internal/ir"
)

func TestPutAndGet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rev := putDoc(t, s, "a", ir.Object{"type": ir.String("tx"), "n": ir.Number(1)})
	assert.True(t, strings.HasPrefix(rev, "1-"), rev)

	doc, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, ir.String("a"), doc["_id"])
	assert.Equal(t, ir.String(rev), doc["_rev"])
	assert.Equal(t, ir.String("tx"), doc["type"])
	assert.Equal(t, ir.Number(1), doc["n"])
}

func TestPut_Revisions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rev1 := putDoc(t, s, "a", ir.Object{"n": ir.Number(1)})

	doc, err := s.Get(ctx, "a")
	require.NoError(t, err)
	doc["n"] = ir.Number(2)
	rev2, err := s.Put(ctx, doc)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rev2, "2-"), rev2)

	// Writing with the superseded revision conflicts.
	doc["_rev"] = ir.String(rev1)
	_, err = s.Put(ctx, doc)
	assert.True(t, IsConflict(err), "got %v", err)

	// So does creating a document that already exists.
	_, err = s.Put(ctx, ir.Object{"_id": ir.String("a")})
	assert.True(t, IsConflict(err), "got %v", err)

	// And presenting a revision for a document that does not exist.
	_, err = s.Put(ctx, ir.Object{"_id": ir.String("b"), "_rev": ir.String(rev1)})
	assert.True(t, IsConflict(err), "got %v", err)
}

func TestPut_RequiresID(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Put(context.Background(), ir.Object{"n": ir.Number(1)})
	assert.Equal(t, ReasonBadRequest, ReasonOf(err))
}

func TestDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rev := putDoc(t, s, "a", ir.Object{"n": ir.Number(1)})
	tomb, err := s.Delete(ctx, "a", rev)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tomb, "2-"), tomb)

	_, err = s.Get(ctx, "a")
	assert.Equal(t, ReasonDeleted, ReasonOf(err))

	// Recreating over a tombstone continues the revision history.
	rev3, err := s.Put(ctx, ir.Object{"_id": ir.String("a"), "n": ir.Number(5)})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rev3, "3-"), rev3)
}

func TestGet_Missing(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.Equal(t, ReasonMissing, ReasonOf(err))
	assert.True(t, IsViewMissing(err))
}

func TestPut_SameContentDifferentHistory(t *testing.T) {
	s1 := createTestStore(t)
	s2 := createTestStore(t)

	r1 := putDoc(t, s1, "a", ir.Object{"n": ir.Number(1)})
	r2 := putDoc(t, s2, "a", ir.Object{"n": ir.Number(1)})
	assert.Equal(t, r1, r2, "revisions are a pure function of history and content")
}
