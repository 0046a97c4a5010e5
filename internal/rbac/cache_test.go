package rbac

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachePutAndGet(t *testing.T) {
	c := NewCache()
	subject := PersonSubject(uuid.New())

	_, ok := c.Get(subject)
	assert.False(t, ok)

	set := &ResolvedSet{Subject: subject, Version: c.Version(subject)}
	c.Put(set)

	got, ok := c.Get(subject)
	require.True(t, ok)
	assert.Same(t, set, got)
	assert.Equal(t, 1, c.Len())
}

func TestCacheInvalidateMakesEntryStale(t *testing.T) {
	c := NewCache()
	subject := PersonSubject(uuid.New())
	c.Put(&ResolvedSet{Subject: subject, Version: c.Version(subject)})

	c.Invalidate(subject)

	_, ok := c.Get(subject)
	assert.False(t, ok, "a bumped epoch must hide the stale set")
}

func TestCacheDiscardsStalePut(t *testing.T) {
	c := NewCache()
	subject := PersonSubject(uuid.New())

	// A build started, then the epoch moved underneath it.
	version := c.Version(subject)
	c.Invalidate(subject)
	c.Put(&ResolvedSet{Subject: subject, Version: version})

	_, ok := c.Get(subject)
	assert.False(t, ok, "a set built under a stale epoch must not be stored")
}

func TestCacheInvalidateIsCheapAndRepeatable(t *testing.T) {
	c := NewCache()
	subject := GroupSubject(uuid.New())

	for i := 0; i < 100; i++ {
		c.Invalidate(subject)
	}
	assert.Equal(t, int64(100), c.Version(subject))
}

func TestEngineMemoizesResolvedSet(t *testing.T) {
	e := newEnv()
	view := e.mustPermission(ObjectDevice, ActionView)
	viewer := e.mustRole("Viewer", nil, view)
	person := e.store.addPerson()
	e.mustAssign(viewer.ID, PersonSubject(person), GlobalScope())

	for i := 0; i < 5; i++ {
		decision, err := e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, nil)
		require.NoError(t, err)
		assert.True(t, decision.Granted)
	}

	assert.Equal(t, int32(1), e.store.buildCalls.Load(), "repeated decisions must reuse the resolved set")
}

func TestEngineRebuildsAfterInvalidation(t *testing.T) {
	e := newEnv()
	view := e.mustPermission(ObjectDevice, ActionView)
	viewer := e.mustRole("Viewer", nil, view)
	person := e.store.addPerson()
	subject := PersonSubject(person)
	a := e.mustAssign(viewer.ID, subject, GlobalScope())

	decision, err := e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, nil)
	require.NoError(t, err)
	require.True(t, decision.Granted)

	// Revoke and invalidate: the next decision must see the revocation.
	require.NoError(t, e.assignments.Delete(context.Background(), a.ID))
	require.NoError(t, e.engine.Invalidate(context.Background(), subject))

	decision, err = e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, nil)
	require.NoError(t, err)
	assert.False(t, decision.Granted)
	assert.Equal(t, int32(2), e.store.buildCalls.Load())
}

func TestEngineInvalidateRoleReachesDescendantHolders(t *testing.T) {
	e := newEnv()
	view := e.mustPermission(ObjectDevice, ActionView)
	parent := e.mustRole("Parent", nil, view)
	child := e.mustRole("Child", &parent.ID)
	person := e.store.addPerson()
	e.mustAssign(child.ID, PersonSubject(person), GlobalScope())

	decision, err := e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, nil)
	require.NoError(t, err)
	require.True(t, decision.Granted)

	// Editing the ancestor role must flush holders of the descendant.
	require.NoError(t, e.roles.SetRolePermissions(context.Background(), parent.ID, nil))
	require.NoError(t, e.engine.InvalidateRole(context.Background(), parent.ID))

	decision, err = e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, nil)
	require.NoError(t, err)
	assert.False(t, decision.Granted)
}

func TestEngineGroupInvalidationFansOutToMembers(t *testing.T) {
	e := newEnv()
	view := e.mustPermission(ObjectDevice, ActionView)
	viewer := e.mustRole("Viewer", nil, view)
	member := e.store.addPerson()
	group := e.store.addGroup(member)
	e.mustAssign(viewer.ID, GroupSubject(group), GlobalScope())

	decision, err := e.engine.Decide(context.Background(), member, ActionView, ObjectDevice, nil)
	require.NoError(t, err)
	require.True(t, decision.Granted)

	cache := e.engine.Cache()
	memberVersion := cache.Version(PersonSubject(member))

	require.NoError(t, e.engine.Invalidate(context.Background(), GroupSubject(group)))

	assert.Greater(t, cache.Version(PersonSubject(member)), memberVersion)
	assert.Greater(t, cache.Version(GroupSubject(group)), int64(0))
}

func TestEngineDecideAfterRevocationSkipsStaleRebuild(t *testing.T) {
	e := newEnv()
	view := e.mustPermission(ObjectDevice, ActionView)
	viewer := e.mustRole("Viewer", nil, view)
	person := e.store.addPerson()
	subject := PersonSubject(person)
	a := e.mustAssign(viewer.ID, subject, GlobalScope())

	// Hold the first rebuild inside the store read so a revocation can
	// land while it is in flight. Only the first read blocks.
	entered := make(chan struct{})
	release := make(chan struct{})
	token := make(chan struct{}, 1)
	token <- struct{}{}
	e.store.listGate = func() {
		select {
		case <-token:
			close(entered)
			<-release
		default:
		}
	}

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, nil)
	}()
	<-entered

	require.NoError(t, e.assignments.Delete(context.Background(), a.ID))
	require.NoError(t, e.engine.Invalidate(context.Background(), subject))

	// This call starts strictly after the revocation and the epoch bump;
	// it must not adopt the result of the rebuild still in flight.
	decision, err := e.engine.Decide(context.Background(), person, ActionView, ObjectDevice, nil)
	require.NoError(t, err)
	assert.False(t, decision.Granted, "a decision made after revocation must not see the revoked grant")

	close(release)
	<-firstDone

	_, err = e.engine.ResolvedSet(context.Background(), subject)
	require.NoError(t, err)
	set, ok := e.engine.Cache().Get(subject)
	require.True(t, ok)
	assert.Empty(t, set.Assignments, "the cached set must reflect the revocation")
}

func TestEngineCollapsesConcurrentRebuilds(t *testing.T) {
	e := newEnv()
	view := e.mustPermission(ObjectDevice, ActionView)
	viewer := e.mustRole("Viewer", nil, view)
	person := e.store.addPerson()
	subject := PersonSubject(person)
	e.mustAssign(viewer.ID, subject, GlobalScope())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.engine.ResolvedSet(context.Background(), subject)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, e.store.buildCalls.Load(), int32(2), "concurrent misses must collapse into few rebuilds")
}
