// file: internal/syncer/coordinator_test.go
// version: 1.0.0
// guid: 9a4d7e20-3b6c-4f18-8d95-1e2c5a7b0f46

package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/ebook-organizer/internal/library"
	"github.com/jdfalk/ebook-organizer/internal/models"
	"github.com/jdfalk/ebook-organizer/internal/operations"
	"github.com/jdfalk/ebook-organizer/internal/provider"
)

func TestPassCreatesRecordsAndAdvancesCursor(t *testing.T) {
	// Arrange
	e := newEnv(t, 2, fastOptions())
	e.mem.Upsert("dune", "SF/Dune.epub", []byte("dune"), bookMeta("Dune", "Frank Herbert"), base.Add(-time.Hour))
	e.mem.Upsert("hyperion", "SF/Hyperion.epub", []byte("hyperion"), bookMeta("Hyperion", "Dan Simmons"), base.Add(-time.Hour))
	e.mem.Upsert("emma", "Classics/Emma.pdf", []byte("emma"), bookMeta("Emma", "Jane Austen"), base.Add(-time.Hour))

	// Act
	res := e.pass(t)

	// Assert
	assert.Equal(t, StopCaughtUp, res.StopReason)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 3, res.Created)
	assert.NotEmpty(t, res.ID)

	rec, err := e.lib.Get(memRef("dune"))
	require.NoError(t, err)
	assert.Equal(t, "Dune", rec.Title)
	assert.Equal(t, "Frank Herbert", rec.Author)
	assert.Equal(t, "epub", rec.Format)
	assert.Equal(t, "SF/Dune.epub", rec.RemotePath)
	assert.Equal(t, models.SyncStateSynced, rec.SyncState)
	assert.Equal(t, int64(4), rec.SizeBytes)

	account, err := e.lib.Account("mem")
	require.NoError(t, err)
	assert.Equal(t, provider.MemoryCursor(3), account.LastCursor)
	require.NotNil(t, account.LastSyncAt)
	assert.Equal(t, []string{"Created dune", "Created hyperion", "Created emma"}, e.logOps(t, "mem"))
	assert.Zero(t, e.mem.Calls(provider.OpFetchContent), "complete metadata needs no download")
}

func TestPassIsIdempotent(t *testing.T) {
	e := newEnv(t, 10, fastOptions())
	e.mem.Upsert("dune", "Dune.epub", []byte("dune"), bookMeta("Dune", "Frank Herbert"), base)
	e.mem.Upsert("emma", "Emma.epub", []byte("emma"), bookMeta("Emma", "Jane Austen"), base)
	e.pass(t)
	before, err := e.lib.List(allRecords)
	require.NoError(t, err)

	// Replaying the whole stream from the start changes nothing.
	_, err = e.lib.UpdateAccount("mem", func(a *models.CloudProviderAccount) { a.LastCursor = "" })
	require.NoError(t, err)
	res := e.pass(t)

	assert.Equal(t, 2, res.NoOps)
	assert.Zero(t, res.Created+res.Updated+res.Deleted+res.Conflicts)
	after, err := e.lib.List(allRecords)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(before, after))
	assert.Len(t, e.logOps(t, "mem"), 2)
}

func TestPassResumesAfterInterruption(t *testing.T) {
	build := func(e *testEnv) {
		for _, id := range []string{"a", "b", "c", "d"} {
			e.mem.Upsert(id, id+".epub", []byte(id), bookMeta("Book "+strings.ToUpper(id), "Ann Leckie"), base)
		}
		e.mem.Delete("b", base.Add(time.Minute))
	}

	// Reference: one uninterrupted pass.
	ref := newEnv(t, 1, fastOptions())
	build(ref)
	ref.pass(t)

	// Interrupted: a hard failure after two pages, then a resume.
	e := newEnv(t, 1, fastOptions())
	build(e)
	e.coord.opts.MaxPagesPerPass = 2
	res := e.pass(t)
	assert.Equal(t, StopPageBudget, res.StopReason)
	assert.Equal(t, provider.MemoryCursor(2), res.Cursor)

	e.mem.FailNext(provider.OpListChanges, errors.New("process killed"))
	_, err := e.coord.RunPass(context.Background(), "mem")
	require.Error(t, err)
	account, err := e.lib.Account("mem")
	require.NoError(t, err)
	assert.Equal(t, provider.MemoryCursor(2), account.LastCursor, "cursor does not move past uncommitted pages")
	assert.Equal(t, 1, account.ConsecutiveErrorCount)

	e.coord.opts.MaxPagesPerPass = 0
	res = e.pass(t)
	assert.Equal(t, StopCaughtUp, res.StopReason)

	account, err = e.lib.Account("mem")
	require.NoError(t, err)
	assert.Zero(t, account.ConsecutiveErrorCount, "a successful pass resets the error streak")
	assert.Equal(t, ref.logOps(t, "mem"), e.logOps(t, "mem"))

	want, err := ref.lib.List(allRecordsWithTombstones)
	require.NoError(t, err)
	got, err := e.lib.List(allRecordsWithTombstones)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(want, got))
}

func TestConflictDetectedWhenBothSidesChanged(t *testing.T) {
	// Arrange
	e := newEnv(t, 10, fastOptions())
	e.mem.Upsert("dune", "Dune.epub", []byte("v1"), bookMeta("Dune", "Frank Herbert"), base.Add(-time.Hour))
	e.pass(t)

	_, err := e.lib.ApplyLocalEdit(memRef("dune"), map[string]string{models.FieldTitle: "Dune (annotated)"})
	require.NoError(t, err)
	v2 := e.mem.Upsert("dune", "Dune.epub", []byte("v2"), bookMeta("Dune: Deluxe Edition", "Frank Herbert"), base.Add(time.Hour))

	// Act
	res := e.pass(t)

	// Assert
	assert.Equal(t, 1, res.Conflicts)
	rec, err := e.lib.Get(memRef("dune"))
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateConflict, rec.SyncState)
	assert.Equal(t, "Dune (annotated)", rec.Title, "local value stays visible")
	require.NotNil(t, rec.PendingRemote)
	assert.Equal(t, v2.ContentHash, rec.PendingRemote.ContentHash)
	assert.Equal(t, "Dune: Deluxe Edition", rec.PendingRemote.Fields[models.FieldTitle])

	// The same conflicting version again is a no-op.
	_, err = e.lib.UpdateAccount("mem", func(a *models.CloudProviderAccount) { a.LastCursor = provider.MemoryCursor(1) })
	require.NoError(t, err)
	res = e.pass(t)
	assert.Equal(t, 1, res.NoOps)
	assert.Zero(t, res.Conflicts)

	// Explicit resolution.
	resolved, err := e.coord.ResolveConflict(memRef("dune"), library.KeepRemote)
	require.NoError(t, err)
	assert.Equal(t, "Dune: Deluxe Edition", resolved.Title)
	assert.Equal(t, models.SyncStateSynced, resolved.SyncState)
	assert.Equal(t, []string{"Created dune", "ConflictDetected dune", "Updated dune"}, e.logOps(t, "mem"))
}

func TestRemoteWinsOverEditOlderThanBaseline(t *testing.T) {
	e := newEnv(t, 10, fastOptions())
	// The remote clock runs ahead of ours, so the edit predates the baseline.
	e.mem.Upsert("dune", "Dune.epub", []byte("v1"), bookMeta("Dune", "Frank Herbert"), base.Add(2*time.Hour))
	e.pass(t)
	_, err := e.lib.ApplyLocalEdit(memRef("dune"), map[string]string{models.FieldTitle: "My Dune"})
	require.NoError(t, err)

	e.mem.Upsert("dune", "Dune.epub", []byte("v2"), bookMeta("Dune (2nd ed.)", "Frank Herbert"), base.Add(3*time.Hour))
	res := e.pass(t)

	assert.Equal(t, 1, res.Updated)
	rec, err := e.lib.Get(memRef("dune"))
	require.NoError(t, err)
	assert.Equal(t, "Dune (2nd ed.)", rec.Title)
	assert.Equal(t, models.SyncStateSynced, rec.SyncState)
	overlay, err := e.lib.Overlay(memRef("dune"))
	require.NoError(t, err)
	assert.Nil(t, overlay)
}

func TestUnchangedHashIsNoOp(t *testing.T) {
	e := newEnv(t, 10, fastOptions())
	e.mem.Upsert("dune", "Dune.epub", []byte("same"), bookMeta("Dune", "Frank Herbert"), base)
	e.pass(t)

	e.mem.Upsert("dune", "Dune.epub", []byte("same"), bookMeta("Dune retitled", "Frank Herbert"), base.Add(time.Hour))
	res := e.pass(t)

	assert.Equal(t, 1, res.NoOps)
	rec, err := e.lib.Get(memRef("dune"))
	require.NoError(t, err)
	assert.Equal(t, "Dune", rec.Title)
}

func TestMoveUpdatesPathOnly(t *testing.T) {
	e := newEnv(t, 10, fastOptions())
	e.mem.Upsert("dune", "inbox/Dune.epub", []byte("dune"), bookMeta("Dune", "Frank Herbert"), base)
	e.pass(t)

	_, err := e.mem.Move("dune", "SF/Dune.epub", base.Add(time.Hour))
	require.NoError(t, err)
	res := e.pass(t)
	assert.Equal(t, 1, res.Updated)

	rec, err := e.lib.Get(memRef("dune"))
	require.NoError(t, err)
	assert.Equal(t, "SF/Dune.epub", rec.RemotePath)
	assert.Equal(t, "Dune", rec.Title)

	_, err = e.lib.UpdateAccount("mem", func(a *models.CloudProviderAccount) { a.LastCursor = provider.MemoryCursor(1) })
	require.NoError(t, err)
	res = e.pass(t)
	assert.Equal(t, 1, res.NoOps)
}

func TestDeleteTombstonesAndResurrects(t *testing.T) {
	e := newEnv(t, 10, fastOptions())
	e.mem.Upsert("dune", "Dune.epub", []byte("dune"), bookMeta("Dune", "Frank Herbert"), base.Add(-time.Hour))
	e.mem.Delete("ghost", base)
	res := e.pass(t)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.NoOps, "deleting an unknown record is a no-op")

	e.mem.Delete("dune", base)
	res = e.pass(t)
	assert.Equal(t, 1, res.Deleted)
	_, err := e.lib.Get(memRef("dune"))
	assert.ErrorIs(t, err, library.ErrNotFound)
	tomb, err := e.lib.Lookup(memRef("dune"))
	require.NoError(t, err)
	assert.True(t, tomb.Deleted)
	assert.Equal(t, models.SyncStateDeleted, tomb.SyncState)
	require.NotNil(t, tomb.DeletedAt)

	// A change older than the tombstone is stale.
	e.mem.Upsert("dune", "Dune.epub", []byte("old"), bookMeta("Dune", "Frank Herbert"), base.Add(-time.Minute))
	res = e.pass(t)
	assert.Equal(t, 1, res.NoOps)

	// A newer one brings the record back.
	e.mem.Upsert("dune", "Dune.epub", []byte("new"), bookMeta("Dune", "Frank Herbert"), base.Add(time.Hour))
	res = e.pass(t)
	assert.Equal(t, 1, res.Created)
	rec, err := e.lib.Get(memRef("dune"))
	require.NoError(t, err)
	assert.False(t, rec.Deleted)
	assert.Nil(t, rec.DeletedAt)
}

func TestIncompleteMetadataFetchesContent(t *testing.T) {
	e := newEnv(t, 10, fastOptions())
	e.mem.Upsert("h", "inbox/scan0001.epub", []byte("hyperion"), nil, base)
	e.mem.SetContent("h", []byte("hyperion"), map[string]string{
		"title":  "Hyperion",
		"author": "Dan Simmons",
	})

	res := e.pass(t)

	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, e.mem.Calls(provider.OpFetchContent))
	rec, err := e.lib.Get(memRef("h"))
	require.NoError(t, err)
	assert.Equal(t, "Hyperion", rec.Title)
	assert.Equal(t, "Dan Simmons", rec.Author)
	assert.Equal(t, "inbox/scan0001.epub", rec.RemotePath)
}

func TestFetchNotFoundIsTreatedAsDelete(t *testing.T) {
	e := newEnv(t, 10, fastOptions())
	e.mem.Upsert("dune", "Dune.epub", []byte("v1"), bookMeta("Dune", "Frank Herbert"), base)
	e.pass(t)

	e.mem.Upsert("dune", "Dune.epub", []byte("v2"), nil, base.Add(time.Hour))
	e.mem.RemoveContent("dune")
	res := e.pass(t)

	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []string{"Created dune", "Deleted dune"}, e.logOps(t, "mem"))
}

func TestItemFailuresAreSkipped(t *testing.T) {
	e := newEnv(t, 10, fastOptions())
	e.mem.Upsert("broken", "broken.epub", []byte("x"), nil, base)
	e.mem.Upsert("garbled", "garbled.epub", []byte("y"),
		map[string]string{"title": strings.Repeat("�", 8), "author": "Frank Herbert"}, base)
	e.mem.Upsert("dune", "Dune.epub", []byte("dune"), bookMeta("Dune", "Frank Herbert"), base)
	e.mem.FailNext(provider.OpFetchContent, errors.New("unreadable container"))

	res := e.pass(t)

	assert.Equal(t, StopCaughtUp, res.StopReason)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, res.Created)
	ops := e.logOps(t, "mem")
	assert.ElementsMatch(t, []string{"ErrorSkipped broken", "ErrorSkipped garbled", "Created dune"}, ops)
	account, err := e.lib.Account("mem")
	require.NoError(t, err)
	assert.Equal(t, provider.MemoryCursor(3), account.LastCursor)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	e := newEnv(t, 10, fastOptions())
	e.mem.Upsert("dune", "Dune.epub", []byte("dune"), bookMeta("Dune", "Frank Herbert"), base)
	e.mem.FailNext(provider.OpListChanges,
		&provider.NetworkError{Op: "list", Err: errors.New("connection reset")},
		&provider.RateLimitedError{RetryAfter: time.Millisecond})

	res := e.pass(t)

	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 3, e.mem.Calls(provider.OpListChanges))
}

func TestRepeatedFailuresPauseProvider(t *testing.T) {
	e := newEnv(t, 10, fastOptions())
	e.mem.Upsert("dune", "Dune.epub", []byte("dune"), bookMeta("Dune", "Frank Herbert"), base)
	netErr := &provider.NetworkError{Op: "list", Err: errors.New("timeout")}
	e.mem.FailNext(provider.OpListChanges, netErr, netErr, netErr, netErr, netErr, netErr)

	_, err := e.coord.RunPass(context.Background(), "mem")
	require.Error(t, err)
	assert.Equal(t, 3, e.mem.Calls(provider.OpListChanges), "retries stop at the attempt limit")
	st, err := e.coord.SyncStatus("mem")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 1, st.ConsecutiveErrorCount)

	_, err = e.coord.RunPass(context.Background(), "mem")
	require.Error(t, err)
	st, err = e.coord.SyncStatus("mem")
	require.NoError(t, err)
	assert.Equal(t, StatePaused, st.State)
	assert.Equal(t, models.PauseReasonErrorThreshold, st.PauseReason)

	_, err = e.coord.RunPass(context.Background(), "mem")
	assert.ErrorIs(t, err, ErrProviderPaused)
	_, err = e.coord.TriggerSync("mem")
	assert.ErrorIs(t, err, ErrProviderPaused)

	require.NoError(t, e.coord.ResumeProvider("mem"))
	res := e.pass(t)
	assert.Equal(t, 1, res.Created)
}

func TestAuthExpiredPausesImmediately(t *testing.T) {
	e := newEnv(t, 10, fastOptions())
	e.mem.FailNext(provider.OpListChanges, provider.ErrAuthExpired)

	_, err := e.coord.RunPass(context.Background(), "mem")
	assert.ErrorIs(t, err, provider.ErrAuthExpired)
	assert.Equal(t, 1, e.mem.Calls(provider.OpListChanges))

	st, err := e.coord.SyncStatus("mem")
	require.NoError(t, err)
	assert.Equal(t, StatePaused, st.State)
	assert.Equal(t, models.PauseReasonAuthExpired, st.PauseReason)
}

func TestExpiredCursorRestartsFromFullEnumeration(t *testing.T) {
	e := newEnv(t, 10, fastOptions())
	e.mem.Upsert("dune", "Dune.epub", []byte("dune"), bookMeta("Dune", "Frank Herbert"), base)
	e.pass(t)
	_, err := e.lib.UpdateAccount("mem", func(a *models.CloudProviderAccount) { a.LastCursor = "mem:99" })
	require.NoError(t, err)

	res := e.pass(t)

	assert.True(t, res.Restarted)
	assert.Equal(t, StopCaughtUp, res.StopReason)
	assert.Equal(t, 1, res.NoOps)
	assert.Equal(t, provider.MemoryCursor(1), res.Cursor)
}

func TestScenarioCreatedUpdatedDeleted(t *testing.T) {
	// Arrange: provider A already delivered Y and Z.
	a := newScripted("A")
	e := newEnv(t, 10, fastOptions(), a)
	a.Script("", &provider.DeltaPage{NextCursor: "c1", Changes: []provider.Change{
		{RemoteID: "Y", Kind: provider.ChangeCreated, ContentHash: "h1", RemoteModifiedAt: base, Metadata: bookMeta("Y", "Ann Leckie")},
		{RemoteID: "Z", Kind: provider.ChangeCreated, ContentHash: "hz", RemoteModifiedAt: base, Metadata: bookMeta("Z", "Ann Leckie")},
	}})
	_, err := e.coord.RunPass(context.Background(), "A")
	require.NoError(t, err)
	account, err := e.lib.Account("A")
	require.NoError(t, err)
	mark := account.LogSequence

	a.Script("c1", &provider.DeltaPage{NextCursor: "c2", Changes: []provider.Change{
		{RemoteID: "X", Kind: provider.ChangeCreated, ContentHash: "h1", RemoteModifiedAt: base.Add(time.Hour), Metadata: bookMeta("X", "Ann Leckie")},
		{RemoteID: "Y", Kind: provider.ChangeUpdated, ContentHash: "h2", RemoteModifiedAt: base.Add(time.Hour), Metadata: bookMeta("Y", "Ann Leckie")},
		{RemoteID: "Z", Kind: provider.ChangeDeleted, RemoteModifiedAt: base.Add(time.Hour)},
	}})

	// Act
	res, err := e.coord.RunPass(context.Background(), "A")
	require.NoError(t, err)

	// Assert
	assert.Equal(t, 1, res.Pages)
	x, err := e.lib.Get(models.RecordRef{Provider: "A", RemoteID: "X"})
	require.NoError(t, err)
	assert.Equal(t, "h1", x.ContentHash)
	y, err := e.lib.Get(models.RecordRef{Provider: "A", RemoteID: "Y"})
	require.NoError(t, err)
	assert.Equal(t, "h2", y.ContentHash)
	z, err := e.lib.Lookup(models.RecordRef{Provider: "A", RemoteID: "Z"})
	require.NoError(t, err)
	assert.True(t, z.Deleted)

	entries, err := e.lib.SyncLog("A", mark, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.OpCreated, entries[0].Operation)
	assert.Equal(t, "X", entries[0].Ref.RemoteID)
	assert.Equal(t, models.OpUpdated, entries[1].Operation)
	assert.Equal(t, "Y", entries[1].Ref.RemoteID)
	assert.Equal(t, models.OpDeleted, entries[2].Operation)
	assert.Equal(t, "Z", entries[2].Ref.RemoteID)
	assert.Less(t, entries[0].CursorPosition, entries[1].CursorPosition)
	assert.Less(t, entries[1].CursorPosition, entries[2].CursorPosition)

	account, err = e.lib.Account("A")
	require.NoError(t, err)
	assert.Equal(t, "c2", account.LastCursor)
}

func TestTriggerSyncIsExclusivePerProvider(t *testing.T) {
	a := newScripted("A")
	a.gate = make(chan struct{})
	e := newEnv(t, 10, fastOptions(), a)
	queue := operations.NewOperationQueue(e.hub, 2)
	t.Cleanup(func() { _ = queue.Shutdown(time.Second) })
	e.coord.queue = queue
	a.Script("", &provider.DeltaPage{NextCursor: "c1", Changes: []provider.Change{
		{RemoteID: "X", Kind: provider.ChangeCreated, ContentHash: "h", RemoteModifiedAt: base, Metadata: bookMeta("X", "Ann Leckie")},
	}})

	first, err := e.coord.TriggerSync("A")
	require.NoError(t, err)
	assert.Equal(t, TriggerAccepted, first)
	second, err := e.coord.TriggerSync("A")
	require.NoError(t, err)
	assert.Equal(t, TriggerAlreadyRunning, second)

	// Other providers are not blocked.
	e.mem.Upsert("dune", "Dune.epub", []byte("dune"), bookMeta("Dune", "Frank Herbert"), base)
	e.pass(t)

	st, err := e.coord.SyncStatus("A")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)

	close(a.gate)
	require.Eventually(t, func() bool {
		st, err := e.coord.SyncStatus("A")
		return err == nil && st.State == StateIdle && st.LastPass != nil
	}, 2*time.Second, 5*time.Millisecond)
	st, err = e.coord.SyncStatus("A")
	require.NoError(t, err)
	assert.Equal(t, "c1", st.Cursor)
	assert.Equal(t, 1, st.LastPass.Created)
}

func TestSyncAllSkipsDisabledProviders(t *testing.T) {
	other := provider.NewMemoryAdapter("other", 10)
	off := provider.NewMemoryAdapter("off", 10)
	e := newEnv(t, 10, fastOptions(), other, off)
	e.mem.Upsert("dune", "Dune.epub", []byte("dune"), bookMeta("Dune", "Frank Herbert"), base)
	other.Upsert("emma", "Emma.epub", []byte("emma"), bookMeta("Emma", "Jane Austen"), base)
	off.Upsert("x", "x.epub", []byte("x"), bookMeta("X", "Ann Leckie"), base)
	require.NoError(t, e.coord.SetEnabled("off", false))

	results, err := e.coord.SyncAll(context.Background())

	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 1, results["mem"].Created)
	assert.Equal(t, 1, results["other"].Created)

	statuses, err := e.coord.Statuses()
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	assert.Equal(t, "mem", statuses[0].Provider)
	assert.Equal(t, StateDisabled, statuses[1].State)
	_, err = e.coord.TriggerSync("off")
	assert.ErrorIs(t, err, ErrProviderDisabled)
	_, err = e.coord.TriggerSync("nope")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestCancelledPassDoesNotCommit(t *testing.T) {
	a := newScripted("A")
	a.gate = make(chan struct{})
	e := newEnv(t, 10, fastOptions(), a)
	a.Script("", &provider.DeltaPage{NextCursor: "c1", Changes: []provider.Change{
		{RemoteID: "X", Kind: provider.ChangeCreated, ContentHash: "h", RemoteModifiedAt: base, Metadata: bookMeta("X", "Ann Leckie")},
	}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var res *PassResult
	var err error
	go func() {
		defer close(done)
		res, err = e.coord.RunPass(ctx, "A")
	}()
	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.calls == 1
	}, time.Second, time.Millisecond)
	cancel()
	<-done

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StopCanceled, res.StopReason)
	account, aerr := e.lib.Account("A")
	require.NoError(t, aerr)
	assert.Empty(t, account.LastCursor)
	assert.Zero(t, account.ConsecutiveErrorCount)
}
