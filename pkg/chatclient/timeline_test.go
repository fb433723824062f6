package chatclient

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(seq int64) Message {
	return Message{ID: fmt.Sprintf("m%d", seq), ChatID: "c1", Seq: seq, Content: fmt.Sprintf("hello %d", seq)}
}

func msgs(from, to int64) []Message {
	var out []Message
	for s := from; s <= to; s++ {
		out = append(out, msg(s))
	}
	return out
}

func keys(t *Timeline) []string {
	var out []string
	for _, e := range t.Entries() {
		out = append(out, e.Key())
	}
	return out
}

func TestTimelinePrependSkipsKnownMessages(t *testing.T) {
	tl := NewTimeline(0)
	tl.Load(msgs(5, 8))

	added := tl.Prepend(msgs(3, 6))

	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"m3", "m4", "m5", "m6", "m7", "m8"}, keys(tl))
	assert.Zero(t, tl.Prepend(msgs(3, 4)))
}

func TestTimelineKeepsNewestRetention(t *testing.T) {
	tl := NewTimeline(4)
	tl.Load(msgs(5, 8))

	// Prepending past the cap drops what was just loaded.
	tl.Prepend(msgs(1, 4))
	assert.Equal(t, []string{"m5", "m6", "m7", "m8"}, keys(tl))
	assert.False(t, tl.Contains("m1"))

	tl.Reconcile(msg(9))
	assert.Equal(t, []string{"m6", "m7", "m8", "m9"}, keys(tl))
	assert.False(t, tl.Contains("m5"))

	oldest, ok := tl.Oldest()
	require.True(t, ok)
	assert.Equal(t, int64(6), oldest.Seq)
}

func TestTimelinePrependCountsOnlyKeptMessages(t *testing.T) {
	tl := NewTimeline(6)
	tl.Load(msgs(5, 8))

	assert.Equal(t, 2, tl.Prepend(msgs(1, 4)))
	assert.Equal(t, []string{"m3", "m4", "m5", "m6", "m7", "m8"}, keys(tl))

	assert.Zero(t, tl.Prepend(msgs(1, 2)))
	assert.False(t, tl.Contains("m1"))
}

func TestReconcileDropsEvictedRedelivery(t *testing.T) {
	tl := NewTimeline(4)
	tl.Load(msgs(1, 4))
	tl.Reconcile(msg(5))
	require.False(t, tl.Contains("m1"))

	outcome, _ := tl.Reconcile(msg(1))

	assert.Equal(t, Dropped, outcome)
	assert.Equal(t, []string{"m2", "m3", "m4", "m5"}, keys(tl))
	assert.False(t, tl.Contains("m1"))
}

func TestReconcileInsertsInSequenceOrder(t *testing.T) {
	tl := NewTimeline(0)
	tl.Load(append(msgs(1, 2), msg(4)))
	tl.AddProvisional(Provisional{TempID: "tmp-a", ClientID: "ka", Sender: Profile{ID: "alice"}, Content: "later"})

	outcome, _ := tl.Reconcile(msg(3))
	assert.Equal(t, Appended, outcome)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "tmp-a"}, keys(tl))

	tl.Reconcile(msg(5))
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "tmp-a", "m5"}, keys(tl))
}

func TestTimelineDefaultRetention(t *testing.T) {
	tl := NewTimeline(0)
	tl.Load(msgs(1, 150))
	tl.Prepend(nil)
	for s := int64(151); s <= 260; s++ {
		tl.Reconcile(msg(s))
	}
	assert.Equal(t, DefaultRetention, tl.Len())
	oldest, _ := tl.Oldest()
	assert.Equal(t, int64(61), oldest.Seq)
}

func TestTimelineLoadKeepsPendingAndDedupes(t *testing.T) {
	tl := NewTimeline(0)
	tl.AddProvisional(Provisional{TempID: "tmp-1", ClientID: "k1", Sender: Profile{ID: "alice"}, Content: "hi"})

	tl.Load(append(msgs(1, 2), msg(2)))

	assert.Equal(t, []string{"m1", "m2", "tmp-1"}, keys(tl))
	assert.True(t, tl.Entries()[2].Pending())
}

func TestReconcileByClientID(t *testing.T) {
	tl := NewTimeline(0)
	tl.Load(msgs(1, 1))
	tl.AddProvisional(Provisional{TempID: "tmp-a", ClientID: "ka", Sender: Profile{ID: "alice"}, Content: "same"})
	tl.AddProvisional(Provisional{TempID: "tmp-b", ClientID: "kb", Sender: Profile{ID: "alice"}, Content: "same"})

	m := Message{ID: "m2", Seq: 2, Sender: &Profile{ID: "alice"}, Content: "same", ClientID: "kb"}
	outcome, tempID := tl.Reconcile(m)

	assert.Equal(t, Replaced, outcome)
	assert.Equal(t, "tmp-b", tempID)
	assert.Equal(t, []string{"m1", "tmp-a", "m2"}, keys(tl))

	outcome, _ = tl.Reconcile(m)
	assert.Equal(t, Duplicate, outcome)
	assert.Equal(t, 3, tl.Len())
}

func TestReconcileFallsBackToSenderAndContent(t *testing.T) {
	tl := NewTimeline(0)
	tl.AddProvisional(Provisional{TempID: "tmp-a", Sender: Profile{ID: "alice"}, Content: "one"})
	tl.AddProvisional(Provisional{TempID: "tmp-b", Sender: Profile{ID: "alice"}, Content: "two"})

	outcome, tempID := tl.Reconcile(Message{ID: "m1", Sender: &Profile{ID: "alice"}, Content: "two"})
	assert.Equal(t, Replaced, outcome)
	assert.Equal(t, "tmp-b", tempID)

	// Someone else saying the same thing is a new message.
	outcome, _ = tl.Reconcile(Message{ID: "m2", Sender: &Profile{ID: "bob"}, Content: "one"})
	assert.Equal(t, Appended, outcome)
	assert.Equal(t, []string{"tmp-a", "m1", "m2"}, keys(tl))
}

func TestReconcileIgnoresFallbackWhenClientIDPresent(t *testing.T) {
	tl := NewTimeline(0)
	tl.AddProvisional(Provisional{TempID: "tmp-a", ClientID: "ka", Sender: Profile{ID: "alice"}, Content: "hi"})

	outcome, _ := tl.Reconcile(Message{ID: "m1", ClientID: "other-device", Sender: &Profile{ID: "alice"}, Content: "hi"})

	assert.Equal(t, Appended, outcome)
	assert.Equal(t, []string{"tmp-a", "m1"}, keys(tl))
}

func TestRemoveProvisional(t *testing.T) {
	tl := NewTimeline(0)
	tl.AddProvisional(Provisional{TempID: "tmp-a", ClientID: "ka"})
	assert.True(t, tl.RemoveProvisional("tmp-a"))
	assert.False(t, tl.RemoveProvisional("tmp-a"))
	assert.Zero(t, tl.Len())
}

func TestReconcileNeverShowsBoth(t *testing.T) {
	tl := NewTimeline(0)
	tl.AddProvisional(Provisional{TempID: "tmp-a", ClientID: "ka", Content: "x"})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			entries := tl.Entries()
			assert.Len(t, entries, 1)
		}
	}()

	tl.Reconcile(Message{ID: "m1", ClientID: "ka", Content: "x"})
	close(stop)
	wg.Wait()
	assert.Equal(t, []string{"m1"}, keys(tl))
}

func TestOnChangeFires(t *testing.T) {
	tl := NewTimeline(0)
	calls := 0
	tl.OnChange(func() { calls++ })

	tl.Load(msgs(1, 2))
	tl.Prepend(msgs(1, 2))
	tl.Reconcile(msg(3))

	assert.Equal(t, 2, calls)
}
