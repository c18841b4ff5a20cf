package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-core/internal/mocks"
	"messaging-core/internal/models"
)

func newTestService(t *testing.T) (*Service, *mocks.MemoryStore, *mocks.NotifierRecorder) {
	t.Helper()
	store := mocks.NewMemoryStore()
	notifier := &mocks.NotifierRecorder{}
	svc := NewService(store.Conversations(), store.Messages(), store.Markers(), notifier, time.Second, 100)
	return svc, store, notifier
}

func textContent(text string) models.MessageContent {
	return models.MessageContent{Kind: models.ContentText, Text: text}
}

func TestCreateOrGetDirectDedup(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	// Same pair in reversed order resolves to the same conversation.
	second, err := svc.CreateOrGetDirect(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.False(t, first.IsGroup)
	assert.ElementsMatch(t, []string{"alice", "bob"}, first.Participants)
}

func TestCreateOrGetDirectConcurrent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
			require.NoError(t, err)
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestCreateOrGetDirectRejectsSelf(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateOrGetDirect(context.Background(), "alice", "alice")
	require.ErrorIs(t, err, ErrInvalidOperation)

	_, err = svc.CreateOrGetDirect(context.Background(), "alice", "")
	require.ErrorIs(t, err, ErrInvalidOperation)
}

func TestCreateGroupRequiresThreeMembers(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateGroup(ctx, "alice", "pair", "", []string{"bob"})
	require.ErrorIs(t, err, ErrInvalidOperation)

	// Duplicates collapse before the size check.
	_, err = svc.CreateGroup(ctx, "alice", "pair", "", []string{"bob", "bob", "alice"})
	require.ErrorIs(t, err, ErrInvalidOperation)

	conv, err := svc.CreateGroup(ctx, "alice", "team", "", []string{"bob", "carol"})
	require.NoError(t, err)
	assert.True(t, conv.IsGroup)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, conv.Participants)
}

func TestSendAssignsGaplessSequence(t *testing.T) {
	svc, _, notifier := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		msg, err := svc.Send(ctx, "alice", conv.ID, textContent("hello"), "")
		require.NoError(t, err)
		assert.Equal(t, int64(i), msg.Seq)
		assert.Equal(t, models.StatusSent, msg.Status)
	}
	assert.Len(t, notifier.CallsOf("message_appended"), 3)
}

func TestSendConcurrentSequencesAreGapless(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	const senders = 20
	seqs := make([]int64, senders)
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg, err := svc.Send(ctx, "alice", conv.ID, textContent("hi"), "")
			require.NoError(t, err)
			seqs[i] = msg.Seq
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, senders)
	for _, seq := range seqs {
		assert.False(t, seen[seq], "sequence %d assigned twice", seq)
		seen[seq] = true
	}
	for want := int64(1); want <= senders; want++ {
		assert.True(t, seen[want], "sequence %d missing", want)
	}
}

func TestSendRejectsNonParticipant(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = svc.Send(ctx, "mallory", conv.ID, textContent("hi"), "")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestSendUnknownConversation(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Send(context.Background(), "alice", "missing", textContent("hi"), "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSendRejectsCrossConversationReply(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	convAB, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	convAC, err := svc.CreateOrGetDirect(ctx, "alice", "carol")
	require.NoError(t, err)

	parent, err := svc.Send(ctx, "alice", convAB.ID, textContent("root"), "")
	require.NoError(t, err)

	_, err = svc.Send(ctx, "alice", convAC.ID, textContent("reply"), parent.ID)
	require.ErrorIs(t, err, ErrInvalidOperation)

	reply, err := svc.Send(ctx, "bob", convAB.ID, textContent("reply"), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, reply.ReplyToID)
}

func TestSendValidatesContent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = svc.Send(ctx, "alice", conv.ID, models.MessageContent{Kind: models.ContentText}, "")
	require.ErrorIs(t, err, ErrInvalidOperation)

	_, err = svc.Send(ctx, "alice", conv.ID, models.MessageContent{Kind: models.ContentDeleted}, "")
	require.ErrorIs(t, err, ErrInvalidOperation)
}

func TestEditSenderOnly(t *testing.T) {
	svc, _, notifier := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	msg, err := svc.Send(ctx, "alice", conv.ID, textContent("first"), "")
	require.NoError(t, err)

	_, err = svc.Edit(ctx, "bob", msg.ID, textContent("hijack"))
	require.ErrorIs(t, err, ErrForbidden)

	edited, err := svc.Edit(ctx, "alice", msg.ID, textContent("second"))
	require.NoError(t, err)
	assert.Equal(t, "second", edited.Text)
	assert.Equal(t, msg.Seq, edited.Seq)
	require.NotNil(t, edited.EditedAt)
	assert.Len(t, notifier.CallsOf("message_updated"), 1)
}

func TestEditDeletedMessage(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	msg, err := svc.Send(ctx, "alice", conv.ID, textContent("gone soon"), "")
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "alice", msg.ID))

	_, err = svc.Edit(ctx, "alice", msg.ID, textContent("too late"))
	require.ErrorIs(t, err, ErrInvalidOperation)
}

func TestDeleteKeepsSequenceSlot(t *testing.T) {
	svc, _, notifier := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	first, err := svc.Send(ctx, "alice", conv.ID, textContent("one"), "")
	require.NoError(t, err)
	_, err = svc.Send(ctx, "alice", conv.ID, textContent("two"), "")
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(ctx, "bob", first.ID), ErrForbidden)
	require.NoError(t, svc.Delete(ctx, "alice", first.ID))

	history, err := svc.History(ctx, "bob", conv.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), history[0].Seq)
	assert.Equal(t, models.StatusDeleted, history[0].Status)
	assert.Equal(t, models.ContentDeleted, history[0].Kind)
	assert.Empty(t, history[0].Text)
	assert.Len(t, notifier.CallsOf("status_changed"), 1)
}

func TestHistoryPagination(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := svc.Send(ctx, "alice", conv.ID, textContent("msg"), "")
		require.NoError(t, err)
	}

	page, err := svc.History(ctx, "bob", conv.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].Seq)
	assert.Equal(t, int64(4), page[1].Seq)

	_, err = svc.History(ctx, "mallory", conv.ID, 0, 10)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestMarkDeliveredDirect(t *testing.T) {
	svc, store, notifier := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	msg, err := svc.Send(ctx, "alice", conv.ID, textContent("hi"), "")
	require.NoError(t, err)

	// The sender cannot acknowledge its own message.
	require.ErrorIs(t, svc.MarkDelivered(ctx, "alice", msg.ID), ErrInvalidOperation)
	require.ErrorIs(t, svc.MarkDelivered(ctx, "mallory", msg.ID), ErrForbidden)

	require.NoError(t, svc.MarkDelivered(ctx, "bob", msg.ID))
	got, err := store.Messages().Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, got.Status)
	assert.Len(t, notifier.CallsOf("status_changed"), 1)

	// Repeating the ack is a no-op: no regression, no duplicate event.
	require.NoError(t, svc.MarkDelivered(ctx, "bob", msg.ID))
	assert.Len(t, notifier.CallsOf("status_changed"), 1)
}

func TestMarkDeliveredAfterReadIsNoOp(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	msg, err := svc.Send(ctx, "alice", conv.ID, textContent("hi"), "")
	require.NoError(t, err)

	require.NoError(t, svc.MarkRead(ctx, "bob", conv.ID, msg.Seq))
	got, err := store.Messages().Get(ctx, msg.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusRead, got.Status)

	// A late delivered ack must not move the message backwards.
	require.NoError(t, svc.MarkDelivered(ctx, "bob", msg.ID))
	got, err = store.Messages().Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, got.Status)
}

func TestGroupAggregateStatus(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateGroup(ctx, "alice", "team", "", []string{"bob", "carol"})
	require.NoError(t, err)
	msg, err := svc.Send(ctx, "alice", conv.ID, textContent("standup?"), "")
	require.NoError(t, err)

	// One of two recipients delivered: aggregate stays sent.
	require.NoError(t, svc.MarkDelivered(ctx, "bob", msg.ID))
	got, err := store.Messages().Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, got.Status)

	// Both delivered: aggregate moves to delivered.
	require.NoError(t, svc.MarkDelivered(ctx, "carol", msg.ID))
	got, err = store.Messages().Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, got.Status)

	// One read, one delivered: still delivered.
	require.NoError(t, svc.MarkRead(ctx, "bob", conv.ID, msg.Seq))
	got, err = store.Messages().Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, got.Status)

	// All recipients read: aggregate becomes read.
	require.NoError(t, svc.MarkRead(ctx, "carol", conv.ID, msg.Seq))
	got, err = store.Messages().Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, got.Status)
}

func TestReportFailedOnlyFromSent(t *testing.T) {
	svc, store, notifier := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	msg, err := svc.Send(ctx, "alice", conv.ID, textContent("hi"), "")
	require.NoError(t, err)

	require.NoError(t, svc.ReportFailed(ctx, "bob", msg.ID))
	got, err := store.Messages().Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Len(t, notifier.CallsOf("status_changed"), 1)

	// A failure report on an already-failed message changes nothing.
	require.NoError(t, svc.ReportFailed(ctx, "bob", msg.ID))
	assert.Len(t, notifier.CallsOf("status_changed"), 1)
}

func TestReportFailedAfterDeliveredIsNoOp(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	msg, err := svc.Send(ctx, "alice", conv.ID, textContent("hi"), "")
	require.NoError(t, err)
	require.NoError(t, svc.MarkDelivered(ctx, "bob", msg.ID))

	require.NoError(t, svc.ReportFailed(ctx, "bob", msg.ID))
	got, err := store.Messages().Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, got.Status)
}

func TestMarkReadAdvancesUnread(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := svc.Send(ctx, "alice", conv.ID, textContent("msg"), "")
		require.NoError(t, err)
	}

	unread, err := svc.Unread(ctx, "bob", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)

	// The sender has nothing unread from itself.
	unread, err = svc.Unread(ctx, "alice", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unread)

	require.NoError(t, svc.MarkRead(ctx, "bob", conv.ID, 2))
	unread, err = svc.Unread(ctx, "bob", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	// Backward marks never regress the marker.
	require.NoError(t, svc.MarkRead(ctx, "bob", conv.ID, 1))
	unread, err = svc.Unread(ctx, "bob", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}

func TestMarkReadClampsToLastSeq(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = svc.Send(ctx, "alice", conv.ID, textContent("only one"), "")
	require.NoError(t, err)

	require.NoError(t, svc.MarkRead(ctx, "bob", conv.ID, 999))
	unread, err := svc.Unread(ctx, "bob", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unread)
}

func TestMarkReadCascadesStatusEvents(t *testing.T) {
	svc, _, notifier := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := svc.Send(ctx, "alice", conv.ID, textContent("msg"), "")
		require.NoError(t, err)
	}

	require.NoError(t, svc.MarkRead(ctx, "bob", conv.ID, 2))

	events := notifier.CallsOf("status_changed")
	require.Len(t, events, 2)
	for _, event := range events {
		assert.Equal(t, models.StatusRead, event.Message.Status)
	}
}

func TestUnreadExcludesDeleted(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	msg, err := svc.Send(ctx, "alice", conv.ID, textContent("one"), "")
	require.NoError(t, err)
	_, err = svc.Send(ctx, "alice", conv.ID, textContent("two"), "")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "alice", msg.ID))

	unread, err := svc.Unread(ctx, "bob", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}

func TestUnreadAll(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	convAB, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	convAC, err := svc.CreateOrGetDirect(ctx, "alice", "carol")
	require.NoError(t, err)

	_, err = svc.Send(ctx, "bob", convAB.ID, textContent("hi"), "")
	require.NoError(t, err)
	_, err = svc.Send(ctx, "carol", convAC.ID, textContent("hi"), "")
	require.NoError(t, err)
	_, err = svc.Send(ctx, "carol", convAC.ID, textContent("again"), "")
	require.NoError(t, err)

	counts, err := svc.UnreadAll(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[convAB.ID])
	assert.Equal(t, int64(2), counts[convAC.ID])
}

func TestReceiptsVisibleToParticipantsOnly(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateGroup(ctx, "alice", "team", "", []string{"bob", "carol"})
	require.NoError(t, err)
	msg, err := svc.Send(ctx, "alice", conv.ID, textContent("hi"), "")
	require.NoError(t, err)
	require.NoError(t, svc.MarkDelivered(ctx, "bob", msg.ID))

	receipts, err := svc.Receipts(ctx, "alice", msg.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, "bob", receipts[0].ParticipantID)
	assert.Equal(t, models.StatusDelivered, receipts[0].Status)
	assert.Equal(t, "carol", receipts[1].ParticipantID)
	assert.Equal(t, models.StatusSent, receipts[1].Status)

	_, err = svc.Receipts(ctx, "mallory", msg.ID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAddParticipantGroupOnly(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	direct, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	require.ErrorIs(t, svc.AddParticipant(ctx, direct.ID, "alice", "carol"), ErrInvalidOperation)

	group, err := svc.CreateGroup(ctx, "alice", "team", "", []string{"bob", "carol"})
	require.NoError(t, err)
	require.ErrorIs(t, svc.AddParticipant(ctx, group.ID, "mallory", "dave"), ErrForbidden)

	require.NoError(t, svc.AddParticipant(ctx, group.ID, "alice", "dave"))
	got, err := svc.ListConversations(ctx, "dave")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, group.ID, got[0].ID)
}

func TestLockTimeoutReturnsTransient(t *testing.T) {
	store := mocks.NewMemoryStore()
	svc := NewService(store.Conversations(), store.Messages(), store.Markers(), &mocks.NotifierRecorder{}, 20*time.Millisecond, 100)
	ctx := context.Background()

	conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	// Hold the conversation's critical section so the Send cannot enter it.
	release, err := svc.locks.acquire(ctx, conv.ID)
	require.NoError(t, err)
	defer release()

	_, err = svc.Send(ctx, "alice", conv.ID, textContent("stuck"), "")
	require.ErrorIs(t, err, ErrTransient)
}

func TestSendPropagatesRepositoryError(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	markerRepo := new(mocks.ReadMarkerRepositoryMock)
	svc := NewService(convRepo, msgRepo, markerRepo, &mocks.NotifierRecorder{}, time.Second, 100)

	conv := models.Conversation{ID: "c1", Participants: []string{"alice", "bob"}}
	convRepo.On("Get", mock.Anything, "c1").Return(conv, nil).Once()
	msgRepo.On("Append", mock.Anything, "c1", "alice", mock.Anything, "", []string{"bob"}).
		Return(models.Message{}, errors.New("connection reset")).Once()

	_, err := svc.Send(context.Background(), "alice", "c1", textContent("hi"), "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	convRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
}

// gateNotifier stalls the first appended-message fan-out until released.
type gateNotifier struct {
	mocks.NotifierRecorder
	entered chan struct{}
	release chan struct{}
	gated   atomic.Bool
}

func (n *gateNotifier) MessageAppended(conversationID string, msg models.Message) {
	if n.gated.CompareAndSwap(false, true) {
		close(n.entered)
		<-n.release
	}
	n.NotifierRecorder.MessageAppended(conversationID, msg)
}

func TestSendFanOutDoesNotBlockConversation(t *testing.T) {
	store := mocks.NewMemoryStore()
	notifier := &gateNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(store.Conversations(), store.Messages(), store.Markers(), notifier, 100*time.Millisecond, 100)
	ctx := context.Background()

	conv, err := svc.CreateOrGetDirect(ctx, "alice", "bob")
	require.NoError(t, err)

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.Send(ctx, "alice", conv.ID, textContent("first"), "")
		firstDone <- err
	}()
	<-notifier.entered

	// The first send's fan-out is stalled; the conversation must still
	// accept writes instead of timing out on its lock.
	msg, err := svc.Send(ctx, "bob", conv.ID, textContent("second"), "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), msg.Seq)

	close(notifier.release)
	require.NoError(t, <-firstDone)
	assert.Len(t, notifier.CallsOf("message_appended"), 2)
}

func TestMarkReadClampSeesCurrentLastSeq(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	markerRepo := new(mocks.ReadMarkerRepositoryMock)
	svc := NewService(convRepo, msgRepo, markerRepo, &mocks.NotifierRecorder{}, time.Second, 100)

	// One Get, issued under the conversation's lock, decides the clamp.
	conv := models.Conversation{ID: "c1", LastSeq: 3, Participants: []string{"alice", "bob"}}
	convRepo.On("Get", mock.Anything, "c1").Return(conv, nil).Once()
	markerRepo.On("Advance", mock.Anything, "c1", "bob", int64(3)).Return(true, nil).Once()
	msgRepo.On("ReadReceiptsThrough", mock.Anything, "c1", "bob", int64(3)).Return(nil).Once()
	msgRepo.On("PromoteAggregatesThrough", mock.Anything, "c1", int64(3)).Return([]models.Message(nil), nil).Once()

	require.NoError(t, svc.MarkRead(context.Background(), "bob", "c1", 10))

	convRepo.AssertExpectations(t)
	markerRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
}
