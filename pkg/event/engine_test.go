package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

type fakeConn struct {
	id uint64

	mu     sync.Mutex
	keys   []uint16
	names  []string
	err    error
	onSend func(key uint16)
}

func (c *fakeConn) ID() uint64 { return c.id }

func (c *fakeConn) Write(req protocol.Request, key uint16) (*protocol.Outbound, error) {
	c.mu.Lock()
	err, hook := c.err, c.onSend
	if err == nil {
		c.keys = append(c.keys, key)
		c.names = append(c.names, protocol.RequestName(req))
	}
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if hook != nil {
		hook(key)
	}
	return &protocol.Outbound{Name: protocol.RequestName(req), Family: protocol.FamilyService, Subtype: 0x0e}, nil
}

func (c *fakeConn) sent() []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint16(nil), c.keys...)
}

type countingObserver struct {
	mu     sync.Mutex
	opened map[Kind]int
	closed map[Result]int
	misses map[Kind]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{opened: map[Kind]int{}, closed: map[Result]int{}, misses: map[Kind]int{}}
}

func (o *countingObserver) EventOpened(k Kind) {
	o.mu.Lock()
	o.opened[k]++
	o.mu.Unlock()
}

func (o *countingObserver) EventClosed(_ Kind, r Result) {
	o.mu.Lock()
	o.closed[r]++
	o.mu.Unlock()
}

func (o *countingObserver) CorrelationMiss(k Kind) {
	o.mu.Lock()
	o.misses[k]++
	o.mu.Unlock()
}

func newTestEngine(t *testing.T, start uint16) (*Engine, *countingObserver) {
	t.Helper()
	seq := protocol.NewSequencer(1)
	seq.SetSubSequence(start)
	obs := newCountingObserver()
	e := NewEngine(seq, nil, obs)
	t.Cleanup(e.Stop)
	return e, obs
}

func TestSendExpectResolve(t *testing.T) {
	e, obs := newTestEngine(t, 100)
	conn := &fakeConn{id: 1}

	ev, err := e.SendExpect(conn, protocol.NewRequestSelfInfo(), Options{Contact: "123"})
	require.NoError(t, err)
	assert.Equal(t, uint16(100), ev.Key)
	assert.Equal(t, []uint16{100}, conn.sent())
	assert.Equal(t, "RequestSelfInfo", ev.Name)
	assert.Equal(t, Pending, ev.Result())

	got, ok := e.Resolve(100, Success, "detail")
	require.True(t, ok)
	assert.Same(t, ev, got)
	assert.Equal(t, Success, ev.Result())
	assert.Equal(t, "detail", ev.SubResult())

	_, ok = e.Resolve(100, Success, nil)
	assert.False(t, ok, "second resolve must miss")
	assert.Equal(t, 1, obs.misses[Running])
	assert.Equal(t, 1, obs.closed[Success])
}

func TestKeyAllocationSkipsPending(t *testing.T) {
	e, _ := newTestEngine(t, 0xfffe)
	conn := &fakeConn{id: 1}

	first, err := e.SendExpect(conn, protocol.NewPing(), Options{})
	require.NoError(t, err)
	second, err := e.SendExtended(conn, protocol.NewPing(), Options{})
	require.NoError(t, err)
	assert.Equal(t, uint16(0xfffe), first.Key)
	assert.Equal(t, uint16(0xffff), second.Key)

	// wrap back onto keys still held by the pending events
	e.seq.SetSubSequence(0xfffe)
	third, err := e.SendExpect(conn, protocol.NewPing(), Options{})
	require.NoError(t, err)
	assert.Equal(t, uint16(0), third.Key)

	e.seq.SetSubSequence(0xffff)
	require.NoError(t, e.SendFireAndForget(conn, protocol.NewPing()))
	assert.Equal(t, uint16(1), conn.sent()[3])
}

func TestReplyBeforeSendReturns(t *testing.T) {
	e, _ := newTestEngine(t, 7)
	conn := &fakeConn{id: 1}
	conn.onSend = func(key uint16) {
		_, ok := e.Resolve(key, Success, nil)
		assert.True(t, ok, "reply arriving during write must find its event")
	}

	ev, err := e.SendExpect(conn, protocol.NewRequestRateInfo(), Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, err := ev.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, Success, r)
}

// bareConn reports no outbound details for the written packet
type bareConn struct{}

func (bareConn) ID() uint64 { return 9 }

func (bareConn) Write(protocol.Request, uint16) (*protocol.Outbound, error) { return nil, nil }

func TestSendNeedsOnlyTheWriteError(t *testing.T) {
	e, _ := newTestEngine(t, 40)

	ev, err := e.SendExpect(bareConn{}, protocol.NewPing(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "Ping", ev.Name)
	assert.Equal(t, Pending, ev.Result())

	got, ok := e.Resolve(40, Success, nil)
	require.True(t, ok)
	assert.Same(t, ev, got)
}

func TestSendFailureResolvesFailed(t *testing.T) {
	e, obs := newTestEngine(t, 1)
	cause := errors.New("broken pipe")
	conn := &fakeConn{id: 1, err: cause}

	ev, err := e.SendExpect(conn, protocol.NewPing(), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	require.NotNil(t, ev)
	assert.Equal(t, Failed, ev.Result())
	assert.ErrorIs(t, ev.Err(), cause)
	assert.Equal(t, 1, obs.closed[Failed])

	running, extended, roster := e.Counts()
	assert.Zero(t, running+extended+roster)
}

func TestResolveExtended(t *testing.T) {
	e, _ := newTestEngine(t, 40)
	conn := &fakeConn{id: 1}

	ev, err := e.SendExtended(conn, protocol.NewRequestAllInfo(5, false), Options{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, ok := e.ResolveExtended(ev.Key, Success, &protocol.Packet{Subtype: uint16(i)}, true)
		require.True(t, ok)
		assert.Equal(t, Pending, ev.Result())
	}
	_, ok := e.ResolveExtended(ev.Key, Success, &protocol.Packet{Subtype: 9}, false)
	require.True(t, ok)
	assert.Equal(t, Success, ev.Result())
	assert.Len(t, ev.Parts(), 4)

	_, ok = e.ResolveExtended(ev.Key, Success, nil, false)
	assert.False(t, ok)
}

func TestResolveBySubtype(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	conn := &fakeConn{id: 1}

	opts := Options{ReplyFamily: protocol.FamilyService, ReplySubtype: 0x07}
	older, err := e.SendExpect(conn, protocol.NewRequestRateInfo(), opts)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	newer, err := e.SendExpect(conn, protocol.NewRequestRateInfo(), opts)
	require.NoError(t, err)

	got, ok := e.ResolveBySubtype(protocol.FamilyService, 0x07, Success, nil)
	require.True(t, ok)
	assert.Same(t, older, got)
	assert.Equal(t, Pending, newer.Result())

	_, ok = e.ResolveBySubtype(protocol.FamilyService, 0x99, Success, nil)
	assert.False(t, ok)
}

func TestCancelAll(t *testing.T) {
	e, obs := newTestEngine(t, 1)
	mine := &fakeConn{id: 1}
	other := &fakeConn{id: 2}

	a, err := e.SendExpect(mine, protocol.NewPing(), Options{})
	require.NoError(t, err)
	b, err := e.SendExtended(mine, protocol.NewPing(), Options{})
	require.NoError(t, err)
	r, err := e.SendRoster(mine, protocol.NewEditEnd(), RosterOp{Action: RosterAdd, Contact: "42"})
	require.NoError(t, err)
	keep, err := e.SendExpect(other, protocol.NewPing(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, e.CancelAll(1))
	for _, ev := range []*Event{a, b, r.Event} {
		assert.Equal(t, Cancelled, ev.Result(), ev.String())
	}
	assert.Equal(t, Pending, keep.Result())
	assert.Equal(t, 3, obs.closed[Cancelled])

	_, err = e.SendExpect(mine, protocol.NewPing(), Options{})
	assert.ErrorIs(t, err, ErrConnectionClosed)
	_, err = e.SendRoster(mine, protocol.NewEditEnd(), RosterOp{})
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.ErrorIs(t, e.SendFireAndForget(mine, protocol.NewPing()), ErrConnectionClosed)

	assert.Zero(t, e.CancelAll(1))
}

func TestExpireAndOutstanding(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	conn := &fakeConn{id: 1}

	ev, err := e.SendExpect(conn, protocol.NewPing(), Options{})
	require.NoError(t, err)

	assert.Len(t, e.Outstanding(0), 1)
	assert.Empty(t, e.Outstanding(time.Hour))

	assert.True(t, e.Expire(ev.Key))
	assert.Equal(t, TimedOut, ev.Result())
	assert.False(t, e.Expire(ev.Key))

	_, ok := e.Lookup(ev.Key)
	assert.False(t, ok)
}

func TestRosterOps(t *testing.T) {
	e, obs := newTestEngine(t, 10)
	conn := &fakeConn{id: 3}

	op, err := e.SendRoster(conn, protocol.NewEditStart(false), RosterOp{Action: RosterRemove, Contact: "777"})
	require.NoError(t, err)
	assert.Equal(t, uint16(10), op.Key)
	assert.Equal(t, uint64(3), op.ConnID)

	peeked, ok := e.PeekRoster(op.Key)
	require.True(t, ok)
	assert.Same(t, op, peeked)
	assert.Len(t, e.PendingRoster(3), 1)
	assert.Empty(t, e.PendingRoster(4))

	got, ok := e.ResolveRoster(op.Key, Acked, protocol.RosterAckOK)
	require.True(t, ok)
	assert.Same(t, op, got)
	assert.Equal(t, Acked, op.Event.Result())
	assert.Equal(t, protocol.RosterAckOK, op.Event.SubResult())

	_, ok = e.ResolveRoster(op.Key, Acked, nil)
	assert.False(t, ok)
	assert.Equal(t, 1, obs.misses[Roster])
}

func TestRosterSendFailureDropsOp(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	cause := errors.New("reset")
	conn := &fakeConn{id: 1, err: cause}

	op, err := e.SendRoster(conn, protocol.NewEditEnd(), RosterOp{Action: RosterAdd})
	assert.ErrorIs(t, err, cause)
	require.NotNil(t, op)
	assert.Equal(t, Failed, op.Event.Result())
	assert.Empty(t, e.PendingRoster(1))
}

func TestStopCancelsEverything(t *testing.T) {
	seq := protocol.NewSequencer(1)
	e := NewEngine(seq, nil, nil)
	conn := &fakeConn{id: 1}

	ev, err := e.SendExpect(conn, protocol.NewPing(), Options{})
	require.NoError(t, err)

	e.Stop()
	assert.Equal(t, Cancelled, ev.Result())
	assert.ErrorIs(t, ev.Err(), ErrEngineStopped)

	_, err = e.SendExpect(conn, protocol.NewPing(), Options{})
	assert.ErrorIs(t, err, ErrEngineStopped)
	e.Stop()
}

func TestConcurrentSendsGetDistinctKeys(t *testing.T) {
	e, _ := newTestEngine(t, 0)
	conn := &fakeConn{id: 1}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.SendExpect(conn, protocol.NewPing(), Options{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := map[uint16]bool{}
	for _, k := range conn.sent() {
		assert.False(t, seen[k], "key %d reused", k)
		seen[k] = true
	}
	running, _, _ := e.Counts()
	assert.Equal(t, 50, running)
}
