package cadet_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/cadetchan/cadet"
	"github.com/cadetchan/cadet/code"
	"github.com/cadetchan/cadet/internal/testutil"
	"github.com/cadetchan/cadet/metrics"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
)

var remoteID = testutil.PeerID("remote")

func quietLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

type fixture struct {
	t   *testing.T
	rt  *testutil.Runtime
	svc *cadet.Service
}

func newFixture(t *testing.T, maxPayload int) *fixture {
	t.Helper()
	rt := testutil.NewRuntime(testutil.PeerID("local"), maxPayload)
	svc := cadet.NewService(rt, &cadet.ServiceOptions{Logger: quietLogger()})
	return &fixture{t: t, rt: rt, svc: svc}
}

// stop closes the service and then stops the runtime.
func (f *fixture) stop() {
	f.svc.Close()
	f.rt.Stop()
}

// settle waits until the loop and the worker have both run out of work that
// was triggered before the call.
func (f *fixture) settle() {
	f.t.Helper()
	for i := 0; i < 3; i++ {
		if err := f.svc.Scheduler().Sync(); err != nil {
			f.t.Fatalf("Loop sync: %v", err)
		}
		f.rt.Sync()
	}
	if err := f.svc.Scheduler().Sync(); err != nil {
		f.t.Fatalf("Loop sync: %v", err)
	}
}

// connect returns a connected channel and its runtime handle.
func (f *fixture) connect() (*cadet.Channel, *testutil.Channel) {
	f.t.Helper()
	ch := f.svc.NewChannel()
	errc := make(chan error, 1)
	ch.AsyncConnect(remoteID.String(), "test-port", func(err error) { errc <- err })
	f.settle()
	hs := f.rt.Channels()
	if len(hs) == 0 {
		f.t.Fatal("Connect did not create a runtime channel")
	}
	h := hs[len(hs)-1]
	f.rt.Window(h, 4)
	if err := wait(f.t, errc); err != nil {
		f.t.Fatalf("Connect failed: %v", err)
	}
	return ch, h
}

type outcome struct {
	Tag string
	N   int
	Err error
}

// recorder collects completions in the order they are reported.
type recorder struct {
	t  *testing.T
	ch chan outcome
}

func newRecorder(t *testing.T) *recorder { return &recorder{t: t, ch: make(chan outcome, 64)} }

func (r *recorder) op(tag string) func(int, error) {
	return func(n int, err error) { r.ch <- outcome{tag, n, err} }
}

func (r *recorder) next() outcome {
	r.t.Helper()
	select {
	case o := <-r.ch:
		return o
	case <-time.After(5 * time.Second):
		r.t.Fatal("Timed out waiting for a completion")
	}
	panic("unreachable")
}

func (r *recorder) none() {
	r.t.Helper()
	select {
	case o := <-r.ch:
		r.t.Errorf("Unexpected completion: %+v", o)
	default:
	}
}

func wait(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for a result")
	}
	return nil
}

func payloads(envs []testutil.Envelope) []string {
	var out []string
	for _, e := range envs {
		out = append(out, string(e.Payload))
	}
	return out
}

func TestConnectInvalidTarget(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFixture(t, 0)
	defer f.stop()

	for _, peer := range []string{"", "nonsense", remoteID.String()[1:], remoteID.String()[1:] + "U"} {
		ch := f.svc.NewChannel()
		errc := make(chan error, 1)
		ch.AsyncConnect(peer, "port", func(err error) { errc <- err })
		if err := wait(t, errc); !errors.Is(err, cadet.ErrInvalidTarget) {
			t.Errorf("Connect(%q): got %v, want %v", peer, err, cadet.ErrInvalidTarget)
		}
		ch.Close()
	}
	f.settle()
	if hs := f.rt.Channels(); len(hs) != 0 {
		t.Errorf("Runtime was contacted: %d channels created", len(hs))
	}
}

func TestConnect(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFixture(t, 0)
	defer f.stop()

	ch := f.svc.NewChannel()
	defer ch.Close()
	errc := make(chan error, 1)
	ch.AsyncConnect(remoteID.String(), "test-port", func(err error) { errc <- err })
	f.settle()

	hs := f.rt.Channels()
	if len(hs) != 1 {
		t.Fatalf("Got %d runtime channels, want 1", len(hs))
	}
	if hs[0].Peer != remoteID {
		t.Errorf("Channel peer: got %v, want %v", hs[0].Peer, remoteID)
	}
	if hs[0].Port != cadet.HashPort("test-port") {
		t.Error("Channel port does not match the hash of the rendezvous name")
	}
	select {
	case err := <-errc:
		t.Fatalf("Connect completed before the window arrived: %v", err)
	default:
	}

	f.rt.Window(hs[0], 2)
	if err := wait(t, errc); err != nil {
		t.Errorf("Connect: unexpected error: %v", err)
	}

	// A second connect on the same channel is a protocol error.
	ch.AsyncConnect(remoteID.String(), "test-port", func(err error) { errc <- err })
	if err := wait(t, errc); code.FromError(err) != code.ProtocolError {
		t.Errorf("Second connect: got %v, want code %v", err, code.ProtocolError)
	}
}

func TestConnectSetupFailed(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFixture(t, 0)
	defer f.stop()
	f.rt.FailCreate(errors.New("no route"))

	ch := f.svc.NewChannel()
	defer ch.Close()
	errc := make(chan error, 1)
	ch.AsyncConnect(remoteID.String(), "p", func(err error) { errc <- err })
	if err := wait(t, errc); !errors.Is(err, cadet.ErrSetupFailed) {
		t.Errorf("Connect: got %v, want %v", err, cadet.ErrSetupFailed)
	}
}

func TestSendOrder(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFixture(t, 0)
	defer f.stop()
	ch, h := f.connect()
	defer ch.Close()

	rec := newRecorder(t)
	msgs := []string{"alpha", "bravo", "charlie"}
	for _, msg := range msgs {
		ch.AsyncSend([]byte(msg), rec.op(msg))
	}
	f.settle()

	// Only one send is in flight at a time.
	for i, msg := range msgs {
		if diff := cmp.Diff(msgs[:i+1], payloads(f.rt.Sent(h))); diff != "" {
			t.Errorf("Sent before completion %d (-want, +got):\n%s", i+1, diff)
		}
		rec.none()
		if n := f.rt.CompleteSends(h); n != 1 {
			t.Fatalf("CompleteSends: got %d notifications, want 1", n)
		}
		if got, want := rec.next(), (outcome{msg, len(msg), nil}); got != want {
			t.Errorf("Completion: got %+v, want %+v", got, want)
		}
		f.settle()
	}
}

func TestSendFragments(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFixture(t, 4)
	defer f.stop()
	ch, h := f.connect()
	defer ch.Close()

	rec := newRecorder(t)
	ch.AsyncSend([]byte("0123456789"), rec.op("big"))
	f.settle()

	sent := f.rt.Sent(h)
	if diff := cmp.Diff([]string{"0123", "4567", "89"}, payloads(sent)); diff != "" {
		t.Errorf("Fragments (-want, +got):\n%s", diff)
	}
	for i, e := range sent {
		if last := i == len(sent)-1; (e.Notify != nil) != last {
			t.Errorf("Fragment %d: notify requested=%v, want %v", i, e.Notify != nil, last)
		}
	}
	f.rt.CompleteSends(h)
	if got, want := rec.next(), (outcome{"big", 10, nil}); got != want {
		t.Errorf("Completion: got %+v, want %+v", got, want)
	}
}

func TestSendEmpty(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFixture(t, 0)
	defer f.stop()
	ch, h := f.connect()
	defer ch.Close()

	rec := newRecorder(t)
	ch.AsyncSend(nil, rec.op("empty"))
	f.settle()
	if sent := f.rt.Sent(h); len(sent) != 1 || len(sent[0].Payload) != 0 {
		t.Errorf("Sent: got %d envelopes, want one empty envelope", len(sent))
	}
	f.rt.CompleteSends(h)
	if got, want := rec.next(), (outcome{"empty", 0, nil}); got != want {
		t.Errorf("Completion: got %+v, want %+v", got, want)
	}
}

func TestNotConnected(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFixture(t, 0)
	defer f.stop()

	ch := f.svc.NewChannel()
	defer ch.Close()
	rec := newRecorder(t)
	ch.AsyncSend([]byte("x"), rec.op("send"))
	if o := rec.next(); !errors.Is(o.Err, cadet.ErrConnectionReset) {
		t.Errorf("Send on idle channel: got %v, want %v", o.Err, cadet.ErrConnectionReset)
	}
	ch.AsyncReceive(make([]byte, 4), rec.op("receive"))
	if o := rec.next(); !errors.Is(o.Err, cadet.ErrConnectionReset) {
		t.Errorf("Receive on idle channel: got %v, want %v", o.Err, cadet.ErrConnectionReset)
	}

	// Read reports the reset as the end of the stream.
	if n, err := ch.Read(make([]byte, 4)); n != 0 || err != io.EOF {
		t.Errorf("Read on idle channel: got (%d, %v), want (0, EOF)", n, err)
	}
	f.settle()
	if hs := f.rt.Channels(); len(hs) != 0 {
		t.Errorf("Runtime was contacted: %d channels created", len(hs))
	}
}

func TestPartialReceive(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFixture(t, 0)
	defer f.stop()
	ch, h := f.connect()
	defer ch.Close()

	f.rt.Deliver(h, []byte("hello world"))
	f.rt.Deliver(h, []byte("!"))
	f.settle()
	if n := f.rt.Acks(h); n != 2 {
		t.Errorf("Acks: got %d, want 2", n)
	}

	// Chain receives from inside the completion callback.
	var got []string
	done := make(chan struct{})
	buf := make([]byte, 5)
	var next func(int, error)
	next = func(n int, err error) {
		if err != nil {
			t.Errorf("Receive: unexpected error: %v", err)
			close(done)
			return
		}
		got = append(got, string(buf[:n]))
		if len(got) == 4 {
			close(done)
			return
		}
		ch.AsyncReceive(buf, next)
	}
	ch.AsyncReceive(buf, next)
	<-done

	if diff := cmp.Diff([]string{"hello", " worl", "d", "!"}, got); diff != "" {
		t.Errorf("Received (-want, +got):\n%s", diff)
	}
}

func TestReceivePending(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFixture(t, 0)
	defer f.stop()
	ch, h := f.connect()
	defer ch.Close()

	rec := newRecorder(t)
	buf := make([]byte, 16)
	ch.AsyncReceive(buf, rec.op("first"))
	ch.AsyncReceive(buf, rec.op("second"))
	f.settle()

	if o := rec.next(); o.Tag != "second" || code.FromError(o.Err) != code.ProtocolError {
		t.Errorf("Second receive: got %+v, want protocol error", o)
	}
	rec.none()

	f.rt.Deliver(h, []byte("data"))
	if got, want := rec.next(), (outcome{"first", 4, nil}); got != want {
		t.Errorf("First receive: got %+v, want %+v", got, want)
	}
	if got := string(buf[:4]); got != "data" {
		t.Errorf("Received: got %q, want %q", got, "data")
	}

	// Empty envelopes are acknowledged and dropped.
	ch.AsyncReceive(buf, rec.op("third"))
	f.rt.Deliver(h, nil)
	f.settle()
	rec.none()
	f.rt.Deliver(h, []byte("z"))
	if got, want := rec.next(), (outcome{"third", 1, nil}); got != want {
		t.Errorf("Third receive: got %+v, want %+v", got, want)
	}
}

func TestTeardown(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFixture(t, 0)
	defer f.stop()
	ch, h := f.connect()
	defer ch.Close()

	rec := newRecorder(t)
	ch.AsyncReceive(make([]byte, 8), rec.op("receive"))
	ch.AsyncSend([]byte("one"), rec.op("send1"))
	ch.AsyncSend([]byte("two"), rec.op("send2"))
	f.settle()
	rec.none()

	f.rt.End(h)
	var got []string
	for i := 0; i < 3; i++ {
		o := rec.next()
		if !errors.Is(o.Err, cadet.ErrConnectionReset) {
			t.Errorf("%s: got %v, want %v", o.Tag, o.Err, cadet.ErrConnectionReset)
		}
		got = append(got, o.Tag)
	}
	if diff := cmp.Diff([]string{"receive", "send1", "send2"}, got); diff != "" {
		t.Errorf("Teardown order (-want, +got):\n%s", diff)
	}

	// A late notification for the flushed send is ignored.
	f.rt.CompleteSends(h)
	f.settle()
	rec.none()

	ch.AsyncSend([]byte("three"), rec.op("send3"))
	if o := rec.next(); !errors.Is(o.Err, cadet.ErrConnectionReset) {
		t.Errorf("Send after end: got %v, want %v", o.Err, cadet.ErrConnectionReset)
	}
}

func TestTeardownWhileConnecting(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFixture(t, 0)
	defer f.stop()

	ch := f.svc.NewChannel()
	defer ch.Close()
	rec := newRecorder(t)
	ch.AsyncConnect(remoteID.String(), "test-port", func(err error) { rec.op("connect")(0, err) })
	ch.AsyncReceive(make([]byte, 8), rec.op("receive"))
	ch.AsyncSend([]byte("early"), rec.op("send"))
	f.settle()
	rec.none()

	hs := f.rt.Channels()
	if len(hs) != 1 {
		t.Fatalf("Got %d runtime channels, want 1", len(hs))
	}
	f.rt.End(hs[0])

	var got []string
	for i := 0; i < 3; i++ {
		o := rec.next()
		if !errors.Is(o.Err, cadet.ErrConnectionReset) {
			t.Errorf("%s: got %v, want %v", o.Tag, o.Err, cadet.ErrConnectionReset)
		}
		got = append(got, o.Tag)
	}
	if diff := cmp.Diff([]string{"receive", "send", "connect"}, got); diff != "" {
		t.Errorf("Teardown order (-want, +got):\n%s", diff)
	}
	f.settle()
	rec.none()
}

func TestDrainAfterEnd(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFixture(t, 0)
	defer f.stop()
	ch, h := f.connect()
	defer ch.Close()

	f.rt.Deliver(h, []byte("last words"))
	f.rt.End(h)
	f.settle()

	got, err := io.ReadAll(ch)
	if err != nil {
		t.Errorf("ReadAll: unexpected error: %v", err)
	}
	if string(got) != "last words" {
		t.Errorf("ReadAll: got %q, want %q", got, "last words")
	}
}

func TestClose(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFixture(t, 0)
	defer f.stop()
	ch, h := f.connect()

	rec := newRecorder(t)
	ch.AsyncSend([]byte("one"), rec.op("send1"))
	ch.AsyncSend([]byte("two"), rec.op("send2"))
	ch.AsyncReceive(make([]byte, 8), rec.op("receive"))
	f.settle()

	ch.Close()
	ch.Close() // idempotent
	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		o := rec.next()
		if !errors.Is(o.Err, cadet.ErrAborted) || !errors.Is(o.Err, net.ErrClosed) {
			t.Errorf("%s: got %v, want %v", o.Tag, o.Err, cadet.ErrAborted)
		}
		seen[o.Tag] = true
	}
	if len(seen) != 3 {
		t.Errorf("Got completions %v, want each of three exactly once", seen)
	}
	f.settle()
	if !f.rt.Destroyed(h) {
		t.Error("Handle was not destroyed by Close")
	}

	// Completions arriving after close are ignored.
	f.rt.CompleteSends(h)
	f.settle()
	rec.none()

	ch.AsyncReceive(make([]byte, 1), rec.op("late"))
	if o := rec.next(); !errors.Is(o.Err, cadet.ErrAborted) {
		t.Errorf("Receive after close: got %v, want %v", o.Err, cadet.ErrAborted)
	}
}

func TestCloseThenDrop(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFixture(t, 0)
	defer f.stop()
	ch, h := f.connect()

	rec := newRecorder(t)
	ch.AsyncSend([]byte("x"), rec.op("send"))
	f.settle()
	ch.Close()
	ch = nil
	runtime.GC()

	// The runtime reports the send after the handle is gone.
	if n := f.rt.CompleteSends(h); n != 1 {
		t.Errorf("CompleteSends: got %d notifications, want 1", n)
	}
	f.settle()
	if o := rec.next(); o.Tag != "send" || o.N != 0 || !errors.Is(o.Err, cadet.ErrAborted) {
		t.Errorf("Send: got %+v, want an abort", o)
	}
	rec.none()
	if !f.rt.Destroyed(h) {
		t.Error("Handle was not destroyed by Close")
	}
}

// connectAndDrop connects a channel and discards it without closing it.
func (f *fixture) connectAndDrop() *testutil.Channel {
	_, h := f.connect()
	return h
}

func TestFinalizerClosesDroppedChannel(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFixture(t, 0)
	defer f.stop()
	h := f.connectAndDrop()

	deadline := time.Now().Add(5 * time.Second)
	for !f.rt.Destroyed(h) {
		if time.Now().After(deadline) {
			t.Fatal("Dropped channel was not closed by its finalizer")
		}
		runtime.GC()
		f.settle()
	}
	if got := f.svc.Metrics().Counter[metrics.ChannelsClosed]; got != 1 {
		t.Errorf("Channels closed: got %d, want 1", got)
	}
}

// zeroPayloadRuntime is a runtime that reports no usable payload bound.
type zeroPayloadRuntime struct{ *testutil.Runtime }

func (zeroPayloadRuntime) MaxPayload() int { return 0 }

func TestZeroMaxPayload(t *testing.T) {
	defer leaktest.Check(t)()
	rt := testutil.NewRuntime(testutil.PeerID("local"), 0)
	f := &fixture{
		t:   t,
		rt:  rt,
		svc: cadet.NewService(zeroPayloadRuntime{rt}, &cadet.ServiceOptions{Logger: quietLogger()}),
	}
	defer f.stop()
	ch, h := f.connect()
	defer ch.Close()

	rec := newRecorder(t)
	ch.AsyncSend([]byte("not split"), rec.op("send"))
	f.settle()
	if diff := cmp.Diff([]string{"not split"}, payloads(f.rt.Sent(h))); diff != "" {
		t.Errorf("Envelopes (-want, +got):\n%s", diff)
	}
	f.rt.CompleteSends(h)
	if got, want := rec.next(), (outcome{"send", 9, nil}); got != want {
		t.Errorf("Send: got %+v, want %+v", got, want)
	}
}

func TestConnectCancelled(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFixture(t, 0)
	defer f.stop()

	ch := f.svc.NewChannel()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- ch.Connect(ctx, remoteID.String(), "p") }()

	f.settle()
	cancel()
	if err := wait(t, errc); !errors.Is(err, context.Canceled) {
		t.Errorf("Connect: got %v, want %v", err, context.Canceled)
	}
	f.settle()
	if hs := f.rt.Channels(); len(hs) != 1 || !f.rt.Destroyed(hs[0]) {
		t.Error("Cancelled connect did not destroy its handle")
	}
}

func TestBlockingRoundTrip(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFixture(t, 0)
	defer f.stop()
	ch, h := f.connect()
	defer ch.Close()

	ctx := context.Background()
	go func() {
		// Play the runtime: complete the send, then echo it back.
		for len(f.rt.Sent(h)) == 0 {
			time.Sleep(time.Millisecond)
		}
		f.rt.CompleteSends(h)
		f.rt.Deliver(h, f.rt.Sent(h)[0].Payload)
	}()
	if n, err := ch.Send(ctx, []byte("ping")); err != nil || n != 4 {
		t.Fatalf("Send: got (%d, %v), want (4, nil)", n, err)
	}
	buf := make([]byte, 16)
	n, err := ch.Receive(ctx, buf)
	if err != nil {
		t.Fatalf("Receive: unexpected error: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte("ping")) {
		t.Errorf("Receive: got %q, want %q", buf[:n], "ping")
	}
}

func TestServiceClose(t *testing.T) {
	defer leaktest.Check(t)()
	rt := testutil.NewRuntime(testutil.PeerID("local"), 0)
	defer rt.Stop()
	m := metrics.New()
	svc := cadet.NewService(rt, &cadet.ServiceOptions{Logger: quietLogger(), Metrics: m})

	ch := svc.NewChannel()
	rec := newRecorder(t)
	ch.AsyncConnect(remoteID.String(), "p", func(err error) { rec.op("connect")(0, err) })
	if err := svc.Scheduler().Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	rt.Sync()

	if err := svc.Close(); err != nil {
		t.Fatalf("Close: unexpected error: %v", err)
	}
	if o := rec.next(); !errors.Is(o.Err, cadet.ErrAborted) {
		t.Errorf("Connect: got %v, want %v", o.Err, cadet.ErrAborted)
	}
	if hs := rt.Channels(); len(hs) != 1 || !rt.Destroyed(hs[0]) {
		t.Error("Service close did not destroy the channel handle")
	}

	// Channels created after close are dead on arrival.
	late := svc.NewChannel()
	late.AsyncReceive(make([]byte, 1), rec.op("late"))
	if o := rec.next(); !errors.Is(o.Err, cadet.ErrAborted) {
		t.Errorf("Receive on late channel: got %v, want %v", o.Err, cadet.ErrAborted)
	}
	if err := svc.Close(); err != nil {
		t.Errorf("Second close: unexpected error: %v", err)
	}

	snap := svc.Metrics()
	if got := snap.Counter[metrics.ChannelsCreated]; got != 1 {
		t.Errorf("Channels created: got %d, want 1", got)
	}
	if got := snap.Counter[metrics.ChannelsClosed]; got != 1 {
		t.Errorf("Channels closed: got %d, want 1", got)
	}
}

func TestMetrics(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFixture(t, 3)
	defer f.stop()
	ch, h := f.connect()
	defer ch.Close()

	rec := newRecorder(t)
	ch.AsyncSend([]byte("abcdefg"), rec.op("a"))
	ch.AsyncSend([]byte("h"), rec.op("b"))
	f.settle()
	f.rt.CompleteSends(h)
	rec.next()
	f.settle()
	f.rt.CompleteSends(h)
	rec.next()
	f.rt.Deliver(h, []byte("xyz"))
	f.settle()

	snap := f.svc.Metrics()
	want := map[string]int64{
		metrics.ChannelsCreated:   1,
		metrics.SendsIssued:       2,
		metrics.BytesSent:         8,
		metrics.EnvelopesSent:     4,
		metrics.BytesReceived:     3,
		metrics.EnvelopesReceived: 1,
	}
	if diff := cmp.Diff(want, snap.Counter); diff != "" {
		t.Errorf("Counters (-want, +got):\n%s", diff)
	}
	if got := snap.MaxValue[metrics.SendQueueDepth]; got != 1 {
		t.Errorf("Max send queue depth: got %d, want 1", got)
	}
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		want code.Code
	}{
		{cadet.ErrInvalidTarget, code.InvalidTarget},
		{cadet.ErrConnectionReset, code.ConnectionReset},
		{cadet.ErrAborted, code.OperationAborted},
		{cadet.ErrSetupFailed, code.SetupFailed},
		{cadet.ErrProtocol, code.ProtocolError},
		{cadet.Errorf(code.ConnectionReset, "custom"), code.ConnectionReset},
	}
	for _, test := range tests {
		if got := code.FromError(test.err); got != test.want {
			t.Errorf("FromError(%v): got %v, want %v", test.err, got, test.want)
		}
		if !errors.Is(test.err, test.want.Err()) {
			t.Errorf("errors.Is(%v, %v): got false, want true", test.err, test.want)
		}
	}
	if errors.Is(cadet.ErrAborted, cadet.ErrConnectionReset) {
		t.Error("ErrAborted should not match ErrConnectionReset")
	}
}
