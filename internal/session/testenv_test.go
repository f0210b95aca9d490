package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

const testWait = 2 * time.Second

// fakeSignaling is a scriptable in-memory server side. Every call is
// recorded; failures are injected per method, either forever or for
// the first n calls.
type fakeSignaling struct {
	mu sync.Mutex

	serveMode domain.ServeMode
	caps      protocol.RTPCapabilities
	selfID    domain.PeerID
	joinReply protocol.JoinRoomReply

	calls     []string
	failWith  map[string]error
	failTimes map[string]int

	produceSeq int
	resumed    []domain.ConsumerID
	closedProd []domain.ProducerID
	kicked     []domain.PeerID
	mutedCalls []protocol.MutePeerRequest
	transports map[domain.TransportDirection]protocol.TransportInfo
	connectedT []domain.TransportID
	closes     int

	notify func(protocol.Notification)
	connEv func(core.ConnEvent)
}

func newFakeSignaling() *fakeSignaling {
	return &fakeSignaling{
		serveMode: domain.ServeModeOpen,
		selfID:    "p1",
		caps: protocol.RTPCapabilities{Codecs: []protocol.RTPCodecCapability{
			{Kind: domain.MediaAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
			{Kind: domain.MediaVideo, MimeType: "video/VP8", ClockRate: 90000},
		}},
		failWith:  make(map[string]error),
		failTimes: make(map[string]int),
		transports: map[domain.TransportDirection]protocol.TransportInfo{
			domain.DirectionSend: {ID: "t-send"},
			domain.DirectionRecv: {ID: "t-recv"},
		},
	}
}

func (f *fakeSignaling) record(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if n, ok := f.failTimes[method]; ok && n > 0 {
		f.failTimes[method] = n - 1
		return fmt.Errorf("%s transient failure", method)
	}
	if err, ok := f.failWith[method]; ok {
		return err
	}
	return nil
}

func (f *fakeSignaling) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *fakeSignaling) failAlways(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith[method] = err
}

func (f *fakeSignaling) failNext(method string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failTimes[method] = times
}

func (f *fakeSignaling) clearFail(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failWith, method)
	delete(f.failTimes, method)
}

func (f *fakeSignaling) callsSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// push hands a notification to the coordinator the way the adapter
// would, on the caller's goroutine.
func (f *fakeSignaling) push(n protocol.Notification) {
	f.mu.Lock()
	cb := f.notify
	f.mu.Unlock()
	if cb != nil {
		cb(n)
	}
}

func (f *fakeSignaling) emit(ev core.ConnEvent) {
	f.mu.Lock()
	cb := f.connEv
	f.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (f *fakeSignaling) Connect(ctx context.Context, serverURL, token string) error {
	return f.record("connect")
}

func (f *fakeSignaling) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaling) ServeMode(ctx context.Context) (domain.ServeMode, error) {
	if err := f.record(protocol.MethodGetServeMode); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.serveMode, nil
}

func (f *fakeSignaling) RouterCapabilities(ctx context.Context) (protocol.RTPCapabilities, error) {
	if err := f.record(protocol.MethodGetRouterCapabilities); err != nil {
		return protocol.RTPCapabilities{}, err
	}
	return f.caps, nil
}

func (f *fakeSignaling) Announce(ctx context.Context, displayName string) (domain.PeerID, error) {
	if err := f.record(protocol.MethodJoin); err != nil {
		return "", err
	}
	return f.selfID, nil
}

func (f *fakeSignaling) JoinRoom(ctx context.Context, roomID domain.RoomID, role domain.Role) (protocol.JoinRoomReply, error) {
	if err := f.record(protocol.MethodJoinRoom); err != nil {
		return protocol.JoinRoomReply{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joinReply, nil
}

func (f *fakeSignaling) LeaveRoom(ctx context.Context) error {
	return f.record(protocol.MethodLeaveRoom)
}

func (f *fakeSignaling) Ready(ctx context.Context) error {
	return f.record(protocol.MethodReady)
}

func (f *fakeSignaling) CreateTransport(ctx context.Context, dir domain.TransportDirection) (protocol.TransportInfo, error) {
	method := protocol.MethodCreateSendTransport
	if dir == domain.DirectionRecv {
		method = protocol.MethodCreateRecvTransport
	}
	if err := f.record(method); err != nil {
		return protocol.TransportInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[dir], nil
}

func (f *fakeSignaling) ConnectTransport(ctx context.Context, id domain.TransportID, dtls protocol.DTLSParameters) error {
	if err := f.record(protocol.MethodConnectTransport); err != nil {
		return err
	}
	f.mu.Lock()
	f.connectedT = append(f.connectedT, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaling) Produce(ctx context.Context, req protocol.ProduceRequest) (domain.ProducerID, error) {
	if err := f.record(protocol.MethodProduce); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.produceSeq++
	return domain.ProducerID(fmt.Sprintf("prod-%d", f.produceSeq)), nil
}

func (f *fakeSignaling) CloseProducer(ctx context.Context, id domain.ProducerID) error {
	if err := f.record(protocol.MethodCloseProducer); err != nil {
		return err
	}
	f.mu.Lock()
	f.closedProd = append(f.closedProd, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaling) ResumeConsumer(ctx context.Context, id domain.ConsumerID) error {
	if err := f.record(protocol.MethodResumeConsumer); err != nil {
		return err
	}
	f.mu.Lock()
	f.resumed = append(f.resumed, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaling) KickPeer(ctx context.Context, id domain.PeerID) error {
	if err := f.record(protocol.MethodKickPeer); err != nil {
		return err
	}
	f.mu.Lock()
	f.kicked = append(f.kicked, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaling) MutePeer(ctx context.Context, id domain.PeerID, muted bool) error {
	if err := f.record(protocol.MethodMutePeer); err != nil {
		return err
	}
	f.mu.Lock()
	f.mutedCalls = append(f.mutedCalls, protocol.MutePeerRequest{PeerID: id, Muted: muted})
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaling) OnNotification(cb func(protocol.Notification)) {
	f.mu.Lock()
	f.notify = cb
	f.mu.Unlock()
}

func (f *fakeSignaling) OnConnEvent(cb func(core.ConnEvent)) {
	f.mu.Lock()
	f.connEv = cb
	f.mu.Unlock()
}

func (f *fakeSignaling) resumedIDs() []domain.ConsumerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ConsumerID, len(f.resumed))
	copy(out, f.resumed)
	return out
}

// fakeEngine mimics the media side: transport creation, capture,
// consumers. DTLS progress is driven by the test via fire* helpers.
type fakeEngine struct {
	mu sync.Mutex

	loaded     bool
	sendInfo   *protocol.TransportInfo
	recvInfo   *protocol.TransportInfo
	createErr  map[domain.TransportDirection]error
	captureErr map[domain.MediaSource]error

	cameraOn     bool
	micOn        bool
	cameraDevice string
	micDevice    string
	ssrcSeq      uint32

	consumers   map[domain.ConsumerID]protocol.ConsumerInfo
	removals    []domain.ConsumerID
	closedPairs int
	closed      bool

	onSendConnect   func(protocol.DTLSParameters)
	onRecvConnect   func(protocol.DTLSParameters)
	onRecvConnected func()
	onState         func(domain.TransportDirection, domain.TransportState)
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		createErr:  make(map[domain.TransportDirection]error),
		captureErr: make(map[domain.MediaSource]error),
		consumers:  make(map[domain.ConsumerID]protocol.ConsumerInfo),
	}
}

func (e *fakeEngine) Load(caps protocol.RTPCapabilities) error {
	e.mu.Lock()
	e.loaded = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) CreateSendTransport(info protocol.TransportInfo) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.createErr[domain.DirectionSend]; err != nil {
		return err
	}
	e.sendInfo = &info
	return nil
}

func (e *fakeEngine) CreateRecvTransport(info protocol.TransportInfo) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.createErr[domain.DirectionRecv]; err != nil {
		return err
	}
	e.recvInfo = &info
	return nil
}

func (e *fakeEngine) OnSendTransportConnect(cb func(protocol.DTLSParameters)) {
	e.mu.Lock()
	e.onSendConnect = cb
	e.mu.Unlock()
}

func (e *fakeEngine) OnRecvTransportConnect(cb func(protocol.DTLSParameters)) {
	e.mu.Lock()
	e.onRecvConnect = cb
	e.mu.Unlock()
}

func (e *fakeEngine) OnRecvTransportConnected(cb func()) {
	e.mu.Lock()
	e.onRecvConnected = cb
	e.mu.Unlock()
}

func (e *fakeEngine) OnTransportStateChanged(cb func(domain.TransportDirection, domain.TransportState)) {
	e.mu.Lock()
	e.onState = cb
	e.mu.Unlock()
}

func (e *fakeEngine) CloseTransports() {
	e.mu.Lock()
	e.sendInfo, e.recvInfo = nil, nil
	e.closedPairs++
	e.mu.Unlock()
}

func (e *fakeEngine) StartCamera(ctx context.Context, deviceID string) (core.LocalTrack, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.captureErr[domain.SourceCamera]; err != nil {
		return core.LocalTrack{}, err
	}
	e.cameraOn = true
	e.cameraDevice = deviceID
	e.ssrcSeq++
	return core.LocalTrack{SSRC: e.ssrcSeq, Codec: protocol.RTPCodecParameters{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000}}, nil
}

func (e *fakeEngine) StopCamera() error {
	e.mu.Lock()
	e.cameraOn = false
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) StartMicrophone(ctx context.Context, deviceID string) (core.LocalTrack, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.captureErr[domain.SourceMic]; err != nil {
		return core.LocalTrack{}, err
	}
	e.micOn = true
	e.micDevice = deviceID
	e.ssrcSeq++
	return core.LocalTrack{SSRC: e.ssrcSeq, Codec: protocol.RTPCodecParameters{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}}, nil
}

func (e *fakeEngine) StopMicrophone() error {
	e.mu.Lock()
	e.micOn = false
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) AddConsumer(ctx context.Context, info protocol.ConsumerInfo) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consumers[info.ID] = info
	return nil
}

func (e *fakeEngine) RemoveConsumer(ctx context.Context, id domain.ConsumerID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.consumers, id)
	e.removals = append(e.removals, id)
	return nil
}

func (e *fakeEngine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// fireRecvConnected simulates the receive DTLS handshake completing,
// on the caller's goroutine like a real engine would.
func (e *fakeEngine) fireRecvConnected() {
	e.mu.Lock()
	cb := e.onRecvConnected
	e.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (e *fakeEngine) fireSendDTLSReady() {
	e.mu.Lock()
	cb := e.onSendConnect
	e.mu.Unlock()
	if cb != nil {
		cb(protocol.DTLSParameters{Fingerprints: []protocol.DTLSFingerprint{{Algorithm: "sha-256", Value: "aa:bb"}}})
	}
}

func (e *fakeEngine) fireRecvDTLSReady() {
	e.mu.Lock()
	cb := e.onRecvConnect
	e.mu.Unlock()
	if cb != nil {
		cb(protocol.DTLSParameters{Fingerprints: []protocol.DTLSFingerprint{{Algorithm: "sha-256", Value: "cc:dd"}}})
	}
}

func (e *fakeEngine) micRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.micOn
}

func (e *fakeEngine) cameraRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cameraOn
}

func (e *fakeEngine) consumerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.consumers)
}

type testEnv struct {
	sig   *fakeSignaling
	eng   *fakeEngine
	coord *Coordinator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	sig := newFakeSignaling()
	eng := newFakeEngine()
	coord := New(sig, eng, StaticToken("tok-1"), Options{
		DisplayName:  "alice",
		MicDevice:    "mic0",
		CameraDevice: "cam0",
	})
	// Fast retries and countdowns; the defaults are for humans.
	coord.producers.retryStep = time.Millisecond
	coord.producers.closeGrace = time.Millisecond
	coord.reconnect.interval = 5 * time.Millisecond
	t.Cleanup(coord.Close)
	return &testEnv{sig: sig, eng: eng, coord: coord}
}

func (e *testEnv) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, e.coord.Connect(context.Background(), "wss://meet.test/ws"))
}

func (e *testEnv) join(t *testing.T) {
	t.Helper()
	require.NoError(t, e.coord.JoinRoom(context.Background(), "room-1", domain.RoleAttendee))
}

func consumerOffer(id domain.ConsumerID, peer domain.PeerID) protocol.NewConsumer {
	return protocol.NewConsumer{ConsumerInfo: protocol.ConsumerInfo{
		ID:           id,
		ProducerPeer: peer,
		Kind:         domain.MediaAudio,
		RTPParameters: protocol.RTPParameters{
			Codecs:    []protocol.RTPCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
			Encodings: []protocol.RTPEncoding{{SSRC: 555}},
		},
	}}
}
