package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-icq/pkg/event"
	"github.com/ZentaChain/zentalk-icq/pkg/notify"
	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
	"github.com/ZentaChain/zentalk-icq/pkg/roster"
	"github.com/ZentaChain/zentalk-icq/pkg/session"
)

var (
	ErrNotConnected      = errors.New("not connected")
	ErrConnClosed        = errors.New("connection closed")
	ErrUnknownSnac       = errors.New("unknown snac")
	ErrHandlerPanic      = errors.New("handler panicked")
	ErrNoAccount         = errors.New("no account id configured")
	ErrNoVerification    = errors.New("no verification image pending")
	ErrUnsupportedFormat = errors.New("unsupported message format")
	ErrMissingTLV        = errors.New("required tlv missing")
	ErrBadSMS            = errors.New("malformed sms block")
	ErrServerPause       = errors.New("server paused the session")
	ErrClientClosed      = errors.New("client closed")
)

// Observer receives packet activity, e.g. for metrics
type Observer interface {
	PacketIn(family, subtype uint16)
	PacketOut(name string)
	DecodeError()
	Unhandled(family, subtype uint16)
}

type nopObserver struct{}

func (nopObserver) PacketIn(uint16, uint16)  {}
func (nopObserver) PacketOut(string)         {}
func (nopObserver) DecodeError()             {}
func (nopObserver) Unhandled(uint16, uint16) {}

// DialFunc opens a transport to addr
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Options configure a Client
type Options struct {
	AccountID string
	Password  string
	Server    string // login host:port

	Generation  protocol.Generation
	SaltedLogon bool
	Status      uint32

	Keepalive         time.Duration
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
	AutoReconnect     bool
	MaxUsersPerPacket int
	MaxQueue          int
	Seed              uint64

	Store         roster.Store
	Publisher     notify.Publisher
	Observer      Observer
	EventObserver event.Observer
	Dial          DialFunc
	Log           *zap.SugaredLogger
}

func (o *Options) defaults() {
	if o.Generation == 0 {
		o.Generation = protocol.GenerationTCPv7
	}
	if o.Keepalive <= 0 {
		o.Keepalive = 30 * time.Second
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = time.Second
	}
	if o.ReconnectMax < o.ReconnectMin {
		o.ReconnectMax = 30 * time.Second
	}
	if o.MaxUsersPerPacket <= 0 {
		o.MaxUsersPerPacket = 100
	}
	if o.Store == nil {
		o.Store = roster.NewMemoryStore()
	}
	if o.Publisher == nil {
		o.Publisher = notify.Discard
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Dial == nil {
		var d net.Dialer
		o.Dial = d.DialContext
	}
	if o.Log == nil {
		o.Log = zap.NewNop().Sugar()
	}
}

// Self is what the server reported about the owner
type Self struct {
	Status      uint32
	IP          string
	OnlineSince time.Time
}

// Client drives one ICQ account over FLAP connections: the login server,
// the service redirect and everything after Online
type Client struct {
	opts     Options
	log      *zap.SugaredLogger
	observer Observer
	pub      notify.Publisher

	session *session.Session
	engine  *event.Engine
	roster  *roster.Manager
	disp    *Dispatcher

	mu       sync.Mutex
	conn     *Conn // connection the session speaks on
	pending  *Conn // service connection awaiting its hello
	account  string
	password string
	status   uint32
	self     Self
	backoff  time.Duration

	nextID       atomic.Uint64
	reconnecting atomic.Bool
	keepalive    sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a disconnected client
func NewClient(opts Options) *Client {
	opts.defaults()
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		opts:     opts,
		log:      opts.Log,
		observer: opts.Observer,
		pub:      opts.Publisher,
		account:  opts.AccountID,
		password: opts.Password,
		status:   opts.Status,
		ctx:      ctx,
		cancel:   cancel,
	}
	seq := protocol.NewSequencer(opts.Seed)
	c.session = session.New(session.Options{
		Generation: opts.Generation,
		Seq:        seq,
		MaxQueue:   opts.MaxQueue,
		Log:        opts.Log,
		OnChange: func(from, to session.State) {
			c.log.Debugf("Session %s -> %s", from, to)
		},
	})
	c.engine = event.NewEngine(seq, opts.Log, opts.EventObserver)
	c.roster = roster.NewManager(opts.Store, c, c.engine, opts.Publisher, opts.Log)
	c.roster.SetBatchSize(opts.MaxUsersPerPacket)

	c.disp = NewDispatcher(opts.Log, opts.Observer)
	c.disp.Register(protocol.FamilyService, c.serviceHandlers())
	c.disp.Register(protocol.FamilyLocation, c.locationHandlers())
	c.disp.Register(protocol.FamilyBuddy, c.buddyHandlers())
	c.disp.Register(protocol.FamilyMessage, c.messageHandlers())
	c.disp.Register(protocol.FamilyBOS, c.bosHandlers())
	c.disp.Register(protocol.FamilyList, c.listHandlers())
	c.disp.Register(protocol.FamilyVarious, c.variousHandlers())
	c.disp.Register(protocol.FamilyAuth, c.authHandlers())
	return c
}

func (c *Client) Session() *session.Session { return c.session }
func (c *Client) Engine() *event.Engine      { return c.engine }
func (c *Client) Roster() *roster.Manager    { return c.roster }
func (c *Client) Dispatcher() *Dispatcher    { return c.disp }

func (c *Client) State() session.State { return c.session.State() }

// AccountID returns the owner account, which registration may assign
func (c *Client) AccountID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

// Self returns the owner info from the last self-info reply
func (c *Client) Self() Self {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Status returns the status the owner asked for
func (c *Client) Status() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) encodeContext(service int, key uint16) protocol.EncodeContext {
	c.mu.Lock()
	id := c.account
	c.mu.Unlock()
	uin, _ := strconv.ParseUint(id, 10, 32)
	return protocol.EncodeContext{
		Generation:  c.session.Generation(),
		Seq:         c.session.Sequencer(),
		Service:     service,
		SubSequence: key,
		OwnerUIN:    uint32(uin),
		OwnerID:     id,
	}
}

func (c *Client) current() *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// ===== CONNECTION LIFECYCLE =====

// Logon connects to the login server. It returns once the transport is
// open; the session reaches Online asynchronously.
func (c *Client) Logon(ctx context.Context) error {
	if c.AccountID() == "" {
		return ErrNoAccount
	}
	return c.connect(ctx, false)
}

// Register connects to the login server to create a new account with
// password. The assigned account id arrives as a NewOwner signal, after
// which the client logs on with it.
func (c *Client) Register(ctx context.Context, password string) error {
	c.mu.Lock()
	c.password = password
	c.mu.Unlock()
	return c.connect(ctx, true)
}

func (c *Client) connect(ctx context.Context, register bool) error {
	if c.ctx.Err() != nil {
		return ErrClientClosed
	}
	if c.opts.Generation.IsLegacy() {
		return fmt.Errorf("%w: %s has no stream transport", protocol.ErrUnsupportedGeneration, c.opts.Generation)
	}

	id := c.nextID.Add(1)
	if err := c.session.BeginConnect(id, register); err != nil {
		return err
	}

	nc, err := c.opts.Dial(ctx, "tcp", c.opts.Server)
	if err != nil {
		c.abort(err)
		return fmt.Errorf("dial %s: %w", c.opts.Server, err)
	}

	conn := newConn(id, loginService, nc, c)
	c.session.Sequencer().InitService(loginService)
	c.mu.Lock()
	c.conn = conn
	status := c.status
	c.mu.Unlock()

	if err := c.session.Transition(session.AwaitingNewChannelAck); err != nil {
		conn.Close()
		c.abort(err)
		return err
	}
	if !register {
		if _, err := c.session.Submit(protocol.NewSetStatus(status, 0, 0, false)); err != nil {
			c.log.Warnw("Failed to queue logon status", "error", err)
		}
	}

	c.log.Infof("🔌 Connected to login server %s", c.opts.Server)
	c.startReader(conn)
	c.keepalive.Do(c.startKeepalive)
	return nil
}

// abort unwinds a connect attempt that never got a transport
func (c *Client) abort(cause error) {
	if _, first := c.session.BeginLogoff(cause); first {
		c.session.FinishLogoff()
	}
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
}

func (c *Client) startReader(conn *Conn) {
	c.wg.Add(1)
	go c.readLoop(conn)
}

// onNewChannel reacts to the server hello on a fresh connection
func (c *Client) onNewChannel(conn *Conn) {
	state := c.session.State()

	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()

	switch {
	case state == session.Redirected && conn == pending:
		c.sendCookie(conn)
	case state == session.AwaitingNewChannelAck && c.session.Registering():
		c.startRegistration(conn)
	case state == session.AwaitingNewChannelAck:
		c.startLogin(conn)
	default:
		c.log.Debugw("Ignoring channel hello", "conn", conn.id, "state", state.String())
	}
}

func (c *Client) startLogin(conn *Conn) {
	if err := c.session.Transition(session.LoginFlow); err != nil {
		c.log.Warnw("Login flow refused", "error", err)
		return
	}
	c.mu.Lock()
	account, password := c.account, c.password
	c.mu.Unlock()

	if c.opts.SaltedLogon {
		c.sendOn(conn, protocol.NewConnectStart())
		c.sendOn(conn, protocol.NewRequestLogonSalt(account))
		c.transition(session.AwaitingSalt)
		return
	}
	c.sendOn(conn, protocol.NewLogonRequest(account, password))
	c.transition(session.AwaitingLogonReply)
}

func (c *Client) startRegistration(conn *Conn) {
	c.transition(session.AwaitingRegistrationStart)
	c.sendOn(conn, protocol.NewRegisterFirst())

	if c.session.NeedsVerification() {
		c.log.Info("🖼️  Requesting registration verification image")
		c.sendOn(conn, protocol.NewVerifyRegistration())
		c.transition(session.AwaitingVerificationImage)
		return
	}
	c.mu.Lock()
	password := c.password
	c.mu.Unlock()
	c.sendOn(conn, protocol.NewRegister(password))
	c.transition(session.AwaitingNewUinReply)
}

// SubmitVerification answers the verification image on the open
// registration connection
func (c *Client) SubmitVerification(code string) error {
	if c.session.State() != session.AwaitingVerificationImage {
		return ErrNoVerification
	}
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	c.mu.Lock()
	password := c.password
	c.mu.Unlock()
	if err := c.engine.SendFireAndForget(conn, protocol.NewSendVerification(password, code)); err != nil {
		return err
	}
	return c.session.Transition(session.AwaitingNewUinReply)
}

// logonResult handles the logon reply, whether it came as an auth SNAC or a
// close-channel frame
func (c *Client) logonResult(conn *Conn, tlvs *protocol.TLVBlock) {
	r, err := session.ParseClose(tlvs)
	if err != nil {
		c.log.Warnf("❌ Logon refused: %v", err)
		c.teardown(err, teardownLost)
		return
	}
	if err := c.session.BeginRedirect(r); err != nil {
		c.log.Warnw("Redirect out of order", "error", err)
		return
	}
	conn.retire()
	c.log.Infof("↪️  Redirected to %s", r.Address())

	c.wg.Add(1)
	go c.redirect(r)
}

// redirect opens the service connection. The login connection stays open
// until the cookie has been sent on the new one.
func (c *Client) redirect(r *session.Redirect) {
	defer c.wg.Done()

	nc, err := c.opts.Dial(c.ctx, "tcp", r.Address())
	if err != nil {
		c.log.Warnf("❌ Service connection to %s failed: %v", r.Address(), err)
		c.teardown(fmt.Errorf("dial service %s: %w", r.Address(), err), teardownLost)
		return
	}
	conn := newConn(c.nextID.Add(1), serviceService, nc, c)
	c.mu.Lock()
	c.pending = conn
	c.mu.Unlock()
	c.startReader(conn)
}

func (c *Client) sendCookie(conn *Conn) {
	r := c.session.Redirect()
	if r == nil {
		return
	}
	if err := c.engine.SendFireAndForget(conn, protocol.NewSendCookie(r.Cookie, serviceService)); err != nil {
		c.teardown(fmt.Errorf("send cookie: %w", err), teardownLost)
		return
	}

	old, err := c.session.ServiceEstablished(conn.id)
	if err != nil {
		c.log.Warnw("Service connection refused", "error", err)
		return
	}
	c.mu.Lock()
	prev := c.conn
	c.conn = conn
	c.pending = nil
	c.mu.Unlock()

	if n := c.engine.CancelAll(old); n > 0 {
		c.log.Debugf("Cancelled %d login events", n)
	}
	if prev != nil && prev.id == old {
		prev.Close()
	}
	c.log.Info("🔐 Service connection established")
}

// goOnline runs when all rights are confirmed: queued actions go out in
// order, then the ready announcement and the offline message request
func (c *Client) goOnline(conn *Conn, flush []protocol.Request) {
	for _, req := range flush {
		if err := c.sendAction(conn, req); err != nil {
			c.log.Warnw("Failed to flush queued action", "name", protocol.RequestName(req), "error", err)
		}
	}
	c.sendOn(conn, protocol.NewClientReady())
	c.sendOn(conn, protocol.NewRequestSysMsg())

	c.mu.Lock()
	c.backoff = c.opts.ReconnectMin
	c.mu.Unlock()
	c.pub.Publish(notify.New(notify.Logon, c.AccountID(), notify.Session{State: session.Online.String()}))
	c.log.Infof("🟢 %s is online", c.AccountID())
}

// rightsGranted records the rights reply of family and goes online when it
// was the last one
func (c *Client) rightsGranted(conn *Conn, family uint16) {
	flush, online := c.session.GrantRights(family)
	if online {
		c.goOnline(conn, flush)
	}
}

type teardownMode int

const (
	teardownLost     teardownMode = iota // unexpected; may reconnect
	teardownExplicit                     // user logoff; never reconnects
	teardownRestart                      // registration step; caller reconnects
)

// teardown ends the current session once. Roster operations in flight are
// abandoned for replay, every event of the connection is cancelled, and only
// then is the transport closed.
func (c *Client) teardown(cause error, mode teardownMode) {
	connID, first := c.session.BeginLogoff(cause)
	if !first {
		return
	}

	c.mu.Lock()
	conn, pending := c.conn, c.pending
	c.conn, c.pending = nil, nil
	c.mu.Unlock()

	c.roster.Abandon(c.engine.PendingRoster(connID))
	cancelled := c.engine.CancelAll(connID)
	if conn != nil {
		conn.Close()
	}
	if pending != nil {
		c.engine.CancelAll(pending.id)
		pending.Close()
	}

	for _, id := range c.roster.MarkAllOffline() {
		c.pub.Publish(notify.New(notify.PresenceChanged, id, notify.Presence{Status: protocol.StatusOffline}))
	}
	c.session.FinishLogoff()

	if mode == teardownRestart {
		c.log.Debugw("Connection recycled", "conn", connID, "cancelled", cancelled)
		return
	}

	retry := mode == teardownLost && c.opts.AutoReconnect && reconnectAllowed(cause)
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	c.pub.Publish(notify.New(notify.Logoff, c.AccountID(), notify.Session{
		State:  session.Disconnected.String(),
		Reason: reason,
		Retry:  retry,
	}))
	if cause != nil {
		c.log.Warnf("🔴 Disconnected: %v (%d events cancelled)", cause, cancelled)
	} else {
		c.log.Infof("🔴 Logged off (%d events cancelled)", cancelled)
	}

	if retry {
		c.scheduleReconnect(cause)
	}
}

func reconnectAllowed(cause error) bool {
	if ce, ok := session.AsCloseError(cause); ok {
		return ce.Disposition.Reconnect()
	}
	return !errors.Is(cause, ErrClientClosed)
}

// restart recycles the connection for the next registration or logon step
func (c *Client) restart(register bool) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.teardown(nil, teardownRestart)
		if err := c.connect(c.ctx, register); err != nil {
			c.log.Warnf("❌ Reconnect failed: %v", err)
			c.teardown(err, teardownLost)
		}
	}()
}

// Logoff sends the close frame and tears the session down
func (c *Client) Logoff() {
	if conn := c.current(); conn != nil {
		if err := c.engine.SendFireAndForget(conn, protocol.NewLogoff()); err != nil {
			c.log.Debugw("Logoff frame not sent", "error", err)
		}
	}
	c.teardown(nil, teardownExplicit)
}

// Close logs off and stops every background goroutine
func (c *Client) Close() error {
	c.Logoff()
	c.cancel()
	c.wg.Wait()
	c.engine.Stop()
	return nil
}

// ===== SENDING =====

func (c *Client) transition(to session.State) {
	if err := c.session.Transition(to); err != nil {
		c.log.Warnw("Session transition refused", "to", to.String(), "error", err)
	}
}

// sendOn transmits an untracked request, logging failures
func (c *Client) sendOn(conn *Conn, req protocol.Request) {
	if err := c.engine.SendFireAndForget(conn, req); err != nil {
		c.log.Warnw("Send failed", "name", protocol.RequestName(req), "error", err)
	}
}

// sendAction transmits a user action; messages are tracked for their ack
func (c *Client) sendAction(conn *Conn, req protocol.Request) error {
	if ts, ok := req.(protocol.ThroughServer); ok {
		_, err := c.engine.SendExpect(conn, req, event.Options{Contact: ts.AccountID})
		return err
	}
	return c.engine.SendFireAndForget(conn, req)
}

// submit queues req until Online or sends it now
func (c *Client) submit(req protocol.Request) error {
	queued, err := c.session.Submit(req)
	if err != nil || queued {
		return err
	}
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	return c.sendAction(conn, req)
}

// tracked sends req as an expecting event once Online
func (c *Client) tracked(req protocol.Request, extended bool, opts event.Options) (*event.Event, error) {
	if st := c.session.State(); st != session.Online {
		return nil, fmt.Errorf("%w: %s in state %s", session.ErrNotConnected, protocol.RequestName(req), st)
	}
	conn := c.current()
	if conn == nil {
		return nil, ErrNotConnected
	}
	if extended {
		return c.engine.SendExtended(conn, req, opts)
	}
	return c.engine.SendExpect(conn, req, opts)
}

// Send implements roster.Sender
func (c *Client) Send(req protocol.Request) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	return c.engine.SendFireAndForget(conn, req)
}

// SendRoster implements roster.Sender
func (c *Client) SendRoster(req protocol.Request, op event.RosterOp) (*event.RosterOp, error) {
	conn := c.current()
	if conn == nil {
		return nil, ErrNotConnected
	}
	return c.engine.SendRoster(conn, req, op)
}

// ===== USER ACTIONS =====

// SetStatus changes the owner status. Before Online the change is queued.
func (c *Client) SetStatus(status uint32) error {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	return c.submit(protocol.NewSetStatus(status, 0, 0, false))
}

// SendMessage sends a text message. Once Online the returned event resolves
// on the server ack; a message queued before Online returns a nil event.
func (c *Client) SendMessage(to, text string) (*event.Event, error) {
	return c.sendThroughServer(to, protocol.SubMsg, text)
}

// SendURL sends a URL with a description
func (c *Client) SendURL(to, description, url string) (*event.Event, error) {
	return c.sendThroughServer(to, protocol.SubURL, description+fieldSeparator+url)
}

func (c *Client) sendThroughServer(to string, msgType uint16, text string) (*event.Event, error) {
	req := protocol.NewThroughServer(to, msgType, text, charsetFor(text), false)
	queued, err := c.session.Submit(req)
	if err != nil || queued {
		return nil, err
	}
	conn := c.current()
	if conn == nil {
		return nil, ErrNotConnected
	}
	return c.engine.SendExpect(conn, req, event.Options{Contact: to})
}

func charsetFor(text string) uint16 {
	for _, r := range text {
		if r > unicode.MaxASCII {
			return protocol.CharsetUCS2BE
		}
	}
	return protocol.CharsetASCII
}

// SendTyping sends a typing notification
func (c *Client) SendTyping(to string, active bool) error {
	return c.submit(protocol.NewTypingNotification(to, active))
}

// RequestAuth asks contact for authorization
func (c *Client) RequestAuth(to, message string) error {
	return c.submit(protocol.NewRequestAuth(to, message))
}

// Authorize grants a contact's authorization request
func (c *Client) Authorize(to string) error {
	return c.submit(protocol.NewAuthorize(to))
}

// SendSMS sends an SMS through the server gateway
func (c *Client) SendSMS(number, text string) (*event.Event, error) {
	return c.tracked(protocol.NewSendSMS(number, text, c.AccountID(), time.Now()), false, event.Options{Contact: number})
}

// SetPassword changes the owner password
func (c *Client) SetPassword(password string) (*event.Event, error) {
	ev, err := c.tracked(protocol.NewSetPassword(password), false, event.Options{})
	if err == nil {
		c.mu.Lock()
		c.password = password
		c.mu.Unlock()
	}
	return ev, err
}

// Search looks up uin in the white pages. Results arrive as SearchResult
// signals; the event completes with the last one.
func (c *Client) Search(uin uint32) (*event.Event, error) {
	return c.tracked(protocol.NewSearchByUIN(uin), true, event.Options{Contact: strconv.FormatUint(uint64(uin), 10)})
}

// RequestInfo fetches the full profile of uin. The event accumulates every
// reply part until the terminal one.
func (c *Client) RequestInfo(uin uint32) (*event.Event, error) {
	owner := strconv.FormatUint(uint64(uin), 10) == c.AccountID()
	return c.tracked(protocol.NewRequestAllInfo(uin, owner), true, event.Options{Contact: strconv.FormatUint(uint64(uin), 10)})
}

// RequestAwayMessage fetches a contact's away message
func (c *Client) RequestAwayMessage(to string) (*event.Event, error) {
	return c.tracked(protocol.NewRequestAwayMessage(to), false, event.Options{Contact: to})
}

// RequestService asks for a service redirect for family; the event's sub
// result is the *session.Redirect
func (c *Client) RequestService(family uint16) (*event.Event, error) {
	return c.tracked(protocol.NewRequestService(family), false, event.Options{
		ReplyFamily:  protocol.FamilyService,
		ReplySubtype: protocol.ServiceRedirect,
	})
}
