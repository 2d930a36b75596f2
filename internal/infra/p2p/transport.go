package p2p

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/torrentnode/torrentnode/internal/domain"
	"github.com/torrentnode/torrentnode/internal/infra/metrics"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config controls the libp2p session.
type Config struct {
	Port         int      // TCP port used when ListenAddrs is empty
	ListenAddrs  []string // explicit multiaddrs to listen on
	Bootstrap    []string // /ip4/.../tcp/.../p2p/<id> multiaddrs
	EnableDHT    bool
	MaxPeers     int
	NATPortMap   bool
	HolePunching bool

	DataDir   string // downloads land in DataDir/downloads/<cid>
	ChunkSize int

	StatsInterval time.Duration
	FetchTimeout  time.Duration
	AnnounceWait  time.Duration // bound on waiting for the topic mesh before publishing
	EventBuffer   int
}

// DefaultConfig returns sensible transport defaults.
func DefaultConfig() Config {
	return Config{
		Port:          8888,
		EnableDHT:     true,
		MaxPeers:      50,
		NATPortMap:    true,
		HolePunching:  true,
		ChunkSize:     DefaultChunkSize,
		StatsInterval: 60 * time.Second,
		FetchTimeout:  2 * time.Minute,
		AnnounceWait:  5 * time.Second,
		EventBuffer:   256,
	}
}

func (c *Config) listenAddrs() []string {
	if len(c.ListenAddrs) > 0 {
		return c.ListenAddrs
	}
	return []string{fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", c.Port)}
}

// ─── Transport ──────────────────────────────────────────────────────────────

var _ domain.Transport = (*Transport)(nil)

// seed is content this node can serve.
type seed struct {
	manifest *ContentManifest
	chunks   [][]byte
	dir      string
}

// Transport owns the libp2p host, the DHT and the announcement topic. It
// reports everything that happens through Events and never calls back into
// the orchestrator.
type Transport struct {
	cfg  Config
	priv ed25519.PrivateKey
	log  *zap.Logger

	host    host.Host
	dht     *dht.IpfsDHT
	topic   *pubsub.Topic
	sub     *pubsub.Subscription
	joins   *pubsub.TopicEventHandler
	breaker *gobreaker.CircuitBreaker

	events chan domain.Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	seeds       map[string]*seed
	downloading map[string]bool
	available   *PeerChunkMap

	bytesUp   atomic.Int64
	bytesDown atomic.Int64
	started   atomic.Bool
	closeOnce sync.Once
}

// New creates an unstarted transport whose libp2p identity is the given
// Ed25519 key.
func New(cfg Config, priv ed25519.PrivateKey, log *zap.Logger) *Transport {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = def.StatsInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.AnnounceWait <= 0 {
		cfg.AnnounceWait = def.AnnounceWait
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}

	t := &Transport{
		cfg:         cfg,
		priv:        priv,
		log:         log.Named("p2p"),
		events:      make(chan domain.Event, cfg.EventBuffer),
		seeds:       make(map[string]*seed),
		downloading: make(map[string]bool),
		available:   NewPeerChunkMap(),
	}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "result-delivery",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.ResultBreakerState.Set(float64(to))
			t.log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return t
}

// Start creates the host, joins the DHT and the announcement topic, and
// dials bootstrap peers. Any failure here is fatal to node startup.
func (t *Transport) Start(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: transport already started", domain.ErrInvalidState)
	}

	priv, err := crypto.UnmarshalEd25519PrivateKey(t.priv)
	if err != nil {
		return fmt.Errorf("%w: load host key: %v", domain.ErrTransport, err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(t.cfg.listenAddrs()...),
	}
	if t.cfg.NATPortMap {
		opts = append(opts, libp2p.NATPortMap())
	}
	if t.cfg.HolePunching {
		opts = append(opts, libp2p.EnableHolePunching())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return fmt.Errorf("%w: libp2p host: %v", domain.ErrTransport, err)
	}
	t.host = h
	t.ctx, t.cancel = context.WithCancel(context.Background())

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF:    t.onConnected,
		DisconnectedF: t.onDisconnected,
	})
	h.SetStreamHandler(FetchProtocol, t.handleFetch)
	h.SetStreamHandler(ResultProtocol, t.handleResult)

	boots := parseBootstrap(t.cfg.Bootstrap, t.log)

	if t.cfg.EnableDHT {
		kdht, err := dht.New(t.ctx, h,
			dht.Mode(dht.ModeServer),
			dht.ProtocolPrefix(DHTPrefix),
			dht.BootstrapPeers(boots...),
		)
		if err != nil {
			t.shutdown()
			return fmt.Errorf("%w: dht: %v", domain.ErrTransport, err)
		}
		t.dht = kdht
		if err := kdht.Bootstrap(t.ctx); err != nil {
			t.shutdown()
			return fmt.Errorf("%w: bootstrap dht: %v", domain.ErrTransport, err)
		}
	}

	ps, err := pubsub.NewGossipSub(t.ctx, h)
	if err != nil {
		t.shutdown()
		return fmt.Errorf("%w: gossipsub: %v", domain.ErrTransport, err)
	}
	if t.topic, err = ps.Join(TaskTopic); err != nil {
		t.shutdown()
		return fmt.Errorf("%w: join %s: %v", domain.ErrTransport, TaskTopic, err)
	}
	if t.sub, err = t.topic.Subscribe(); err != nil {
		t.shutdown()
		return fmt.Errorf("%w: subscribe %s: %v", domain.ErrTransport, TaskTopic, err)
	}
	if t.joins, err = t.topic.EventHandler(); err != nil {
		t.shutdown()
		return fmt.Errorf("%w: watch %s: %v", domain.ErrTransport, TaskTopic, err)
	}

	t.connectBootstrap(ctx, boots)

	t.wg.Add(3)
	go t.readAnnouncements()
	go t.watchTopicPeers()
	go t.reportStats()

	t.log.Info("transport started",
		zap.String("peer_id", h.ID().String()),
		zap.Strings("addrs", t.Addrs()),
		zap.Bool("dht", t.dht != nil))
	return nil
}

func parseBootstrap(addrs []string, log *zap.Logger) []peer.AddrInfo {
	var boots []peer.AddrInfo
	for _, raw := range addrs {
		ai, err := peer.AddrInfoFromString(raw)
		if err != nil {
			log.Warn("ignoring invalid bootstrap address", zap.String("addr", raw), zap.Error(err))
			continue
		}
		boots = append(boots, *ai)
	}
	return boots
}

func (t *Transport) connectBootstrap(ctx context.Context, boots []peer.AddrInfo) {
	var wg sync.WaitGroup
	for _, ai := range boots {
		wg.Add(1)
		go func(ai peer.AddrInfo) {
			defer wg.Done()
			dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := t.host.Connect(dctx, ai); err != nil {
				t.log.Warn("bootstrap dial failed", zap.String("peer", ai.ID.String()), zap.Error(err))
				return
			}
			t.log.Info("connected to bootstrap peer", zap.String("peer", ai.ID.String()))
		}(ai)
	}
	wg.Wait()
}

// ID returns the libp2p peer id.
func (t *Transport) ID() string {
	if t.host == nil {
		return ""
	}
	return t.host.ID().String()
}

// Addrs returns dialable multiaddrs including the /p2p/ component.
func (t *Transport) Addrs() []string {
	if t.host == nil {
		return nil
	}
	var out []string
	for _, a := range t.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, t.host.ID()))
	}
	return out
}

// Events is the transport's single event stream. It is never closed; stop
// consuming when the node's own context ends.
func (t *Transport) Events() <-chan domain.Event {
	return t.events
}

// Peers returns the ids of currently connected peers.
func (t *Transport) Peers() []string {
	if t.host == nil {
		return nil
	}
	var out []string
	for _, p := range t.host.Network().Peers() {
		out = append(out, p.String())
	}
	return out
}

// TopicPeers returns the peers known to be subscribed to the task topic.
func (t *Transport) TopicPeers() []string {
	if t.topic == nil {
		return nil
	}
	var out []string
	for _, p := range t.topic.ListPeers() {
		out = append(out, p.String())
	}
	return out
}

// Listening reports whether the host is up with at least one listen address.
func (t *Transport) Listening() bool {
	return t.host != nil && t.ctx.Err() == nil && len(t.host.Network().ListenAddresses()) > 0
}

// Connect dials a peer given its full multiaddr.
func (t *Transport) Connect(ctx context.Context, addr string) error {
	if t.host == nil {
		return fmt.Errorf("%w: transport not started", domain.ErrTransport)
	}
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("%w: invalid multiaddr %q: %v", domain.ErrValidation, addr, err)
	}
	ai, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return fmt.Errorf("%w: multiaddr %q has no peer id: %v", domain.ErrValidation, addr, err)
	}
	if ai.ID == t.host.ID() {
		return fmt.Errorf("%w: refusing to dial self", domain.ErrValidation)
	}
	if err := t.host.Connect(ctx, *ai); err != nil {
		return fmt.Errorf("%w: connect %s: %v", domain.ErrTransport, ai.ID, err)
	}
	return nil
}

// Close stops background loops and shuts the host down.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.cancel == nil {
			return
		}
		t.cancel()
		err = t.shutdown()
		t.wg.Wait()
		t.log.Info("transport closed")
	})
	return err
}

func (t *Transport) shutdown() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.sub != nil {
		t.sub.Cancel()
	}
	if t.joins != nil {
		t.joins.Cancel()
	}
	if t.topic != nil {
		_ = t.topic.Close()
	}
	if t.dht != nil {
		_ = t.dht.Close()
	}
	if t.host != nil {
		return t.host.Close()
	}
	return nil
}

// ─── Events ─────────────────────────────────────────────────────────────────

func (t *Transport) emit(ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case t.events <- ev:
	case <-t.ctx.Done():
	}
}

// emitLossy drops the event when the consumer is behind. Used for periodic
// reports that the next tick supersedes.
func (t *Transport) emitLossy(ev domain.Event) {
	ev.At = time.Now()
	select {
	case t.events <- ev:
	default:
	}
}

func (t *Transport) onConnected(n network.Network, c network.Conn) {
	remote := c.RemotePeer()
	if t.cfg.MaxPeers > 0 && c.Stat().Direction == network.DirInbound && len(n.Peers()) > t.cfg.MaxPeers {
		t.log.Debug("peer limit reached, closing inbound connection", zap.String("peer", remote.String()))
		go c.Close()
		return
	}
	addr, port := splitMultiaddr(c.RemoteMultiaddr())
	t.emit(domain.Event{
		Kind:    domain.EventPeerConnected,
		PeerID:  remote.String(),
		Address: addr,
		Port:    port,
	})
}

func (t *Transport) onDisconnected(n network.Network, c network.Conn) {
	remote := c.RemotePeer()
	if n.Connectedness(remote) == network.Connected {
		return
	}
	t.emit(domain.Event{Kind: domain.EventPeerDisconnected, PeerID: remote.String()})
}

// splitMultiaddr extracts the IP (or DNS name) and TCP port of a multiaddr.
func splitMultiaddr(a ma.Multiaddr) (string, int) {
	var addr string
	for _, code := range []int{ma.P_IP4, ma.P_IP6, ma.P_DNS4, ma.P_DNS6, ma.P_DNS} {
		if v, err := a.ValueForProtocol(code); err == nil {
			addr = v
			break
		}
	}
	port := 0
	if v, err := a.ValueForProtocol(ma.P_TCP); err == nil {
		port, _ = strconv.Atoi(v)
	}
	return addr, port
}

func (t *Transport) reportStats() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			stats := t.Stats()
			metrics.SwarmSeeding.Set(float64(stats.Seeding))
			t.emitLossy(domain.Event{Kind: domain.EventSwarmStats, Stats: stats})
		}
	}
}

// Stats returns a point-in-time view of the session.
func (t *Transport) Stats() domain.SwarmStats {
	t.mu.RLock()
	seeding, downloading := len(t.seeds), len(t.downloading)
	t.mu.RUnlock()

	stats := domain.SwarmStats{
		Seeding:         seeding,
		ActiveDownloads: downloading,
		BytesUploaded:   t.bytesUp.Load(),
		BytesDownloaded: t.bytesDown.Load(),
	}
	if t.host != nil {
		stats.Peers = len(t.host.Network().Peers())
	}
	if t.dht != nil {
		stats.RoutingTable = t.dht.RoutingTable().Size()
	}
	return stats
}

// ─── Publishing ─────────────────────────────────────────────────────────────

// Publish packs taskDir, seeds it and announces its content id. If seeding
// or the announcement fails the registration is rolled back, so a returned
// error never leaves a half-published handle. DHT provide runs in the
// background and reports failures as EventAnnounceFailed.
func (t *Transport) Publish(ctx context.Context, taskDir string) (string, error) {
	if t.host == nil {
		return "", fmt.Errorf("%w: transport not started", domain.ErrPublishFailed)
	}

	archive, err := packDir(taskDir)
	if err != nil {
		return "", fmt.Errorf("%w: pack %s: %v", domain.ErrPublishFailed, taskDir, err)
	}
	manifest, chunks := SplitIntoChunks(filepath.Base(taskDir), archive, t.cfg.ChunkSize)
	SignManifest(manifest, t.priv)
	c, err := manifest.ContentID()
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrPublishFailed, err)
	}
	contentID := c.String()

	t.addSeed(contentID, &seed{manifest: manifest, chunks: chunks, dir: taskDir})

	if err := t.announce(ctx, contentID, manifest); err != nil {
		t.removeSeed(contentID)
		return "", fmt.Errorf("%w: %v", domain.ErrPublishFailed, err)
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.provide(t.ctx, contentID); err != nil {
			t.log.Warn("dht provide failed", zap.String("content_id", contentID), zap.Error(err))
			t.emit(domain.Event{Kind: domain.EventAnnounceFailed, ContentID: contentID, Err: err})
		}
	}()

	t.log.Info("content published",
		zap.String("content_id", contentID),
		zap.String("name", manifest.Name),
		zap.Int64("size", manifest.TotalSize),
		zap.Int("chunks", manifest.ChunkCount()))
	return contentID, nil
}

// Announce re-advertises seeded content on the topic and the DHT.
func (t *Transport) Announce(ctx context.Context, contentID string) error {
	t.mu.RLock()
	s, ok := t.seeds[contentID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s is not seeded", domain.ErrContentNotFound, contentID)
	}
	if err := t.announce(ctx, contentID, s.manifest); err != nil {
		return err
	}
	return t.provide(ctx, contentID)
}

func (t *Transport) announce(ctx context.Context, contentID string, m *ContentManifest) error {
	msg, err := json.Marshal(announcement{ContentID: contentID, Name: m.Name, Size: m.TotalSize})
	if err != nil {
		return err
	}

	// With subscribers known, wait for the mesh to graft one of them: a
	// message published into a half-formed mesh reaches nobody.
	if len(t.topic.ListPeers()) > 0 {
		wctx, cancel := context.WithTimeout(ctx, t.cfg.AnnounceWait)
		err := t.topic.Publish(wctx, msg, pubsub.WithReadiness(pubsub.MinTopicSize(1)))
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: announce %s: %v", domain.ErrTransport, contentID, ctx.Err())
		}
		t.log.Debug("topic mesh not ready, announcing anyway",
			zap.String("content_id", contentID), zap.Error(err))
	}
	if err := t.topic.Publish(ctx, msg); err != nil {
		return fmt.Errorf("%w: announce %s: %v", domain.ErrTransport, contentID, err)
	}
	return nil
}

func (t *Transport) provide(ctx context.Context, contentID string) error {
	if t.dht == nil {
		return nil
	}
	c, err := ParseContentID(contentID)
	if err != nil {
		return err
	}
	if err := t.dht.Provide(ctx, c, true); err != nil {
		return fmt.Errorf("%w: provide %s: %v", domain.ErrTransport, contentID, err)
	}
	return nil
}

func (t *Transport) addSeed(contentID string, s *seed) {
	t.mu.Lock()
	t.seeds[contentID] = s
	n := len(t.seeds)
	t.mu.Unlock()
	metrics.SwarmSeeding.Set(float64(n))
}

func (t *Transport) removeSeed(contentID string) {
	t.mu.Lock()
	delete(t.seeds, contentID)
	n := len(t.seeds)
	t.mu.Unlock()
	metrics.SwarmSeeding.Set(float64(n))
}

// Seeding reports whether contentID is being served by this node.
func (t *Transport) Seeding(contentID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.seeds[contentID]
	return ok
}

func (t *Transport) readAnnouncements() {
	defer t.wg.Done()
	self := t.host.ID()

	for {
		msg, err := t.sub.Next(t.ctx)
		if err != nil {
			if t.ctx.Err() == nil {
				t.log.Warn("announcement subscription ended", zap.Error(err))
			}
			return
		}
		from := msg.GetFrom()
		if from == self {
			continue
		}

		var a announcement
		if err := json.Unmarshal(msg.Data, &a); err != nil {
			t.log.Debug("dropping malformed announcement", zap.String("from", from.String()), zap.Error(err))
			continue
		}
		if _, err := ParseContentID(a.ContentID); err != nil {
			t.log.Debug("dropping announcement with bad content id", zap.String("from", from.String()))
			continue
		}

		t.available.RegisterPeer(from.String(), []string{a.ContentID})
		t.emit(domain.Event{
			Kind:      domain.EventTaskAnnounced,
			PeerID:    msg.ReceivedFrom.String(),
			ContentID: a.ContentID,
			Origin:    from.String(),
			Bytes:     a.Size,
		})
	}
}

// watchTopicPeers reports every peer that subscribes to the announcement
// topic, so publishers can re-announce content the newcomer has missed.
func (t *Transport) watchTopicPeers() {
	defer t.wg.Done()
	for {
		ev, err := t.joins.NextPeerEvent(t.ctx)
		if err != nil {
			return
		}
		if ev.Type != pubsub.PeerJoin {
			continue
		}
		t.log.Debug("peer joined announcement topic", zap.String("peer", ev.Peer.String()))
		t.emit(domain.Event{Kind: domain.EventTopicPeerJoined, PeerID: ev.Peer.String()})
	}
}

// ─── Results ────────────────────────────────────────────────────────────────

// SendResult delivers a signed envelope to peerID over ResultProtocol,
// guarded by the delivery circuit breaker.
func (t *Transport) SendResult(ctx context.Context, peerID string, env domain.ResultEnvelope) error {
	if t.host == nil {
		return fmt.Errorf("%w: transport not started", domain.ErrTransport)
	}
	pid, err := peer.Decode(peerID)
	if err != nil {
		return fmt.Errorf("%w: invalid peer id %q: %v", domain.ErrValidation, peerID, err)
	}

	_, err = t.breaker.Execute(func() (interface{}, error) {
		return nil, t.deliver(ctx, pid, env)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: result delivery suspended: %v", domain.ErrTransport, err)
		}
		return err
	}
	return nil
}

func (t *Transport) deliver(ctx context.Context, pid peer.ID, env domain.ResultEnvelope) error {
	s, err := t.host.NewStream(ctx, pid, ResultProtocol)
	if err != nil {
		return fmt.Errorf("%w: open result stream to %s: %v", domain.ErrTransport, pid, err)
	}
	fc := newFrameConn(s)
	defer fc.Close()

	if err := fc.writeJSON(env); err != nil {
		_ = s.Reset()
		return fmt.Errorf("%w: send result: %v", domain.ErrTransport, err)
	}
	var ack resultAck
	if err := fc.readJSON(&ack); err != nil {
		_ = s.Reset()
		return fmt.Errorf("%w: read result ack: %v", domain.ErrTransport, err)
	}
	if !ack.OK {
		return fmt.Errorf("%w: result rejected by %s: %s", domain.ErrTransport, pid, ack.Error)
	}
	return nil
}

func (t *Transport) handleResult(s network.Stream) {
	fc := newFrameConn(s)
	defer fc.Close()
	remote := s.Conn().RemotePeer()

	var env domain.ResultEnvelope
	if err := fc.readJSON(&env); err != nil {
		t.log.Debug("bad result frame", zap.String("peer", remote.String()), zap.Error(err))
		_ = fc.writeJSON(resultAck{Error: "malformed envelope"})
		return
	}
	if env.ExecutorPeer != remote.String() {
		_ = fc.writeJSON(resultAck{Error: "executor_peer does not match sender"})
		return
	}
	_ = fc.writeJSON(resultAck{OK: true})

	t.emit(domain.Event{
		Kind:   domain.EventResultReceived,
		PeerID: remote.String(),
		Result: &env,
	})
}

// PeerIDFromPublicKey derives the libp2p peer id for a hex Ed25519 public
// key. A task's origin must equal the peer id of its signing key.
func PeerIDFromPublicKey(publicKeyHex string) (string, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: invalid public key", domain.ErrValidation)
	}
	pub, err := crypto.UnmarshalEd25519PublicKey(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return id.String(), nil
}
