package chatroom

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"excalibur/internal/abi"
)

const (
	// workerPollingPeriod is how long the housekeeper sleeps between rounds
	// of polling when nothing wakes it earlier.
	workerPollingPeriod = 50 * time.Millisecond

	// upgradeRejectedBody is returned, with status 200, to any request at the
	// chat room's resource that is not a WebSocket upgrade.
	upgradeRejectedBody = "Try again, but next time use a WebSocket.  Kthxbye!"

	// mathBotName is the synthetic sender under which the quiz scheduler
	// broadcasts its questions.
	mathBotName = "MathBot2000"

	defaultTellTimeout    = 1.0
	defaultMinCooldown    = 10.0
	defaultMaxCooldown    = 30.0
	defaultMaxMessageSize = 512
)

var (
	negativeInfinity = math.Inf(-1)
	positiveInfinity = math.Inf(1)
)

// Room is the state of the chat room: the session table, the nickname pool,
// the quiz scheduler, and the broadcast machinery. A single Room exists per
// extension load and every registered callback goes through it.
type Room struct {
	clock abi.TimeSource
	diag  abi.DiagSink

	// mu guards every field below it. Handlers never send while holding it:
	// outbound messages are accumulated in pending and flushed afterwards,
	// and sendMu keeps those flushes in enqueue order.
	mu     sync.Mutex
	sendMu sync.Mutex

	sessions      map[uint64]*session
	nextSessionID uint64
	usersClosed   bool
	pending       []delivery

	availableNicknames  map[string]struct{}
	configuredNicknames []string
	initialPoints       map[string]int
	tellTimeout         float64

	rng                 *rand.Rand
	questionComponents  [3]int
	question            string
	answer              string
	answeredCorrectly   bool
	nextQuestionTime    float64
	minQuestionCooldown float64
	maxQuestionCooldown float64
	answerChanged       chan struct{}

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	upgrader        websocket.Upgrader
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
	maxMessageSize  int64
	rateLimit       RateLimitConfig
}

// NewRoom builds a Room from the given configuration. Zero values in cfg
// fall back to the room's defaults; cooldown bounds are swapped if given in
// the wrong order.
func NewRoom(clock abi.TimeSource, diag abi.DiagSink, cfg Config) *Room {
	origins, allowAll := normalizeOrigins(cfg.AllowedOrigins)

	r := &Room{
		clock:               clock,
		diag:                diag,
		sessions:            make(map[uint64]*session),
		nextSessionID:       1,
		availableNicknames:  make(map[string]struct{}, len(cfg.Nicknames)),
		configuredNicknames: append([]string(nil), cfg.Nicknames...),
		initialPoints:       make(map[string]int, len(cfg.InitialPoints)),
		tellTimeout:         cfg.TellTimeout,
		rng:                 rand.New(rand.NewSource(time.Now().UnixNano())),
		answeredCorrectly:   true,
		nextQuestionTime:    positiveInfinity,
		minQuestionCooldown: cfg.MathQuiz.MinCoolDown,
		maxQuestionCooldown: cfg.MathQuiz.MaxCoolDown,
		answerChanged:       make(chan struct{}),
		wake:                make(chan struct{}, 1),
		allowedOrigins:      origins,
		allowAllOrigins:     allowAll,
		maxMessageSize:      cfg.MaxMessageSize,
		rateLimit:           cfg.RateLimit,
	}

	for _, nickname := range cfg.Nicknames {
		r.availableNicknames[nickname] = struct{}{}
	}
	for nickname, points := range cfg.InitialPoints {
		r.initialPoints[nickname] = points
	}

	if r.tellTimeout <= 0 {
		r.tellTimeout = defaultTellTimeout
	}
	if r.minQuestionCooldown <= 0 {
		r.minQuestionCooldown = defaultMinCooldown
	}
	if r.maxQuestionCooldown <= 0 {
		r.maxQuestionCooldown = defaultMaxCooldown
	}
	if r.minQuestionCooldown > r.maxQuestionCooldown {
		r.minQuestionCooldown, r.maxQuestionCooldown = r.maxQuestionCooldown, r.minQuestionCooldown
	}
	if r.maxMessageSize <= 0 {
		r.maxMessageSize = defaultMaxMessageSize
	}

	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     r.checkOrigin,
	}

	return r
}

// Start spawns the housekeeper, which drives the quiz scheduler and the
// close reaper. Calling Start on a running room is a no-op.
func (r *Room) Start() {
	if r.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	r.mu.Lock()
	r.nextQuestionTime = r.clock.Now()
	r.cooldownNextQuestion()
	r.mu.Unlock()

	go r.run(ctx, r.done)
}

// Stop signals the housekeeper and joins it. Idempotent.
func (r *Room) Stop() {
	if r.done == nil {
		return
	}
	r.cancel()
	<-r.done
	r.done = nil
	r.cancel = nil
}

// Reset tears down every session and returns the room to its freshly
// configured state: empty session table, session ids restarting at 1, the
// nickname pool back to the configured list. The housekeeper must already be
// stopped.
func (r *Room) Reset() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[uint64]*session)
	for _, s := range sessions {
		s.open = false
		s.closed = true
	}
	r.pending = nil
	r.usersClosed = false
	r.nextSessionID = 1
	r.answeredCorrectly = true
	r.question = ""
	r.answer = ""
	r.questionComponents = [3]int{}
	r.nextQuestionTime = positiveInfinity
	r.availableNicknames = make(map[string]struct{}, len(r.configuredNicknames))
	for _, nickname := range r.configuredNicknames {
		r.availableNicknames[nickname] = struct{}{}
	}
	r.mu.Unlock()

	// Session teardown happens outside the room lock; closing the
	// connections unblocks both pumps.
	for _, s := range sessions {
		close(s.send)
		_ = s.conn.Close()
	}
	r.wg.Wait()
}

// run is the housekeeper: it wakes on the polling ticker or an explicit
// signal, reaps closed sessions, and posts quiz questions when due.
func (r *Room) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(workerPollingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		case <-ticker.C:
		}
		r.reapClosed()
		r.askQuestionWhenDue()
	}
}

func (r *Room) signalWake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// HandleRequest is the resource handler the extension registers for the chat
// room's subspace. Non-upgrade requests get the plain-text brush-off; upgrade
// requests become sessions. Any client bytes pipelined behind the upgrade
// request are still sitting in the hijacked connection's buffered reader,
// which the upgrader reuses, so frames sent across the upgrade boundary are
// decoded on the new session as usual.
func (r *Room) HandleRequest(w http.ResponseWriter, req *http.Request, _ []byte) {
	if !websocket.IsWebSocketUpgrade(req) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, upgradeRejectedBody)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// The upgrader has already written its refusal to the client.
		r.diagf("", abi.LevelWarning, "WebSocket upgrade failed: %v", err)
		return
	}

	r.addSession(conn, req.RemoteAddr)
}

// addSession allocates a fresh session id, stores the session, and starts
// its pumps.
func (r *Room) addSession(conn wsConn, addr string) *session {
	r.mu.Lock()
	id := r.nextSessionID
	r.nextSessionID++
	s := newSession(r, id, conn, addr)
	r.sessions[id] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.diagf(s.diagSender, abi.LevelInfo, "session opened from %s (%d sessions now)", addr, count)

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		s.writePump()
	}()
	go func() {
		defer r.wg.Done()
		s.readPump()
	}()

	return s
}

// sessionClosed marks the session for the reaper; the actual removal, Leave
// broadcast, and resource teardown happen on the housekeeper.
func (r *Room) sessionClosed(id uint64) {
	r.mu.Lock()
	if s, ok := r.sessions[id]; ok && s.open {
		s.open = false
		r.usersClosed = true
	}
	r.mu.Unlock()
	r.signalWake()
}

// reapClosed removes every session whose socket has closed, in session-id
// order, returning held nicknames to the pool and broadcasting Leave for
// each. Destruction of the removed sessions' resources happens outside the
// room lock.
func (r *Room) reapClosed() {
	r.mu.Lock()
	if !r.usersClosed {
		r.mu.Unlock()
		return
	}
	r.usersClosed = false

	ids := lo.Keys(r.sessions)
	slices.Sort(ids)

	var removed []*session
	for _, id := range ids {
		s := r.sessions[id]
		if s.open {
			continue
		}
		delete(r.sessions, id)
		s.closed = true
		removed = append(removed, s)
		if s.nickname != "" {
			r.availableNicknames[s.nickname] = struct{}{}
			r.broadcast(payload{"Type": typeLeave, "NickName": s.nickname})
		}
	}
	r.mu.Unlock()

	for _, s := range removed {
		close(s.send)
		_ = s.conn.Close()
		r.diagf(s.diagSender, abi.LevelInfo, "session closed")
	}

	r.flush()
}

// receive decodes one inbound text frame and routes it by Type. Malformed
// frames and unknown types are dropped without reply.
func (r *Room) receive(sessionID uint64, data []byte) {
	r.mu.Lock()
	if s, ok := r.sessions[sessionID]; ok {
		var msg inbound
		if err := json.Unmarshal(data, &msg); err == nil {
			switch msg.Type {
			case typeSetNickName:
				r.setNickName(s, msg)
			case typeGetNickNames:
				r.getNickNames(s)
			case typeTell:
				r.tell(s, msg)
			case typeGetAvailableNickNames:
				r.getAvailableNickNames()
			case typeGetUsers:
				r.getUsers(s)
			}
		}
	}
	r.mu.Unlock()

	r.flush()
}

func (r *Room) setNickName(s *session, msg inbound) {
	old := s.nickname
	requested := msg.NickName
	result := payload{"Type": typeSetNickNameResult}

	switch {
	case requested == "":
		s.nickname = ""
		result["Success"] = true
		if old != "" {
			r.diagf(s.diagSender, abi.LevelNotice, "Nickname changed from '%s' to '%s'", old, requested)
			r.availableNicknames[old] = struct{}{}
			r.broadcast(payload{"Type": typeLeave, "NickName": old})
		}

	case old == requested:
		result["Success"] = true

	default:
		if _, available := r.availableNicknames[requested]; !available {
			result["Success"] = false
			break
		}
		delete(r.availableNicknames, requested)
		s.nickname = requested
		s.points = r.initialPoints[requested]
		if old != "" {
			r.availableNicknames[old] = struct{}{}
			r.broadcast(payload{"Type": typeLeave, "NickName": old})
		}
		r.broadcast(payload{"Type": typeJoin, "NickName": requested})
		result["Success"] = true
		r.diagf(s.diagSender, abi.LevelNotice, "Nickname changed from '%s' to '%s'", old, requested)
	}

	r.sendTo(s, result)
}

func (r *Room) getNickNames(s *session) {
	names := make([]string, 0, len(r.sessions))
	for _, other := range r.sessions {
		if other.nickname != "" {
			names = append(names, other.nickname)
		}
	}
	slices.Sort(names)
	r.sendTo(s, payload{"Type": typeNickNames, "NickNames": names})
}

func (r *Room) getAvailableNickNames() {
	names := lo.Keys(r.availableNicknames)
	slices.Sort(names)
	r.broadcast(payload{"Type": typeAvailableNickNames, "AvailableNickNames": names})
}

func (r *Room) getUsers(s *session) {
	ids := lo.Keys(r.sessions)
	slices.Sort(ids)

	users := make([]userEntry, 0, len(ids))
	for _, id := range ids {
		if other := r.sessions[id]; other.nickname != "" {
			users = append(users, userEntry{Nickname: other.nickname, Points: other.points})
		}
	}
	r.sendTo(s, payload{"Type": typeUsers, "Users": users})
}

func (r *Room) tell(s *session, msg inbound) {
	if s.nickname == "" {
		return
	}
	now := r.clock.Now()
	if now-s.lastTell < r.tellTimeout {
		return
	}
	text := msg.Tell
	if text == "" {
		return
	}
	if _, err := strconv.ParseInt(text, 10, 64); err != nil {
		return
	}

	s.lastTell = now
	r.broadcast(payload{"Type": typeTell, "Sender": s.nickname, "Tell": text})

	if r.answeredCorrectly {
		return
	}
	if text == r.answer {
		r.answeredCorrectly = true
		s.points++
		r.broadcast(payload{"Type": typeAward, "Subject": s.nickname, "Award": 1, "Points": s.points})
	} else {
		s.points--
		r.broadcast(payload{"Type": typePenalty, "Subject": s.nickname, "Penalty": 1, "Points": s.points})
	}
}

// broadcast enqueues message for every session in the table. The caller must
// hold the room lock; the snapshot taken here is what the flush sends to.
func (r *Room) broadcast(message payload) {
	ids := lo.Keys(r.sessions)
	slices.Sort(ids)

	targets := make([]*session, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, r.sessions[id])
	}
	r.pending = append(r.pending, delivery{targets: targets, message: message})
}

// sendTo enqueues message for a single session. The caller must hold the
// room lock.
func (r *Room) sendTo(s *session, message payload) {
	r.pending = append(r.pending, delivery{targets: []*session{s}, message: message})
}

// flush drains the pending queue and performs the sends with the room lock
// released. sendMu keeps concurrent flushes in queue order, so a broadcast
// enqueued under one lock acquisition reaches every recipient before any
// broadcast enqueued under a later acquisition.
func (r *Room) flush() {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	for {
		r.mu.Lock()
		pending := r.pending
		r.pending = nil
		r.mu.Unlock()

		if len(pending) == 0 {
			return
		}

		for _, d := range pending {
			d.message["Time"] = r.clock.Now()
			encoded, err := json.Marshal(d.message)
			if err != nil {
				continue
			}
			for _, s := range d.targets {
				if !r.trySend(s, encoded) {
					r.dropSlow(s)
				}
			}
		}
	}
}

// trySend enqueues one frame on the session's send channel without
// blocking. It reports false when the session is gone or its queue is full.
func (r *Room) trySend(s *session, message []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[s.id]; !ok || current != s || s.closed {
		return false
	}

	select {
	case s.send <- message:
		return true
	default:
		return false
	}
}

// dropSlow hands a stalled session to the reaper rather than letting it
// block delivery to everyone else.
func (r *Room) dropSlow(s *session) {
	r.mu.Lock()
	current, ok := r.sessions[s.id]
	if ok && current == s && s.open {
		s.open = false
		r.usersClosed = true
		r.mu.Unlock()
		r.signalWake()
		r.diagf(s.diagSender, abi.LevelWarning, "send queue full; dropping session")
		return
	}
	r.mu.Unlock()
}

func (r *Room) diagf(sender string, level abi.Level, format string, args ...any) {
	if r.diag == nil {
		return
	}
	r.diag(sender, level, fmt.Sprintf(format, args...))
}
