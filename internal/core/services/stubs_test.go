package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"pok7/internal/core/contracts"
	"pok7/internal/core/domain"
	"sort"
	"sync"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memPresence is an in-memory presence registry.

type memPresence struct {
	mu       sync.Mutex
	live     map[string]bool
	refresh  int
	offline  []string
	isLiveFn func(userID string) (bool, error)
	// beforeOffline runs at the start of MarkOffline, outside the lock.
	beforeOffline func(userID string)
}

func newMemPresence() *memPresence {
	return &memPresence{live: map[string]bool{}}
}

func (p *memPresence) MarkLive(_ context.Context, userID string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live[userID] = true
	return nil
}

func (p *memPresence) Refresh(_ context.Context, userID string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refresh++
	p.live[userID] = true
	return nil
}

func (p *memPresence) IsLive(_ context.Context, userID string) (bool, error) {
	if p.isLiveFn != nil {
		return p.isLiveFn(userID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live[userID], nil
}

func (p *memPresence) MarkOffline(_ context.Context, userID string) error {
	if p.beforeOffline != nil {
		p.beforeOffline(userID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, userID)
	p.offline = append(p.offline, userID)
	return nil
}

func (p *memPresence) ListLive(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for u := range p.live {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func (p *memPresence) Count(ctx context.Context) (int, error) {
	l, err := p.ListLive(ctx)
	return len(l), err
}

func (p *memPresence) Sweep(context.Context) (int, error) { return 0, nil }

func (p *memPresence) refreshes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refresh
}

func (p *memPresence) isLive(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live[userID]
}

func (p *memPresence) offlineCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.offline...)
}

// memBroker fans published messages out to in-process subscriptions.

type memBroker struct {
	mu        sync.Mutex
	subs      map[string][]*memSub
	published []string
	failSub   error
}

func newMemBroker() *memBroker {
	return &memBroker{subs: map[string][]*memSub{}}
}

func (b *memBroker) Channel(userID string) string { return "user:" + userID }

func (b *memBroker) Publish(_ context.Context, channel, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, channel)
	for _, s := range b.subs[channel] {
		select {
		case s.msgs <- message:
		default:
		}
	}
	return nil
}

func (b *memBroker) Subscribe(_ context.Context, channel string) (contracts.Subscription, error) {
	if b.failSub != nil {
		return nil, b.failSub
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &memSub{broker: b, channel: channel, msgs: make(chan string, 8), done: make(chan struct{})}
	b.subs[channel] = append(b.subs[channel], s)
	return s, nil
}

func (b *memBroker) subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

func (b *memBroker) publishedTo() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.published...)
}

type memSub struct {
	broker  *memBroker
	channel string
	msgs    chan string
	done    chan struct{}
	once    sync.Once
}

func (s *memSub) Channel() string { return s.channel }

func (s *memSub) Next(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-s.msgs:
		return m, nil
	case <-timer.C:
		return "", domain.ErrWaitTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.done:
		return "", domain.ErrSubscriptionClosed
	}
}

func (s *memSub) Close() error {
	s.once.Do(func() {
		close(s.done)
		b := s.broker
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[s.channel]
		for i, other := range list {
			if other == s {
				b.subs[s.channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
	})
	return nil
}

// memRegistry counts sessions per user.

type memRegistry struct {
	mu       sync.Mutex
	sessions map[string]map[string]contracts.Client
}

func newMemRegistry() *memRegistry {
	return &memRegistry{sessions: map[string]map[string]contracts.Client{}}
}

func (r *memRegistry) Register(c contracts.Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[c.UserID()] == nil {
		r.sessions[c.UserID()] = map[string]contracts.Client{}
	}
	r.sessions[c.UserID()][c.SessionID()] = c
	return len(r.sessions[c.UserID()])
}

func (r *memRegistry) Unregister(c contracts.Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions[c.UserID()], c.SessionID())
	n := len(r.sessions[c.UserID()])
	if n == 0 {
		delete(r.sessions, c.UserID())
	}
	return n
}

func (r *memRegistry) Sessions(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[userID])
}

// chanEmitter hands every emitted snapshot to the test.

type chanEmitter struct {
	snaps chan *domain.NotificationSnapshot
	err   error
}

func newChanEmitter() *chanEmitter {
	return &chanEmitter{snaps: make(chan *domain.NotificationSnapshot, 16)}
}

func (e *chanEmitter) Emit(_ context.Context, snap *domain.NotificationSnapshot) error {
	if e.err != nil {
		return e.err
	}
	e.snaps <- snap
	return nil
}

func (e *chanEmitter) next(timeout time.Duration) *domain.NotificationSnapshot {
	select {
	case s := <-e.snaps:
		return s
	case <-time.After(timeout):
		return nil
	}
}

// memPokes is an in-memory poke store that also serves snapshots.

type memPokes struct {
	mu        sync.Mutex
	relations []domain.PokeRelation
	fetchErr  error
	visErr    error
}

func (p *memPokes) Increment(_ context.Context, actorID, targetID string, at time.Time) (*domain.PokeRelation, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range p.relations {
		if (r.UserAID == actorID && r.UserBID == targetID) || (r.UserAID == targetID && r.UserBID == actorID) {
			p.relations[i].Count++
			p.relations[i].LastPokeBy = actorID
			p.relations[i].LastPokeDate = at
			rel := p.relations[i]
			return &rel, false, nil
		}
	}
	rel := domain.PokeRelation{
		ID:                 "rel-" + actorID + "-" + targetID,
		UserAID:            actorID,
		UserBID:            targetID,
		Count:              1,
		LastPokeDate:       at,
		LastPokeBy:         actorID,
		VisibleLeaderboard: true,
	}
	p.relations = append(p.relations, rel)
	return &rel, true, nil
}

func (p *memPokes) ListRelations(_ context.Context, userID string) ([]domain.PokeRelation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.PokeRelation
	for _, r := range p.relations {
		if r.UserAID == userID || r.UserBID == userID {
			r.OtherUser = domain.UserSummary{ID: r.Other(userID)}
			out = append(out, r)
		}
	}
	return out, nil
}

func (p *memPokes) FetchNotificationSnapshot(ctx context.Context, userID string) (*domain.NotificationSnapshot, error) {
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	rels, err := p.ListRelations(ctx, userID)
	if err != nil {
		return nil, err
	}
	return domain.NewNotificationSnapshot(rels), nil
}

func (p *memPokes) Leaderboard(_ context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	return make([]domain.LeaderboardEntry, 0, limit), nil
}

func (p *memPokes) SetVisibility(context.Context, string, string, bool) error {
	return p.visErr
}

// memUsers resolves a fixed set of users.

type memUsers struct {
	mu      sync.Mutex
	users   map[string]domain.User
	aliases map[string]domain.AnonymizedIdentity
	sets    int
}

func (u *memUsers) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	user, ok := u.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &user, nil
}

func (u *memUsers) SearchUsers(_ context.Context, query, excludeID string, limit int) ([]domain.User, error) {
	var out []domain.User
	for _, user := range u.users {
		if user.ID != excludeID && len(out) < limit {
			out = append(out, user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (u *memUsers) GetAnonymized(_ context.Context, userID string) (*domain.AnonymizedIdentity, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.users[userID]; !ok {
		return nil, domain.ErrUserNotFound
	}
	a := u.aliases[userID]
	return &a, nil
}

func (u *memUsers) SetAnonymized(_ context.Context, userID string, identity domain.AnonymizedIdentity) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.users[userID]; !ok {
		return domain.ErrUserNotFound
	}
	if u.aliases == nil {
		u.aliases = map[string]domain.AnonymizedIdentity{}
	}
	a := u.aliases[userID]
	if identity.Username != "" {
		a.Username = identity.Username
	}
	if identity.Picture != "" {
		a.Picture = identity.Picture
	}
	u.aliases[userID] = a
	u.sets++
	return nil
}

// passTx runs fn directly.

type passTx struct{}

func (passTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// recordingObserver captures delivery triggers.

type recordingObserver struct {
	mu    sync.Mutex
	calls [][2]string
}

func (o *recordingObserver) OnPokeCreatedOrIncremented(_ context.Context, actorID, targetID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, [2]string{actorID, targetID})
}

// recordingNotifier captures push decisions.

type recordingNotifier struct {
	mu    sync.Mutex
	users []string
	err   error
}

func (n *recordingNotifier) NotifyPoke(_ context.Context, userID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, userID)
	return n.err
}

func (n *recordingNotifier) notified() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.users...)
}

// memPushRepo stores push subscriptions by id.

type memPushRepo struct {
	mu   sync.Mutex
	subs map[string]domain.PushSubscription
}

func newMemPushRepo(subs ...domain.PushSubscription) *memPushRepo {
	r := &memPushRepo{subs: map[string]domain.PushSubscription{}}
	for _, s := range subs {
		r.subs[s.ID] = s
	}
	return r
}

func (r *memPushRepo) Upsert(_ context.Context, sub *domain.PushSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.subs[sub.ID]; ok && prev.UserID != sub.UserID {
		return domain.ErrPushSubscriptionNotFound
	}
	r.subs[sub.ID] = *sub
	return nil
}

func (r *memPushRepo) ListByUser(_ context.Context, userID string) ([]domain.PushSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PushSubscription
	for _, s := range r.subs {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memPushRepo) Get(_ context.Context, id string) (*domain.PushSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, domain.ErrPushSubscriptionNotFound
	}
	return &s, nil
}

func (r *memPushRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return domain.ErrPushSubscriptionNotFound
	}
	delete(r.subs, id)
	return nil
}

func (r *memPushRepo) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[id]
	return ok
}

// fakeSender answers per endpoint.

type fakeSender struct {
	mu       sync.Mutex
	sent     []string
	payloads [][]byte
	results  map[string]error
}

func (s *fakeSender) Send(_ context.Context, sub domain.PushSubscription, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sub.Endpoint)
	s.payloads = append(s.payloads, payload)
	return s.results[sub.Endpoint]
}

func (s *fakeSender) endpoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

var errBoom = errors.New("boom")
