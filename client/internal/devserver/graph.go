package devserver

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("conflict")
)

// 通知类型
const (
	NotifyLike          = "like"
	NotifyComment       = "comment"
	NotifyFollow        = "follow"
	NotifyFollowRequest = "follow_request"
)

type user struct {
	SeedUser
}

type review struct {
	id        int64
	authorID  int64
	book      SeedBook
	content   string
	rating    float64
	createdAt time.Time
	likes     map[int64]bool
	comments  []*comment
}

type comment struct {
	id        int64
	reviewID  int64
	authorID  int64
	content   string
	createdAt time.Time
}

type notification struct {
	id        int64
	kind      string
	read      bool
	actorID   int64
	reviewID  int64
	createdAt time.Time
}

// Delivery 一次变更产生的待推送通知。
type Delivery struct {
	UserID       int64
	Notification notification
	Unread       int
}

type set map[int64]map[int64]bool

func (s set) add(a, b int64) {
	if s[a] == nil {
		s[a] = make(map[int64]bool)
	}
	s[a][b] = true
}

func (s set) has(a, b int64) bool { return s[a][b] }

func (s set) del(a, b int64) { delete(s[a], b) }

// Graph 内存中的社交关系图，所有方法并发安全。
type Graph struct {
	mu sync.RWMutex

	users         map[int64]*user
	reviews       map[int64]*review
	follows       set
	requests      set
	blocks        set
	toRead        map[int64][]SeedBook
	notifications map[int64][]*notification
	devices       map[int64]map[string]string

	nextComment      int64
	nextNotification int64
	now              func() time.Time
}

func NewGraph(seed Seed) *Graph {
	g := &Graph{
		users:         make(map[int64]*user),
		reviews:       make(map[int64]*review),
		follows:       make(set),
		requests:      make(set),
		blocks:        make(set),
		toRead:        make(map[int64][]SeedBook),
		notifications: make(map[int64][]*notification),
		devices:       make(map[int64]map[string]string),
		now:           time.Now,
	}
	for _, u := range seed.Users {
		g.users[u.ID] = &user{SeedUser: u}
	}
	for _, r := range seed.Reviews {
		if _, ok := g.users[r.AuthorID]; !ok {
			continue
		}
		rv := &review{
			id:        r.ID,
			authorID:  r.AuthorID,
			book:      r.Book,
			content:   r.Content,
			rating:    r.Rating,
			createdAt: r.Created,
			likes:     make(map[int64]bool),
		}
		for _, uid := range r.LikedBy {
			rv.likes[uid] = true
		}
		g.reviews[r.ID] = rv
	}
	for _, f := range seed.Follows {
		g.follows.add(f[0], f[1])
	}
	for uid, books := range seed.ToRead {
		g.toRead[uid] = append([]SeedBook(nil), books...)
	}
	return g
}

// UserView 从 viewer 视角看到的用户及关系。
type UserView struct {
	SeedUser
	FollowersCount int
	FollowingCount int
	IsFollowing    bool
	Pending        bool
	IsBlocked      bool
}

type ReviewView struct {
	ID            int64
	Author        UserView
	Book          SeedBook
	Content       string
	Rating        float64
	LikesCount    int
	IsLiked       bool
	CommentsCount int
	CreatedAt     time.Time
}

type CommentView struct {
	ID        int64
	ReviewID  int64
	Author    UserView
	Content   string
	CreatedAt time.Time
}

type NotificationView struct {
	ID        int64
	Type      string
	Read      bool
	Actor     *UserView
	ReviewID  int64
	CreatedAt time.Time
}

func (g *Graph) userView(viewer int64, u *user) UserView {
	v := UserView{
		SeedUser:    u.SeedUser,
		IsFollowing: g.follows.has(viewer, u.ID),
		Pending:     g.requests.has(viewer, u.ID),
		IsBlocked:   g.blocks.has(viewer, u.ID),
	}
	for follower, targets := range g.follows {
		if targets[u.ID] {
			v.FollowersCount++
		}
		if follower == u.ID {
			v.FollowingCount = len(targets)
		}
	}
	return v
}

func (g *Graph) reviewView(viewer int64, r *review) ReviewView {
	return ReviewView{
		ID:            r.id,
		Author:        g.userView(viewer, g.users[r.authorID]),
		Book:          r.book,
		Content:       r.content,
		Rating:        r.rating,
		LikesCount:    len(r.likes),
		IsLiked:       r.likes[viewer],
		CommentsCount: len(r.comments),
		CreatedAt:     r.createdAt,
	}
}

func (g *Graph) hidden(viewer, other int64) bool {
	return g.blocks.has(viewer, other) || g.blocks.has(other, viewer)
}

// canSee 私密账号的内容只对关注者与本人可见。
func (g *Graph) canSee(viewer int64, author *user) bool {
	if g.hidden(viewer, author.ID) {
		return false
	}
	return !author.IsPrivate || viewer == author.ID || g.follows.has(viewer, author.ID)
}

func (g *Graph) HasUser(id int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.users[id]
	return ok
}

// Feed 自己与已关注用户的书评，新的在前。
func (g *Graph) Feed(viewer int64) []ReviewView {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]ReviewView, 0)
	for _, r := range g.sortedReviews() {
		if r.authorID != viewer && !g.follows.has(viewer, r.authorID) {
			continue
		}
		if g.hidden(viewer, r.authorID) {
			continue
		}
		out = append(out, g.reviewView(viewer, r))
	}
	return out
}

func (g *Graph) sortedReviews() []*review {
	rs := make([]*review, 0, len(g.reviews))
	for _, r := range g.reviews {
		rs = append(rs, r)
	}
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].createdAt.Equal(rs[j].createdAt) {
			return rs[i].createdAt.After(rs[j].createdAt)
		}
		return rs[i].id > rs[j].id
	})
	return rs
}

func (g *Graph) visibleReview(viewer, id int64) (*review, error) {
	r, ok := g.reviews[id]
	if !ok || !g.canSee(viewer, g.users[r.authorID]) {
		return nil, errors.Wrapf(ErrNotFound, "review %d", id)
	}
	return r, nil
}

// ToggleLike 切换点赞；给他人的书评点赞会产生通知。
func (g *Graph) ToggleLike(viewer, reviewID int64) (liked bool, count int, d *Delivery, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, err := g.visibleReview(viewer, reviewID)
	if err != nil {
		return false, 0, nil, err
	}
	if r.likes[viewer] {
		delete(r.likes, viewer)
	} else {
		r.likes[viewer] = true
		d = g.notifyLocked(r.authorID, viewer, NotifyLike, r.id)
	}
	return r.likes[viewer], len(r.likes), d, nil
}

func (g *Graph) Comments(viewer, reviewID int64) ([]CommentView, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	r, err := g.visibleReview(viewer, reviewID)
	if err != nil {
		return nil, err
	}
	out := make([]CommentView, 0, len(r.comments))
	for i := len(r.comments) - 1; i >= 0; i-- {
		out = append(out, g.commentView(viewer, r.comments[i]))
	}
	return out, nil
}

func (g *Graph) commentView(viewer int64, c *comment) CommentView {
	return CommentView{
		ID:        c.id,
		ReviewID:  c.reviewID,
		Author:    g.userView(viewer, g.users[c.authorID]),
		Content:   c.content,
		CreatedAt: c.createdAt,
	}
}

func (g *Graph) AddComment(viewer, reviewID int64, content string) (CommentView, *Delivery, error) {
	if content == "" {
		return CommentView{}, nil, errors.Wrap(ErrConflict, "empty comment")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	r, err := g.visibleReview(viewer, reviewID)
	if err != nil {
		return CommentView{}, nil, err
	}
	g.nextComment++
	c := &comment{id: g.nextComment, reviewID: r.id, authorID: viewer, content: content, createdAt: g.now()}
	r.comments = append(r.comments, c)
	d := g.notifyLocked(r.authorID, viewer, NotifyComment, r.id)
	return g.commentView(viewer, c), d, nil
}

func (g *Graph) ToRead(viewer int64) []SeedBook {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]SeedBook(nil), g.toRead[viewer]...)
}

func (g *Graph) AddToRead(viewer int64, b SeedBook) (SeedBook, error) {
	if b.ID == "" {
		return SeedBook{}, errors.Wrap(ErrConflict, "missing book id")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, existing := range g.toRead[viewer] {
		if existing.ID == b.ID {
			return SeedBook{}, errors.Wrapf(ErrConflict, "book %s already on list", b.ID)
		}
	}
	g.toRead[viewer] = append([]SeedBook{b}, g.toRead[viewer]...)
	return b, nil
}

func (g *Graph) RemoveToRead(viewer int64, bookID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	list := g.toRead[viewer]
	for i, b := range list {
		if b.ID == bookID {
			g.toRead[viewer] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return errors.Wrapf(ErrNotFound, "book %s", bookID)
}

func (g *Graph) User(viewer, id int64) (UserView, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	u, ok := g.users[id]
	if !ok || g.blocks.has(id, viewer) {
		return UserView{}, errors.Wrapf(ErrNotFound, "user %d", id)
	}
	return g.userView(viewer, u), nil
}

func (g *Graph) UserReviews(viewer, id int64) ([]ReviewView, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	u, ok := g.users[id]
	if !ok || g.blocks.has(id, viewer) {
		return nil, errors.Wrapf(ErrNotFound, "user %d", id)
	}
	out := make([]ReviewView, 0)
	if !g.canSee(viewer, u) {
		return out, nil
	}
	for _, r := range g.sortedReviews() {
		if r.authorID == id {
			out = append(out, g.reviewView(viewer, r))
		}
	}
	return out, nil
}

// FollowState 关注类操作后的关系。
type FollowState struct {
	Followed       bool
	Pending        bool
	FollowersCount int
}

func (g *Graph) followState(viewer, id int64) FollowState {
	v := g.userView(viewer, g.users[id])
	return FollowState{Followed: v.IsFollowing, Pending: v.Pending, FollowersCount: v.FollowersCount}
}

// Follow 公开账号直接关注，私密账号生成关注请求。
func (g *Graph) Follow(viewer, id int64) (FollowState, *Delivery, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	u, ok := g.users[id]
	if !ok || id == viewer {
		return FollowState{}, nil, errors.Wrapf(ErrNotFound, "user %d", id)
	}
	if g.hidden(viewer, id) {
		return FollowState{}, nil, errors.Wrapf(ErrForbidden, "user %d is blocked", id)
	}

	var d *Delivery
	switch {
	case g.follows.has(viewer, id), g.requests.has(viewer, id):
	case u.IsPrivate:
		g.requests.add(viewer, id)
		d = g.notifyLocked(id, viewer, NotifyFollowRequest, 0)
	default:
		g.follows.add(viewer, id)
		d = g.notifyLocked(id, viewer, NotifyFollow, 0)
	}
	return g.followState(viewer, id), d, nil
}

func (g *Graph) Unfollow(viewer, id int64) (FollowState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.users[id]; !ok {
		return FollowState{}, errors.Wrapf(ErrNotFound, "user %d", id)
	}
	g.follows.del(viewer, id)
	g.requests.del(viewer, id)
	return g.followState(viewer, id), nil
}

// Block 同时解除双向关注与关注请求。
func (g *Graph) Block(viewer, id int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.users[id]; !ok || id == viewer {
		return errors.Wrapf(ErrNotFound, "user %d", id)
	}
	g.blocks.add(viewer, id)
	g.follows.del(viewer, id)
	g.follows.del(id, viewer)
	g.requests.del(viewer, id)
	g.requests.del(id, viewer)
	return nil
}

func (g *Graph) Unblock(viewer, id int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.users[id]; !ok {
		return errors.Wrapf(ErrNotFound, "user %d", id)
	}
	g.blocks.del(viewer, id)
	return nil
}

// notifyLocked 给 recipient 记一条通知；自己对自己的操作不通知。
func (g *Graph) notifyLocked(recipient, actor int64, kind string, reviewID int64) *Delivery {
	if recipient == actor {
		return nil
	}
	g.nextNotification++
	n := &notification{
		id:        g.nextNotification,
		kind:      kind,
		actorID:   actor,
		reviewID:  reviewID,
		createdAt: g.now(),
	}
	g.notifications[recipient] = append([]*notification{n}, g.notifications[recipient]...)
	return &Delivery{UserID: recipient, Notification: *n, Unread: g.unreadLocked(recipient)}
}

func (g *Graph) unreadLocked(uid int64) int {
	n := 0
	for _, item := range g.notifications[uid] {
		if !item.read {
			n++
		}
	}
	return n
}

func (g *Graph) notificationView(viewer int64, n notification) NotificationView {
	v := NotificationView{
		ID:        n.id,
		Type:      n.kind,
		Read:      n.read,
		ReviewID:  n.reviewID,
		CreatedAt: n.createdAt,
	}
	if actor, ok := g.users[n.actorID]; ok {
		av := g.userView(viewer, actor)
		v.Actor = &av
	}
	return v
}

// DeliveryView 推送用：在读锁内构造 actor 视图。
func (g *Graph) DeliveryView(d Delivery) NotificationView {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.notificationView(d.UserID, d.Notification)
}

func (g *Graph) Notifications(viewer int64) []NotificationView {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]NotificationView, 0, len(g.notifications[viewer]))
	for _, n := range g.notifications[viewer] {
		out = append(out, g.notificationView(viewer, *n))
	}
	return out
}

func (g *Graph) UnreadCount(viewer int64) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.unreadLocked(viewer)
}

// MarkRead 返回标记后的未读数。
func (g *Graph) MarkRead(viewer, id int64) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, n := range g.notifications[viewer] {
		if n.id == id {
			n.read = true
			return g.unreadLocked(viewer), nil
		}
	}
	return 0, errors.Wrapf(ErrNotFound, "notification %d", id)
}

func (g *Graph) MarkAllRead(viewer int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, n := range g.notifications[viewer] {
		n.read = true
	}
}

func (g *Graph) RegisterDevice(viewer int64, token, platform string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.devices[viewer] == nil {
		g.devices[viewer] = make(map[string]string)
	}
	g.devices[viewer][token] = platform
}

func (g *Graph) Devices(viewer int64) map[string]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]string, len(g.devices[viewer]))
	for k, v := range g.devices[viewer] {
		out[k] = v
	}
	return out
}

// UserIDs 全部用户 id，升序。
func (g *Graph) UserIDs() []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]int64, 0, len(g.users))
	for id := range g.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
