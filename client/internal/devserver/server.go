package devserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"inkgora/client/internal/config"
	"inkgora/client/internal/notify"
)

const defaultPerPage = 10

// Server 本地开发用的书评社交后端：REST 接口 + transmit 推送。
type Server struct {
	graph   *Graph
	hub     *Hub
	auth    *Auth
	perPage int

	upgrader websocket.Upgrader
}

type Option func(*Server)

// WithPerPage 调整分页大小，测试里用较小的值覆盖翻页逻辑。
func WithPerPage(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.perPage = n
		}
	}
}

func NewServer(cfg config.DevServerConfig, opts ...Option) (*Server, error) {
	seed, err := LoadSeed(cfg.SeedPath)
	if err != nil {
		return nil, err
	}
	s := &Server{
		graph:   NewGraph(seed),
		hub:     NewHub(),
		auth:    NewAuth(cfg.JWTSecret, cfg.TokenTTL),
		perPage: defaultPerPage,
		upgrader: websocket.Upgrader{
			// 开发后端不做来源限制
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Server) Graph() *Graph { return s.graph }

func (s *Server) Hub() *Hub { return s.hub }

// IssueToken 为种子用户签发令牌。
func (s *Server) IssueToken(userID int64) (string, error) {
	u, err := s.graph.User(userID, userID)
	if err != nil {
		return "", err
	}
	tok, _, err := s.auth.Issue(userID, u.Username)
	return tok, err
}

func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	engine.GET("/healthz", s.handleHealthz)
	engine.POST("/auth/token", s.handleIssueToken)

	authed := engine.Group("/", s.auth.middleware(s.graph))
	authed.GET("/feed/:page", s.handleFeed)
	authed.POST("/review/:id/like", s.handleLike)
	authed.GET("/review/:id/comments", s.handleComments)
	authed.POST("/review/:id/comment", s.handleAddComment)

	authed.GET("/to-read-list", s.handleToRead)
	authed.POST("/to-read-list", s.handleAddToRead)
	authed.DELETE("/to-read-list/:bookId", s.handleRemoveToRead)

	authed.GET("/user/:id", s.handleUser)
	authed.GET("/user/:id/reviews", s.handleUserReviews)
	authed.POST("/user/:id/follow", s.handleFollow)
	authed.POST("/user/:id/unfollow", s.handleUnfollow)
	authed.POST("/user/:id/block", s.handleBlock)
	authed.POST("/user/:id/unblock", s.handleUnblock)

	authed.GET("/notifications", s.handleNotifications)
	authed.GET("/notifications/unread-count", s.handleUnreadCount)
	authed.PATCH("/notifications/:id/read", s.handleMarkRead)
	authed.POST("/notifications/mark-all-read", s.handleMarkAllRead)
	authed.POST("/device-token", s.handleDeviceToken)

	authed.POST("/__transmit/subscribe", s.handleSubscribe)
	authed.GET("/__transmit/events", s.handleEvents)
	authed.GET("/__transmit/ws", s.handleWS)
	return engine
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		glog.V(1).Infof("[DevServer] %s %s status=%d elapsed=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"message": message})
}

// fail 把图操作的错误映射为状态码。
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		abort(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		abort(c, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrConflict):
		abort(c, http.StatusUnprocessableEntity, err.Error())
	default:
		glog.Errorf("[DevServer] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		abort(c, http.StatusInternalServerError, "internal error")
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		abort(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryPage(c *gin.Context) int {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type issueTokenRequest struct {
	UserID int64 `json:"userId"`
}

// handleIssueToken 开发登录：按用户 id 直接签发令牌。
func (s *Server) handleIssueToken(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	u, err := s.graph.User(req.UserID, req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	tok, exp, err := s.auth.Issue(u.ID, u.Username)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok, "expiresAt": exp})
}

func (s *Server) handleFeed(c *gin.Context) {
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil || page < 1 {
		abort(c, http.StatusBadRequest, "invalid page")
		return
	}
	c.JSON(http.StatusOK, paginate(s.graph.Feed(viewer(c)), page, s.perPage, toReviewJSON))
}

func (s *Server) handleLike(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	liked, count, d, err := s.graph.ToggleLike(viewer(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	s.deliver(d)
	c.JSON(http.StatusOK, gin.H{"isLiked": liked, "likesCount": count})
}

func (s *Server) handleComments(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	comments, err := s.graph.Comments(viewer(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, paginate(comments, queryPage(c), s.perPage, toCommentJSON))
}

type addCommentRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleAddComment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req addCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	cm, d, err := s.graph.AddComment(viewer(c), id, req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	s.deliver(d)
	c.JSON(http.StatusCreated, toCommentJSON(cm))
}

func (s *Server) handleToRead(c *gin.Context) {
	c.JSON(http.StatusOK, paginate(s.graph.ToRead(viewer(c)), queryPage(c), s.perPage, toBookJSON))
}

type addToReadRequest struct {
	BookID    string   `json:"bookId"`
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Thumbnail string   `json:"thumbnail"`
}

func (s *Server) handleAddToRead(c *gin.Context) {
	var req addToReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	b, err := s.graph.AddToRead(viewer(c), SeedBook{
		ID:        req.BookID,
		Title:     req.Title,
		Authors:   req.Authors,
		Thumbnail: req.Thumbnail,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toBookJSON(b))
}

func (s *Server) handleRemoveToRead(c *gin.Context) {
	if err := s.graph.RemoveToRead(viewer(c), c.Param("bookId")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	u, err := s.graph.User(viewer(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserJSON(u))
}

func (s *Server) handleUserReviews(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	reviews, err := s.graph.UserReviews(viewer(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, paginate(reviews, queryPage(c), s.perPage, toReviewJSON))
}

func followJSON(st FollowState) gin.H {
	return gin.H{"followed": st.Followed, "pending": st.Pending, "followersCount": st.FollowersCount}
}

func (s *Server) handleFollow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	st, d, err := s.graph.Follow(viewer(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	s.deliver(d)
	c.JSON(http.StatusOK, followJSON(st))
}

func (s *Server) handleUnfollow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	st, err := s.graph.Unfollow(viewer(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, followJSON(st))
}

func (s *Server) handleBlock(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.graph.Block(viewer(c), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUnblock(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.graph.Unblock(viewer(c), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, paginate(s.graph.Notifications(viewer(c)), queryPage(c), s.perPage, toNotificationJSON))
}

func (s *Server) handleUnreadCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": s.graph.UnreadCount(viewer(c))})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	unread, err := s.graph.MarkRead(viewer(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	s.pushUnread(viewer(c), unread)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMarkAllRead(c *gin.Context) {
	s.graph.MarkAllRead(viewer(c))
	s.pushUnread(viewer(c), 0)
	c.Status(http.StatusNoContent)
}

type deviceTokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func (s *Server) handleDeviceToken(c *gin.Context) {
	var req deviceTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		abort(c, http.StatusBadRequest, "token required")
		return
	}
	s.graph.RegisterDevice(viewer(c), req.Token, req.Platform)
	c.Status(http.StatusNoContent)
}

func ownChannel(c *gin.Context) string {
	return notify.ChannelName(strconv.FormatInt(viewer(c), 10))
}

type subscribeRequest struct {
	Channel string `json:"channel"`
}

// handleSubscribe 只允许订阅自己的通知频道。
func (s *Server) handleSubscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Channel != ownChannel(c) {
		abort(c, http.StatusForbidden, "channel not allowed")
		return
	}
	s.hub.Subscribe(req.Channel)
	c.Status(http.StatusNoContent)
}

// streamChannel 校验流请求的频道已完成订阅握手。
func (s *Server) streamChannel(c *gin.Context) (string, bool) {
	channel := c.Query("channels")
	if channel != ownChannel(c) {
		abort(c, http.StatusForbidden, "channel not allowed")
		return "", false
	}
	if !s.hub.Subscribed(channel) {
		abort(c, http.StatusForbidden, "channel not subscribed")
		return "", false
	}
	return channel, true
}

// handleEvents SSE 推送：连上后先发一帧当前未读数。
func (s *Server) handleEvents(c *gin.Context) {
	channel, ok := s.streamChannel(c)
	if !ok {
		return
	}
	l, detach := s.hub.attach(channel)
	defer detach()
	l.frames <- s.unreadFrame(viewer(c))

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Content-Type", "text/event-stream")
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case frame := <-l.frames:
			c.SSEvent("message", string(frame))
			return true
		case <-l.done:
			return false
		case <-ctx.Done():
			return false
		}
	})
}

// handleWS websocket 推送，帧内容与 SSE 相同。
func (s *Server) handleWS(c *gin.Context) {
	channel, ok := s.streamChannel(c)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		glog.Warningf("[DevServer] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	l, detach := s.hub.attach(channel)
	defer detach()
	l.frames <- s.unreadFrame(viewer(c))

	// 读循环只用来感知对端关闭
	go func() {
		defer l.stop()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame := <-l.frames:
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-l.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Server) unreadFrame(uid int64) []byte {
	raw, _ := json.Marshal(unreadFrame{Type: notify.EventUnreadCount, Count: s.graph.UnreadCount(uid)})
	return raw
}

func (s *Server) pushUnread(uid int64, count int) {
	raw, _ := json.Marshal(unreadFrame{Type: notify.EventUnreadCount, Count: count})
	s.hub.Publish(notify.ChannelName(strconv.FormatInt(uid, 10)), raw)
}

// deliver 把新通知推给接收者。
func (s *Server) deliver(d *Delivery) {
	if d == nil {
		return
	}
	raw, err := json.Marshal(notificationFrame{
		Type:         notify.EventNewNotification,
		Notification: toNotificationJSON(s.graph.DeliveryView(*d)),
		Count:        d.Unread,
	})
	if err != nil {
		glog.Errorf("[DevServer] encode notification: %v", err)
		return
	}
	n := s.hub.Publish(notify.ChannelName(strconv.FormatInt(d.UserID, 10)), raw)
	glog.V(1).Infof("[DevServer] notification %s for user %d delivered to %d listeners", d.Notification.kind, d.UserID, n)
}
