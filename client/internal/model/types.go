package model

import (
	"strconv"
	"time"
)

// Pagination 服务端分页游标（与后端 meta 字段一致）。
type Pagination struct {
	CurrentPage int `json:"currentPage"`
	LastPage    int `json:"lastPage"`
	Total       int `json:"total"`
}

// HasMore 是否还有下一页。
func (p Pagination) HasMore() bool {
	return p.CurrentPage < p.LastPage
}

// Page 一页数据，Items 保持服务端顺序。
type Page[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// User 用户资料（含当前登录用户视角下的关系状态）。
type User struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Avatar         string `json:"avatar"`
	IsPrivate      bool   `json:"isPrivate"`
	FollowersCount int    `json:"followersCount"`
	FollowingCount int    `json:"followingCount"`

	IsFollowing          bool `json:"isFollowing"`
	FollowRequestPending bool `json:"followRequestPending"`
	IsBlocked            bool `json:"isBlocked"`
}

// Book 书籍信息，ID 为 Google Books volume id。
type Book struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Thumbnail string   `json:"thumbnail"`
}

// Review 书评。
type Review struct {
	ID            int64     `json:"id"`
	Content       string    `json:"content"`
	Rating        float64   `json:"rating"`
	Author        User      `json:"author"`
	Book          Book      `json:"book"`
	LikesCount    int       `json:"likesCount"`
	IsLiked       bool      `json:"isLiked"`
	CommentsCount int       `json:"commentsCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Comment 书评评论。乐观创建期间 ID 为 0，TempID 用于定位。
type Comment struct {
	ID        int64     `json:"id"`
	TempID    string    `json:"tempId,omitempty"`
	ReviewID  int64     `json:"reviewId"`
	Author    User      `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notification 站内通知。
type Notification struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Read      bool      `json:"read"`
	Actor     *User     `json:"actor,omitempty"`
	ReviewID  int64     `json:"reviewId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// 缓存 id 函数
func ReviewKey(r Review) string             { return strconv.FormatInt(r.ID, 10) }
func BookKey(b Book) string                 { return b.ID }
func NotificationKey(n Notification) string { return strconv.FormatInt(n.ID, 10) }
func UserKey(u User) string                 { return strconv.FormatInt(u.ID, 10) }

func CommentKey(c Comment) string {
	if c.ID == 0 {
		return "tmp:" + c.TempID
	}
	return strconv.FormatInt(c.ID, 10)
}
