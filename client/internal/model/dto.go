package model

import "time"

// 后端 JSON 形状并不统一（历史接口混用 camelCase / snake_case），
// DTO 只负责兜底解析，再统一映射成领域结构。

// PageMeta 后端分页元信息。
type PageMeta struct {
	Total       int `json:"total"`
	PerPage     int `json:"perPage"`
	CurrentPage int `json:"currentPage"`
	LastPage    int `json:"lastPage"`
}

// Envelope 后端分页响应：{ meta, data }。
type Envelope[D any] struct {
	Meta PageMeta `json:"meta"`
	Data []D      `json:"data"`
}

// ToPage 把分页响应映射成领域分页。
func ToPage[D any, T any](env Envelope[D], mapItem func(D) T) Page[T] {
	items := make([]T, 0, len(env.Data))
	for _, d := range env.Data {
		items = append(items, mapItem(d))
	}
	return Page[T]{
		Items: items,
		Pagination: Pagination{
			CurrentPage: env.Meta.CurrentPage,
			LastPage:    env.Meta.LastPage,
			Total:       env.Meta.Total,
		},
	}
}

type UserDTO struct {
	ID             int64  `json:"id" mapstructure:"id"`
	UserName       string `json:"userName" mapstructure:"userName"`
	Username       string `json:"username" mapstructure:"username"`
	FirstName      string `json:"firstName" mapstructure:"firstName"`
	LastName       string `json:"lastName" mapstructure:"lastName"`
	Avatar         string `json:"avatar" mapstructure:"avatar"`
	AvatarURL      string `json:"avatarUrl" mapstructure:"avatarUrl"`
	AvatarURLSnake string `json:"avatar_url" mapstructure:"avatar_url"`
	ProfilePicture string `json:"profilePicture" mapstructure:"profilePicture"`
	IsPrivate      bool   `json:"isPrivate" mapstructure:"isPrivate"`
	FollowersCount int    `json:"followersCount" mapstructure:"followersCount"`
	FollowingCount int    `json:"followingCount" mapstructure:"followingCount"`
	IsFollowing    bool   `json:"isFollowing" mapstructure:"isFollowing"`
	HasPending     bool   `json:"hasPendingRequest" mapstructure:"hasPendingRequest"`
	IsBlocked      bool   `json:"isBlocked" mapstructure:"isBlocked"`
}

// ToDomain 头像字段兜底顺序：avatar → avatarUrl → avatar_url → profilePicture。
func (d UserDTO) ToDomain() User {
	username := d.Username
	if username == "" {
		username = d.UserName
	}
	return User{
		ID:                   d.ID,
		Username:             username,
		FirstName:            d.FirstName,
		LastName:             d.LastName,
		Avatar:               firstNonEmpty(d.Avatar, d.AvatarURL, d.AvatarURLSnake, d.ProfilePicture),
		IsPrivate:            d.IsPrivate,
		FollowersCount:       d.FollowersCount,
		FollowingCount:       d.FollowingCount,
		IsFollowing:          d.IsFollowing,
		FollowRequestPending: d.HasPending,
		IsBlocked:            d.IsBlocked,
	}
}

type BookDTO struct {
	GoogleID  string   `json:"googleId"`
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Thumbnail string   `json:"thumbnail"`
	CoverURL  string   `json:"coverUrl"`
}

func (d BookDTO) ToDomain() Book {
	return Book{
		ID:        firstNonEmpty(d.GoogleID, d.ID),
		Title:     d.Title,
		Authors:   d.Authors,
		Thumbnail: firstNonEmpty(d.Thumbnail, d.CoverURL),
	}
}

type ReviewDTO struct {
	ID              int64     `json:"id"`
	Content         string    `json:"content"`
	Value           float64   `json:"value"`
	Author          *UserDTO  `json:"author"`
	User            *UserDTO  `json:"user"`
	Book            BookDTO   `json:"book"`
	IsLiked         *bool     `json:"isLiked"`
	IsLikedSnake    *bool     `json:"is_liked"`
	Liked           *bool     `json:"liked"`
	LikesCount      *int      `json:"likesCount"`
	LikesCountSnake *int      `json:"likes_count"`
	CommentsCount   int       `json:"commentsCount"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ToDomain 点赞状态字段统一为 IsLiked / LikesCount。
func (d ReviewDTO) ToDomain() Review {
	var author User
	if d.Author != nil {
		author = d.Author.ToDomain()
	} else if d.User != nil {
		author = d.User.ToDomain()
	}
	return Review{
		ID:            d.ID,
		Content:       d.Content,
		Rating:        d.Value,
		Author:        author,
		Book:          d.Book.ToDomain(),
		IsLiked:       firstBool(d.IsLiked, d.IsLikedSnake, d.Liked),
		LikesCount:    firstInt(d.LikesCount, d.LikesCountSnake),
		CommentsCount: d.CommentsCount,
		CreatedAt:     d.CreatedAt,
	}
}

type CommentDTO struct {
	ID        int64     `json:"id"`
	ReviewID  int64     `json:"reviewId"`
	Content   string    `json:"content"`
	Author    *UserDTO  `json:"author"`
	User      *UserDTO  `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
}

func (d CommentDTO) ToDomain() Comment {
	c := Comment{
		ID:        d.ID,
		ReviewID:  d.ReviewID,
		Content:   d.Content,
		CreatedAt: d.CreatedAt,
	}
	if d.Author != nil {
		c.Author = d.Author.ToDomain()
	} else if d.User != nil {
		c.Author = d.User.ToDomain()
	}
	return c
}

// NotificationDTO 同时用于 REST 列表与实时事件（实时事件经 mapstructure 解码）。
type NotificationDTO struct {
	ID        int64     `json:"id" mapstructure:"id"`
	Type      string    `json:"type" mapstructure:"type"`
	Read      bool      `json:"read" mapstructure:"read"`
	IsRead    bool      `json:"isRead" mapstructure:"isRead"`
	Actor     *UserDTO  `json:"actor" mapstructure:"actor"`
	FromUser  *UserDTO  `json:"fromUser" mapstructure:"fromUser"`
	ReviewID  int64     `json:"reviewId" mapstructure:"reviewId"`
	CreatedAt time.Time `json:"createdAt" mapstructure:"createdAt"`
}

func (d NotificationDTO) ToDomain() Notification {
	n := Notification{
		ID:        d.ID,
		Type:      d.Type,
		Read:      d.Read || d.IsRead,
		ReviewID:  d.ReviewID,
		CreatedAt: d.CreatedAt,
	}
	if d.Actor != nil {
		u := d.Actor.ToDomain()
		n.Actor = &u
	} else if d.FromUser != nil {
		u := d.FromUser.ToDomain()
		n.Actor = &u
	}
	return n
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstBool(vals ...*bool) bool {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return false
}

func firstInt(vals ...*int) int {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}
