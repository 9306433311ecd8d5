package devserver

import (
	"time"
)

// 接口响应沿用线上后端的字段命名（userName、coverUrl、isRead 等混用），
// 客户端的 DTO 兜底逻辑依赖这些形状。

type pageMeta struct {
	Total       int `json:"total"`
	PerPage     int `json:"perPage"`
	CurrentPage int `json:"currentPage"`
	LastPage    int `json:"lastPage"`
}

type envelope[T any] struct {
	Meta pageMeta `json:"meta"`
	Data []T      `json:"data"`
}

// paginate 页码从 1 开始；超出范围返回空页，lastPage 至少为 1。
func paginate[S any, T any](all []S, page, perPage int, conv func(S) T) envelope[T] {
	if page < 1 {
		page = 1
	}
	last := (len(all) + perPage - 1) / perPage
	if last < 1 {
		last = 1
	}
	env := envelope[T]{
		Meta: pageMeta{Total: len(all), PerPage: perPage, CurrentPage: page, LastPage: last},
		Data: make([]T, 0, perPage),
	}
	start := (page - 1) * perPage
	for i := start; i < len(all) && i < start+perPage; i++ {
		env.Data = append(env.Data, conv(all[i]))
	}
	return env
}

type userJSON struct {
	ID                int64  `json:"id"`
	UserName          string `json:"userName"`
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	AvatarURL         string `json:"avatarUrl,omitempty"`
	IsPrivate         bool   `json:"isPrivate"`
	FollowersCount    int    `json:"followersCount"`
	FollowingCount    int    `json:"followingCount"`
	IsFollowing       bool   `json:"isFollowing"`
	HasPendingRequest bool   `json:"hasPendingRequest"`
	IsBlocked         bool   `json:"isBlocked"`
}

func toUserJSON(v UserView) userJSON {
	return userJSON{
		ID:                v.ID,
		UserName:          v.Username,
		FirstName:         v.FirstName,
		LastName:          v.LastName,
		AvatarURL:         v.Avatar,
		IsPrivate:         v.IsPrivate,
		FollowersCount:    v.FollowersCount,
		FollowingCount:    v.FollowingCount,
		IsFollowing:       v.IsFollowing,
		HasPendingRequest: v.Pending,
		IsBlocked:         v.IsBlocked,
	}
}

type bookJSON struct {
	GoogleID string   `json:"googleId"`
	Title    string   `json:"title"`
	Authors  []string `json:"authors"`
	CoverURL string   `json:"coverUrl,omitempty"`
}

func toBookJSON(b SeedBook) bookJSON {
	return bookJSON{GoogleID: b.ID, Title: b.Title, Authors: b.Authors, CoverURL: b.Thumbnail}
}

type reviewJSON struct {
	ID            int64     `json:"id"`
	Content       string    `json:"content"`
	Value         float64   `json:"value"`
	User          userJSON  `json:"user"`
	Book          bookJSON  `json:"book"`
	IsLiked       bool      `json:"is_liked"`
	LikesCount    int       `json:"likes_count"`
	CommentsCount int       `json:"commentsCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toReviewJSON(v ReviewView) reviewJSON {
	return reviewJSON{
		ID:            v.ID,
		Content:       v.Content,
		Value:         v.Rating,
		User:          toUserJSON(v.Author),
		Book:          toBookJSON(v.Book),
		IsLiked:       v.IsLiked,
		LikesCount:    v.LikesCount,
		CommentsCount: v.CommentsCount,
		CreatedAt:     v.CreatedAt,
	}
}

type commentJSON struct {
	ID        int64     `json:"id"`
	ReviewID  int64     `json:"reviewId"`
	Content   string    `json:"content"`
	Author    userJSON  `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

func toCommentJSON(v CommentView) commentJSON {
	return commentJSON{
		ID:        v.ID,
		ReviewID:  v.ReviewID,
		Content:   v.Content,
		Author:    toUserJSON(v.Author),
		CreatedAt: v.CreatedAt,
	}
}

type notificationJSON struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	IsRead    bool      `json:"isRead"`
	FromUser  *userJSON `json:"fromUser,omitempty"`
	ReviewID  int64     `json:"reviewId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toNotificationJSON(v NotificationView) notificationJSON {
	out := notificationJSON{
		ID:        v.ID,
		Type:      v.Type,
		IsRead:    v.Read,
		ReviewID:  v.ReviewID,
		CreatedAt: v.CreatedAt,
	}
	if v.Actor != nil {
		u := toUserJSON(*v.Actor)
		out.FromUser = &u
	}
	return out
}

// 推送帧
type unreadFrame struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type notificationFrame struct {
	Type         string           `json:"type"`
	Notification notificationJSON `json:"notification"`
	Count        int              `json:"count"`
}
