package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"inkgora/client/internal/config"
	"inkgora/client/internal/logger"
	"inkgora/client/internal/model"
	"inkgora/client/internal/session"
)

// LikeResult 点赞接口返回的权威状态。
type LikeResult struct {
	IsLiked    bool `json:"isLiked"`
	LikesCount int  `json:"likesCount"`
}

// FollowResult 关注接口返回：私密账号只会产生待处理请求（Followed=false, Pending=true）。
type FollowResult struct {
	Followed       bool `json:"followed"`
	Pending        bool `json:"pending"`
	FollowersCount int  `json:"followersCount"`
}

// NewBook 加入待读清单时提交的书籍信息。
type NewBook struct {
	BookID    string   `json:"bookId"`
	Title     string   `json:"title"`
	Authors   []string `json:"authors,omitempty"`
	Thumbnail string   `json:"thumbnail,omitempty"`
}

// Client 远端数据网关。每次调用携带 bearer 令牌；没有令牌时直接返回 ErrUnauthenticated。
type Client struct {
	baseURL    string
	tokens     session.TokenProvider
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg config.APIConfig, tokens session.TokenProvider, l *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.OrNop(l),
	}
}

// BaseURL 供通知通道复用同一后端地址。
func (c *Client) BaseURL() string { return c.baseURL }

// Token 取当前令牌；未登录时返回 ErrUnauthenticated。
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", ErrUnauthenticated
	}
	tok, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return "", errors.WithMessage(err, "resolve access token")
	}
	if tok == "" {
		return "", ErrUnauthenticated
	}
	return tok, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	tok, err := c.Token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	reqID := uuid.NewString()
	req.Header.Set("X-Request-Id", reqID)

	op := method + " " + path
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("[API] request failed", zap.String("op", op), zap.String("request_id", reqID), zap.Error(err))
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: op, Err: errors.Wrap(err, "read response")}
	}

	c.logger.Debug("[API] response",
		zap.String("op", op),
		zap.String("request_id", reqID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return serverError(resp.StatusCode, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrapf(err, "decode %s", op)
	}
	return nil
}

func serverError(status int, body []byte) error {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Message == "" {
		payload.Message = strings.TrimSpace(string(body))
	}
	return &ServerError{Status: status, Message: payload.Message}
}

func withPage(path string, page int) string {
	if page <= 0 {
		page = 1
	}
	return path + "?" + url.Values{"page": {strconv.Itoa(page)}}.Encode()
}

func id64(id int64) string { return strconv.FormatInt(id, 10) }

// Feed GET /feed/{page}
func (c *Client) Feed(ctx context.Context, page int) (model.Page[model.Review], error) {
	if page <= 0 {
		page = 1
	}
	var env model.Envelope[model.ReviewDTO]
	if err := c.do(ctx, http.MethodGet, "/feed/"+strconv.Itoa(page), nil, &env); err != nil {
		return model.Page[model.Review]{}, err
	}
	return model.ToPage(env, model.ReviewDTO.ToDomain), nil
}

// LikeReview 切换点赞，返回服务端最终状态。
func (c *Client) LikeReview(ctx context.Context, reviewID int64) (LikeResult, error) {
	var out LikeResult
	err := c.do(ctx, http.MethodPost, "/review/"+id64(reviewID)+"/like", nil, &out)
	return out, err
}

func (c *Client) ReviewComments(ctx context.Context, reviewID int64, page int) (model.Page[model.Comment], error) {
	var env model.Envelope[model.CommentDTO]
	if err := c.do(ctx, http.MethodGet, withPage("/review/"+id64(reviewID)+"/comments", page), nil, &env); err != nil {
		return model.Page[model.Comment]{}, err
	}
	return model.ToPage(env, model.CommentDTO.ToDomain), nil
}

func (c *Client) AddComment(ctx context.Context, reviewID int64, content string) (model.Comment, error) {
	var dto model.CommentDTO
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPost, "/review/"+id64(reviewID)+"/comment", body, &dto); err != nil {
		return model.Comment{}, err
	}
	cm := dto.ToDomain()
	if cm.ReviewID == 0 {
		cm.ReviewID = reviewID
	}
	return cm, nil
}

func (c *Client) ToReadList(ctx context.Context, page int) (model.Page[model.Book], error) {
	var env model.Envelope[model.BookDTO]
	if err := c.do(ctx, http.MethodGet, withPage("/to-read-list", page), nil, &env); err != nil {
		return model.Page[model.Book]{}, err
	}
	return model.ToPage(env, model.BookDTO.ToDomain), nil
}

func (c *Client) AddToReadList(ctx context.Context, book NewBook) (model.Book, error) {
	var dto model.BookDTO
	if err := c.do(ctx, http.MethodPost, "/to-read-list", book, &dto); err != nil {
		return model.Book{}, err
	}
	return dto.ToDomain(), nil
}

func (c *Client) RemoveFromToReadList(ctx context.Context, bookID string) error {
	return c.do(ctx, http.MethodDelete, "/to-read-list/"+url.PathEscape(bookID), nil, nil)
}

func (c *Client) User(ctx context.Context, userID int64) (model.User, error) {
	var dto model.UserDTO
	if err := c.do(ctx, http.MethodGet, "/user/"+id64(userID), nil, &dto); err != nil {
		return model.User{}, err
	}
	return dto.ToDomain(), nil
}

func (c *Client) UserReviews(ctx context.Context, userID int64, page int) (model.Page[model.Review], error) {
	var env model.Envelope[model.ReviewDTO]
	if err := c.do(ctx, http.MethodGet, withPage("/user/"+id64(userID)+"/reviews", page), nil, &env); err != nil {
		return model.Page[model.Review]{}, err
	}
	return model.ToPage(env, model.ReviewDTO.ToDomain), nil
}

func (c *Client) Follow(ctx context.Context, userID int64) (FollowResult, error) {
	var out FollowResult
	err := c.do(ctx, http.MethodPost, "/user/"+id64(userID)+"/follow", nil, &out)
	return out, err
}

func (c *Client) Unfollow(ctx context.Context, userID int64) (FollowResult, error) {
	var out FollowResult
	err := c.do(ctx, http.MethodPost, "/user/"+id64(userID)+"/unfollow", nil, &out)
	return out, err
}

func (c *Client) Block(ctx context.Context, userID int64) error {
	return c.do(ctx, http.MethodPost, "/user/"+id64(userID)+"/block", nil, nil)
}

func (c *Client) Unblock(ctx context.Context, userID int64) error {
	return c.do(ctx, http.MethodPost, "/user/"+id64(userID)+"/unblock", nil, nil)
}

func (c *Client) Notifications(ctx context.Context, page int) (model.Page[model.Notification], error) {
	var env model.Envelope[model.NotificationDTO]
	if err := c.do(ctx, http.MethodGet, withPage("/notifications", page), nil, &env); err != nil {
		return model.Page[model.Notification]{}, err
	}
	return model.ToPage(env, model.NotificationDTO.ToDomain), nil
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/notifications/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPatch, "/notifications/"+id64(id)+"/read", nil, nil)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/notifications/mark-all-read", nil, nil)
}

// RegisterDeviceToken 上报推送令牌。
func (c *Client) RegisterDeviceToken(ctx context.Context, token, platform string) error {
	body := map[string]string{"token": token, "platform": platform}
	return c.do(ctx, http.MethodPost, "/device-token", body, nil)
}
