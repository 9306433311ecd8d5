package viewmodel

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"inkgora/client/internal/api"
	"inkgora/client/internal/cache"
	"inkgora/client/internal/logger"
	"inkgora/client/internal/model"
	"inkgora/client/internal/mutation"
	"inkgora/client/internal/notify"
)

// Gateway 视图层用到的远端接口，*api.Client 实现了它。
type Gateway interface {
	Feed(ctx context.Context, page int) (model.Page[model.Review], error)
	LikeReview(ctx context.Context, reviewID int64) (api.LikeResult, error)
	ReviewComments(ctx context.Context, reviewID int64, page int) (model.Page[model.Comment], error)
	AddComment(ctx context.Context, reviewID int64, content string) (model.Comment, error)

	ToReadList(ctx context.Context, page int) (model.Page[model.Book], error)
	AddToReadList(ctx context.Context, book api.NewBook) (model.Book, error)
	RemoveFromToReadList(ctx context.Context, bookID string) error

	User(ctx context.Context, userID int64) (model.User, error)
	UserReviews(ctx context.Context, userID int64, page int) (model.Page[model.Review], error)
	Follow(ctx context.Context, userID int64) (api.FollowResult, error)
	Unfollow(ctx context.Context, userID int64) (api.FollowResult, error)
	Block(ctx context.Context, userID int64) error
	Unblock(ctx context.Context, userID int64) error

	Notifications(ctx context.Context, page int) (model.Page[model.Notification], error)
	UnreadCount(ctx context.Context) (int, error)
	MarkNotificationRead(ctx context.Context, id int64) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// Stores 各实体的缓存，全部登记到同一个 Registry，登出时一起清空。
type Stores struct {
	Reviews       *cache.Store[model.Review]
	Users         *cache.Store[model.User]
	Books         *cache.Store[model.Book]
	Notifications *cache.Store[model.Notification]
	Comments      *cache.Store[model.Comment]
}

func NewStores(reg *cache.Registry) Stores {
	return Stores{
		Reviews:       cache.Register(reg, cache.NewStore(model.ReviewKey)),
		Users:         cache.Register(reg, cache.NewStore(model.UserKey)),
		Books:         cache.Register(reg, cache.NewStore(model.BookKey)),
		Notifications: cache.Register(reg, cache.NewStore(model.NotificationKey)),
		Comments:      cache.Register(reg, cache.NewStore(model.CommentKey)),
	}
}

// Deps 视图模型的公共依赖。Me 为当前登录用户，用于乐观创建时的作者信息。
type Deps struct {
	Gateway     Gateway
	Coordinator *mutation.Coordinator
	Stores      Stores
	Counter     *notify.Counter
	Me          model.User
	Logger      *zap.Logger
}

func (d Deps) log() *zap.Logger { return logger.OrNop(d.Logger) }

// 变更 key：同一实体上的变更串行执行。
func reviewMutationKey(id int64) string   { return "review/" + strconv.FormatInt(id, 10) }
func relationMutationKey(id int64) string { return "relation/" + strconv.FormatInt(id, 10) }
func bookMutationKey(id string) string    { return "toReadList/" + id }

const notificationsReadKey = "notifications/read"

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
