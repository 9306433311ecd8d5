package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/docopt/docopt-go"
	"go.uber.org/zap"

	"inkgora/client/internal/api"
	"inkgora/client/internal/app"
	"inkgora/client/internal/config"
	"inkgora/client/internal/logger"
	"inkgora/client/internal/model"
	"inkgora/client/internal/mutation"
)

const InkgoraVersion = "0.1.0"

func main() {
	usage := `InkGora command line client.

The access token is read from --token, then INKGORA_ACCESS_TOKEN, then api.access_token.

Usage:
    inkgora feed [--page=<n>] [--config=<path>] [--token=<token>]
    inkgora like <review_id> [--config=<path>] [--token=<token>]
    inkgora follow <user_id> [--config=<path>] [--token=<token>]
    inkgora unfollow <user_id> [--config=<path>] [--token=<token>]
    inkgora to-read add <book_id> <title> [--config=<path>] [--token=<token>]
    inkgora notifications [--config=<path>] [--token=<token>]
    inkgora device <push_token> <platform> [--config=<path>] [--token=<token>]
    inkgora tail [--config=<path>] [--token=<token>]
    inkgora -h | --help
    inkgora --version

Options:
    -h --help           Show this screen.
    --version           Show version.
    --page=<n>          Load feed pages up to n [default: 1].
    --config=<path>     YAML config file.
    --token=<token>     Access token (JWT).`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], InkgoraVersion)
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := open(ctx, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "inkgora:", err)
		os.Exit(1)
	}
	defer cleanup()

	if feed_, _ := opts.Bool("feed"); feed_ {
		err = feed(ctx, a, opts)
	} else if like_, _ := opts.Bool("like"); like_ {
		err = like(ctx, a, opts)
	} else if follow_, _ := opts.Bool("follow"); follow_ {
		err = follow(ctx, a, opts, true)
	} else if unfollow_, _ := opts.Bool("unfollow"); unfollow_ {
		err = follow(ctx, a, opts, false)
	} else if toRead_, _ := opts.Bool("to-read"); toRead_ {
		err = addToRead(ctx, a, opts)
	} else if notifications_, _ := opts.Bool("notifications"); notifications_ {
		err = notifications(ctx, a)
	} else if device_, _ := opts.Bool("device"); device_ {
		err = device(ctx, a, opts)
	} else if tail_, _ := opts.Bool("tail"); tail_ {
		err = tail(ctx, a)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "inkgora:", err)
		cleanup()
		os.Exit(1)
	}
}

// open 加载配置、建立会话并组装客户端；cleanup 登出并释放资源。
func open(ctx context.Context, opts docopt.Opts) (*app.App, func(), error) {
	path, _ := opts.String("--config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(cfg.Logging)

	token, _ := opts.String("--token")
	if token == "" {
		token = cfg.API.AccessToken
	}
	if token == "" {
		return nil, nil, api.ErrUnauthenticated
	}

	sessions, closeStore, err := app.NewSessionStore(ctx, cfg.Session)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.Login(ctx, cfg, sessions, token, log, app.Options{})
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}

	done := false
	return a, func() {
		if done {
			return
		}
		done = true
		if err := a.Logout(context.Background()); err != nil {
			log.Warn("[CLI] logout failed", zap.Error(err))
		}
		_ = a.Close()
		_ = closeStore()
		_ = log.Sync()
	}, nil
}

func parseID(opts docopt.Opts, name string) (int64, error) {
	raw, _ := opts.String(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return id, nil
}

func printReview(r model.Review) {
	liked := " "
	if r.IsLiked {
		liked = "♥"
	}
	fmt.Printf("#%-5d %s %3d likes %3d comments  @%s on %q\n",
		r.ID, liked, r.LikesCount, r.CommentsCount, r.Author.Username, r.Book.Title)
}

func feed(ctx context.Context, a *app.App, opts docopt.Opts) error {
	pages := 1
	if raw, _ := opts.String("--page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid --page: %q", raw)
		}
		pages = n
	}

	f := a.Feed()
	if _, err := f.LoadFirst(ctx); err != nil {
		return err
	}
	for i := 1; i < pages && f.HasMore(); i++ {
		if _, err := f.LoadMore(ctx); err != nil {
			return err
		}
	}
	for _, r := range f.Items() {
		printReview(r)
	}
	if f.HasMore() {
		fmt.Println("… more")
	}
	return nil
}

func like(ctx context.Context, a *app.App, opts docopt.Opts) error {
	id, err := parseID(opts, "<review_id>")
	if err != nil {
		return err
	}
	res, err := a.Feed().ToggleLike(ctx, id).Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("review #%d liked=%v likes=%d\n", id, res.IsLiked, res.LikesCount)
	return nil
}

func follow(ctx context.Context, a *app.App, opts docopt.Opts, on bool) error {
	id, err := parseID(opts, "<user_id>")
	if err != nil {
		return err
	}
	p := a.Profile(id)
	if _, err := p.Load(ctx); err != nil {
		return err
	}
	var h *mutation.Handle[api.FollowResult]
	if on {
		h = p.Follow(ctx)
	} else {
		h = p.Unfollow(ctx)
	}
	res, err := h.Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("user #%d following=%v pending=%v followers=%d\n", id, res.Followed, res.Pending, res.FollowersCount)
	return nil
}

func addToRead(ctx context.Context, a *app.App, opts docopt.Opts) error {
	bookID, _ := opts.String("<book_id>")
	title, _ := opts.String("<title>")
	book, err := a.ToReadList().Add(ctx, api.NewBook{BookID: bookID, Title: title}).Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("added %q (%s) to your to-read list\n", book.Title, book.ID)
	return nil
}

func notifications(ctx context.Context, a *app.App) error {
	n := a.Notifications()
	if _, err := n.RefreshUnread(ctx); err != nil {
		return err
	}
	items, err := n.LoadFirst(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d unread\n", n.UnreadCount())
	for _, item := range items {
		mark := " "
		if !item.Read {
			mark = "•"
		}
		actor := "someone"
		if item.Actor != nil {
			actor = "@" + item.Actor.Username
		}
		fmt.Printf("%s %-15s %s\n", mark, item.Type, actor)
	}
	return nil
}

func device(ctx context.Context, a *app.App, opts docopt.Opts) error {
	token, _ := opts.String("<push_token>")
	platform, _ := opts.String("<platform>")
	if err := a.RegisterDevice(ctx, token, platform); err != nil {
		return err
	}
	fmt.Println("device registered")
	return nil
}

// tail 连接通知通道并打印未读数变化，直到中断。
func tail(ctx context.Context, a *app.App) error {
	a.Counter().OnChange(func(n int) {
		fmt.Printf("unread: %d\n", n)
	})
	if err := a.Connect(ctx); err != nil {
		return err
	}
	fmt.Printf("listening on %s (ctrl-c to stop)\n", a.Channel().Name())
	<-ctx.Done()
	a.Channel().Disconnect()
	return nil
}
