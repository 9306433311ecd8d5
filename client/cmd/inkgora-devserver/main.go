package main

import (
	"flag"
	"net/http"

	"github.com/golang/glog"

	"inkgora/client/internal/config"
	"inkgora/client/internal/devserver"
)

func main() {
	// 本地开发后端：参数用 flag，JWT 密钥可用 INKGORA_JWT_SECRET 覆盖。
	// 启动时为每个种子用户签发令牌并打印，便于直接交给 CLI 使用。
	configPath := flag.String("config", "", "yaml config path")
	addr := flag.String("addr", "", "http listen address (overrides devserver.addr)")
	seedPath := flag.String("seed", "", "seed json path (overrides devserver.seed_path)")
	perPage := flag.Int("per_page", 10, "page size")
	flag.Parse()
	defer glog.Flush()

	cfg, err := config.Load(*configPath)
	if err != nil {
		glog.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.DevServer.Addr = *addr
	}
	if *seedPath != "" {
		cfg.DevServer.SeedPath = *seedPath
	}

	server, err := devserver.NewServer(cfg.DevServer, devserver.WithPerPage(*perPage))
	if err != nil {
		glog.Fatalf("init server: %v", err)
	}

	for _, id := range server.Graph().UserIDs() {
		if tok, err := server.IssueToken(id); err == nil {
			glog.Infof("token for user %d: %s", id, tok)
		}
	}

	glog.Infof("inkgora dev server listening on %s", cfg.DevServer.Addr)
	if err := http.ListenAndServe(cfg.DevServer.Addr, server.Routes()); err != nil {
		glog.Fatalf("serve: %v", err)
	}
}
