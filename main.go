package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"WSChat/api"
	"WSChat/config"
	"WSChat/logger"
	"WSChat/service/chat"
	"WSChat/service/event"
	"WSChat/service/storage"
	"WSChat/tools/ids"
	"WSChat/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	nodeID := flag.Int64("node", 1, "snowflake node id (0~1023)")
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		logger.Warnf("[Main] config %s not loaded (%v), using defaults", *configPath, err)
		settings = config.Default()
	} else {
		config.Watch(*configPath)
	}
	logger.SetLevel(settings.LogLevel)
	ids.SetNodeID(*nodeID)

	if settings.Server.Workers > 0 {
		runtime.GOMAXPROCS(settings.Server.Workers)
	}

	auth := chat.NewAuthenticator(settings.Auth)
	server, err := chat.NewServer(settings, auth)
	if err != nil {
		logger.Errorf("[Main] build server: %v", err)
		os.Exit(1)
	}

	// 事件扇出（机器人/webhook 消费侧）
	var notifier *event.Notifier
	if settings.Event.Enabled {
		node := fmt.Sprintf("wschat-%d", *nodeID)
		notifier, err = event.NewNotifier(settings.Event, node, server.IsOnline)
		if err != nil {
			logger.Errorf("[Main] event notifier: %v", err)
			os.Exit(1)
		}
		server.AddMessageListener(notifier.Listener())
		server.AddStopListener(func() { notifier.Close() })
	}

	// 在线状态镜像：客户端在这里构造并注入，停机时一并关闭
	if settings.Presence.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     settings.Presence.Addr,
			Password: settings.Presence.Password,
			DB:       settings.Presence.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		err = rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Errorf("[Main] presence redis: %v", err)
			os.Exit(1)
		}
		presence := storage.NewPresenceManager(rdb, storage.PresenceConfig{
			NodeID:  fmt.Sprintf("wschat-%d", *nodeID),
			Channel: settings.Presence.Channel,
		})
		server.AddConnectionListener(presence.Listener())
		server.AddStopListener(func() { _ = rdb.Close() })
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	endpoint := chat.NewEndpoint(server)
	path := settings.Server.Endpoint
	if path == "" {
		path = "/chat"
	}
	engine.GET(path, endpoint.Handle)

	addr := fmt.Sprintf("%s:%d", settings.Server.Address, settings.Server.Port)
	httpSrv := &http.Server{Addr: addr, Handler: engine}

	proto := "ws"
	if settings.Server.Secure.Enabled {
		proto = "wss"
	}
	hostname := settings.Server.Address
	if hostname == "" {
		hostname = "[any:address]"
	}
	logger.Infof("[WebSocket Server] started at %s://%s:%d%s", proto, hostname, settings.Server.Port, path)

	safe.Go(func() {
		var serveErr error
		if settings.Server.Secure.Enabled {
			serveErr = httpSrv.ListenAndServeTLS(settings.Server.Secure.CrtPath, settings.Server.Secure.KeyPath)
		} else {
			serveErr = httpSrv.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Errorf("[Main] serve: %v", serveErr)
		}
	})

	// 管理 REST（独立端口）
	var restSrv *http.Server
	if settings.RestAPI.Enabled {
		restAddr := fmt.Sprintf("%s:%d", settings.RestAPI.Address, settings.RestAPI.Port)
		restSrv = &http.Server{Addr: restAddr, Handler: api.NewRouter(server, settings.RestAPI)}
		logger.Infof("[RestApi] started at http://%s", restAddr)
		safe.Go(func() {
			if serveErr := restSrv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Errorf("[Main] rest serve: %v", serveErr)
			}
		})
	}

	server.StartWatchdog()

	// SIGINT/SIGTERM -> 优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Infof("[Main] got signal %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	if restSrv != nil {
		_ = restSrv.Shutdown(ctx)
	}
	server.Stop()
}
