package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/wfunc/tabletop-client/internal/auth"
	"github.com/wfunc/tabletop-client/internal/client"
	"github.com/wfunc/tabletop-client/internal/config"
	"github.com/wfunc/tabletop-client/internal/database"
	"github.com/wfunc/tabletop-client/internal/dialogue"
	"github.com/wfunc/tabletop-client/internal/errors"
	"github.com/wfunc/tabletop-client/internal/eventloop"
	"github.com/wfunc/tabletop-client/internal/logger"
	"github.com/wfunc/tabletop-client/internal/repository"
	"github.com/wfunc/tabletop-client/internal/session"
	"github.com/wfunc/tabletop-client/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const shutdownTimeout = 5 * time.Second

// App 客户端实例
type App struct {
	cfg    *config.Config
	mode   string
	gameID string
	logger *zap.Logger

	db      *gorm.DB
	storage *storage.Store
	loop    *eventloop.Loop

	room     *client.Room
	lobby    *client.Lobby
	auth     *client.Auth
	callback *auth.CallbackServer

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		mode        = flag.String("mode", "lobby", "运行模式 (lobby/room/login)")
		gameID      = flag.String("game", "", "房间模式下的游戏id")
		showVersion = flag.Bool("version", false, "显示版本信息")
	)
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	if *mode == "room" && *gameID == "" {
		fmt.Println("房间模式需要 -game 参数")
		os.Exit(2)
	}

	app := NewApp(cfg, *mode, *gameID)
	if err := app.Start(); err != nil {
		logger.Fatal("客户端启动失败", zap.Error(err))
	}

	go app.readCommands(os.Stdin)

	// 等待退出信号
	app.WaitForShutdown()

	if err := app.Shutdown(); err != nil {
		logger.Error("客户端关闭失败", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("客户端已退出")
}

// NewApp 创建客户端实例
func NewApp(cfg *config.Config, mode, gameID string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:    cfg,
		mode:   mode,
		gameID: gameID,
		logger: logger.GetLogger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 初始化本地存储、事件循环并进入所选上下文
func (a *App) Start() error {
	a.logger.Info("正在启动客户端...",
		zap.String("version", Version),
		zap.String("mode", a.mode),
		zap.String("server", a.cfg.Server.URL),
	)

	if err := a.initStorage(); err != nil {
		return err
	}

	a.loop = eventloop.New(a.cfg.Session.LoopBuffer)
	a.loop.Start(a.ctx)

	var err error
	switch a.mode {
	case "room":
		err = a.call(a.startRoom)
	case "lobby":
		err = a.call(a.startLobby)
	case "login":
		err = a.startLogin()
	default:
		err = errors.Newf(errors.ErrInvalidParam, "未知的运行模式: %s", a.mode)
	}
	if err != nil {
		return err
	}

	// 监听配置变化
	config.Watch(func(newCfg *config.Config) {
		a.logger.Info("配置已更新", zap.String("log_level", newCfg.Log.Level))
		logger.SetLevel(newCfg.Log.Level)
	})
	return nil
}

// initStorage 打开本地数据库
func (a *App) initStorage() error {
	db, err := database.Open(&a.cfg.Database)
	if err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "打开本地数据库失败")
	}
	if a.cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(db, &a.cfg.Database); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "本地数据库迁移失败")
		}
	}
	a.db = db
	a.storage = storage.New(repository.NewEntryRepository(db), a.cfg.Storage.Namespace)
	return nil
}

// call 在事件循环上执行
func (a *App) call(fn func() error) error {
	ctx, cancel := context.WithTimeout(a.ctx, shutdownTimeout)
	defer cancel()
	var err error
	if callErr := a.loop.Call(ctx, func() { err = fn() }); callErr != nil {
		return callErr
	}
	return err
}

func (a *App) notice(n session.Notice) {
	fmt.Printf("[%s] %s\n", n.Kind, n.Message)
}

func (a *App) startRoom() error {
	sink := dialogue.SinkFunc(func(f dialogue.Frame) {
		if f.Phase == dialogue.AwaitingAdvance || f.Phase == dialogue.PageComplete {
			fmt.Printf("%s: %s (%d/%d)\n", f.Speaker, f.Text, f.Page+1, f.Pages)
		}
	})
	a.room = client.NewRoom(a.loop, a.cfg, a.storage, sink, a.notice)
	a.room.Session().OnChange(func(st session.State) {
		a.logger.Debug("会话状态变化",
			zap.Int("players", len(st.Players)),
			zap.Int("chat", len(st.Chat)),
			zap.Bool("in_combat", st.InCombat()))
	})
	a.room.Mount(a.ctx, a.gameID)
	return nil
}

func (a *App) startLobby() error {
	a.lobby = client.NewLobby(a.loop, a.cfg, a.storage, func(gameID string) {
		fmt.Printf("游戏已创建: %s\n", gameID)
	}, a.notice)
	a.lobby.OnChange(func(st session.State) {
		if len(st.Games) > 0 {
			fmt.Printf("游戏列表: %v\n", st.Games)
		}
	})
	a.lobby.Open(a.ctx)
	return nil
}

func (a *App) startLogin() error {
	if err := a.call(func() error {
		a.auth = client.NewAuth(a.loop, a.cfg, a.storage, a.notice)
		a.auth.OnChange(func(st session.State) {
			if st.Self != nil && !st.Self.IsGuest {
				fmt.Printf("已登录: %s <%s>\n", st.Self.Name, st.Self.Email)
			}
		})
		return nil
	}); err != nil {
		return err
	}

	a.callback = auth.NewCallbackServer(a.cfg.Auth.CallbackAddr, a.auth.Bridge())
	if err := a.callback.Start(); err != nil {
		return err
	}
	loginURL, err := a.auth.Bridge().LoginURL()
	if err != nil {
		return err
	}
	fmt.Printf("请在浏览器中打开: %s\n", loginURL)
	return nil
}

// WaitForShutdown 等待关闭信号
func (a *App) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case sig := <-sigCh:
		a.logger.Info("收到退出信号", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
	}
}

// Shutdown 关闭连接、事件循环和本地数据库
func (a *App) Shutdown() error {
	a.logger.Info("正在关闭客户端...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.callback != nil {
		if err := a.callback.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("关闭回调服务失败", zap.Error(err))
		}
	}

	if a.loop != nil {
		err := a.loop.Call(shutdownCtx, func() {
			if a.room != nil {
				a.room.Unmount()
			}
			if a.lobby != nil {
				a.lobby.Close()
			}
			if a.auth != nil {
				a.auth.Close()
			}
		})
		if err != nil {
			a.logger.Warn("关闭连接超时", zap.Error(err))
		}
		a.loop.Stop()
	}
	a.cancel()

	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Error("关闭数据库失败", zap.Error(err))
		}
	}

	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}
	return nil
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("桌游客户端\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
