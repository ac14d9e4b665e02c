package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"PayPeer/internal/db"
	"PayPeer/internal/handler"
	"PayPeer/internal/pay"
	"PayPeer/internal/services"
	"PayPeer/utils"
)

type ClusterOverride struct {
	RPCURL   string `mapstructure:"rpc_url"`
	WSURL    string `mapstructure:"ws_url"`
	USDCMint string `mapstructure:"usdc_mint"`
}

type Config struct {
	Database struct {
		Driver  string `mapstructure:"driver"` // mysql | postgres
		DSN     string `mapstructure:"dsn"`
		Verbose bool   `mapstructure:"verbose"`
	} `mapstructure:"database"`
	Solana struct {
		Mainnet              ClusterOverride `mapstructure:"mainnet"`
		Devnet               ClusterOverride `mapstructure:"devnet"`
		Commitment           string          `mapstructure:"commitment"`
		PollInterval         time.Duration   `mapstructure:"poll_interval"`
		PriorityFee          uint64          `mapstructure:"priority_fee"` // micro-lamports / CU，0 为不设置
		Websocket            bool            `mapstructure:"websocket"`    // 订阅 reference 日志，收到通知立即检查
		MaxTransientFailures int             `mapstructure:"max_transient_failures"`
	} `mapstructure:"solana"`
	App struct {
		Port          int           `mapstructure:"port"`
		BaseURL       string        `mapstructure:"base_url"`
		AllowInsecure bool          `mapstructure:"allow_insecure"`
		AdminCIDRs    []string      `mapstructure:"admin_cidrs"`
		Warmup        time.Duration `mapstructure:"warmup"`
		LogLevel      string        `mapstructure:"log_level"`
		MaxListeners  int           `mapstructure:"max_listeners"`
	} `mapstructure:"app"`
}

func loadConfig() (*Config, error) {
	// .env 可选，变量会被 AutomaticEnv 读到
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("solana.commitment", string(rpc.CommitmentConfirmed))
	v.SetDefault("solana.poll_interval", "500ms")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.base_url", "http://localhost:8080")
	v.SetDefault("app.warmup", "3s")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.max_listeners", 100)
	// 没有默认值的 key 需要显式绑定环境变量，Unmarshal 才能读到
	for _, key := range []string{"database.dsn", "database.verbose", "solana.priority_fee", "solana.websocket",
		"solana.max_transient_failures", "app.allow_insecure", "app.admin_cidrs",
		"solana.mainnet.rpc_url", "solana.mainnet.ws_url", "solana.mainnet.usdc_mint",
		"solana.devnet.rpc_url", "solana.devnet.ws_url", "solana.devnet.usdc_mint"} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if cfg.Database.DSN == "" {
		return nil, errors.New("缺少 database.dsn")
	}
	return &cfg, nil
}

// buildClusters 在默认集群配置上应用覆盖项
func buildClusters(cfg *Config) (pay.Clusters, error) {
	clusters := pay.DefaultClusters()
	for name, o := range map[pay.Cluster]ClusterOverride{
		pay.MainnetBeta: cfg.Solana.Mainnet,
		pay.Devnet:      cfg.Solana.Devnet,
	} {
		c := clusters[name]
		if o.RPCURL != "" {
			c.RPCURL = o.RPCURL
		}
		if o.WSURL != "" {
			c.WSURL = o.WSURL
		}
		if o.USDCMint != "" {
			mint, err := solana.PublicKeyFromBase58(o.USDCMint)
			if err != nil {
				return nil, fmt.Errorf("%s usdc_mint 无效: %w", name, err)
			}
			c.USDCMint = mint
		}
		clusters[name] = c
	}
	return clusters, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	utils.SetLevel(utils.ParseLevel(cfg.App.LogLevel))
	logger := utils.NewLogger("main")

	conn, err := db.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.Verbose)
	if err != nil {
		log.Fatal("数据库连接失败: ", err)
	}
	store := db.NewStore(conn)
	if err := store.AutoMigrate(); err != nil {
		log.Fatal("表迁移失败: ", err)
	}
	logger.Info("数据库初始化完成 (%s)", cfg.Database.Driver)

	clusters, err := buildClusters(cfg)
	if err != nil {
		log.Fatal(err)
	}
	networks := services.NewNetworks(clusters, services.NetworkOptions{
		PriorityFee: cfg.Solana.PriorityFee,
		Websocket:   cfg.Solana.Websocket,
	})
	checkout := services.NewCheckoutService(store, networks, services.CheckoutConfig{
		BaseURL:              cfg.App.BaseURL,
		AllowInsecure:        cfg.App.AllowInsecure,
		Commitment:           rpc.CommitmentType(cfg.Solana.Commitment),
		Interval:             cfg.Solana.PollInterval,
		MaxListeners:         cfg.App.MaxListeners,
		MaxTransientFailures: cfg.Solana.MaxTransientFailures,
	})

	r := gin.Default()
	// 管理接口按来源 IP 放行，不信任任何代理头
	if err := r.SetTrustedProxies(nil); err != nil {
		log.Fatal(err)
	}
	handler.RegisterRoutes(r, &handler.Handler{
		Store:      store,
		Checkout:   checkout,
		Builders:   networks,
		AdminCIDRs: cfg.App.AdminCIDRs,
		Warmup:     cfg.App.Warmup,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("服务器启动于端口 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Gin 服务器启动失败: ", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("正在关闭，进行中的收款: %d", checkout.Active())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP 关闭失败: %v", err)
	}
	checkout.Shutdown()
	logger.Info("已退出")
}
