package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creditengine/internal/config"
	"creditengine/internal/handler"
	"creditengine/internal/infrastructure/cache"
	"creditengine/internal/infrastructure/database"
	"creditengine/internal/infrastructure/metrics"
	"creditengine/internal/infrastructure/mq"
	"creditengine/internal/infrastructure/storage"
	"creditengine/internal/job"
	"creditengine/internal/model"
	"creditengine/internal/payment"
	"creditengine/internal/service"
	"creditengine/pkg/idgen"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	workerID := flag.Int64("worker", 1, "ID 生成器 worker id")
	flag.Parse()

	cfg := config.LoadConfig(*configPath)

	idgen.Init(*workerID)

	db := database.InitMySQL(&cfg.MySQL)
	redisClient := cache.InitRedis(&cfg.Redis)

	producer, err := mq.NewKafkaProducer(&cfg.Kafka)
	if err != nil {
		log.Fatalf("创建 Kafka Producer 失败: %v", err)
	}
	defer producer.Close()

	m := metrics.Default()

	registry, verifiers := buildChannels(cfg)

	notifier := service.NewNotifier(db, cfg.Kafka.Topic.Notification)
	ledger := service.NewLedgerService(db, redisClient, cfg, notifier, m)
	coupons := service.NewCouponService(db)
	invoices := service.NewInvoiceService(db, cfg, notifier, m)
	subscriptions := service.NewSubscriptionService(db, ledger, notifier, m)
	purchases := service.NewPurchaseService(db, redisClient, cfg, registry, ledger, coupons, invoices, subscriptions, notifier, m)
	ledger.SetUsageObserver(service.NewTopupService(db, purchases))

	var blob service.BlobStore
	if cfg.BankTransfer.Enabled {
		ossClient, err := storage.NewOSSClient(&cfg.OSS)
		if err != nil {
			log.Fatalf("初始化 OSS 失败: %v", err)
		}
		blob = ossClient
	}

	svc := &handler.Services{
		Purchases:     purchases,
		Ledger:        ledger,
		Coupons:       coupons,
		Invoices:      invoices,
		Subscriptions: subscriptions,
		Proofs:        service.NewProofService(db, cfg.BankTransfer, blob, purchases),
		Reversals:     service.NewReversalService(db, ledger, invoices, notifier),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 后台任务
	go job.NewNotificationSender(db, cfg, producer, m).Start(ctx)
	go job.NewPurchaseExpiryJob(db, cfg, purchases).Start(ctx)
	go job.NewReconcileJob(db, cfg, purchases).Start(ctx)
	go job.NewInvoiceRetryJob(db, cfg, invoices).Start(ctx)

	router := handler.SetupRouter(handler.NewHandler(svc, verifiers, cfg), db, redisClient, nil)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("服务启动，监听端口: %d, 支付方式: %v", cfg.Server.Port, registry.Methods())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}

// buildChannels 按配置注册支付渠道，并为启用的网关准备 webhook 验签器
func buildChannels(cfg *config.Config) (*payment.Registry, map[string]*payment.WebhookVerifier) {
	timeout := time.Duration(cfg.Gateway.TimeoutSecond) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	registry := payment.NewRegistry()
	verifiers := make(map[string]*payment.WebhookVerifier)

	gw := cfg.Gateway
	if gw.Checkout.Enabled {
		client := payment.NewRESTClient(gw.Checkout.BaseURL, gw.Checkout.APIKey, timeout)
		registry.Register(payment.NewCheckoutChannel(payment.NewRESTCheckoutGateway(client), gw.ReturnURL, gw.CancelURL))
		addVerifier(verifiers, model.PaymentMethodCheckout, gw.Checkout.WebhookSecret)
	}
	if gw.Intent.Enabled {
		client := payment.NewRESTClient(gw.Intent.BaseURL, gw.Intent.APIKey, timeout)
		registry.Register(payment.NewIntentChannel(payment.NewRESTIntentGateway(client)))
		addVerifier(verifiers, model.PaymentMethodCardIntent, gw.Intent.WebhookSecret)
	}
	if gw.Wallet.Enabled {
		client := payment.NewRESTClient(gw.Wallet.BaseURL, gw.Wallet.APIKey, timeout)
		registry.Register(payment.NewWalletChannel(payment.NewRESTWalletGateway(client), gw.WalletReturn, gw.WalletCancel))
		addVerifier(verifiers, model.PaymentMethodWallet, gw.Wallet.WebhookSecret)
	}
	if cfg.BankTransfer.Enabled {
		registry.Register(payment.NewBankTransferChannel(cfg.BankTransfer))
	}
	return registry, verifiers
}

func addVerifier(verifiers map[string]*payment.WebhookVerifier, method, secret string) {
	if secret == "" {
		log.Printf("[Webhook] %s 未配置 webhook_secret，不接收该渠道通知", method)
		return
	}
	verifiers[method] = payment.NewWebhookVerifier(secret, 0)
}
