package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	MySQL        MySQLConfig        `mapstructure:"mysql"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	OSS          OSSConfig          `mapstructure:"oss"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	BankTransfer BankTransferConfig `mapstructure:"bank_transfer"`
	Billing      BillingConfig      `mapstructure:"billing"`
	Reconcile    ReconcileConfig    `mapstructure:"reconcile"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Notification string `mapstructure:"notification"`
}

// OSSConfig 转账凭证存储
type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

// GatewayConfig 各支付渠道网关配置
type GatewayConfig struct {
	Checkout      ChannelGatewayConfig `mapstructure:"checkout"`
	Intent        ChannelGatewayConfig `mapstructure:"intent"`
	Wallet        ChannelGatewayConfig `mapstructure:"wallet"`
	ReturnURL     string               `mapstructure:"return_url"`
	CancelURL     string               `mapstructure:"cancel_url"`
	WalletReturn  string               `mapstructure:"wallet_return_url"`
	WalletCancel  string               `mapstructure:"wallet_cancel_url"`
	TimeoutSecond int                  `mapstructure:"timeout_seconds"`
}

type ChannelGatewayConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	BaseURL       string `mapstructure:"base_url"`
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// BankTransferConfig 线下转账收款信息
type BankTransferConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	BankName      string `mapstructure:"bank_name"`
	AccountName   string `mapstructure:"account_name"`
	AccountNumber string `mapstructure:"account_number"`
	RoutingNumber string `mapstructure:"routing_number"`
	SwiftCode     string `mapstructure:"swift_code"`
	Instructions  string `mapstructure:"instructions"`
	UploadPath    string `mapstructure:"upload_path"`
	MaxProofBytes int64  `mapstructure:"max_proof_bytes"`
}

type BillingConfig struct {
	Tenant                  string `mapstructure:"tenant"`
	InvoicePrefix           string `mapstructure:"invoice_prefix"`
	Currency                string `mapstructure:"currency"`
	CreditsPerUnit          string `mapstructure:"credits_per_unit"` // 每 1 个货币单位兑换的积分，十进制字符串
	PendingTimeoutMinutes   int    `mapstructure:"pending_timeout_minutes"`
	ProcessingGraceMinutes  int    `mapstructure:"processing_grace_minutes"`
	ProcessingExpireMinutes int    `mapstructure:"processing_expire_minutes"`
	MaxRetryCount           int    `mapstructure:"max_retry_count"`
	DefaultLowThreshold     int64  `mapstructure:"default_low_credit_threshold"`
}

type ReconcileConfig struct {
	IntervalSeconds        int `mapstructure:"interval_seconds"`
	ExpiryIntervalSeconds  int `mapstructure:"expiry_interval_seconds"`
	InvoiceIntervalSeconds int `mapstructure:"invoice_interval_seconds"`
	BatchSize              int `mapstructure:"batch_size"`
}

var GlobalConfig *Config

// LoadConfig 加载配置文件，环境变量 CREDIT_* 可覆盖同名配置项
func LoadConfig(configPath string) *Config {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("credit")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("gateway.timeout_seconds", 10)
	v.SetDefault("bank_transfer.upload_path", "/api/v1/proof/upload")
	v.SetDefault("bank_transfer.max_proof_bytes", 10<<20)
	v.SetDefault("billing.tenant", "default")
	v.SetDefault("billing.invoice_prefix", "INV")
	v.SetDefault("billing.currency", "USD")
	v.SetDefault("billing.credits_per_unit", "5")
	v.SetDefault("billing.pending_timeout_minutes", 60)
	v.SetDefault("billing.processing_grace_minutes", 10)
	v.SetDefault("billing.processing_expire_minutes", 24*60)
	v.SetDefault("billing.max_retry_count", 5)
	v.SetDefault("reconcile.interval_seconds", 60)
	v.SetDefault("reconcile.expiry_interval_seconds", 30)
	v.SetDefault("reconcile.invoice_interval_seconds", 120)
	v.SetDefault("reconcile.batch_size", 50)
}
