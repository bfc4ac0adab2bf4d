package config

import "time"

const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"

	EventsNone  = "none"
	EventsNATS  = "nats"
	EventsKafka = "kafka"
)

type AppConfig struct {
	NodeID          int64         `mapstructure:"node_id"` // 雪花节点 0~1023
	Port            int           `mapstructure:"port"`    // http 启动端口
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"` // 空 = 不校验 Origin

	Log     LogConfig     `mapstructure:"log"`
	WS      WSConfig      `mapstructure:"ws"`
	Fanout  FanoutConfig  `mapstructure:"fanout"`
	History HistoryConfig `mapstructure:"history"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Events  EventsConfig  `mapstructure:"events"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console / json
}

type WSConfig struct {
	Path            string        `mapstructure:"path"`
	ReadBuffer      int           `mapstructure:"read_buffer"`
	WriteBuffer     int           `mapstructure:"write_buffer"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	SendQueue       int           `mapstructure:"send_queue"` // 单连接下行队列，满了就断开
	WriteWait       time.Duration `mapstructure:"write_wait"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
}

type FanoutConfig struct {
	Shards    int `mapstructure:"shards"`
	QueueSize int `mapstructure:"queue_size"`
}

type HistoryConfig struct {
	PublicLimit    int `mapstructure:"public_limit"`
	PrivateLimit   int `mapstructure:"private_limit"`
	MemoryCapacity int `mapstructure:"memory_capacity"` // memory store 的大厅消息保留条数
}

type StoreConfig struct {
	Driver   string         `mapstructure:"driver"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type MongoConfig struct {
	URI         string        `mapstructure:"uri"`
	Address     []string      `mapstructure:"address"`
	Database    string        `mapstructure:"database"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	AuthSource  string        `mapstructure:"auth_source"`
	MaxPoolSize int           `mapstructure:"max_pool_size"`
	OpTimeout   time.Duration `mapstructure:"op_timeout"`
}

type PostgresConfig struct {
	DSN         string        `mapstructure:"dsn"`
	MaxConns    int32         `mapstructure:"max_conns"`
	OpTimeout   time.Duration `mapstructure:"op_timeout"`
	InitTimeout time.Duration `mapstructure:"init_timeout"` // 后台连库 + 建表单次尝试的超时
}

type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	PoolSize  int           `mapstructure:"pool_size"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type EventsConfig struct {
	Driver    string        `mapstructure:"driver"`
	Prefix    string        `mapstructure:"prefix"` // subject/topic 前缀，如 chat -> chat.message.new
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
	NATS      NATSConfig    `mapstructure:"nats"`
	Kafka     KafkaConfig   `mapstructure:"kafka"`
}

type NATSConfig struct {
	URL  string `mapstructure:"url"`
	Name string `mapstructure:"name"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	ClientID string   `mapstructure:"client_id"`
	Version  string   `mapstructure:"version"`
}
