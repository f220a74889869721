package config

import (
	"TMProject/tools"
)

// Bus drivers. "off" disables cross-instance invalidation entirely;
// the cache then degrades to TTL-only staleness.
const (
	BusDriverKafka  = "kafka"
	BusDriverRedis  = "redis"
	BusDriverNats   = "nats"
	BusDriverMemory = "memory"
	BusDriverOff    = "off"
)

type Settings struct {
	Port       int
	CORSOrigin string

	// primary store
	MongoURI      string
	MongoDB       string
	MongoUser     string
	MongoPassword string
	MongoPoolSize int

	// shared redis tier (cache + optional pub/sub transport)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// event bus
	BusDriver        string // kafka | redis | nats | memory | off
	TopicPrefix      string
	KafkaBrokers     []string
	KafkaClientID    string
	NatsServers      []string
	NatsName         string
	BusReconnect     bool
	HandlerTimeoutMS int

	// read model / caching
	WindowSize     int
	CacheSizes     []int
	LatestCacheTTL int // seconds
	MaxLatestCount int

	AuthRequired bool
}

var Global *Settings

// Load reads the settings surface from the environment. Every knob has a
// usable default so a bare process comes up with TTL-only caching.
func Load() *Settings {
	s := &Settings{
		Port:       tools.GetEnvInt("PORT", 8081),
		CORSOrigin: tools.GetEnv("CORS_ORIGIN", "http://localhost:5173"),

		MongoURI:      tools.GetEnv("MONGO_URI", tools.GetEnv("MONGODB_URI", "mongodb://127.0.0.1:27017")),
		MongoDB:       tools.GetEnv("MONGO_DB_NAME", "truematch"),
		MongoUser:     tools.GetEnv("MONGO_USER", ""),
		MongoPassword: tools.GetEnv("MONGO_PASSWORD", ""),
		MongoPoolSize: tools.GetEnvInt("MONGO_POOL_SIZE", 20),

		RedisAddr:     tools.GetEnv("REDIS_ADDR", ""),
		RedisPassword: tools.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       tools.GetEnvInt("REDIS_DB", 0),

		BusDriver:        tools.GetEnv("BUS_DRIVER", BusDriverOff),
		TopicPrefix:      tools.GetEnv("BUS_TOPIC_PREFIX", "tm"),
		KafkaBrokers:     tools.SplitCSV(tools.GetEnv("KAFKA_BROKERS", "127.0.0.1:9092")),
		KafkaClientID:    tools.GetEnv("KAFKA_CLIENT_ID", "truematch-core"),
		NatsServers:      tools.SplitCSV(tools.GetEnv("NATS_SERVERS", "nats://127.0.0.1:4222")),
		NatsName:         tools.GetEnv("NATS_NAME", "truematch-core"),
		BusReconnect:     tools.GetEnvBool("BUS_RECONNECT", false),
		HandlerTimeoutMS: tools.GetEnvInt("BUS_HANDLER_TIMEOUT_MS", 5000),

		WindowSize:     tools.GetEnvInt("READMODEL_WINDOW", 200),
		LatestCacheTTL: tools.GetEnvInt("LATEST_CACHE_TTL", 15),
		MaxLatestCount: tools.GetEnvInt("LATEST_MAX_COUNT", 500),

		AuthRequired: tools.GetEnvBool("AUTH_REQUIRED", false),
	}
	s.CacheSizes = []int{50, 100}
	Global = s
	return s
}
