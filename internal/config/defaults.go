package config

const (
	defaultBatchSize          = 100
	defaultPackets            = 1
	defaultProbingRate        = 100
	defaultRateLimitingMethod = "auto"

	defaultKafkaBrokers       = "localhost:9092"
	defaultKafkaSASLMechanism = "SCRAM-SHA-512"
	defaultMessageMaxBytes    = 990_000
	defaultInTopics           = "saimiris-probes"
	defaultInGroupID          = "saimiris-agent"
	defaultOutTopic           = "saimiris-replies"
	defaultOutBatchWaitTimeMS = 1000
	defaultOutBatchWaitIntervalMS = 100
)
