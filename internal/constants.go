package internal

const (
	DotEnvPath              = "./.env"
	ConfigPath              = "config.json"
	MigrationsDir           = "migrations"
	PipelinesDir            = "pipelines"
	RunDirLayout            = "20060102_150405000"
	DBTimestampLayout       = "2006-01-02 15:04:05"
	WebhookTriggerKeyHeader = "X-SimpleCD-Webhook-Key"
	EncryptionKeyEnv        = "SIMPLECD_ENCRYPTION_KEY"
)
