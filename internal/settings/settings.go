package settings

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var Settings *AppSettings

func NewSettings() *AppSettings {
	settings := AppSettings{
		Port:           getEnvOrDefault("SIMPLECD_PORT", ":8080"),
		SQLiteDatabase: getEnvOrDefault("SIMPLECD_DB_PATH", "file:.///db.sqlite"),
		Workspace:      getEnvOrDefault("SIMPLECD_WORKSPACE", "./workspace"),
		PipelinesDir:   getEnvOrDefault("SIMPLECD_PIPELINES_DIR", "pipelines"),
		Platform:       getEnvOrDefault("SIMPLECD_PLATFORM", runtime.GOOS),
		Debug:          getBoolEnv("SIMPLECD_DEBUG"),

		CacheBackend:   getEnvOrDefault("SIMPLECD_CACHE_BACKEND", "bolt"),
		CachePath:      getEnvOrDefault("SIMPLECD_CACHE_PATH", "cache.bolt"),
		MinioEndpoint:  os.Getenv("SIMPLECD_MINIO_ENDPOINT"),
		MinioBucket:    getEnvOrDefault("SIMPLECD_MINIO_BUCKET", "simplecd-cache"),
		MinioAccessKey: os.Getenv("SIMPLECD_MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("SIMPLECD_MINIO_SECRET_KEY"),
		MinioRegion:    os.Getenv("SIMPLECD_MINIO_REGION"),
		MinioUseSSL:    getBoolEnv("SIMPLECD_MINIO_USE_SSL"),

		AgentHost:       os.Getenv("SIMPLECD_AGENT_HOST"),
		AgentUser:       os.Getenv("SIMPLECD_AGENT_USER"),
		AgentKeyPath:    os.Getenv("SIMPLECD_AGENT_KEY_PATH"),
		AgentKnownHosts: os.Getenv("SIMPLECD_AGENT_KNOWN_HOSTS"),

		SecretsDotenv:  os.Getenv("SIMPLECD_SECRETS_DOTENV"),
		KeyringService: os.Getenv("SIMPLECD_KEYRING_SERVICE"),
	}
	if !strings.HasPrefix(settings.Port, ":") {
		settings.Port = ":" + settings.Port
	}
	return &settings
}

func getEnvOrDefault(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return value
}

func getBoolEnv(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

type AppSettings struct {
	Port           string
	SQLiteDatabase string
	Workspace      string
	PipelinesDir   string
	Platform       string
	Debug          bool

	// bolt or minio
	CacheBackend   string
	CachePath      string
	MinioEndpoint  string
	MinioBucket    string
	MinioAccessKey string
	MinioSecretKey string
	MinioRegion    string
	MinioUseSSL    bool

	// Commands run on the agent over SSH when AgentHost is set,
	// on the local machine otherwise.
	AgentHost       string
	AgentUser       string
	AgentKeyPath    string
	AgentKnownHosts string

	SecretsDotenv  string
	KeyringService string
}

func (as *AppSettings) UseSSHAgent() bool {
	return as.AgentHost != ""
}

func (as *AppSettings) SQLiteDbString(readonly bool) string {
	params := make(url.Values)
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "foreign_keys(ON)")
	if readonly {
		params.Add("mode", "ro")
	} else {
		params.Add("_txlock", "immediate")
		params.Add("mode", "rwc")
	}

	return as.SQLiteDatabase + "?" + params.Encode()
}

// ReadDotenv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func ReadDotenv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}
