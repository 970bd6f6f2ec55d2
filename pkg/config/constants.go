package config

// EnvPrefix is the envconfig namespace for every BeatStore variable.
const EnvPrefix = "BEATSTORE"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

const (
	EnvAppEnv   = "BEATSTORE_APP_ENV"
	EnvPort     = "BEATSTORE_APP_PORT"
	EnvDBDSN    = "BEATSTORE_DB_DSN"
	EnvDBHost   = "BEATSTORE_DB_HOST"
	EnvDBUser   = "BEATSTORE_DB_USER"
	EnvDBName   = "BEATSTORE_DB_NAME"
	EnvRedisURL = "BEATSTORE_REDIS_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
