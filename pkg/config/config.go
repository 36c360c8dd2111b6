package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/granary/pkg/security"
	"github.com/cuemby/granary/pkg/types"
)

// DefaultBodyLimit is the maximum accepted request body (10 MiB).
const DefaultBodyLimit = 10 * 1024 * 1024

// Config is the unified registry configuration. Values come from an optional
// YAML file (REGISTRY_CONFIG_FILE) overridden by REGISTRY_* environment
// variables.
type Config struct {
	DataDir string

	WebPublicURI    string
	WebDomain       string // host of WebPublicURI
	WebListenOnIP   string
	WebListenOnPort int
	WebBodyLimit    int64

	LogLevel          string
	LogDateTimeFormat string

	Index  IndexConfig
	S3     S3Config
	OAuth  OAuthConfig
	Backup *BackupConfig // nil unless REGISTRY_BACKUP_S3_BUCKET is set

	ExternalRegistries []types.ExternalRegistry

	// Self-service credential, generated fresh per process. Never persisted.
	SelfServiceLogin string
	SelfServiceToken string

	// HomeDir is where the auth config files are written. Defaults to the
	// current user's home directory.
	HomeDir string
}

// IndexConfig configures the git-backed index repository.
type IndexConfig struct {
	Location             string // {data_dir}/index
	RemoteOrigin         string
	RemoteSSHKeyFileName string
	RemotePushChanges    bool
	UserName             string
	UserEmail            string
	Public               IndexPublicConfig
}

// IndexPublicConfig is the content of config.json at the index root.
type IndexPublicConfig struct {
	DL           string `json:"dl"`
	API          string `json:"api"`
	AuthRequired bool   `json:"auth-required"`
}

// S3Config configures the blob store connection.
type S3Config struct {
	URI       string
	Region    string
	Service   string // defaults to "s3"
	AccessKey string
	SecretKey string
	Bucket    string
}

// OAuthConfig configures the browser login flow.
type OAuthConfig struct {
	LoginURI     string
	TokenURI     string
	CallbackURI  string
	UserInfoURI  string
	ClientID     string
	ClientSecret string
	ClientScope  string
}

// BackupConfig configures the optional database backup to S3. The backup job
// itself runs in the external worker; the registry only carries the settings.
type BackupConfig struct {
	Bucket       string
	ObjectPrefix string
	ObjectSuffix string
}

// DatabaseFile returns the path of the metadata store file.
func (c *Config) DatabaseFile() string {
	return c.DataDir + "/registry.db"
}

// fileConfig is the YAML overlay shape. Only a subset of settings makes sense
// in a file; credentials stay in the environment.
type fileConfig struct {
	DataDir           string `yaml:"dataDir"`
	WebPublicURI      string `yaml:"webPublicUri"`
	WebListenOnIP     string `yaml:"webListenOnIp"`
	WebListenOnPort   int    `yaml:"webListenOnPort"`
	WebBodyLimit      int64  `yaml:"webBodyLimit"`
	LogLevel          string `yaml:"logLevel"`
	LogDateTimeFormat string `yaml:"logDateTimeFormat"`
	Git               struct {
		Remote            string `yaml:"remote"`
		RemoteSSHKeyFile  string `yaml:"remoteSshKeyFileName"`
		RemotePushChanges bool   `yaml:"remotePushChanges"`
		UserName          string `yaml:"userName"`
		UserEmail         string `yaml:"userEmail"`
	} `yaml:"git"`
}

// FromEnv builds the configuration from the environment, with the optional
// YAML overlay applied first.
func FromEnv() (*Config, error) {
	cfg := &Config{
		WebListenOnIP:   "0.0.0.0",
		WebListenOnPort: 8080,
		WebBodyLimit:    DefaultBodyLimit,
		LogLevel:        "info",
	}

	if path := os.Getenv("REGISTRY_CONFIG_FILE"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("REGISTRY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("REGISTRY_DATA_DIR is required")
	}
	if v := os.Getenv("REGISTRY_WEB_PUBLIC_URI"); v != "" {
		cfg.WebPublicURI = v
	}
	if cfg.WebPublicURI == "" {
		return nil, fmt.Errorf("REGISTRY_WEB_PUBLIC_URI is required")
	}
	parsed, err := url.Parse(cfg.WebPublicURI)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid REGISTRY_WEB_PUBLIC_URI %q", cfg.WebPublicURI)
	}
	cfg.WebDomain = parsed.Hostname()

	if v := os.Getenv("REGISTRY_WEB_LISTENON_IP"); v != "" {
		cfg.WebListenOnIP = v
	}
	if v := os.Getenv("REGISTRY_WEB_LISTENON_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REGISTRY_WEB_LISTENON_PORT %q: %w", v, err)
		}
		cfg.WebListenOnPort = port
	}
	if v := os.Getenv("REGISTRY_WEB_BODY_LIMIT"); v != "" {
		limit, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid REGISTRY_WEB_BODY_LIMIT %q: %w", v, err)
		}
		cfg.WebBodyLimit = limit
	}
	if v := os.Getenv("REGISTRY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("REGISTRY_LOG_DATE_TIME_FORMAT"); v != "" {
		cfg.LogDateTimeFormat = v
	}

	if err := applyGitEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Index.Location = cfg.DataDir + "/index"
	cfg.Index.Public = IndexPublicConfig{
		DL:           cfg.WebPublicURI + "/api/v1/crates",
		API:          cfg.WebPublicURI,
		AuthRequired: true,
	}

	if err := applyS3Env(cfg); err != nil {
		return nil, err
	}
	if err := applyOAuthEnv(cfg); err != nil {
		return nil, err
	}
	applyBackupEnv(cfg)

	registries, err := scanExternalRegistries()
	if err != nil {
		return nil, err
	}
	cfg.ExternalRegistries = registries

	cfg.SelfServiceLogin = security.MustGenerateToken(16)
	cfg.SelfServiceToken = security.MustGenerateToken(64)

	cfg.HomeDir = os.Getenv("REGISTRY_HOME_DIR")
	if cfg.HomeDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		cfg.HomeDir = home
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.WebPublicURI != "" {
		cfg.WebPublicURI = fc.WebPublicURI
	}
	if fc.WebListenOnIP != "" {
		cfg.WebListenOnIP = fc.WebListenOnIP
	}
	if fc.WebListenOnPort != 0 {
		cfg.WebListenOnPort = fc.WebListenOnPort
	}
	if fc.WebBodyLimit != 0 {
		cfg.WebBodyLimit = fc.WebBodyLimit
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.LogDateTimeFormat != "" {
		cfg.LogDateTimeFormat = fc.LogDateTimeFormat
	}
	cfg.Index.RemoteOrigin = fc.Git.Remote
	cfg.Index.RemoteSSHKeyFileName = fc.Git.RemoteSSHKeyFile
	cfg.Index.RemotePushChanges = fc.Git.RemotePushChanges
	cfg.Index.UserName = fc.Git.UserName
	cfg.Index.UserEmail = fc.Git.UserEmail
	return nil
}

func applyGitEnv(cfg *Config) error {
	if v := os.Getenv("REGISTRY_GIT_REMOTE"); v != "" {
		cfg.Index.RemoteOrigin = v
	}
	if v := os.Getenv("REGISTRY_GIT_REMOTE_SSH_KEY_FILENAME"); v != "" {
		cfg.Index.RemoteSSHKeyFileName = v
	}
	if v := os.Getenv("REGISTRY_GIT_REMOTE_PUSH_CHANGES"); v != "" {
		cfg.Index.RemotePushChanges = isTruthy(v)
	}
	if v := os.Getenv("REGISTRY_GIT_USER_NAME"); v != "" {
		cfg.Index.UserName = v
	}
	if v := os.Getenv("REGISTRY_GIT_USER_EMAIL"); v != "" {
		cfg.Index.UserEmail = v
	}
	if cfg.Index.UserName == "" {
		return fmt.Errorf("REGISTRY_GIT_USER_NAME is required")
	}
	if cfg.Index.UserEmail == "" {
		return fmt.Errorf("REGISTRY_GIT_USER_EMAIL is required")
	}
	return nil
}

func applyS3Env(cfg *Config) error {
	cfg.S3 = S3Config{
		URI:       os.Getenv("REGISTRY_S3_URI"),
		Region:    os.Getenv("REGISTRY_S3_REGION"),
		Service:   os.Getenv("REGISTRY_S3_SERVICE"),
		AccessKey: os.Getenv("REGISTRY_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("REGISTRY_S3_SECRET_KEY"),
		Bucket:    os.Getenv("REGISTRY_S3_BUCKET"),
	}
	if cfg.S3.Service == "" {
		cfg.S3.Service = "s3"
	}
	for name, value := range map[string]string{
		"REGISTRY_S3_URI":        cfg.S3.URI,
		"REGISTRY_S3_REGION":     cfg.S3.Region,
		"REGISTRY_S3_ACCESS_KEY": cfg.S3.AccessKey,
		"REGISTRY_S3_SECRET_KEY": cfg.S3.SecretKey,
		"REGISTRY_S3_BUCKET":     cfg.S3.Bucket,
	} {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	return nil
}

func applyOAuthEnv(cfg *Config) error {
	cfg.OAuth = OAuthConfig{
		LoginURI:     os.Getenv("REGISTRY_OAUTH_LOGIN_URI"),
		TokenURI:     os.Getenv("REGISTRY_OAUTH_TOKEN_URI"),
		CallbackURI:  os.Getenv("REGISTRY_OAUTH_CALLBACK_URI"),
		UserInfoURI:  os.Getenv("REGISTRY_OAUTH_USERINFO_URI"),
		ClientID:     os.Getenv("REGISTRY_OAUTH_CLIENT_ID"),
		ClientSecret: os.Getenv("REGISTRY_OAUTH_CLIENT_SECRET"),
		ClientScope:  os.Getenv("REGISTRY_OAUTH_CLIENT_SCOPE"),
	}
	for name, value := range map[string]string{
		"REGISTRY_OAUTH_LOGIN_URI":     cfg.OAuth.LoginURI,
		"REGISTRY_OAUTH_TOKEN_URI":     cfg.OAuth.TokenURI,
		"REGISTRY_OAUTH_CALLBACK_URI":  cfg.OAuth.CallbackURI,
		"REGISTRY_OAUTH_USERINFO_URI":  cfg.OAuth.UserInfoURI,
		"REGISTRY_OAUTH_CLIENT_ID":     cfg.OAuth.ClientID,
		"REGISTRY_OAUTH_CLIENT_SECRET": cfg.OAuth.ClientSecret,
		"REGISTRY_OAUTH_CLIENT_SCOPE":  cfg.OAuth.ClientScope,
	} {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	return nil
}

func applyBackupEnv(cfg *Config) {
	bucket := os.Getenv("REGISTRY_BACKUP_S3_BUCKET")
	if bucket == "" {
		return
	}
	cfg.Backup = &BackupConfig{
		Bucket:       bucket,
		ObjectPrefix: os.Getenv("REGISTRY_BACKUP_S3_OBJECT_PREFIX"),
		ObjectSuffix: os.Getenv("REGISTRY_BACKUP_S3_OBJECT_SUFFIX"),
	}
}

// scanExternalRegistries reads REGISTRY_EXTERNAL_{N}_* blocks for N >= 1
// until the first missing _NAME.
func scanExternalRegistries() ([]types.ExternalRegistry, error) {
	var registries []types.ExternalRegistry
	for n := 1; ; n++ {
		name := os.Getenv(fmt.Sprintf("REGISTRY_EXTERNAL_%d_NAME", n))
		if name == "" {
			break
		}
		reg := types.ExternalRegistry{
			Name:     name,
			Index:    os.Getenv(fmt.Sprintf("REGISTRY_EXTERNAL_%d_INDEX", n)),
			DocsRoot: os.Getenv(fmt.Sprintf("REGISTRY_EXTERNAL_%d_DOCS", n)),
			Login:    os.Getenv(fmt.Sprintf("REGISTRY_EXTERNAL_%d_LOGIN", n)),
			Token:    os.Getenv(fmt.Sprintf("REGISTRY_EXTERNAL_%d_TOKEN", n)),
		}
		if reg.Index == "" {
			return nil, fmt.Errorf("REGISTRY_EXTERNAL_%d_INDEX is required", n)
		}
		if reg.DocsRoot == "" {
			return nil, fmt.Errorf("REGISTRY_EXTERNAL_%d_DOCS is required", n)
		}
		if reg.Login == "" {
			return nil, fmt.Errorf("REGISTRY_EXTERNAL_%d_LOGIN is required", n)
		}
		if reg.Token == "" {
			return nil, fmt.Errorf("REGISTRY_EXTERNAL_%d_TOKEN is required", n)
		}
		registries = append(registries, reg)
	}
	return registries, nil
}

func isTruthy(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}
