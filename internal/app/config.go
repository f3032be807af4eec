package app

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"defir/internal/adapters/blobstore"
)

// 后端类型。
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// 环境变量。
const (
	EnvConfig   = "DEFIR_CONFIG"
	EnvDataDir  = "DEFIR_DATA_DIR"
	EnvBackend  = "DEFIR_BACKEND"
	EnvListen   = "DEFIR_LISTEN"
	EnvLogLevel = "DEFIR_LOG_LEVEL"
)

type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Config 是应用配置。优先级：内置默认值 < YAML 文件 < 环境变量 < 命令行参数。
type Config struct {
	DataDir         string    `yaml:"data_dir"`
	Backend         string    `yaml:"backend"`
	StorePath       string    `yaml:"store_path"`
	DBPath          string    `yaml:"db_path"`
	BlobDir         string    `yaml:"blob_dir"`
	BlobCompression string    `yaml:"blob_compression"`
	ListenAddr      string    `yaml:"listen_addr"`
	MaxUploadBytes  int64     `yaml:"max_upload_bytes"`
	GatewayBase     string    `yaml:"gateway_base"`
	Log             LogConfig `yaml:"log"`
}

// DefaultConfig 返回默认配置。派生路径（store/db/blob）留空，由 Resolve 按 DataDir 补齐。
func DefaultConfig() Config {
	return Config{
		DataDir:         DefaultDataDir(),
		Backend:         BackendFile,
		BlobCompression: string(blobstore.CompressionZstd),
		ListenAddr:      "127.0.0.1:8787",
		MaxUploadBytes:  64 << 20,
		GatewayBase:     "https://cloudflare-ipfs.com/ipfs",
		Log:             LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultDataDir 依次取 DEFIR_DATA_DIR、XDG data home，最后回退到 ~/.local/share。
func DefaultDataDir() string {
	if explicit := strings.TrimSpace(os.Getenv(EnvDataDir)); explicit != "" {
		return explicit
	}

	xdg.Reload()

	dataHome := xdg.DataHome
	if dataHome == "" {
		home := xdg.Home
		if home == "" {
			var err error
			home, err = os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "defir")
			}
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "defir")
}

// LoadConfig 读取配置。path 为空时使用 DEFIR_CONFIG；两者都为空则只用默认值与环境变量。
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfig))
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if len(bytes.TrimSpace(raw)) > 0 {
			dec := yaml.NewDecoder(bytes.NewReader(raw))
			dec.KnownFields(true)
			if err := dec.Decode(&cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv(EnvDataDir)); v != "" {
		c.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackend)); v != "" {
		c.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvListen)); v != "" {
		c.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("DEFIR_MAX_UPLOAD_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse DEFIR_MAX_UPLOAD_BYTES: %w", err)
		}
		c.MaxUploadBytes = n
	}
	return nil
}

// Resolve 规范化取值并补齐派生路径。
func (c *Config) Resolve() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = BackendFile
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = DefaultDataDir()
	}
	if strings.TrimSpace(c.StorePath) == "" {
		c.StorePath = filepath.Join(c.DataDir, "cases.json")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = filepath.Join(c.DataDir, "defir.db")
	}
	if strings.TrimSpace(c.BlobDir) == "" {
		c.BlobDir = filepath.Join(c.DataDir, "blobs")
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
	if strings.TrimSpace(c.Log.Format) == "" {
		c.Log.Format = "text"
	}
}

// Validate 校验枚举值与数值范围。
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendFile, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want %s|%s)", c.Backend, BackendFile, BackendSQLite))
	}
	if _, err := blobstore.ParseCompression(c.BlobCompression); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_upload_bytes must be > 0, got %d", c.MaxUploadBytes))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ExportDir 是 PDF/ZIP 导出目录。
func (c Config) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}
