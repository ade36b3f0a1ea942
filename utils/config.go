package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var LibexecDir = "."
var EtcDir = "."

const DefaultConfigName = "bioconn"

type StorageConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	AccessKey    string        `mapstructure:"access_key"`
	SecretKey    string        `mapstructure:"secret_key"`
	Secure       bool          `mapstructure:"secure"`
	Region       string        `mapstructure:"region"`
	URL          string        `mapstructure:"url"`
	Bucket       string        `mapstructure:"bucket"`
	ExtBucket    string        `mapstructure:"ext_bucket"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      int           `mapstructure:"retries"`
	RetryWait    time.Duration `mapstructure:"retry_wait"`
	SkipExisting bool          `mapstructure:"skip_existing"`
	Concurrency  int           `mapstructure:"concurrency"`
}

type ToolsConfig struct {
	Gdalwarp      string `mapstructure:"gdalwarp"`
	GdalTranslate string `mapstructure:"gdal_translate"`
	Gdalinfo      string `mapstructure:"gdalinfo"`
	GdalCalc      string `mapstructure:"gdal_calc"`
	Shell         string `mapstructure:"shell"`
}

type ImpedanceConfig struct {
	NoData      float64 `mapstructure:"nodata"`
	Compression string  `mapstructure:"compression"`
}

type GraphabConfig struct {
	Wrapper    string `mapstructure:"wrapper"`
	Template   string `mapstructure:"template"`
	Java       string `mapstructure:"java"`
	Jar        string `mapstructure:"jar"`
	Memory     string `mapstructure:"memory"`
	SearchPath string `mapstructure:"search_path"`
}

type JoinConfig struct {
	ExcludeFields []string `mapstructure:"exclude_fields"`
}

type PostprocConfig struct {
	NoData   float64  `mapstructure:"nodata"`
	ClipSize int      `mapstructure:"clip_size"`
	COG      bool     `mapstructure:"cog"`
	Pattern  string   `mapstructure:"pattern"`
	SkipDirs []string `mapstructure:"skip_dirs"`
}

type IndicesConfig struct {
	CleanTemp bool `mapstructure:"clean_temp"`
}

type PreprocessConfig struct {
	YearlyPA bool `mapstructure:"yearly_pa"`
	KeepTemp bool `mapstructure:"keep_temp"`
}

type CatalogueConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MetricsConfig struct {
	Dir            string `mapstructure:"dir"`
	MaxLogFileSize int64  `mapstructure:"max_log_file_size"`
	MaxLogFiles    int    `mapstructure:"max_log_files"`
}

type Config struct {
	DataDir    string           `mapstructure:"data_dir"`
	ConfigDir  string           `mapstructure:"config_dir"`
	LogsDir    string           `mapstructure:"logs_dir"`
	ExtDir     string           `mapstructure:"ext_dir"`
	Debug      bool             `mapstructure:"debug"`
	KeepGoing  bool             `mapstructure:"keep_going"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Impedance  ImpedanceConfig  `mapstructure:"impedance"`
	Graphab    GraphabConfig    `mapstructure:"graphab"`
	Join       JoinConfig       `mapstructure:"join"`
	Postproc   PostprocConfig   `mapstructure:"postproc"`
	Indices    IndicesConfig    `mapstructure:"indices"`
	Preprocess PreprocessConfig `mapstructure:"preprocess"`
	Catalogue  CatalogueConfig  `mapstructure:"catalogue"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// DefaultPostprocPattern selects connectivity outputs: corridor, output and
// ict rasters that have not been compressed yet.
const DefaultPostprocPattern = `type == 'd' || (name =~ '(?i)(corridor|output|ict)' && name =~ '[.]tif$' && !(name =~ '^compressed_'))`

func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("config_dir", "config")
	v.SetDefault("logs_dir", "logs")
	v.SetDefault("ext_dir", "bucket_ext")
	v.SetDefault("debug", false)
	v.SetDefault("keep_going", false)

	v.SetDefault("storage.endpoint", "minio-ad4gd-api.dashboard-siba.store")
	v.SetDefault("storage.secure", true)
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.url", "")
	v.SetDefault("storage.bucket", "pilot.2.graphab")
	v.SetDefault("storage.ext_bucket", "pilot2bioconn")
	v.SetDefault("storage.timeout", 10*time.Second)
	v.SetDefault("storage.retries", 1)
	v.SetDefault("storage.retry_wait", 10*time.Second)
	v.SetDefault("storage.skip_existing", true)
	v.SetDefault("storage.concurrency", 4)

	v.SetDefault("tools.gdalwarp", "gdalwarp")
	v.SetDefault("tools.gdal_translate", "gdal_translate")
	v.SetDefault("tools.gdalinfo", "gdalinfo")
	v.SetDefault("tools.gdal_calc", "gdal_calc.py")
	v.SetDefault("tools.shell", "bash")

	v.SetDefault("impedance.nodata", 9999)
	v.SetDefault("impedance.compression", "ZSTD")

	v.SetDefault("graphab.wrapper", "graphab_wrapper.sh")
	v.SetDefault("graphab.template", "")
	v.SetDefault("graphab.java", "java")
	v.SetDefault("graphab.jar", "graphab.jar")
	v.SetDefault("graphab.memory", "8g")
	v.SetDefault("graphab.search_path", "")

	v.SetDefault("join.exclude_fields", []string{"Id", "area", "perim", "capacity", "idhab"})

	v.SetDefault("postproc.nodata", -9999)
	v.SetDefault("postproc.clip_size", 1)
	v.SetDefault("postproc.cog", true)
	v.SetDefault("postproc.pattern", DefaultPostprocPattern)
	v.SetDefault("postproc.skip_dirs", []string{"ml", "output"})

	v.SetDefault("indices.clean_temp", false)

	v.SetDefault("preprocess.yearly_pa", true)
	v.SetDefault("preprocess.keep_temp", false)

	v.SetDefault("catalogue.dsn", "")

	v.SetDefault("metrics.dir", "")
	v.SetDefault("metrics.max_log_file_size", 0)
	v.SetDefault("metrics.max_log_files", 0)
}

// LoadConfig reads .env, the optional config file and the environment into
// a Config. An empty configFile searches for bioconn.yaml in the working
// directory and EtcDir.
func LoadConfig(v *viper.Viper, configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	SetDefaults(v)

	v.SetEnvPrefix("BIOCONN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("storage.access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("storage.endpoint", "MINIO_API_URL")

	if len(configFile) > 0 {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(EtcDir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if len(configFile) > 0 || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	if len(strings.TrimSpace(c.DataDir)) == 0 {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Postproc.ClipSize < 0 {
		return fmt.Errorf("postproc.clip_size must not be negative: %d", c.Postproc.ClipSize)
	}
	if c.Storage.Retries < 0 {
		return fmt.Errorf("storage.retries must not be negative: %d", c.Storage.Retries)
	}
	return nil
}

func (c *Config) CaseDir(caseStudy string) string {
	return filepath.Join(c.DataDir, caseStudy)
}

func (c *Config) InputDir(caseStudy string) string {
	return filepath.Join(c.DataDir, caseStudy, "input")
}

func (c *Config) LulcDir(caseStudy string) string {
	return filepath.Join(c.DataDir, caseStudy, "input", "lulc")
}

func (c *Config) OutputDir(caseStudy string) string {
	return filepath.Join(c.DataDir, caseStudy, "output")
}

func (c *Config) CaseConfigDir(caseStudy string) string {
	return filepath.Join(c.ConfigDir, caseStudy)
}

// SplitList splits a comma separated argument such as "forest,shrubland".
func SplitList(arg string) []string {
	var items []string
	for _, item := range strings.Split(arg, ",") {
		item = strings.TrimSpace(item)
		if len(item) > 0 {
			items = append(items, item)
		}
	}
	return items
}
