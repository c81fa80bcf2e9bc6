// Loading application configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "PLACEMENT"

type Config struct {
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Rembg     RembgConfig     `mapstructure:"rembg"`
	Inpaint   InpaintConfig   `mapstructure:"inpaint"`
	Blend     BlendConfig     `mapstructure:"blend"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

type WorkspaceConfig struct {
	Root           string   `mapstructure:"root"`
	ProductsDir    string   `mapstructure:"products_dir"`
	BackgroundsDir string   `mapstructure:"backgrounds_dir"`
	TempDir        string   `mapstructure:"temp_dir"`
	OutputDir      string   `mapstructure:"output_dir"`
	ProductExts    []string `mapstructure:"product_exts"`
	BackgroundExts []string `mapstructure:"background_exts"`
}

type BatchConfig struct {
	// 0 means one worker per CPU
	Workers int `mapstructure:"workers"`
}

type RembgConfig struct {
	Backend      string        `mapstructure:"backend"`
	URL          string        `mapstructure:"url"`
	Model        string        `mapstructure:"model"`
	Workflow     string        `mapstructure:"workflow"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type InpaintConfig struct {
	URL               string        `mapstructure:"url"`
	Model             string        `mapstructure:"model"`
	Device            string        `mapstructure:"device"`
	NegativePrompt    string        `mapstructure:"negative_prompt"`
	Steps             int           `mapstructure:"steps"`
	CFGScale          float64       `mapstructure:"cfg_scale"`
	DenoisingStrength float64       `mapstructure:"denoising_strength"`
	Seed              int64         `mapstructure:"seed"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type BlendConfig struct {
	Prompt   string `mapstructure:"prompt"`
	MaskMode string `mapstructure:"mask_mode"`
}

type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workspace.root", ".")
	v.SetDefault("workspace.products_dir", "input_products")
	v.SetDefault("workspace.backgrounds_dir", "input_backgrounds")
	v.SetDefault("workspace.temp_dir", "temp")
	v.SetDefault("workspace.output_dir", "output")
	v.SetDefault("workspace.product_exts", []string{".png"})
	v.SetDefault("workspace.background_exts", []string{".jpg"})

	v.SetDefault("batch.workers", 0)

	v.SetDefault("rembg.backend", "rembg")
	v.SetDefault("rembg.url", "http://127.0.0.1:7000")
	v.SetDefault("rembg.model", "u2net")
	v.SetDefault("rembg.workflow", "")
	v.SetDefault("rembg.timeout", 2*time.Minute)
	v.SetDefault("rembg.poll_interval", time.Second)

	v.SetDefault("inpaint.url", "http://127.0.0.1:7860")
	v.SetDefault("inpaint.model", "sd-v1-5-inpainting")
	v.SetDefault("inpaint.device", "auto")
	v.SetDefault("inpaint.negative_prompt", "")
	v.SetDefault("inpaint.steps", 50)
	v.SetDefault("inpaint.cfg_scale", 7.5)
	v.SetDefault("inpaint.denoising_strength", 1.0)
	v.SetDefault("inpaint.seed", -1)
	v.SetDefault("inpaint.timeout", 10*time.Minute)

	v.SetDefault("blend.prompt", "Realistic product placement")
	v.SetDefault("blend.mask_mode", "stretched")

	v.SetDefault("schedule.cron", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig 读取配置文件；path 为空时在 ./config 下查找 config.yaml，找不到则只用默认值和环境变量
func LoadConfig(path string) (*viper.Viper, error) {
	viperInstance := viper.New()
	setDefaults(viperInstance)

	viperInstance.SetEnvPrefix(envPrefix)
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperInstance.AutomaticEnv()

	if path != "" {
		viperInstance.SetConfigFile(path)
	} else {
		viperInstance.AddConfigPath("./config")
		viperInstance.SetConfigName("config")
		viperInstance.SetConfigType("yaml")
	}

	if err := viperInstance.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return viperInstance, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return viperInstance, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.Batch.Workers < 0 {
		return fmt.Errorf("batch.workers must not be negative, got %d", c.Batch.Workers)
	}
	if len(c.Workspace.ProductExts) == 0 || len(c.Workspace.BackgroundExts) == 0 {
		return errors.New("workspace extensions must not be empty")
	}
	switch c.Rembg.Backend {
	case "rembg", "birefnet", "none":
	default:
		return fmt.Errorf("unknown rembg.backend %q", c.Rembg.Backend)
	}
	if c.Inpaint.Model == "" {
		return errors.New("inpaint.model is required")
	}
	switch c.Inpaint.Device {
	case "auto", "cuda":
	default:
		return fmt.Errorf("unknown inpaint.device %q", c.Inpaint.Device)
	}
	if c.Blend.Prompt == "" {
		return errors.New("blend.prompt is required")
	}
	switch c.Blend.MaskMode {
	case "centered", "stretched":
	default:
		return fmt.Errorf("unknown blend.mask_mode %q", c.Blend.MaskMode)
	}
	// gin.SetMode panics on anything else
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("unknown server.mode %q", c.Server.Mode)
	}
	return nil
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
