package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	Redis    RedisConfig    `json:"redis"`
	Browser  BrowserConfig  `json:"browser"`
	Pipeline PipelineConfig `json:"pipeline"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env             string        `json:"env" validate:"oneof=local prod test"` // 运行环境: local / prod / test
	LogLevel        string        `json:"log_level"`                            // 日志级别: debug / info / warn / error
	HTTPAddr        string        `json:"http_addr" validate:"required"`        // API 服务监听地址
	MetricsAddr     string        `json:"metrics_addr"`                         // 爬虫 metrics 监听地址
	RequestTimeout  time.Duration `json:"request_timeout" validate:"gt=0"`      // 同步接口最长等待时间（如 "3m"）
	JobTimeout      time.Duration `json:"job_timeout" validate:"gt=0"`          // 单个推荐任务的处理超时
	ResultTTL       time.Duration `json:"result_ttl" validate:"gt=0"`           // 任务结果在 Redis 中的保留时间
	DedupWindow     time.Duration `json:"dedup_window" validate:"gt=0"`         // 相同请求合并窗口
	JanitorInterval time.Duration `json:"janitor_interval" validate:"gt=0"`     // 卡住任务的巡检间隔
	StuckJobTimeout time.Duration `json:"stuck_job_timeout" validate:"gt=0"`    // 处理中任务被视为卡住的时间
	RateLimit       float64       `json:"rate_limit" validate:"gt=0"`           // 页面访问限流速率（token/s）
	RateBurst       float64       `json:"rate_burst" validate:"gt=0"`           // 限流桶容量
	MaxJobs         int           `json:"max_jobs" validate:"gte=0"`            // 重启前最大任务数，0 表示不限制
}

// RedisConfig Redis 配置。
type RedisConfig struct {
	Addr     string `json:"addr" validate:"required"` // Redis 地址 (host:port)
	Password string `json:"password"`                 // Redis 密码
}

// BrowserConfig 爬虫浏览器配置。
type BrowserConfig struct {
	BinPath        string        `json:"bin_path"`                                // 浏览器可执行文件路径
	ProxyURL       string        `json:"proxy_url" validate:"omitempty,url"`      // 代理服务器 URL
	Headless       bool          `json:"headless"`                                // 是否使用无头模式
	Static         bool          `json:"static"`                                  // 使用纯 HTTP 抓取代替浏览器
	MaxConcurrency int           `json:"max_concurrency" validate:"min=1,max=64"` // 同时处理的任务数
	PageTimeout    time.Duration `json:"page_timeout" validate:"gt=0"`            // 单个页面导航超时
}

// PipelineConfig 推荐流程参数。
type PipelineConfig struct {
	ListingCap        int            `json:"listing_cap" validate:"min=1,max=200"`       // 每个搜索页最多检查的结果数（含推广位）
	MaxQueries        int            `json:"max_queries" validate:"min=1,max=2"`         // 最多执行的搜索查询数
	QueryDelayMin     time.Duration  `json:"query_delay_min" validate:"gte=0"`           // 查询之间的随机延迟下限
	QueryDelayMax     time.Duration  `json:"query_delay_max" validate:"gte=0"`           // 查询之间的随机延迟上限
	EnrichTopK        int            `json:"enrich_top_k" validate:"min=0,max=50"`       // 第一次排序后回访的候选数
	EnrichConcurrency int            `json:"enrich_concurrency" validate:"min=1,max=16"` // 回访并发数
	EnrichTimeout     time.Duration  `json:"enrich_timeout" validate:"gt=0"`             // 单次回访超时
	GroupSize         int            `json:"group_size" validate:"min=1,max=50"`         // 每个分组的上限
	DefaultLimit      int            `json:"default_limit" validate:"min=1"`             // 未指定 limit 时的默认值
	MinLimit          int            `json:"min_limit" validate:"min=1"`
	MaxLimit          int            `json:"max_limit" validate:"min=1,max=200"`
	MaxFeatures       int            `json:"max_features" validate:"min=0,max=50"`               // 卖点短语上限
	Weights           string         `json:"weights" validate:"oneof=canonical legacy custom"`   // 权重方案
	CustomWeights     *WeightsConfig `json:"custom_weights,omitempty"`                           // Weights 为 custom 时使用
	BucketPolicy      string         `json:"bucket_policy" validate:"oneof=quantile seed_ratio"` // 价格分档策略
	MinScore          float64        `json:"min_score" validate:"gte=0,lte=1"`                   // 最终结果的最低分，0 表示不过滤
	DisableAlternate  bool           `json:"disable_alternate"`                                  // 关闭精简版详情页补全
}

// WeightsConfig 自定义评分权重，三项之和必须为 1。
type WeightsConfig struct {
	Text   float64 `json:"text" validate:"gte=0,lte=1"`
	Rating float64 `json:"rating" validate:"gte=0,lte=1"`
	Price  float64 `json:"price" validate:"gte=0,lte=1"`
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 当前目录下的 .env 会先被加载到环境变量中（不覆盖已有变量）。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载并校验完成的配置对象
//	error: 读取、解析或校验失败返回错误
func Load(configPath ...string) (*Config, error) {
	_ = godotenv.Load()

	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// 即使没有配置文件，也允许环境变量覆盖默认值
		cfg = getDefaultConfig()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		applyDefaults(cfg)
	}

	// 环境变量优先覆盖配置
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// Save 保存配置到 JSON 文件。
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate 校验字段范围以及字段之间的约束。
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	p := c.Pipeline
	if p.MinLimit > p.MaxLimit {
		return fmt.Errorf("invalid config: pipeline.min_limit %d > max_limit %d", p.MinLimit, p.MaxLimit)
	}
	if p.QueryDelayMin > p.QueryDelayMax {
		return fmt.Errorf("invalid config: pipeline.query_delay_min %v > query_delay_max %v", p.QueryDelayMin, p.QueryDelayMax)
	}
	if p.Weights == "custom" {
		w := p.CustomWeights
		if w == nil {
			return errors.New("invalid config: pipeline.custom_weights is required when weights is custom")
		}
		if sum := w.Text + w.Rating + w.Price; sum < 0.999 || sum > 1.001 {
			return fmt.Errorf("invalid config: pipeline.custom_weights must sum to 1, got %.3f", sum)
		}
	}
	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:             "local",
			LogLevel:        "info",
			HTTPAddr:        ":8081",
			MetricsAddr:     ":2112",
			RequestTimeout:  3 * time.Minute,
			JobTimeout:      4 * time.Minute,
			ResultTTL:       10 * time.Minute,
			DedupWindow:     5 * time.Minute,
			JanitorInterval: time.Minute,
			StuckJobTimeout: 10 * time.Minute,
			RateLimit:       2,
			RateBurst:       4,
			MaxJobs:         200,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Browser: BrowserConfig{
			Headless:       true,
			MaxConcurrency: 2,
			PageTimeout:    45 * time.Second,
		},
		Pipeline: PipelineConfig{
			ListingCap:        36,
			MaxQueries:        2,
			QueryDelayMin:     800 * time.Millisecond,
			QueryDelayMax:     1600 * time.Millisecond,
			EnrichTopK:        15,
			EnrichConcurrency: 3,
			EnrichTimeout:     45 * time.Second,
			GroupSize:         5,
			DefaultLimit:      15,
			MinLimit:          5,
			MaxLimit:          50,
			MaxFeatures:       10,
			Weights:           "canonical",
			BucketPolicy:      "quantile",
		},
	}
}

// Defaults 返回默认配置的副本。
func Defaults() *Config {
	return getDefaultConfig()
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	d := getDefaultConfig()

	setString(&cfg.App.Env, d.App.Env)
	setString(&cfg.App.LogLevel, d.App.LogLevel)
	setString(&cfg.App.HTTPAddr, d.App.HTTPAddr)
	setString(&cfg.App.MetricsAddr, d.App.MetricsAddr)
	setDuration(&cfg.App.RequestTimeout, d.App.RequestTimeout)
	setDuration(&cfg.App.JobTimeout, d.App.JobTimeout)
	setDuration(&cfg.App.ResultTTL, d.App.ResultTTL)
	setDuration(&cfg.App.DedupWindow, d.App.DedupWindow)
	setDuration(&cfg.App.JanitorInterval, d.App.JanitorInterval)
	setDuration(&cfg.App.StuckJobTimeout, d.App.StuckJobTimeout)
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = d.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = d.App.RateBurst
	}

	setString(&cfg.Redis.Addr, d.Redis.Addr)

	setInt(&cfg.Browser.MaxConcurrency, d.Browser.MaxConcurrency)
	setDuration(&cfg.Browser.PageTimeout, d.Browser.PageTimeout)

	p := &cfg.Pipeline
	setInt(&p.ListingCap, d.Pipeline.ListingCap)
	setInt(&p.MaxQueries, d.Pipeline.MaxQueries)
	if p.QueryDelayMin == 0 && p.QueryDelayMax == 0 {
		p.QueryDelayMin = d.Pipeline.QueryDelayMin
		p.QueryDelayMax = d.Pipeline.QueryDelayMax
	}
	setInt(&p.EnrichTopK, d.Pipeline.EnrichTopK)
	setInt(&p.EnrichConcurrency, d.Pipeline.EnrichConcurrency)
	setDuration(&p.EnrichTimeout, d.Pipeline.EnrichTimeout)
	setInt(&p.GroupSize, d.Pipeline.GroupSize)
	setInt(&p.DefaultLimit, d.Pipeline.DefaultLimit)
	setInt(&p.MinLimit, d.Pipeline.MinLimit)
	setInt(&p.MaxLimit, d.Pipeline.MaxLimit)
	setInt(&p.MaxFeatures, d.Pipeline.MaxFeatures)
	setString(&p.Weights, d.Pipeline.Weights)
	setString(&p.BucketPolicy, d.Pipeline.BucketPolicy)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("chrome_bin", "CHROME_BIN")
	_ = viper.BindEnv("pipeline_weights", "PIPELINE_WEIGHTS")
	_ = viper.BindEnv("pipeline_bucket_policy", "PIPELINE_BUCKET_POLICY")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("CRAWLER_METRICS_ADDR"); v != "" {
		cfg.App.MetricsAddr = v
	}
	if v := os.Getenv("APP_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.RequestTimeout = d
		}
	}
	if v := os.Getenv("APP_JOB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.JobTimeout = d
		}
	}
	if v := os.Getenv("APP_MAX_JOBS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.MaxJobs = i
		}
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := viper.GetString("chrome_bin"); v != "" {
		cfg.Browser.BinPath = v
	}
	if v := os.Getenv("HTTP_PROXY"); v != "" {
		cfg.Browser.ProxyURL = v
	} else if v := os.Getenv("BROWSER_PROXY_URL"); v != "" {
		cfg.Browser.ProxyURL = v
	}
	if v := os.Getenv("BROWSER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
	if v := os.Getenv("BROWSER_STATIC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Static = b
		}
	}
	if v := os.Getenv("BROWSER_MAX_CONCURRENCY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Browser.MaxConcurrency = i
		}
	}

	if v := viper.GetString("pipeline_weights"); v != "" {
		cfg.Pipeline.Weights = v
	}
	if v := viper.GetString("pipeline_bucket_policy"); v != "" {
		cfg.Pipeline.BucketPolicy = v
	}
	if v := os.Getenv("PIPELINE_ENRICH_CONCURRENCY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.EnrichConcurrency = i
		}
	}
	if v := os.Getenv("PIPELINE_LISTING_CAP"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.ListingCap = i
		}
	}
}

// durationField 把一个 Duration 字段与它在 JSON 中的字符串形式关联起来。
type durationField struct {
	name string
	raw  string
	dst  *time.Duration
}

func parseDurations(fields ...durationField) error {
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid %s format: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		RequestTimeout  string `json:"request_timeout"`
		JobTimeout      string `json:"job_timeout"`
		ResultTTL       string `json:"result_ttl"`
		DedupWindow     string `json:"dedup_window"`
		JanitorInterval string `json:"janitor_interval"`
		StuckJobTimeout string `json:"stuck_job_timeout"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return parseDurations(
		durationField{"request_timeout", aux.RequestTimeout, &a.RequestTimeout},
		durationField{"job_timeout", aux.JobTimeout, &a.JobTimeout},
		durationField{"result_ttl", aux.ResultTTL, &a.ResultTTL},
		durationField{"dedup_window", aux.DedupWindow, &a.DedupWindow},
		durationField{"janitor_interval", aux.JanitorInterval, &a.JanitorInterval},
		durationField{"stuck_job_timeout", aux.StuckJobTimeout, &a.StuckJobTimeout},
	)
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		RequestTimeout  string `json:"request_timeout"`
		JobTimeout      string `json:"job_timeout"`
		ResultTTL       string `json:"result_ttl"`
		DedupWindow     string `json:"dedup_window"`
		JanitorInterval string `json:"janitor_interval"`
		StuckJobTimeout string `json:"stuck_job_timeout"`
		*Alias
	}{
		RequestTimeout:  a.RequestTimeout.String(),
		JobTimeout:      a.JobTimeout.String(),
		ResultTTL:       a.ResultTTL.String(),
		DedupWindow:     a.DedupWindow.String(),
		JanitorInterval: a.JanitorInterval.String(),
		StuckJobTimeout: a.StuckJobTimeout.String(),
		Alias:           (*Alias)(&a),
	})
}

// UnmarshalJSON 支持 page_timeout 的字符串形式。
func (b *BrowserConfig) UnmarshalJSON(data []byte) error {
	type Alias BrowserConfig
	aux := &struct {
		PageTimeout string `json:"page_timeout"`
		*Alias
	}{
		Alias: (*Alias)(b),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return parseDurations(durationField{"page_timeout", aux.PageTimeout, &b.PageTimeout})
}

// MarshalJSON 将 page_timeout 输出为字符串。
func (b BrowserConfig) MarshalJSON() ([]byte, error) {
	type Alias BrowserConfig
	return json.Marshal(&struct {
		PageTimeout string `json:"page_timeout"`
		*Alias
	}{
		PageTimeout: b.PageTimeout.String(),
		Alias:       (*Alias)(&b),
	})
}

// UnmarshalJSON 支持延迟与超时的字符串形式。
func (p *PipelineConfig) UnmarshalJSON(data []byte) error {
	type Alias PipelineConfig
	aux := &struct {
		QueryDelayMin string `json:"query_delay_min"`
		QueryDelayMax string `json:"query_delay_max"`
		EnrichTimeout string `json:"enrich_timeout"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return parseDurations(
		durationField{"query_delay_min", aux.QueryDelayMin, &p.QueryDelayMin},
		durationField{"query_delay_max", aux.QueryDelayMax, &p.QueryDelayMax},
		durationField{"enrich_timeout", aux.EnrichTimeout, &p.EnrichTimeout},
	)
}

// MarshalJSON 将延迟与超时输出为字符串。
func (p PipelineConfig) MarshalJSON() ([]byte, error) {
	type Alias PipelineConfig
	return json.Marshal(&struct {
		QueryDelayMin string `json:"query_delay_min"`
		QueryDelayMax string `json:"query_delay_max"`
		EnrichTimeout string `json:"enrich_timeout"`
		*Alias
	}{
		QueryDelayMin: p.QueryDelayMin.String(),
		QueryDelayMax: p.QueryDelayMax.String(),
		EnrichTimeout: p.EnrichTimeout.String(),
		Alias:         (*Alias)(&p),
	})
}
