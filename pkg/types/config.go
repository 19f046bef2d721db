package types

import (
	"fmt"
	"time"
)

type AppConfig struct {
	ClusterName string                `key:"clusterName" json:"cluster_name"`
	DebugMode   bool                  `key:"debugMode" json:"debug_mode"`
	PrettyLogs  bool                  `key:"prettyLogs" json:"pretty_logs"`
	Database    DatabaseConfig        `key:"database" json:"database"`
	LLM         LLMConfig             `key:"llm" json:"llm"`
	Costs       CostConfig            `key:"costs" json:"costs"`
	Providers   ProviderConfig        `key:"providers" json:"providers"`
	GPU         GPUOrchestratorConfig `key:"gpu" json:"gpu"`
	Jobs        JobStoreConfig        `key:"jobs" json:"jobs"`
	Admin       AdminConfig           `key:"admin" json:"admin"`
}

type DatabaseConfig struct {
	Redis RedisConfig `key:"redis" json:"redis"`
}

type RedisMode string

var (
	RedisModeSingle  RedisMode = "single"
	RedisModeCluster RedisMode = "cluster"
)

type RedisConfig struct {
	Enabled            bool          `key:"enabled" json:"enabled"`
	Addrs              []string      `key:"addrs" json:"addrs"`
	Mode               RedisMode     `key:"mode" json:"mode"`
	ClientName         string        `key:"clientName" json:"client_name"`
	EnableTLS          bool          `key:"enableTLS" json:"enable_tls"`
	InsecureSkipVerify bool          `key:"insecureSkipVerify" json:"insecure_skip_verify"`
	MinIdleConns       int           `key:"minIdleConns" json:"min_idle_conns"`
	MaxIdleConns       int           `key:"maxIdleConns" json:"max_idle_conns"`
	ConnMaxIdleTime    time.Duration `key:"connMaxIdleTime" json:"conn_max_idle_time"`
	ConnMaxLifetime    time.Duration `key:"connMaxLifetime" json:"conn_max_lifetime"`
	DialTimeout        time.Duration `key:"dialTimeout" json:"dial_timeout"`
	ReadTimeout        time.Duration `key:"readTimeout" json:"read_timeout"`
	WriteTimeout       time.Duration `key:"writeTimeout" json:"write_timeout"`
	MaxRedirects       int           `key:"maxRedirects" json:"max_redirects"`
	MaxRetries         int           `key:"maxRetries" json:"max_retries"`
	PoolSize           int           `key:"poolSize" json:"pool_size"`
	Username           string        `key:"username" json:"username"`
	Password           string        `key:"password" json:"password"`
	RouteByLatency     bool          `key:"routeByLatency" json:"route_by_latency"`
}

type LLMConfig struct {
	DefaultBackend Backend         `key:"defaultBackend" json:"default_backend"`
	DefaultTier    ModelTier       `key:"defaultTier" json:"default_tier"`
	Anthropic      AnthropicConfig `key:"anthropic" json:"anthropic"`
	VLLM           VLLMConfig      `key:"vllm" json:"vllm"`
}

type AnthropicConfig struct {
	ApiKey      string               `key:"apiKey" json:"api_key"`
	BaseURL     string               `key:"baseUrl" json:"base_url"`
	MaxTokens   int                  `key:"maxTokens" json:"max_tokens"`
	Temperature float64              `key:"temperature" json:"temperature"`
	Timeout     time.Duration        `key:"timeout" json:"timeout"`
	MaxRetries  int                  `key:"maxRetries" json:"max_retries"`
	Models      map[ModelTier]string `key:"models" json:"models"`
}

type VLLMConfig struct {
	ModelName   string        `key:"modelName" json:"model_name"`
	ApiKey      string        `key:"apiKey" json:"api_key"`
	Endpoint    string        `key:"endpoint" json:"endpoint"`
	MaxTokens   int           `key:"maxTokens" json:"max_tokens"`
	Temperature float64       `key:"temperature" json:"temperature"`
	Timeout     time.Duration `key:"timeout" json:"timeout"`
	MaxRetries  int           `key:"maxRetries" json:"max_retries"`
}

type CostConfig struct {
	BudgetLimit   float64               `key:"budgetLimit" json:"budget_limit"`
	GPUHourlyRate float64               `key:"gpuHourlyRate" json:"gpu_hourly_rate"`
	MaxHistory    int                   `key:"maxHistory" json:"max_history"`
	DefaultModel  string                `key:"defaultModel" json:"default_model"`
	Prices        map[string]ModelPrice `key:"prices" json:"prices"`
}

type MachineProvider string

var (
	ProviderVastAI     MachineProvider = "vastai"
	ProviderServerless MachineProvider = "serverless"
	ProviderNone       MachineProvider = "none"
)

type ProviderConfig struct {
	VastAI     VastAIProviderConfig     `key:"vastai" json:"vastai"`
	Serverless ServerlessProviderConfig `key:"serverless" json:"serverless"`
}

type VastAIProviderConfig struct {
	ApiKey     string        `key:"apiKey" json:"api_key"`
	BaseURL    string        `key:"baseUrl" json:"base_url"`
	MaxRetries int           `key:"maxRetries" json:"max_retries"`
	RetryDelay time.Duration `key:"retryDelay" json:"retry_delay"`
	Timeout    time.Duration `key:"timeout" json:"timeout"`
}

func (c VastAIProviderConfig) Configured() bool {
	return c.ApiKey != ""
}

type ServerlessProviderConfig struct {
	EndpointURL     string        `key:"endpointUrl" json:"endpoint_url"`
	ApiKey          string        `key:"apiKey" json:"api_key"`
	HealthCheck     bool          `key:"healthCheck" json:"health_check"`
	HealthCheckPath string        `key:"healthCheckPath" json:"health_check_path"`
	Timeout         time.Duration `key:"timeout" json:"timeout"`
}

func (c ServerlessProviderConfig) Configured() bool {
	return c.EndpointURL != ""
}

type GPUOrchestratorConfig struct {
	Image                  string            `key:"image" json:"image"`
	DiskGB                 int               `key:"diskGb" json:"disk_gb"`
	InternalPort           int               `key:"internalPort" json:"internal_port"`
	RunType                string            `key:"runType" json:"run_type"`
	DockerArgs             string            `key:"dockerArgs" json:"docker_args"`
	OnStart                string            `key:"onStart" json:"on_start"`
	Env                    map[string]string `key:"env" json:"env"`
	Label                  string            `key:"label" json:"label"`
	GlobalBudget           float64           `key:"globalBudget" json:"global_budget"`
	SessionBudget          float64           `key:"sessionBudget" json:"session_budget"`
	DefaultKeepAliveMin    int               `key:"defaultKeepAliveMinutes" json:"default_keep_alive_minutes"`
	MaxStartupTime         time.Duration     `key:"maxStartupTime" json:"max_startup_time"`
	PollInterval           time.Duration     `key:"pollInterval" json:"poll_interval"`
	ReadinessTimeout       time.Duration     `key:"readinessTimeout" json:"readiness_timeout"`
	KeepAliveCheckInterval time.Duration     `key:"keepAliveCheckInterval" json:"keep_alive_check_interval"`
	HealthCheckInterval    time.Duration     `key:"healthCheckInterval" json:"health_check_interval"`
	HealthFailureThreshold int               `key:"healthFailureThreshold" json:"health_failure_threshold"`
	AutoDestroyOnError     bool              `key:"autoDestroyOnError" json:"auto_destroy_on_error"`
	FallbackWidth          int               `key:"fallbackWidth" json:"fallback_width"`
	VerifiedOnly           bool              `key:"verifiedOnly" json:"verified_only"`
	OrphanCleanupInterval  time.Duration     `key:"orphanCleanupInterval" json:"orphan_cleanup_interval"`
	Scoring                ScoringWeights    `key:"scoring" json:"scoring"`
}

type JobStoreConfig struct {
	TTL             time.Duration `key:"ttl" json:"ttl"`
	CleanupInterval time.Duration `key:"cleanupInterval" json:"cleanup_interval"`
	MemoryFallback  bool          `key:"memoryFallback" json:"memory_fallback"`
}

type AdminConfig struct {
	Enabled bool   `key:"enabled" json:"enabled"`
	Host    string `key:"host" json:"host"`
	Port    int    `key:"port" json:"port"`
}

func (a AdminConfig) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}
