package common

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
)

//go:embed config.default.yaml
var defaultConfig []byte

const configDropInDir = "/etc/llmgate.d"

// Environment variables that override individual secrets after all files are loaded.
var secretEnvOverrides = map[string]string{
	"ANTHROPIC_API_KEY":  "llm.anthropic.apiKey",
	"VLLM_API_KEY":       "llm.vllm.apiKey",
	"VAST_API_KEY":       "providers.vastai.apiKey",
	"SERVERLESS_API_KEY": "providers.serverless.apiKey",
	"SERVERLESS_URL":     "providers.serverless.endpointUrl",
	"REDIS_PASSWORD":     "database.redis.password",
}

// ConfigLoaderFunc is a function type used to load configuration into a Koanf
// instance.
type ConfigLoaderFunc func(k *koanf.Koanf) error

// ConfigManager is a generic configuration manager backed by a Koanf instance.
type ConfigManager[T any] struct {
	kf  *koanf.Koanf
	tag string
}

// NewConfigManager loads the embedded defaults, then the file in CONFIG_PATH,
// then any drop-in files in /etc/llmgate.d/, then the JSON string in CONFIG_JSON,
// and finally secret overrides from the environment.
func NewConfigManager[T any]() (*ConfigManager[T], error) {
	cm := &ConfigManager[T]{
		kf:  koanf.New("."),
		tag: "key",
	}

	err := cm.LoadConfig(YAMLConfigFormat, rawbytes.Provider(defaultConfig))
	if err != nil {
		return nil, err
	}

	cp := os.Getenv("CONFIG_PATH")
	ce := filepath.Ext(cp)
	if cp != "" && ce != "" {
		if err := cm.LoadConfig(ConfigFormat(ce), file.Provider(cp)); err != nil {
			return nil, err
		}
	}

	for ext := range parserMap {
		if matches, err := filepath.Glob(fmt.Sprintf("%s/*%s", configDropInDir, ext)); err == nil {
			sort.Strings(matches)
			for _, path := range matches {
				if err := cm.LoadConfig(ext, file.Provider(path)); err != nil {
					log.Error().Str("path", path).Err(err).Msg("failed to load config")
				}
			}
		}
	}

	configJson := os.Getenv("CONFIG_JSON")
	if configJson != "" {
		if err := cm.LoadConfig(JSONConfigFormat, rawbytes.Provider([]byte(configJson))); err != nil {
			log.Error().Err(err).Msg("failed to load config from CONFIG_JSON")
		}
	}

	if err := cm.applySecretOverrides(); err != nil {
		return nil, err
	}

	if cm.kf.Bool("debugMode") {
		log.Info().Str("config", cm.Print()).Msg("debug mode enabled. current configuration")
	}

	return cm, nil
}

func (cm *ConfigManager[T]) applySecretOverrides() error {
	for env, path := range secretEnvOverrides {
		if v := os.Getenv(env); v != "" {
			if err := cm.kf.Set(path, v); err != nil {
				return fmt.Errorf("failed to apply %s: %w", env, err)
			}
		}
	}
	return nil
}

// Print returns a string representation of the current configuration state.
func (cm *ConfigManager[T]) Print() string {
	return cm.kf.Sprint()
}

// GetConfig unmarshals the merged configuration into T.
func (cm *ConfigManager[T]) GetConfig() (T, error) {
	var c T

	err := cm.kf.UnmarshalWithConf("", &c, koanf.UnmarshalConf{Tag: cm.tag, FlatPaths: false})
	if err != nil {
		return c, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return c, nil
}

// LoadConfig loads configuration data from a given provider in the specified format.
func (cm *ConfigManager[T]) LoadConfig(format ConfigFormat, provider koanf.Provider) error {
	parser, err := GetConfigParser(format)
	if err != nil {
		return err
	}

	return cm.kf.Load(provider, parser)
}

var (
	JSONConfigFormat ConfigFormat = ".json"
	YAMLConfigFormat ConfigFormat = ".yaml"
	YMLConfigFormat  ConfigFormat = ".yml"

	parserMap map[ConfigFormat]ParserFunc = map[ConfigFormat]ParserFunc{
		JSONConfigFormat: jsonParserFunc,
		YAMLConfigFormat: yamlParserFunc,
		YMLConfigFormat:  yamlParserFunc,
	}
)

type ConfigFormat string

type ParserFunc func() (koanf.Parser, error)

func GetConfigParser(format ConfigFormat) (koanf.Parser, error) {
	if parserFunc, ok := parserMap[format]; ok {
		return parserFunc()
	}
	return nil, errors.New("parser not found for format" + string(format))
}

func jsonParserFunc() (koanf.Parser, error) {
	return json.Parser(), nil
}

func yamlParserFunc() (koanf.Parser, error) {
	return yaml.Parser(), nil
}
