package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config 存储应用程序配置
type Config struct {
	// 服务器配置
	ServerPort     int
	ServerHost     string
	Mode           string
	AllowedOrigins []string
	LogLevel       string

	// RCON配置
	RconHost             string
	RconPort             int
	RconPassword         string
	RconRetries          int
	RconRetryDelay       time.Duration
	RconTimeout          time.Duration
	RconDoubleTerminator bool
	StatusInterval       time.Duration // 为0时不推送状态

	// 游戏服务器对玩家公开的连接信息
	PublicIP     string
	GamePort     int
	JoinPassword string

	// 数据库配置
	DBType     string
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBPath     string // 用于SQLite

	// JWT配置
	JWTSecret         string
	JWTExpireTime     time.Duration
	JWTRefreshTime    time.Duration
	JWTIssuer         string
	JWTCookieSecure   bool
	JWTCookieHTTPOnly bool

	// 认证配置
	AuthEnabled     bool
	AdminUsername   string
	AdminPassword   string
	CasbinModelPath string // 为空时使用内置模型
}

// values 保存配置文件中的键值，键名与环境变量相同
type values map[string]string

// lookup 先查环境变量，再查配置文件
func (v values) lookup(key string) (string, bool) {
	if value, ok := os.LookupEnv(key); ok {
		return value, true
	}
	value, ok := v[key]
	return value, ok
}

func (v values) str(key, defaultValue string) string {
	value, exists := v.lookup(key)
	if !exists {
		return defaultValue
	}
	return value
}

func (v values) integer(key string, defaultValue int) int {
	value, exists := v.lookup(key)
	if !exists {
		return defaultValue
	}
	intValue, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return intValue
}

func (v values) boolean(key string, defaultValue bool) bool {
	value, exists := v.lookup(key)
	if !exists {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func (v values) duration(key string, defaultValue time.Duration) time.Duration {
	value, exists := v.lookup(key)
	if !exists {
		return defaultValue
	}
	durationValue, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return durationValue
}

func (v values) list(key, defaultValue string) []string {
	var out []string
	for _, item := range strings.Split(v.str(key, defaultValue), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// GetEnv 从环境变量中获取字符串值，如果不存在则返回默认值
func GetEnv(key, defaultValue string) string {
	return values(nil).str(key, defaultValue)
}

// GetEnvInt 从环境变量中获取整数值，如果不存在或解析失败则返回默认值
func GetEnvInt(key string, defaultValue int) int {
	return values(nil).integer(key, defaultValue)
}

// GetEnvBool 从环境变量中获取布尔值，如果不存在则返回默认值
func GetEnvBool(key string, defaultValue bool) bool {
	return values(nil).boolean(key, defaultValue)
}

// GetEnvDuration 从环境变量中获取时间间隔，如果不存在则返回默认值
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return values(nil).duration(key, defaultValue)
}

// readFile 读取YAML配置文件，文件中的键名与环境变量相同
func readFile(path string) (values, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	v := make(values, len(raw))
	for key, value := range raw {
		if value == nil {
			continue
		}
		v[strings.ToUpper(key)] = fmt.Sprint(value)
	}
	return v, nil
}

// LoadConfig 加载配置
// 设置了 CONFIG_FILE 时先读取该YAML文件，环境变量的值优先于文件
func LoadConfig() (*Config, error) {
	var v values
	if path, ok := os.LookupEnv("CONFIG_FILE"); ok && path != "" {
		fileValues, err := readFile(path)
		if err != nil {
			return nil, err
		}
		v = fileValues
	}

	cfg := &Config{
		// 服务器配置
		ServerPort:     v.integer("SERVER_PORT", 3000),
		ServerHost:     v.str("SERVER_HOST", "0.0.0.0"),
		Mode:           v.str("GIN_MODE", "release"),
		AllowedOrigins: v.list("ALLOWED_ORIGINS", "*"),
		LogLevel:       v.str("LOG_LEVEL", "info"),

		// RCON配置
		RconHost:             v.str("RCON_HOST", "cs2-server"),
		RconPort:             v.integer("RCON_PORT", 27015),
		RconPassword:         v.str("RCON_PASSWORD", ""),
		RconRetries:          v.integer("RCON_RETRIES", 5),
		RconRetryDelay:       v.duration("RCON_RETRY_DELAY", 2*time.Second),
		RconTimeout:          v.duration("RCON_TIMEOUT", 10*time.Second),
		RconDoubleTerminator: v.boolean("RCON_DOUBLE_TERMINATOR", false),
		StatusInterval:       v.duration("STATUS_INTERVAL", 30*time.Second),

		// 玩家连接信息
		PublicIP:     v.str("SERVER_PUBLIC_IP", ""),
		GamePort:     v.integer("SERVER_GAME_PORT", 27015),
		JoinPassword: v.str("SERVER_JOIN_PASSWORD", ""),

		// 数据库配置
		DBType:     v.str("DB_TYPE", "sqlite"),
		DBHost:     v.str("DB_HOST", "localhost"),
		DBPort:     v.integer("DB_PORT", 3306),
		DBUser:     v.str("DB_USER", "root"),
		DBPassword: v.str("DB_PASSWORD", "password"),
		DBName:     v.str("DB_NAME", "cs2console"),
		DBPath:     v.str("DB_PATH", "cs2console.db"),

		// JWT配置
		JWTSecret:         v.str("JWT_SECRET", "your-secret-key"),
		JWTExpireTime:     v.duration("JWT_EXPIRE_TIME", 24*time.Hour),
		JWTRefreshTime:    v.duration("JWT_REFRESH_TIME", 7*24*time.Hour),
		JWTIssuer:         v.str("JWT_ISSUER", "cs2console"),
		JWTCookieSecure:   v.boolean("JWT_COOKIE_SECURE", false),
		JWTCookieHTTPOnly: v.boolean("JWT_COOKIE_HTTP_ONLY", true),

		// 认证配置
		AuthEnabled:     v.boolean("AUTH_ENABLED", true),
		AdminUsername:   v.str("ADMIN_USERNAME", "admin"),
		AdminPassword:   v.str("ADMIN_PASSWORD", "changeme"),
		CasbinModelPath: v.str("CASBIN_MODEL_PATH", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置是否合法
func (c *Config) Validate() error {
	var errs []error
	if c.RconPort < 1 || c.RconPort > 65535 {
		errs = append(errs, fmt.Errorf("RCON_PORT 超出范围: %d", c.RconPort))
	}
	if c.RconRetries < 1 {
		errs = append(errs, fmt.Errorf("RCON_RETRIES 必须大于0: %d", c.RconRetries))
	}
	if c.RconTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RCON_TIMEOUT 必须大于0: %s", c.RconTimeout))
	}
	if c.DBType != "sqlite" && c.DBType != "mysql" {
		errs = append(errs, fmt.Errorf("不支持的数据库类型: %s", c.DBType))
	}
	return errors.Join(errs...)
}

// GetDBConnString 根据数据库类型返回相应的连接字符串
func (c *Config) GetDBConnString() string {
	switch c.DBType {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
	default:
		return c.DBPath
	}
}

// RconAddr 返回RCON服务器地址，用于日志
func (c *Config) RconAddr() string {
	return fmt.Sprintf("%s:%d", c.RconHost, c.RconPort)
}
