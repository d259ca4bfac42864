package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevel(t *testing.T) {
	logger, closer, err := NewLogger(Config{Level: "warn"})
	if err != nil {
		t.Fatalf("创建 logger 失败: %v", err)
	}
	defer closer()

	if logger.GetLevel() != zerolog.WarnLevel {
		t.Fatalf("期望 warn 级别, 实际 %s", logger.GetLevel())
	}
}

func TestNewLoggerInvalidLevelFallsBackToInfo(t *testing.T) {
	logger, closer, err := NewLogger(Config{Level: "loud"})
	if err != nil {
		t.Fatalf("创建 logger 失败: %v", err)
	}
	defer closer()

	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("非法级别应回退到 info, 实际 %s", logger.GetLevel())
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "monitor.log")

	logger, closer, err := NewLogger(Config{Level: "info", File: path})
	if err != nil {
		t.Fatalf("创建 logger 失败: %v", err)
	}
	logger.Info().Str("component", "test").Msg("hello file")
	if err := closer(); err != nil {
		t.Fatalf("关闭日志文件失败: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Fatalf("日志文件缺少消息: %s", string(data))
	}
}
