package service

import (
	"fmt"
	"os"
	"strings"
)

// LoadSystemPrompt 从文件加载Agent系统提示词。
// 提示词是行为的根基，缺失或为空直接失败，不提供内置兜底。
func LoadSystemPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("system prompt not found at %s: %w", path, err)
	}

	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("system prompt file %s is empty", path)
	}
	return prompt, nil
}
