package hostenv

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadEnvFile 读取 YAML 形式的环境变量文件，路径为空时返回 nil。
func loadEnvFile(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取环境变量文件失败: %w", err)
	}
	vars := map[string]string{}
	if err := yaml.Unmarshal(content, &vars); err != nil {
		return nil, fmt.Errorf("解析环境变量文件失败: %w", err)
	}
	return vars, nil
}

func processEnv() map[string]string {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if name, value, ok := strings.Cut(kv, "="); ok {
			vars[name] = value
		}
	}
	return vars
}

// mergeEnv 以 override 覆盖 base，返回新的映射。
func mergeEnv(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
