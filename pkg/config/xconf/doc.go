// Package xconf 提供基于 koanf 的配置加载能力。
//
// # 设计理念
//
// xconf 不包装 koanf 的所有 API，而是提供：
//   - 统一的加载入口（New 从文件，NewFromBytes 从字节数据）
//   - 底层 koanf 实例直接暴露（Client() 方法）
//   - 类型化反序列化（Unmarshal 到业务结构体）
//
// 支持 YAML 与 JSON 两种格式，从文件加载时按扩展名自动识别。
//
// # 快速开始
//
//	cfg, err := xconf.New("hotkitd.yaml")
//	if err != nil { ... }
//	var redis RedisConfig
//	if err := cfg.Unmarshal("redis", &redis); err != nil { ... }
package xconf
