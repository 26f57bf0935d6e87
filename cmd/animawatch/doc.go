// Package main 是 animawatch 命令行工具的入口
//
// 提供两个子命令：
//
//	analyze  用配置好的视觉后端分析截图或录屏，
//	         支持结构化输出与多模型共识模式
//	devices  列出内置的设备仿真档案
//
// 配置来自 YAML 文件（--config）与 ANIMAWATCH_* 环境变量，
// 环境变量优先级更高。
package main
