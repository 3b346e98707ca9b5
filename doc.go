// Package freeloader 提供把只有网页入口（无公开 API）的 AI 聊天服务转换为 OpenAI 兼容 API 的能力。
// 出站请求使用从浏览器登录态导出的 session cookie 进行鉴权。
//
// 该仓库主要包含以下能力：
//  1. cookiestore：按 domain 保存 cookie 记录，原子落盘
//  2. backend：后端适配器（ai-gateway / chatgpt-adapter），负责带 cookie 调用后端并解析回复
//  3. openaihttp：导出 /v1/models、/v1/chat/completions、/v1/embeddings handlers（含 SSE 流式转换）
//  4. supervisor：启动前探活、cookie 导入与监听的有限重试
package freeloader
