// Package cookiestore 按 domain 保存从浏览器导出的 session cookie。
//
// 磁盘上是一个 JSON 文档（默认 ~/.freeloader/cookies.json），形如 {"domain": [record, ...]}；
// 运行期间内存中的副本为准，每次写操作同步落盘（临时文件 + rename 原子替换）。
package cookiestore
