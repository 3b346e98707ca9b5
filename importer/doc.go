// Package importer 定义 cookie 导入来源（外部提取工具、导出文件、环境变量手动录入）。
//
// 读取浏览器本地 cookie 数据库不在本仓库内实现，由外部工具完成；这里只消费它们输出的记录。
package importer
