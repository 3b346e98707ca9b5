// Package supervisor 负责启动阶段的探活与重试：后端探活、cookie 导入重试、端口监听重试，
// 以及按 cron 周期探活后端的 Monitor。重试只发生在启动和导入流程里，不作用于在线请求。
package supervisor
