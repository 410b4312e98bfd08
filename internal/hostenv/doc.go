// Package hostenv 实现智能体所在的宿主运行时：本地线程文件、Redis、
// RabbitMQ 以及 SQL 线程存储。每个实现提供同一组能力：读取最新事件、
// 回复、标记线程完成与读取环境变量。
package hostenv
